package transaction

import (
	"github.com/rs/zerolog"

	"github.com/go-sip/uacore/sipmsg"
)

// ServerInviteTx implements the RFC 3261 §17.2.1 INVITE server
// transaction FSM: Proceeding -> Completed -> Confirmed -> Terminated
// (non-2xx branch) or Proceeding -> Terminated directly once a 2xx has
// been handed to the TU, since the TU takes over retransmitting 2xx
// itself (RFC 3261 §13.3.1.4, mirrored by the teacher's ServerTransaction
// comment in sip/transaction.go).
type ServerInviteTx struct {
	baseTx

	timers *TimerQueue
	clock  func() int64

	lastResponse *sipmsg.Response
	timerG       TimerID
	timerH       TimerID
	timerI       TimerID
	curG         int64

	OnRequestRetransmit func()
}

func NewServerInviteTx(key Key, sender Sender, dest string, timers *TimerQueue, clock func() int64, log zerolog.Logger) *ServerInviteTx {
	return &ServerInviteTx{
		baseTx: baseTx{key: key, state: StateProceeding, sender: sender, dest: dest, log: log, done: make(chan struct{})},
		timers: timers,
		clock:  clock,
	}
}

// OnRequestRetransmission is called by the layer above when a duplicate
// INVITE (same key) arrives: while Proceeding there may be nothing to
// resend yet; while Completed the last final response is retransmitted
// (RFC 3261 §17.2.1).
func (tx *ServerInviteTx) OnRequestRetransmission() {
	tx.mu.Lock()
	state := tx.state
	resp := tx.lastResponse
	tx.mu.Unlock()
	if state == StateCompleted && resp != nil {
		_ = tx.sender.Send(resp, tx.dest)
	} else if tx.OnRequestRetransmit != nil {
		tx.OnRequestRetransmit()
	}
}

// Respond sends resp through the FSM: provisional responses stay in
// Proceeding, 2xx terminates the transaction immediately (the TU owns
// further 2xx retransmission per RFC 3261 §13.3.1.4), non-2xx moves to
// Completed and arms Timer G (resend, UDP only) and Timer H (give up).
func (tx *ServerInviteTx) Respond(resp *sipmsg.Response, unreliable bool) error {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state != StateProceeding && state != StateCompleted {
		return ErrTransactionTerminated
	}
	if err := tx.sender.Send(resp, tx.dest); err != nil {
		return err
	}

	switch {
	case resp.StatusCode.IsProvisional():
		return nil
	case resp.StatusCode.IsSuccess():
		tx.terminate()
		return nil
	default:
		tx.mu.Lock()
		tx.lastResponse = resp
		tx.mu.Unlock()
		tx.setState(StateCompleted)
		if unreliable {
			tx.curG = int64(TimerG())
			tx.timerG = tx.timers.Schedule(tx.clock()+tx.curG, tx.onTimerG)
		}
		tx.timerH = tx.timers.Schedule(tx.clock()+int64(TimerH()), tx.onTimerH)
		return nil
	}
}

func (tx *ServerInviteTx) onTimerG() {
	tx.mu.Lock()
	state := tx.state
	resp := tx.lastResponse
	tx.mu.Unlock()
	if state != StateCompleted {
		return
	}
	_ = tx.sender.Send(resp, tx.dest)
	tx.curG *= 2
	if tx.curG > int64(T2) {
		tx.curG = int64(T2)
	}
	tx.timerG = tx.timers.Schedule(tx.clock()+tx.curG, tx.onTimerG)
}

func (tx *ServerInviteTx) onTimerH() {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state == StateCompleted {
		// No ACK arrived in time: synthesize the same outcome the TU
		// would see from a transport failure (spec.md §4.4 edge case).
		tx.Terminate()
	}
}

// OnAck moves Completed -> Confirmed on receipt of the ACK and arms
// Timer I to absorb any further ACK retransmissions before terminating.
func (tx *ServerInviteTx) OnAck() {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state != StateCompleted {
		return
	}
	tx.timers.Cancel(tx.timerG)
	tx.timers.Cancel(tx.timerH)
	tx.setState(StateConfirmed)
	tx.timerI = tx.timers.Schedule(tx.clock()+int64(TimerI()), tx.terminate)
}

func (tx *ServerInviteTx) Terminate() {
	tx.timers.Cancel(tx.timerG)
	tx.timers.Cancel(tx.timerH)
	tx.timers.Cancel(tx.timerI)
	tx.terminate()
}

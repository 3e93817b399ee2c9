package transaction

import (
	"github.com/rs/zerolog"

	"github.com/go-sip/uacore/sipmsg"
)

// ServerNonInviteTx implements the RFC 3261 §17.2.2 non-INVITE server
// transaction FSM: Trying -> Completed -> Terminated.
type ServerNonInviteTx struct {
	baseTx

	timers *TimerQueue
	clock  func() int64

	lastResponse *sipmsg.Response
	timerJ       TimerID
}

func NewServerNonInviteTx(key Key, sender Sender, dest string, timers *TimerQueue, clock func() int64, log zerolog.Logger) *ServerNonInviteTx {
	return &ServerNonInviteTx{
		baseTx: baseTx{key: key, state: StateTrying, sender: sender, dest: dest, log: log, done: make(chan struct{})},
		timers: timers,
		clock:  clock,
	}
}

func (tx *ServerNonInviteTx) OnRequestRetransmission() {
	tx.mu.Lock()
	state := tx.state
	resp := tx.lastResponse
	tx.mu.Unlock()
	if state == StateCompleted && resp != nil {
		_ = tx.sender.Send(resp, tx.dest)
	}
}

// Respond sends resp through the FSM. unreliable gates Timer J (RFC 3261
// §17.2.2: Timer J is 0 on a reliable transport, so the transaction
// terminates as soon as the final response is sent instead of lingering
// to absorb request retransmissions that can't occur).
func (tx *ServerNonInviteTx) Respond(resp *sipmsg.Response, unreliable bool) error {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state != StateTrying && state != StateProceeding && state != StateCompleted {
		return ErrTransactionTerminated
	}
	if err := tx.sender.Send(resp, tx.dest); err != nil {
		return err
	}
	if resp.StatusCode.IsProvisional() {
		tx.setState(StateProceeding)
		return nil
	}
	tx.mu.Lock()
	tx.lastResponse = resp
	tx.mu.Unlock()
	tx.setState(StateCompleted)
	if unreliable {
		tx.timerJ = tx.timers.Schedule(tx.clock()+int64(TimerJ()), tx.terminate)
	} else {
		tx.terminate()
	}
	return nil
}

func (tx *ServerNonInviteTx) Terminate() {
	tx.timers.Cancel(tx.timerJ)
	tx.terminate()
}

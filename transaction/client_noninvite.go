package transaction

import (
	"github.com/rs/zerolog"

	"github.com/go-sip/uacore/sipmsg"
)

// ClientNonInviteTx implements the RFC 3261 §17.1.2 non-INVITE client
// transaction FSM: Trying -> Proceeding -> Completed -> Terminated.
type ClientNonInviteTx struct {
	baseTx

	req        *sipmsg.Request
	timers     *TimerQueue
	clock      func() int64
	unreliable bool

	timerE TimerID
	timerF TimerID
	timerK TimerID
	curE   int64

	OnResponse func(*sipmsg.Response)
	OnError    func(error)
}

func NewClientNonInviteTx(key Key, req *sipmsg.Request, sender Sender, dest string, timers *TimerQueue, clock func() int64, unreliable bool, log zerolog.Logger) (*ClientNonInviteTx, error) {
	tx := &ClientNonInviteTx{
		baseTx:     baseTx{key: key, state: StateTrying, sender: sender, dest: dest, log: log, done: make(chan struct{})},
		req:        req,
		timers:     timers,
		clock:      clock,
		unreliable: unreliable,
	}
	if err := sender.Send(req, dest); err != nil {
		return nil, err
	}
	if unreliable {
		tx.curE = int64(TimerE())
		tx.timerE = timers.Schedule(clock()+tx.curE, tx.onTimerE)
	}
	tx.timerF = timers.Schedule(clock()+int64(TimerF()), tx.onTimerF)
	return tx, nil
}

func (tx *ClientNonInviteTx) onTimerE() {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state != StateTrying && state != StateProceeding {
		return
	}
	if err := tx.sender.Send(tx.req, tx.dest); err != nil {
		tx.fail(err)
		return
	}
	tx.curE *= 2
	cap := int64(T2)
	if state == StateTrying && tx.curE > cap {
		tx.curE = cap
	}
	tx.timerE = tx.timers.Schedule(tx.clock()+tx.curE, tx.onTimerE)
}

func (tx *ClientNonInviteTx) onTimerF() {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state == StateTrying || state == StateProceeding {
		tx.fail(ErrTransactionTimeout)
	}
}

func (tx *ClientNonInviteTx) onTimerK() { tx.terminate() }

func (tx *ClientNonInviteTx) OnTransportResponse(resp *sipmsg.Response) {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()

	switch {
	case resp.StatusCode.IsProvisional():
		if state == StateTrying {
			tx.setState(StateProceeding)
		}
		if state == StateTrying || state == StateProceeding {
			if tx.OnResponse != nil {
				tx.OnResponse(resp)
			}
		}
	default:
		if state == StateTrying || state == StateProceeding {
			tx.timers.Cancel(tx.timerE)
			tx.timers.Cancel(tx.timerF)
			tx.setState(StateCompleted)
			// RFC 3261 §17.1.2.2: Timer K is 0 on a reliable transport,
			// so the transaction terminates immediately instead of
			// lingering to absorb retransmissions that can't occur.
			if tx.unreliable {
				tx.timerK = tx.timers.Schedule(tx.clock()+int64(TimerK()), tx.onTimerK)
			} else {
				tx.terminate()
			}
			if tx.OnResponse != nil {
				tx.OnResponse(resp)
			}
		}
	}
}

func (tx *ClientNonInviteTx) fail(err error) {
	tx.timers.Cancel(tx.timerE)
	tx.timers.Cancel(tx.timerF)
	tx.timers.Cancel(tx.timerK)
	if tx.OnError != nil {
		tx.OnError(err)
	}
	tx.terminate()
}

func (tx *ClientNonInviteTx) Terminate() {
	tx.timers.Cancel(tx.timerE)
	tx.timers.Cancel(tx.timerF)
	tx.timers.Cancel(tx.timerK)
	tx.terminate()
}

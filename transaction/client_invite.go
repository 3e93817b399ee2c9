package transaction

import (
	"github.com/rs/zerolog"

	"github.com/go-sip/uacore/sipmsg"
)

// ClientInviteTx implements the RFC 3261 §17.1.1 INVITE client
// transaction FSM: Calling -> Proceeding -> Completed -> Terminated, with
// the RFC 6026 Accepted state inserted so 2xx retransmissions are absorbed
// instead of leaking to the TU as duplicate answers, while a forked 2xx
// with a new To tag still reaches the TU (the teacher's
// transaction_client_tx_fsm.go documents the same extension).
type ClientInviteTx struct {
	baseTx

	req        *sipmsg.Request
	timers     *TimerQueue
	clock      func() int64
	unreliable bool

	timerA TimerID
	timerB TimerID
	timerD TimerID
	timerM TimerID
	curA   int64 // current Timer A backoff, doubles on each retransmit

	ack *sipmsg.Request // ACK for the non-2xx final, built once, resent on every retransmission

	acceptedTag string // To tag of the 2xx that moved the transaction to Accepted

	OnResponse func(*sipmsg.Response)
	OnError    func(error)
}

// NewClientInviteTx creates and arms the transaction: it sends req
// immediately and schedules Timer A (retransmit, UDP only) and Timer B
// (overall timeout).
func NewClientInviteTx(key Key, req *sipmsg.Request, sender Sender, dest string, timers *TimerQueue, clock func() int64, unreliable bool, log zerolog.Logger) (*ClientInviteTx, error) {
	tx := &ClientInviteTx{
		baseTx:     baseTx{key: key, state: StateCalling, sender: sender, dest: dest, log: log, done: make(chan struct{})},
		req:        req,
		timers:     timers,
		clock:      clock,
		unreliable: unreliable,
	}
	if err := sender.Send(req, dest); err != nil {
		return nil, err
	}
	if unreliable {
		tx.curA = int64(TimerA())
		tx.timerA = timers.Schedule(clock()+tx.curA, tx.onTimerA)
	}
	tx.timerB = timers.Schedule(clock()+int64(TimerB()), tx.onTimerB)
	return tx, nil
}

func (tx *ClientInviteTx) onTimerA() {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state != StateCalling {
		return
	}
	if err := tx.sender.Send(tx.req, tx.dest); err != nil {
		tx.fail(err)
		return
	}
	tx.curA *= 2
	if max := int64(TimerB()) / 2; tx.curA > max {
		tx.curA = max
	}
	tx.timerA = tx.timers.Schedule(tx.clock()+tx.curA, tx.onTimerA)
}

func (tx *ClientInviteTx) onTimerB() {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state != StateCalling {
		return
	}
	tx.fail(ErrTransactionTimeout)
}

// Request returns the INVITE this transaction is carrying, e.g. for a
// caller that needs to build a CANCEL against the same branch/headers.
func (tx *ClientInviteTx) Request() *sipmsg.Request { return tx.req }

func (tx *ClientInviteTx) onTimerD() {
	tx.terminate()
}

// OnTransportResponse feeds a matched response into the FSM.
func (tx *ClientInviteTx) OnTransportResponse(resp *sipmsg.Response) {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()

	switch {
	case resp.StatusCode.IsProvisional():
		if state == StateCalling {
			tx.timers.Cancel(tx.timerA)
			tx.setState(StateProceeding)
		}
		if state == StateCalling || state == StateProceeding {
			if tx.OnResponse != nil {
				tx.OnResponse(resp)
			}
		}
	case resp.StatusCode.IsSuccess():
		// RFC 6026: once in Accepted, further 2xx carrying the same To
		// tag are retransmissions and are absorbed, not passed up again;
		// a 2xx with a different To tag is another fork's answer and is
		// passed up so the TU can tear that dialog down.
		var toTag string
		if to, ok := resp.To(); ok {
			toTag, _ = to.Tag()
		}
		if state == StateCalling || state == StateProceeding {
			tx.timers.Cancel(tx.timerA)
			tx.timers.Cancel(tx.timerB)
			tx.setState(StateAccepted)
			tx.acceptedTag = toTag
			tx.timerM = tx.timers.Schedule(tx.clock()+int64(TimerM()), tx.terminate)
			if tx.OnResponse != nil {
				tx.OnResponse(resp)
			}
		} else if state == StateAccepted && toTag != tx.acceptedTag {
			if tx.OnResponse != nil {
				tx.OnResponse(resp)
			}
		}
	default:
		if state == StateCalling || state == StateProceeding {
			tx.timers.Cancel(tx.timerA)
			tx.timers.Cancel(tx.timerB)
			tx.setState(StateCompleted)
			tx.ack = buildAckForNonSuccess(tx.req, resp)
			_ = tx.sender.Send(tx.ack, tx.dest)
			// RFC 3261 §17.1.1.3: on a reliable transport the
			// transaction moves straight to Terminated once the ACK is
			// sent; Timer D exists only to absorb UDP retransmissions
			// of the final response.
			if tx.unreliable {
				tx.timerD = tx.timers.Schedule(tx.clock()+int64(TimerD()), tx.onTimerD)
			} else {
				tx.terminate()
			}
			if tx.OnResponse != nil {
				tx.OnResponse(resp)
			}
		} else if state == StateCompleted {
			// Retransmitted non-2xx final (RFC 3261 §17.1.1.3 requires
			// the ACK be retransmitted for as long as retransmissions of
			// the response keep arriving, i.e. for Timer D's duration).
			_ = tx.sender.Send(tx.ack, tx.dest)
		}
	}
}

// buildAckForNonSuccess builds the ACK for a non-2xx final response to
// an INVITE per RFC 3261 §17.1.1.3: the client transaction itself owns
// this ACK (unlike the ACK for a 2xx, which is the TU's job), so it is
// built here from sipmsg alone rather than via the dialog layer.
func buildAckForNonSuccess(invite *sipmsg.Request, resp *sipmsg.Response) *sipmsg.Request {
	ack := sipmsg.NewRequest(sipmsg.ACK, invite.RequestURI, invite.SIPVersion)

	if via, ok := invite.Via(); ok {
		ack.AppendHeader(via.Clone())
	}
	if mf, ok := invite.Header("Max-Forwards"); ok {
		ack.AppendHeader(mf.Clone())
	}
	if from, ok := invite.From(); ok {
		ack.AppendHeader(from.Clone())
	}
	if to, ok := resp.To(); ok {
		ack.AppendHeader(to.Clone())
	}
	if callID, ok := invite.CallID(); ok {
		ack.AppendHeader(callID.Clone())
	}
	if cseq, ok := invite.CSeq(); ok {
		ack.AppendHeader(&sipmsg.CSeqHeader{Seq: cseq.Seq, Method: sipmsg.ACK})
	}

	routes := invite.Headers("Route")
	if len(routes) > 0 {
		for _, r := range routes {
			ack.AppendHeader(r.Clone())
		}
	} else {
		rrs := invite.Headers("Record-Route")
		for i := len(rrs) - 1; i >= 0; i-- {
			na := rrs[i].(*sipmsg.NameAddrHeader).Clone().(*sipmsg.NameAddrHeader)
			na.HeaderName = "Route"
			ack.AppendHeader(na)
		}
	}
	ack.SetBody(nil)
	return ack
}

func (tx *ClientInviteTx) fail(err error) {
	tx.timers.Cancel(tx.timerA)
	tx.timers.Cancel(tx.timerB)
	tx.timers.Cancel(tx.timerD)
	tx.timers.Cancel(tx.timerM)
	if tx.OnError != nil {
		tx.OnError(err)
	}
	tx.terminate()
}

func (tx *ClientInviteTx) Terminate() {
	tx.timers.Cancel(tx.timerA)
	tx.timers.Cancel(tx.timerB)
	tx.timers.Cancel(tx.timerD)
	tx.timers.Cancel(tx.timerM)
	tx.terminate()
}

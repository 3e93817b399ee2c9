package transaction

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/go-sip/uacore/sipmsg"
)

// RequestHandler is invoked for every request that starts a new server
// transaction (the TU/dialog layer decides what to do with it).
type RequestHandler func(req *sipmsg.Request, tx interface{})

// Layer owns the four transaction stores and the TimerQueue, and
// performs RFC 3261 §17.2.3/§17.1.3 matching to route inbound
// requests/responses to an existing transaction or spawn a new server
// transaction. It mirrors the teacher's TransactionLayer (sip/transaction_layer.go)
// generalized to a Sender interface instead of a concrete transport.Layer
// so it stays decoupled from transport.
type Layer struct {
	sender Sender
	timers *TimerQueue
	clock  func() int64
	log    zerolog.Logger

	clientInvite    *TransactionMap[*ClientInviteTx]
	clientNonInvite *TransactionMap[*ClientNonInviteTx]
	serverInvite    *TransactionMap[*ServerInviteTx]
	serverNonInvite *TransactionMap[*ServerNonInviteTx]

	OnRequest RequestHandler
}

func NewLayer(sender Sender, opts ...LayerOption) *Layer {
	l := &Layer{
		sender:          sender,
		timers:          NewTimerQueue(),
		clock:           func() int64 { return time.Now().UnixNano() },
		log:             zerolog.Nop(),
		clientInvite:    NewTransactionMap[*ClientInviteTx](),
		clientNonInvite: NewTransactionMap[*ClientNonInviteTx](),
		serverInvite:    NewTransactionMap[*ServerInviteTx](),
		serverNonInvite: NewTransactionMap[*ServerNonInviteTx](),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

type LayerOption func(*Layer)

func WithLayerLogger(log zerolog.Logger) LayerOption { return func(l *Layer) { l.log = log } }
func WithClock(clock func() int64) LayerOption       { return func(l *Layer) { l.clock = clock } }

// Timers exposes the layer's TimerQueue so the owning Executive can drive
// it from its select loop (spec.md §4.8).
func (l *Layer) Timers() *TimerQueue { return l.timers }

// RequestInvite starts a new client INVITE transaction for req.
func (l *Layer) RequestInvite(req *sipmsg.Request, dest string, unreliable bool) (*ClientInviteTx, error) {
	via, ok := req.Via()
	if !ok {
		return nil, ErrTransactionTransport
	}
	branch, _ := via.Branch()
	key := ClientKey(branch, sipmsg.INVITE)
	tx, err := NewClientInviteTx(key, req, l.sender, dest, l.timers, l.clock, unreliable, l.log)
	if err != nil {
		return nil, err
	}
	tx.onTerminate = func() { l.clientInvite.Drop(key) }
	l.clientInvite.Put(key, tx)
	return tx, nil
}

// RequestNonInvite starts a new client non-INVITE transaction for req.
func (l *Layer) RequestNonInvite(req *sipmsg.Request, dest string, unreliable bool) (*ClientNonInviteTx, error) {
	via, ok := req.Via()
	if !ok {
		return nil, ErrTransactionTransport
	}
	branch, _ := via.Branch()
	key := ClientKey(branch, req.Method)
	tx, err := NewClientNonInviteTx(key, req, l.sender, dest, l.timers, l.clock, unreliable, l.log)
	if err != nil {
		return nil, err
	}
	tx.onTerminate = func() { l.clientNonInvite.Drop(key) }
	l.clientNonInvite.Put(key, tx)
	return tx, nil
}

// HandleRequest matches req against live server transactions, or creates
// a new one and invokes OnRequest. ACK for a non-2xx final response
// matches its INVITE server transaction per RFC 3261 §17.2.1 and is
// delivered via OnAck instead of OnRequest.
func (l *Layer) HandleRequest(req *sipmsg.Request, source string) error {
	if req.Method == sipmsg.ACK {
		key, err := ServerKey(req, sipmsg.INVITE)
		if err != nil {
			return err
		}
		if tx, ok := l.serverInvite.Get(key); ok {
			tx.OnAck()
			return nil
		}
		// ACK for a 2xx: no transaction, passed straight to the TU/dialog
		// layer by the caller (stack.Stack), not handled here.
		return nil
	}

	method := req.Method
	if req.Method == sipmsg.CANCEL {
		method = sipmsg.INVITE
	}
	key, err := ServerKey(req, method)
	if err != nil {
		return err
	}

	if req.Method == sipmsg.INVITE || req.Method == sipmsg.CANCEL {
		if tx, ok := l.serverInvite.Get(key); ok {
			tx.OnRequestRetransmission()
			return nil
		}
	} else if tx, ok := l.serverNonInvite.Get(key); ok {
		tx.OnRequestRetransmission()
		return nil
	}

	if req.Method == sipmsg.INVITE {
		tx := NewServerInviteTx(key, l.sender, source, l.timers, l.clock, l.log)
		tx.onTerminate = func() { l.serverInvite.Drop(key) }
		l.serverInvite.Put(key, tx)
		if l.OnRequest != nil {
			l.OnRequest(req, tx)
		}
		return nil
	}

	tx := NewServerNonInviteTx(key, l.sender, source, l.timers, l.clock, l.log)
	tx.onTerminate = func() { l.serverNonInvite.Drop(key) }
	l.serverNonInvite.Put(key, tx)
	if l.OnRequest != nil {
		l.OnRequest(req, tx)
	}
	return nil
}

// HandleResponse matches resp to a live client transaction by its top Via
// branch and dispatches it. If no transaction matches, the response is an
// unhandled "stray" per RFC 3261 §17.1.3, left to the caller to log/drop.
func (l *Layer) HandleResponse(resp *sipmsg.Response) (matched bool) {
	via, ok := resp.Via()
	if !ok {
		return false
	}
	branch, ok := via.Branch()
	if !ok {
		return false
	}
	cseq, ok := resp.CSeq()
	if !ok {
		return false
	}

	if cseq.Method == sipmsg.INVITE {
		key := ClientKey(branch, sipmsg.INVITE)
		if tx, ok := l.clientInvite.Get(key); ok {
			tx.OnTransportResponse(resp)
			return true
		}
		return false
	}
	key := ClientKey(branch, cseq.Method)
	if tx, ok := l.clientNonInvite.Get(key); ok {
		tx.OnTransportResponse(resp)
		return true
	}
	return false
}

// Tick advances the TimerQueue to now, firing any due timers. Called by
// the owning Executive on every loop iteration (spec.md §4.8).
func (l *Layer) Tick(now int64) { l.timers.PopDue(now) }

// Shutdown terminates every live transaction (spec.md §8: no leaks on
// terminate).
func (l *Layer) Shutdown() {
	l.clientInvite.TerminateAll()
	l.clientNonInvite.TerminateAll()
	l.serverInvite.TerminateAll()
	l.serverNonInvite.TerminateAll()
}

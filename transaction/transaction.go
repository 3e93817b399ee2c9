package transaction

import (
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/go-sip/uacore/sipmsg"
)

var (
	ErrTransactionTimeout    = errors.New("transaction: timed out")
	ErrTransactionTransport  = errors.New("transaction: transport failure")
	ErrTransactionTerminated = errors.New("transaction: terminated")
)

// RFC3261BranchMagicCookie distinguishes RFC 3261 branch IDs from the
// RFC 2543 transactions the spec still requires matching support for
// (spec.md §4.4 edge case: "pre-3261 branch values").
const RFC3261BranchMagicCookie = "z9hG4bK"

// isRFC3261 reports whether branch carries the magic cookie prefix.
func isRFC3261(branch string) bool {
	return strings.HasPrefix(branch, RFC3261BranchMagicCookie)
}

// Key identifies a transaction for lookup in a TransactionMap. Two
// requests (or a request and its matching response) that compute the same
// Key belong to the same transaction (spec.md §4.4 matching rules).
type Key string

// ServerKey computes the server-transaction matching key for req per RFC
// 3261 §17.2.3: branch+sent-by+method when branch carries the magic
// cookie (CANCEL matches its INVITE by using INVITE's method in the
// key); else the RFC 2543 fallback of from-tag+call-id+cseq+via-sentby.
func ServerKey(req *sipmsg.Request, method sipmsg.Method) (Key, error) {
	via, ok := req.Via()
	if !ok {
		return "", errors.New("transaction: request has no Via")
	}
	branch, ok := via.Branch()
	if ok && isRFC3261(branch) {
		return Key(branch + "|" + via.SentBy() + "|" + string(method)), nil
	}
	from, _ := req.From()
	callID, _ := req.CallID()
	cseq, _ := req.CSeq()
	var fromTag string
	if from != nil {
		fromTag, _ = from.Tag()
	}
	var callIDVal string
	if callID != nil {
		callIDVal = callID.Value
	}
	var seq uint32
	if cseq != nil {
		seq = cseq.Seq
	}
	return Key(fromTag + "|" + callIDVal + "|" + formatUint(seq) + "|" + via.SentBy() + "|" + string(method)), nil
}

// ClientKey computes the client-transaction matching key: branch+method.
// An ACK to a non-2xx final response reuses the INVITE's branch and
// therefore matches the INVITE client transaction (RFC 3261 §17.1.1.3).
func ClientKey(branch string, method sipmsg.Method) Key {
	if method == sipmsg.ACK {
		method = sipmsg.INVITE
	}
	return Key(branch + "|" + string(method))
}

func formatUint(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// State is a transaction FSM state, shared across the four concrete FSMs.
type State int

const (
	StateCalling State = iota
	StateTrying
	StateProceeding
	StateCompleted
	StateConfirmed
	StateAccepted
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCalling:
		return "Calling"
	case StateTrying:
		return "Trying"
	case StateProceeding:
		return "Proceeding"
	case StateCompleted:
		return "Completed"
	case StateConfirmed:
		return "Confirmed"
	case StateAccepted:
		return "Accepted"
	case StateTerminated:
		return "Terminated"
	}
	return "Unknown"
}

// Transaction is the interface common to client and server transactions:
// enough surface for a TransactionMap to hold either kind uniformly.
type Transaction interface {
	Key() Key
	State() State
	Terminate()
	Done() <-chan struct{}
}

// Sender is the narrow transport capability a transaction needs: fire a
// message at a destination without knowing about connection pooling or
// transport selection (spec.md §4.7 is a separate module).
type Sender interface {
	Send(m interface{}, dest string) error
}

// baseTx holds the fields and FSM-spinning plumbing shared by all four
// transaction kinds, following the teacher's baseTx composition (embed a
// shared struct, rather than a deep interface hierarchy).
type baseTx struct {
	mu    sync.Mutex
	key   Key
	state State
	log   zerolog.Logger

	sender Sender
	dest   string

	done   chan struct{}
	closed bool

	onTerminate func()
}

func (t *baseTx) Key() Key { return t.key }

func (t *baseTx) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *baseTx) Done() <-chan struct{} { return t.done }

func (t *baseTx) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *baseTx) terminate() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.state = StateTerminated
	t.mu.Unlock()
	close(t.done)
	if t.onTerminate != nil {
		t.onTerminate()
	}
}

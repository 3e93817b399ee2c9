package stack

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/go-sip/uacore/sipmsg"
	"github.com/go-sip/uacore/transaction"
	"github.com/go-sip/uacore/transport"
)

// Stack is the top-level facade (spec.md §4.8 Stack API): register
// transports and local aliases, send requests/responses, and receive
// inbound requests not yet claimed by a dialog.
type Stack struct {
	log zerolog.Logger

	mu       sync.RWMutex
	aliases  map[string]struct{} // "host:port" forms this stack answers to
	selector *transport.Selector

	txl *transaction.Layer
	exe *Executive

	OnRequest func(*sipmsg.Request, transaction.Transaction)
}

type Option func(*Stack)

func WithLogger(l zerolog.Logger) Option { return func(s *Stack) { s.log = l } }

func New(defaultTransport string, reg prometheus.Registerer, opts ...Option) *Stack {
	s := &Stack{
		log:      sipmsg.DefaultLogger(),
		aliases:  make(map[string]struct{}),
		selector: transport.NewSelector(defaultTransport),
	}
	for _, o := range opts {
		o(s)
	}
	s.txl = transaction.NewLayer(s, transaction.WithLayerLogger(s.log))
	s.exe = NewExecutive(s.txl, WithExecutiveLogger(s.log), WithMetricsRegisterer(reg))
	s.exe.OnUnmatchedRequest(func(req *sipmsg.Request, from string) {
		// ACK for a 2xx: no server transaction exists once the INVITE
		// transaction terminated on the first 2xx (RFC 3261 §13.3.1.4);
		// the dialog layer above matches it by dialog ID instead.
		if s.OnRequest != nil {
			s.OnRequest(req, nil)
		}
	})
	s.txl.OnRequest = func(req *sipmsg.Request, tx interface{}) {
		if s.OnRequest != nil {
			s.OnRequest(req, tx.(transaction.Transaction))
		}
	}
	return s
}

// AddTransport registers t for outbound selection only; inbound delivery
// is not wired here, the caller hands received messages to Deliver.
func (s *Stack) AddTransport(t transport.Transport) {
	s.selector.Register(t)
}

// AddAlias records a host:port this stack considers "myself" for
// Record-Route/loop detection purposes (spec.md §4.8).
func (s *Stack) AddAlias(hostport string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[strings.ToLower(hostport)] = struct{}{}
}

func (s *Stack) IsMyDomain(hostport string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.aliases[strings.ToLower(hostport)]
	return ok
}

// Send implements transaction.Sender: resolve a transport/destination
// for m per RFC 3261/3263 rules and write it out. dest is advisory (used
// by responses, which must go back to the request's source per RFC 3261
// §18.2.2); when non-empty it overrides the destination address, while
// the transport is still the one selection picks.
func (s *Stack) Send(m interface{}, dest string) error {
	switch msg := m.(type) {
	case *sipmsg.Request:
		t, resolved, err := s.selector.Resolve(msg)
		if err != nil {
			return err
		}
		if dest == "" {
			dest = resolved
		}
		return t.Send(context.Background(), dest, []byte(msg.String()))
	case *sipmsg.Response:
		// Responses always go back the way the request came (RFC 3261
		// §18.2.2: use the connection the request arrived on, or the
		// Via sent-by/received/rport triple for UDP).
		via, ok := msg.Via()
		if !ok {
			return fmt.Errorf("stack: response has no Via to route by")
		}
		t, err := s.transportForVia(via)
		if err != nil {
			return err
		}
		if dest == "" {
			dest = via.SentBy()
		}
		return t.Send(context.Background(), dest, []byte(msg.String()))
	default:
		return fmt.Errorf("stack: unsupported message type %T", m)
	}
}

func (s *Stack) transportForVia(via *sipmsg.ViaHeader) (transport.Transport, error) {
	fake := sipmsg.URI{Host: via.SentHost, Port: via.SentPort, Params: sipmsg.NewParams()}
	fake.Params.Add("transport", via.Transport)
	req := sipmsg.NewRequest(sipmsg.OPTIONS, fake, "SIP/2.0")
	t, _, err := s.selector.Resolve(req)
	return t, err
}

// Deliver feeds a raw inbound frame into the Executive.
func (s *Stack) Deliver(data []byte, from string) { s.exe.Deliver(data, from) }

// Do queues an application action onto the Executive's single goroutine.
func (s *Stack) Do(fn func()) { s.exe.Do(fn) }

// RequestInvite/RequestNonInvite start a client transaction for an
// application-originated request.
func (s *Stack) RequestInvite(req *sipmsg.Request, dest string, unreliable bool) (*transaction.ClientInviteTx, error) {
	return s.txl.RequestInvite(req, dest, unreliable)
}

func (s *Stack) RequestNonInvite(req *sipmsg.Request, dest string, unreliable bool) (*transaction.ClientNonInviteTx, error) {
	return s.txl.RequestNonInvite(req, dest, unreliable)
}

// Run starts the Executive loop; blocks until ctx is canceled.
func (s *Stack) Run(ctx context.Context) { s.exe.Run(ctx) }

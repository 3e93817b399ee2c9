// Package stack wires sipmsg, transaction, dialog and transport together
// behind a single cooperative event loop (spec.md §4.8 Executive),
// rendered as a Go channel-select loop rather than a literal fd-set: the
// standard library gives no portable way to multiplex raw sockets by fd,
// and a single loop draining typed channels is the idiomatic Go
// equivalent the DESIGN NOTES explicitly allow ("prefer a single
// cooperative loop with pluggable transports").
package stack

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/go-sip/uacore/sipmsg"
	"github.com/go-sip/uacore/transaction"
)

type inboundMessage struct {
	data []byte
	from string
}

// Executive is the single-threaded scheduler: every transaction FSM
// transition, timer firing, and transport handoff happens on its
// goroutine, so none of transaction/dialog/sipmsg needs its own locking
// beyond what's required for cross-goroutine submission into the loop
// (spec.md §4.8, §9 DESIGN NOTES).
type Executive struct {
	log    zerolog.Logger
	txl    *transaction.Layer
	parser *sipmsg.Parser

	inbound chan inboundMessage
	submit  chan func()

	onRequest  func(*sipmsg.Request, string)
	onResponse func(*sipmsg.Response)

	metrics *metrics
}

type metrics struct {
	messagesIn  prometheus.Counter
	messagesOut prometheus.Counter
	parseErrors prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		messagesIn:  prometheus.NewCounter(prometheus.CounterOpts{Name: "uacore_messages_in_total"}),
		messagesOut: prometheus.NewCounter(prometheus.CounterOpts{Name: "uacore_messages_out_total"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{Name: "uacore_parse_errors_total"}),
	}
	if reg != nil {
		reg.MustRegister(m.messagesIn, m.messagesOut, m.parseErrors)
	}
	return m
}

type ExecutiveOption func(*Executive)

func WithExecutiveLogger(l zerolog.Logger) ExecutiveOption { return func(e *Executive) { e.log = l } }
func WithMetricsRegisterer(reg prometheus.Registerer) ExecutiveOption {
	return func(e *Executive) { e.metrics = newMetrics(reg) }
}

func NewExecutive(txl *transaction.Layer, opts ...ExecutiveOption) *Executive {
	e := &Executive{
		log:     sipmsg.DefaultLogger(),
		txl:     txl,
		parser:  sipmsg.NewParser(),
		inbound: make(chan inboundMessage, 256),
		submit:  make(chan func(), 256),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = newMetrics(nil)
	}
	return e
}

// Deliver hands a raw datagram/frame received on any transport to the
// Executive; safe to call from any goroutine (it's how the transport
// layer's reader goroutines cross back onto the single loop).
func (e *Executive) Deliver(data []byte, from string) {
	e.inbound <- inboundMessage{data: data, from: from}
}

// Do queues fn to run on the Executive's own goroutine, used by the
// stack.Stack and dialog layers to serialize application-triggered
// actions (sending a new request, responding, canceling) with inbound
// message processing and timer firing.
func (e *Executive) Do(fn func()) {
	e.submit <- fn
}

// Run drives the loop until ctx is canceled. It is the direct analogue of
// the select()/poll() loop in the original C++ stack: every iteration
// either processes one inbound message, one submitted closure, or
// advances the TimerQueue to the earliest due deadline.
func (e *Executive) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		e.armTimer(timer)

		select {
		case <-ctx.Done():
			e.txl.Shutdown()
			return
		case msg := <-e.inbound:
			e.handleInbound(msg)
		case fn := <-e.submit:
			fn()
		case now := <-timer.C:
			e.txl.Tick(now.UnixNano())
		}
	}
}

func (e *Executive) armTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	deadline, ok := e.txl.Timers().NextDeadline()
	if !ok {
		timer.Reset(time.Hour)
		return
	}
	d := time.Duration(deadline - time.Now().UnixNano())
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (e *Executive) handleInbound(msg inboundMessage) {
	e.metrics.messagesIn.Inc()
	parsed, err := e.parser.Parse(msg.data)
	if err != nil {
		e.metrics.parseErrors.Inc()
		e.log.Warn().Err(err).Str("from", msg.from).Msg("dropping unparsable message")
		return
	}
	switch m := parsed.(type) {
	case *sipmsg.Request:
		m.Source = msg.from
		if m.Method == sipmsg.ACK {
			_ = e.txl.HandleRequest(m, msg.from)
			if e.onRequest != nil {
				e.onRequest(m, msg.from)
			}
			return
		}
		_ = e.txl.HandleRequest(m, msg.from)
	case *sipmsg.Response:
		m.Source = msg.from
		if !e.txl.HandleResponse(m) {
			e.log.Debug().Str("from", msg.from).Msg("stray response, no matching transaction")
			if e.onResponse != nil {
				e.onResponse(m)
			}
		}
	}
}

// OnUnmatchedRequest/OnUnmatchedResponse let the stack.Stack layer
// observe ACKs and stray responses. Every inbound ACK is passed to the
// request callback, including one that also matched an INVITE server
// transaction, not only the ACK for a 2xx (spec.md §4.4 edge cases).
func (e *Executive) OnUnmatchedRequest(fn func(*sipmsg.Request, string)) { e.onRequest = fn }
func (e *Executive) OnUnmatchedResponse(fn func(*sipmsg.Response))       { e.onResponse = fn }

// Package im supplements the core SIP stack with the instant-messaging
// and presence TU behavior from the original resiprocate TuIM
// implementation (spec.md §5): paging via MESSAGE, a buddy list with
// presence subscriptions, and a minimal registration helper. None of this
// is required by the core [MODULE] set; it is additive, built entirely
// on top of stack.Stack/dialog.Dialog.
package im

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/go-sip/uacore/dialog"
	"github.com/go-sip/uacore/sipmsg"
	"github.com/go-sip/uacore/stack"
)

// Callbacks mirrors TuIM's PageCallback/ErrCallback/PresCallback trio:
// the application supplies these instead of subclassing.
type Callbacks struct {
	// ReceivedPage is called for an inbound MESSAGE (TuIM::receivedPage).
	// signedBy/sigStatus/encrypted carry the S/MIME verdict the original
	// TuIM attaches to every page; this UA never verifies S/MIME (spec.md
	// Non-goals), so they are always passed through as "", "none", false.
	ReceivedPage func(text, from, signedBy, sigStatus string, encrypted bool)
	// SendPageFailed is called when a sent MESSAGE's transaction ends in
	// failure (TuIM::sendPageFailed).
	SendPageFailed func(to string, err error)
	// PresenceUpdate is the slot for presence changes
	// (TuIM::presenseUpdate), with the PIDF body handed over opaque.
	// Nothing in this package invokes it: inbound NOTIFY requests are not
	// processed by the Agent, so it is never called.
	PresenceUpdate func(from string, pidf []byte)
}

// Buddy is one entry of the presence buddy list (TuIM::BuddyList).
type Buddy struct {
	URI   sipmsg.URI
	Group string

	dialog *dialog.Dialog
}

// Agent wraps a stack.Stack with the IM/presence TU behavior: sending
// pages, maintaining a buddy list of presence subscriptions, and
// publishing this UA's own presence to every subscriber of it
// (TuIM::setMyPresense).
type Agent struct {
	mu      sync.Mutex
	log     zerolog.Logger
	s       *stack.Stack
	aor     sipmsg.URI
	viaHost string
	dialogs *dialog.Registry

	callbacks Callbacks

	buddies []*Buddy
	// subscribers holds the dialogs of parties who have subscribed to
	// this agent's own presence (TuIM::mSubscriptions).
	subscribers map[dialog.ID]*dialog.Dialog

	presenceOpen   bool
	presenceStatus string
}

func NewAgent(s *stack.Stack, aor sipmsg.URI, viaHost string, cb Callbacks, log zerolog.Logger) *Agent {
	return &Agent{
		s: s, aor: aor, viaHost: viaHost, callbacks: cb, log: log,
		dialogs:     dialog.NewRegistry(),
		subscribers: make(map[dialog.ID]*dialog.Dialog),
	}
}

// SendPage sends text to dest as a MESSAGE (TuIM::sendPage). S/MIME
// sign/encrypt from the original is out of scope (spec.md Non-goals:
// security extensions), so the body is sent as plain text/plain.
func (a *Agent) SendPage(text string, dest sipmsg.URI) error {
	req := dialog.NewInitialRequest(sipmsg.MESSAGE, dest, a.aor, dest, "", a.viaHost, "UDP")
	req.AppendHeader(&sipmsg.MimeHeader{HeaderName: "Content-Type", Type: "text", Subtype: "plain"})
	req.SetBody([]byte(text))

	tx, err := a.s.RequestNonInvite(req, dest.Host, true)
	if err != nil {
		return err
	}
	tx.OnResponse = func(resp *sipmsg.Response) {
		if resp.StatusCode.IsClientError() || resp.StatusCode.IsServerError() {
			if a.callbacks.SendPageFailed != nil {
				a.callbacks.SendPageFailed(dest.String(), fmt.Errorf("message rejected: %d", resp.StatusCode))
			}
		}
	}
	tx.OnError = func(err error) {
		if a.callbacks.SendPageFailed != nil {
			a.callbacks.SendPageFailed(dest.String(), err)
		}
	}
	return nil
}

// HandleMessage processes an inbound MESSAGE request (TuIM::processMessageRequest):
// respond 200 OK, then hand the body to ReceivedPage. The signedBy/
// sigStatus/encrypted parameters mirror TuIM::receivedPage's S/MIME
// fields; S/MIME itself is out of scope (spec.md Non-goals: security
// extensions), so they are always passed through as "no signature
// present" rather than computed.
func (a *Agent) HandleMessage(req *sipmsg.Request, tx interface {
	Respond(resp *sipmsg.Response, unreliable bool) error
}) {
	resp := dialog.NewResponse(req, sipmsg.StatusOK, "OK", "")
	_ = tx.Respond(resp, true)
	from, _ := req.From()
	var fromAddr string
	if from != nil {
		fromAddr = from.NameAddr.Addr.String()
	}
	if a.callbacks.ReceivedPage != nil {
		a.callbacks.ReceivedPage(string(req.Body()), fromAddr, "", "none", false)
	}
}

// NumBuddies/BuddyAt mirror TuIM::getNumBuddies/getBuddyUri for
// applications that want to enumerate the list rather than hold their own
// copy.
func (a *Agent) NumBuddies() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buddies)
}

func (a *Agent) BuddyAt(i int) (Buddy, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.buddies) {
		return Buddy{}, false
	}
	return *a.buddies[i], true
}

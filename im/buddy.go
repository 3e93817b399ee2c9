package im

import (
	"time"

	"github.com/go-sip/uacore/dialog"
	"github.com/go-sip/uacore/sipmsg"
)

// DefaultPresenceExpires mirrors TuIM's subscription refresh interval:
// the original caps any requested Expires at 3600 seconds.
const DefaultPresenceExpires = 3600

// subscribeRefreshMargin mirrors TuIM::process()'s periodic check, which
// re-sends a SUBSCRIBE before its Expires runs out rather than waiting for
// it to lapse and re-subscribing from scratch.
const subscribeRefreshMargin = 30 * time.Second

// AddBuddy subscribes to uri's presence (TuIM::addBuddy): creates a
// presence Dialog and sends an initial SUBSCRIBE with Event: presence and
// Accept: application/pidf+xml. On a successful response the buddy's
// dialog is recorded from the 200 OK's To-tag so RemoveBuddy can later
// send an in-dialog Expires: 0 unsubscribe, and a refresh timer is armed
// ahead of Expires so the subscription never silently lapses.
func (a *Agent) AddBuddy(uri sipmsg.URI, group string) error {
	req := dialog.NewInitialRequest(sipmsg.SUBSCRIBE, uri, a.aor, uri, "", a.viaHost, "UDP")
	req.AppendHeader(&sipmsg.TokenHeader{HeaderName: "Event", Value: "presence"})
	req.AppendHeader(&sipmsg.MimeHeader{HeaderName: "Accept", Type: "application", Subtype: "pidf+xml"})
	expires := &sipmsg.IntegerHeader{HeaderName: "Expires", Value: DefaultPresenceExpires}
	req.AppendHeader(expires)

	from, _ := req.From()
	localTag, _ := from.Tag()

	b := &Buddy{URI: uri, Group: group}

	tx, err := a.s.RequestNonInvite(req, uri.Host, true)
	if err != nil {
		return err
	}
	tx.OnResponse = func(resp *sipmsg.Response) {
		if resp.StatusCode.IsSuccess() {
			if id, ok := dialog.IDFromResponse(resp, localTag); ok {
				b.dialog = dialog.Establish(id, a.aor, uri)
			}
			a.mu.Lock()
			a.buddies = append(a.buddies, b)
			a.mu.Unlock()
			a.scheduleSubscribeRefresh(b, grantedExpires(resp, DefaultPresenceExpires))
		} else if a.callbacks.SendPageFailed != nil {
			a.callbacks.SendPageFailed(uri.String(), errSubscribeRejected(resp.StatusCode))
		}
	}
	return nil
}

// scheduleSubscribeRefresh arms a one-shot timer that re-sends SUBSCRIBE
// on b's dialog before expiresSecs runs out (TuIM::process()'s periodic
// refresh check, ported as a timer instead of a polled loop). The refresh
// stops once b is no longer in the buddy list (RemoveBuddy dropped it).
func (a *Agent) scheduleSubscribeRefresh(b *Buddy, expiresSecs uint32) {
	d := time.Duration(expiresSecs)*time.Second - subscribeRefreshMargin
	if d <= 0 {
		d = time.Second
	}
	time.AfterFunc(d, func() {
		a.s.Do(func() {
			a.mu.Lock()
			still := false
			for _, cur := range a.buddies {
				if cur == b {
					still = true
					break
				}
			}
			a.mu.Unlock()
			if !still || b.dialog == nil {
				return
			}
			a.refreshSubscribe(b)
		})
	})
}

func (a *Agent) refreshSubscribe(b *Buddy) {
	req := dialog.NewInDialogRequest(b.dialog, sipmsg.SUBSCRIBE, a.viaHost, "UDP")
	req.AppendHeader(&sipmsg.TokenHeader{HeaderName: "Event", Value: "presence"})
	req.AppendHeader(&sipmsg.MimeHeader{HeaderName: "Accept", Type: "application", Subtype: "pidf+xml"})
	req.AppendHeader(&sipmsg.IntegerHeader{HeaderName: "Expires", Value: DefaultPresenceExpires})

	tx, err := a.s.RequestNonInvite(req, b.URI.Host, true)
	if err != nil {
		return
	}
	tx.OnResponse = func(resp *sipmsg.Response) {
		if resp.StatusCode.IsSuccess() {
			a.scheduleSubscribeRefresh(b, grantedExpires(resp, DefaultPresenceExpires))
		} else if a.callbacks.SendPageFailed != nil {
			a.callbacks.SendPageFailed(b.URI.String(), errSubscribeRejected(resp.StatusCode))
		}
	}
}

// grantedExpires reads the Expires header off resp, falling back to want
// when the server omitted it.
func grantedExpires(resp *sipmsg.Response, want uint32) uint32 {
	h, ok := resp.Header("Expires")
	if !ok {
		return want
	}
	ih, ok := h.(*sipmsg.IntegerHeader)
	if !ok {
		return want
	}
	return ih.Value
}

// RemoveBuddy unsubscribes from a buddy's presence and drops it from the
// list (TuIM::removeBuddy, which the original left as assert(0); this is
// the Open Question decision: send Expires: 0 on the buddy's dialog, then
// remove regardless of the final response since the local state should
// not wait on a potentially unreachable peer).
func (a *Agent) RemoveBuddy(uri sipmsg.URI) bool {
	a.mu.Lock()
	var idx = -1
	for i, b := range a.buddies {
		if b.URI.String() == uri.String() {
			idx = i
			break
		}
	}
	if idx < 0 {
		a.mu.Unlock()
		return false
	}
	b := a.buddies[idx]
	a.buddies = append(a.buddies[:idx], a.buddies[idx+1:]...)
	a.mu.Unlock()

	if b.dialog == nil {
		return true
	}
	req := dialog.NewInDialogRequest(b.dialog, sipmsg.SUBSCRIBE, a.viaHost, "UDP")
	req.AppendHeader(&sipmsg.TokenHeader{HeaderName: "Event", Value: "presence"})
	req.ReplaceHeader(&sipmsg.IntegerHeader{HeaderName: "Expires", Value: 0})
	_, _ = a.s.RequestNonInvite(req, uri.Host, true)
	return true
}

// SetMyPresence updates this agent's own presence and renotifies every
// subscriber (TuIM::setMyPresense), rendering the PIDF document as an
// opaque blob the caller supplies rather than interpreting it.
func (a *Agent) SetMyPresence(open bool, status string, pidf []byte) {
	a.mu.Lock()
	a.presenceOpen = open
	a.presenceStatus = status
	subs := make([]*dialog.Dialog, 0, len(a.subscribers))
	for _, d := range a.subscribers {
		subs = append(subs, d)
	}
	a.mu.Unlock()

	for _, d := range subs {
		a.sendNotify(d, pidf)
	}
}

// sendNotify builds and sends a NOTIFY carrying the PIDF body and a
// Subscription-State of "active;expires=3600"; the expires value is
// fixed, not the subscriber's remaining time (TuIM::sendNotify).
func (a *Agent) sendNotify(d *dialog.Dialog, pidf []byte) {
	req := dialog.NewInDialogRequest(d, sipmsg.NOTIFY, a.viaHost, "UDP")
	req.AppendHeader(&sipmsg.TokenHeader{HeaderName: "Event", Value: "presence"})
	state := &sipmsg.TokenHeader{HeaderName: "Subscription-State", Value: "active"}
	state.Params.Add("expires", "3600")
	req.AppendHeader(state)
	req.AppendHeader(&sipmsg.MimeHeader{HeaderName: "Content-Type", Type: "application", Subtype: "pidf+xml"})
	req.SetBody(pidf)
	_, _ = a.s.RequestNonInvite(req, d.RemoteTarget().Host, true)
}

// HandleSubscribe processes an inbound SUBSCRIBE for presence
// (TuIM::processSubscribeRequest): register the subscriber's dialog,
// respond 200, then send an immediate NOTIFY with current state.
func (a *Agent) HandleSubscribe(req *sipmsg.Request, tx interface {
	Respond(resp *sipmsg.Response, unreliable bool) error
}, currentPidf []byte) {
	resp := dialog.NewResponse(req, sipmsg.StatusOK, "OK", "")
	resp.AppendHeader(&sipmsg.IntegerHeader{HeaderName: "Expires", Value: DefaultPresenceExpires})
	_ = tx.Respond(resp, true)

	id, ok := dialog.IDFromRequest(req)
	if !ok {
		return
	}
	d, ok := a.dialogs.Get(id)
	if !ok {
		from, _ := req.From()
		to, _ := req.To()
		d = dialog.Establish(id, to.NameAddr.Addr, from.NameAddr.Addr)
		a.dialogs.Put(d)
	}
	a.mu.Lock()
	a.subscribers[id] = d
	a.mu.Unlock()

	a.sendNotify(d, currentPidf)
}

type errSubscribeRejectedT struct{ code sipmsg.StatusCode }

func (e errSubscribeRejectedT) Error() string {
	return "subscribe rejected"
}

func errSubscribeRejected(code sipmsg.StatusCode) error { return errSubscribeRejectedT{code: code} }

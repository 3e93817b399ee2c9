// Package dialog implements RFC 3261 §12 dialogs and the DialogSet
// grouping used while an INVITE is forking (spec.md §4.5), grounded on
// the teacher's Dialog/DialogClientSession (dialog.go, dialog_client.go)
// and on RemoteParticipantDialogSet.hxx's "one owning set, many early
// members" idiom for the forking case.
package dialog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/go-sip/uacore/sipmsg"
)

// State is the dialog lifecycle state (spec.md §4.5).
type State int32

const (
	StateNull State = iota
	StateEarly
	StateConfirmed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "Null"
	case StateEarly:
		return "Early"
	case StateConfirmed:
		return "Confirmed"
	case StateTerminated:
		return "Terminated"
	}
	return "Unknown"
}

// ID is the RFC 3261 §12 dialog identifier: Call-ID + local tag + remote
// tag. Two dialogs with the same Call-ID but different remote tags are
// distinct dialogs, which is exactly how a forked INVITE produces more
// than one dialog from a single request (spec.md §4.5).
type ID struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

// Dialog is one RFC 3261 dialog. Route set and local/remote sequence
// numbers are kept explicit (not re-derived from messages) because the
// dialog outlives any single transaction.
type Dialog struct {
	id ID

	mu         sync.RWMutex
	state      State
	localURI   sipmsg.URI
	remoteURI  sipmsg.URI
	remoteSeq  uint32
	remoteSet  bool
	localSeq   atomic.Uint32
	routeSet   []sipmsg.NameAddr
	remoteTarget sipmsg.URI
	secure     bool

	values sync.Map

	ctx    context.Context
	cancel context.CancelFunc

	onState atomic.Pointer[func(State)]
}

func newDialog(id ID, localURI, remoteURI sipmsg.URI) *Dialog {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dialog{id: id, localURI: localURI, remoteURI: remoteURI, ctx: ctx, cancel: cancel}
	return d
}

// Establish builds a confirmed Dialog directly from a known ID and
// local/remote URIs, for UAS-side flows (e.g. a SUBSCRIBE establishing a
// presence dialog) that never go through a DialogSet because there is no
// forking concern on the receiving side.
func Establish(id ID, localURI, remoteURI sipmsg.URI) *Dialog {
	d := newDialog(id, localURI, remoteURI)
	d.SetRemoteTarget(remoteURI)
	d.setState(StateConfirmed)
	return d
}

func (d *Dialog) ID() ID       { return d.id }
func (d *Dialog) Context() context.Context { return d.ctx }

func (d *Dialog) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// OnState registers a callback invoked every time setState runs,
// matching the teacher's Dialog.OnState hook (dialog.go).
func (d *Dialog) OnState(fn func(State)) {
	d.onState.Store(&fn)
}

func (d *Dialog) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	if p := d.onState.Load(); p != nil {
		(*p)(s)
	}
	if s == StateTerminated {
		d.cancel()
	}
}

// NextLocalCSeq returns the next CSeq number to use on a request sent
// within this dialog (RFC 3261 §12.2.1.1: strictly increasing).
func (d *Dialog) NextLocalCSeq() uint32 { return d.localSeq.Add(1) }

// CheckRemoteCSeq enforces RFC 3261 §12.2.2's strict-increase rule for
// in-dialog requests received from the peer; out-of-order requests must
// be rejected with 500 by the caller (spec.md §4.5 invariant).
func (d *Dialog) CheckRemoteCSeq(seq uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remoteSet && seq <= d.remoteSeq {
		return ErrCSeqOutOfOrder
	}
	d.remoteSeq = seq
	d.remoteSet = true
	return nil
}

// UpdateRouteSet replaces the cached route set, e.g. from a 2xx response
// to the initial INVITE (RFC 3261 §12.1.2: "reverse order of Record-Route
// headers"). Callers pass the reversed list.
func (d *Dialog) UpdateRouteSet(routes []sipmsg.NameAddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routeSet = routes
}

func (d *Dialog) RouteSet() []sipmsg.NameAddr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]sipmsg.NameAddr, len(d.routeSet))
	copy(out, d.routeSet)
	return out
}

func (d *Dialog) SetRemoteTarget(u sipmsg.URI) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remoteTarget = u
}

func (d *Dialog) RemoteTarget() sipmsg.URI {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.remoteTarget
}

// Store/Load mirror the teacher's Dialog sync.Map convenience for
// attaching application state to a dialog without subclassing it.
func (d *Dialog) Store(key, value interface{}) { d.values.Store(key, value) }
func (d *Dialog) Load(key interface{}) (interface{}, bool) { return d.values.Load(key) }

func newTag() string {
	return uuid.New().String()[:8]
}

var ErrCSeqOutOfOrder = dialogError("cseq out of order for in-dialog request")

type dialogError string

func (e dialogError) Error() string { return "dialog: " + string(e) }

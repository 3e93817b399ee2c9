package dialog

import (
	"sync"

	"github.com/go-sip/uacore/sipmsg"
)

// ForkPolicy controls how a DialogSet reacts to multiple early dialogs
// appearing from one forked INVITE (spec.md §4.5 Open Question, decided
// here): Automatic keeps the first confirmed dialog and tears the rest
// down with CANCEL/BYE as appropriate; Manual leaves every early dialog
// live for the application to choose from.
type ForkPolicy int

const (
	ForkAutomatic ForkPolicy = iota
	ForkManual
)

// DialogSet owns every Dialog that can result from a single initial
// request, keyed by the local tag that request generated (RFC 3261
// §12.1.1) plus whatever remote tag each forked response adds. Grounded
// on RemoteParticipantDialogSet.hxx's notion of one request fanning out
// into several participant dialogs under a single set.
type DialogSet struct {
	mu       sync.RWMutex
	callID   string
	localTag string
	policy   ForkPolicy

	request *sipmsg.Request
	dialogs map[string]*Dialog // keyed by remote tag; "" until first early dialog arrives

	winner *Dialog
}

// NewDialogSet creates a set for an about-to-be-sent initial request.
// The caller is responsible for stamping req's From header with the
// returned local tag before transmission.
func NewDialogSet(req *sipmsg.Request, policy ForkPolicy) (*DialogSet, string) {
	localTag := newTag()
	from, _ := req.From()
	callID, _ := req.CallID()
	ds := &DialogSet{
		callID:   callID.Value,
		localTag: localTag,
		policy:   policy,
		request:  req,
		dialogs:  make(map[string]*Dialog),
	}
	_ = from
	return ds, localTag
}

// IsStaleFork reports whether resp's remote tag names a dialog this set
// already knows about. A forking proxy can duplicate a provisional
// response; the second copy must not spawn a second early dialog for the
// same branch (spec.md §4.5 edge case).
func (ds *DialogSet) IsStaleFork(remoteTag string) bool {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	_, ok := ds.dialogs[remoteTag]
	return ok
}

// DialogFor returns the dialog for remoteTag, creating an Early one from
// resp if this is the first response carrying that tag. A later 2xx for a
// tag already tracked (e.g. the 180 then 200 of an unforked INVITE) still
// promotes the existing dialog from Early to Confirmed and runs winner
// selection (RFC 3261 §12.1.2) instead of handing back the stale Early
// dialog untouched.
func (ds *DialogSet) DialogFor(resp *sipmsg.Response) *Dialog {
	to, _ := resp.To()
	remoteTag, _ := to.Tag()

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if d, ok := ds.dialogs[remoteTag]; ok {
		if resp.StatusCode.IsSuccess() && d.State() != StateConfirmed {
			d.setState(StateConfirmed)
			if ds.policy == ForkAutomatic && ds.winner == nil {
				ds.winner = d
			}
		}
		return d
	}

	from, _ := ds.request.From()
	d := newDialog(ID{CallID: ds.callID, LocalTag: ds.localTag, RemoteTag: remoteTag}, from.NameAddr.Addr, to.NameAddr.Addr)
	state := StateEarly
	if resp.StatusCode.IsSuccess() {
		state = StateConfirmed
	}
	d.setState(state)
	ds.dialogs[remoteTag] = d

	if state == StateConfirmed && ds.policy == ForkAutomatic && ds.winner == nil {
		ds.winner = d
	}
	return d
}

// TerminateLosers finalizes every dialog Losers returns once a winner has
// been chosen: early losers only need a single CANCEL against the
// still-pending client transaction (RFC 3261 §13.2.2.4 — canceling the
// transaction tears down every early dialog it spawned at once), while a
// loser that already reached Confirmed needs its own BYE since CANCEL no
// longer has any effect on it. It returns the CANCEL (nil if no early
// loser exists) and one BYE per confirmed loser.
func (ds *DialogSet) TerminateLosers(viaHost, viaTransport string) (cancel *sipmsg.Request, byes []*sipmsg.Request) {
	losers := ds.Losers()
	needCancel := false
	for _, d := range losers {
		switch d.State() {
		case StateEarly:
			needCancel = true
			d.setState(StateTerminated)
		case StateConfirmed:
			byes = append(byes, NewInDialogRequest(d, sipmsg.BYE, viaHost, viaTransport))
			d.setState(StateTerminated)
		}
	}
	if needCancel {
		ds.mu.RLock()
		req := ds.request
		ds.mu.RUnlock()
		cancel = NewCancel(req)
	}
	return cancel, byes
}

// Winner returns the dialog ForkAutomatic has settled on, if any.
func (ds *DialogSet) Winner() (*Dialog, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.winner, ds.winner != nil
}

// Losers returns every confirmed or early dialog other than Winner, which
// the caller should BYE/CANCEL under ForkAutomatic (spec.md §4.5).
func (ds *DialogSet) Losers() []*Dialog {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	var out []*Dialog
	for _, d := range ds.dialogs {
		if d != ds.winner {
			out = append(out, d)
		}
	}
	return out
}

// All returns every dialog currently tracked by this set.
func (ds *DialogSet) All() []*Dialog {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out := make([]*Dialog, 0, len(ds.dialogs))
	for _, d := range ds.dialogs {
		out = append(out, d)
	}
	return out
}

// Registry indexes confirmed dialogs by their full ID for in-dialog
// request routing (spec.md §4.5: requests inside an established dialog
// bypass the DialogSet and go straight to the matching Dialog).
type Registry struct {
	mu sync.RWMutex
	m  map[ID]*Dialog
}

func NewRegistry() *Registry { return &Registry{m: make(map[ID]*Dialog)} }

func (r *Registry) Put(d *Dialog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[d.ID()] = d
}

func (r *Registry) Get(id ID) (*Dialog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.m[id]
	return d, ok
}

func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
}

// IDFromRequest computes the dialog ID a UAS would use to look up the
// dialog an in-dialog request belongs to: local tag is To's tag (this
// UA's own), remote tag is From's tag (RFC 3261 §12.2.2.1).
func IDFromRequest(req *sipmsg.Request) (ID, bool) {
	to, ok := req.To()
	if !ok {
		return ID{}, false
	}
	from, ok := req.From()
	if !ok {
		return ID{}, false
	}
	callID, ok := req.CallID()
	if !ok {
		return ID{}, false
	}
	localTag, ok := to.Tag()
	if !ok {
		return ID{}, false
	}
	remoteTag, ok := from.Tag()
	if !ok {
		return ID{}, false
	}
	return ID{CallID: callID.Value, LocalTag: localTag, RemoteTag: remoteTag}, true
}

// IDFromResponse computes the dialog ID a UAC uses to look up the dialog
// an in-dialog response belongs to: mirror image of IDFromRequest.
func IDFromResponse(resp *sipmsg.Response, localTag string) (ID, bool) {
	from, ok := resp.From()
	if !ok {
		return ID{}, false
	}
	to, ok := resp.To()
	if !ok {
		return ID{}, false
	}
	callID, ok := resp.CallID()
	if !ok {
		return ID{}, false
	}
	remoteTag, ok := to.Tag()
	if !ok {
		return ID{}, false
	}
	_ = from
	return ID{CallID: callID.Value, LocalTag: localTag, RemoteTag: remoteTag}, true
}

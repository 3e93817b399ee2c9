package stack

import (
	"github.com/go-sip/uacore/dialog"
	"github.com/go-sip/uacore/sipmsg"
	"github.com/go-sip/uacore/transaction"
)

// Call drives one outgoing INVITE through to its forking resolution: the
// client INVITE transaction that carries the request, and the DialogSet
// that tracks every early/confirmed dialog a forking proxy's responses
// produce from it (spec.md §4.5). Once ForkAutomatic settles on a winner,
// Call tears down every other dialog itself (RFC 3261 §13.2.2.4): a
// single CANCEL for any early loser, individual BYEs for a loser that
// reached Confirmed after the winner did.
type Call struct {
	s    *Stack
	tx   *transaction.ClientInviteTx
	ds   *dialog.DialogSet
	dest string

	// OnDialog is called once per distinct dialog a response produces,
	// in Early or Confirmed state (spec.md §4.5 DialogFor semantics).
	OnDialog func(*dialog.Dialog)
	// OnFailed is called if the transaction times out or the transport
	// send fails before any final response arrives.
	OnFailed func(error)
}

// PlaceCall sends an initial INVITE built by the caller (Request-URI/
// From/To/Call-ID/CSeq already set, e.g. via dialog.NewInitialRequest)
// and returns a Call tracking every dialog the response stream produces.
// req's From tag is overwritten with the DialogSet's own local tag, since
// DialogFor correlates every later response against that tag rather than
// whatever NewInitialRequest stamped on construction.
func (s *Stack) PlaceCall(req *sipmsg.Request, dest string, unreliable bool, policy dialog.ForkPolicy) (*Call, error) {
	ds, localTag := dialog.NewDialogSet(req, policy)
	if from, ok := req.From(); ok {
		from.NameAddr.Params.Add("tag", localTag)
		from.Touch()
	}

	c := &Call{s: s, ds: ds, dest: dest}
	tx, err := s.txl.RequestInvite(req, dest, unreliable)
	if err != nil {
		return nil, err
	}
	c.tx = tx
	tx.OnResponse = c.onResponse
	tx.OnError = func(err error) {
		if c.OnFailed != nil {
			c.OnFailed(err)
		}
	}
	return c, nil
}

func (c *Call) onResponse(resp *sipmsg.Response) {
	to, ok := resp.To()
	if !ok {
		return
	}
	remoteTag, hasTag := to.Tag()
	if !hasTag {
		// e.g. 100 Trying: no dialog exists yet (RFC 3261 §12.1.1).
		return
	}
	isNew := !c.ds.IsStaleFork(remoteTag)
	d := c.ds.DialogFor(resp)
	if isNew && c.OnDialog != nil {
		c.OnDialog(d)
	}
	if resp.StatusCode.IsSuccess() {
		c.cleanupLosers()
	}
}

// cleanupLosers CANCELs/BYEs every dialog TerminateLosers reports once a
// winner is confirmed. CANCEL rides the same client transaction layer as
// any other non-INVITE request (RFC 3261 §9.1: CANCEL is matched like a
// non-INVITE transaction sharing the original INVITE's branch); the BYEs
// each get their own.
func (c *Call) cleanupLosers() {
	via, ok := c.tx.Request().Via()
	viaHost, viaTransport := "", "UDP"
	if ok {
		viaHost, viaTransport = via.SentHost, via.Transport
	}
	cancel, byes := c.ds.TerminateLosers(viaHost, viaTransport)
	if cancel != nil {
		_, _ = c.s.RequestNonInvite(cancel, c.dest, true)
	}
	for _, bye := range byes {
		to, _ := bye.To()
		dest := c.dest
		if to != nil {
			dest = to.NameAddr.Addr.Host
		}
		_, _ = c.s.RequestNonInvite(bye, dest, true)
	}
}

// DialogSet exposes the underlying set, e.g. for Winner()/All() queries
// once the call has settled.
func (c *Call) DialogSet() *dialog.DialogSet { return c.ds }

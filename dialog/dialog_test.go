package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-sip/uacore/sipmsg"
)

func buildInitialInvite(t *testing.T) *sipmsg.Request {
	t.Helper()
	ruri, err := sipmsg.ParseURI("sip:bob@biloxi.com")
	require.NoError(t, err)
	furi, err := sipmsg.ParseURI("sip:alice@atlanta.com")
	require.NoError(t, err)
	req := NewInitialRequest(sipmsg.INVITE, *ruri, *furi, *ruri, "Alice", "pc33.atlanta.com", "UDP")
	return req
}

func TestNewInitialRequestHasRequiredHeaders(t *testing.T) {
	req := buildInitialInvite(t)
	_, ok := req.Via()
	assert.True(t, ok)
	from, ok := req.From()
	require.True(t, ok)
	_, hasTag := from.Tag()
	assert.True(t, hasTag, "initial request From must carry a tag")
	to, ok := req.To()
	require.True(t, ok)
	_, hasToTag := to.Tag()
	assert.False(t, hasToTag, "initial request To must not carry a tag")
}

func TestDialogSetCreatesOneDialogPerRemoteTag(t *testing.T) {
	req := buildInitialInvite(t)
	ds, localTag := NewDialogSet(req, ForkAutomatic)
	assert.NotEmpty(t, localTag)

	resp1 := buildResponseWithTag(t, req, sipmsg.StatusRinging, "tag-A")
	d1 := ds.DialogFor(resp1)
	assert.Equal(t, StateEarly, d1.State())

	resp2 := buildResponseWithTag(t, req, sipmsg.StatusRinging, "tag-B")
	d2 := ds.DialogFor(resp2)
	assert.NotSame(t, d1, d2, "distinct remote tags must produce distinct dialogs")

	// A duplicate of resp1 (forking proxy retransmit) must not create a
	// third dialog.
	assert.True(t, ds.IsStaleFork("tag-A"))
	d1Again := ds.DialogFor(resp1)
	assert.Same(t, d1, d1Again)
}

func TestDialogSetForkAutomaticPicksWinner(t *testing.T) {
	req := buildInitialInvite(t)
	ds, _ := NewDialogSet(req, ForkAutomatic)

	early := buildResponseWithTag(t, req, sipmsg.StatusRinging, "tag-A")
	ds.DialogFor(early)

	ok := buildResponseWithTag(t, req, sipmsg.StatusOK, "tag-B")
	winner := ds.DialogFor(ok)

	w, found := ds.Winner()
	require.True(t, found)
	assert.Same(t, winner, w)

	losers := ds.Losers()
	require.Len(t, losers, 1)
	assert.Equal(t, StateEarly, losers[0].State())
}

func TestDialogSetPromotesSameTagOnLater2xx(t *testing.T) {
	req := buildInitialInvite(t)
	ds, _ := NewDialogSet(req, ForkAutomatic)

	early := buildResponseWithTag(t, req, sipmsg.StatusRinging, "tag-A")
	d1 := ds.DialogFor(early)
	assert.Equal(t, StateEarly, d1.State())
	_, found := ds.Winner()
	assert.False(t, found, "no winner until a 2xx arrives")

	final := buildResponseWithTag(t, req, sipmsg.StatusOK, "tag-A")
	d2 := ds.DialogFor(final)

	assert.Same(t, d1, d2, "same remote tag must return the same dialog")
	assert.Equal(t, StateConfirmed, d1.State(), "later 2xx for an already-tracked tag must promote it")
	w, found := ds.Winner()
	require.True(t, found)
	assert.Same(t, d1, w)
}

func TestDialogSetTerminateLosers(t *testing.T) {
	req := buildInitialInvite(t)
	ds, _ := NewDialogSet(req, ForkAutomatic)

	earlyOnly := buildResponseWithTag(t, req, sipmsg.StatusRinging, "tag-early")
	ds.DialogFor(earlyOnly)

	// ForkAutomatic keeps the first confirmed dialog as the winner.
	firstConfirmed := buildResponseWithTag(t, req, sipmsg.StatusOK, "tag-first")
	winnerDialog := ds.DialogFor(firstConfirmed)
	w, found := ds.Winner()
	require.True(t, found)
	require.Same(t, winnerDialog, w)

	// A second branch that also answers 2xx reached Confirmed too late to
	// win; it needs a BYE, not a CANCEL, since CANCEL can no longer affect it.
	secondConfirmed := buildResponseWithTag(t, req, sipmsg.StatusOK, "tag-second")
	ds.DialogFor(secondConfirmed)

	cancel, byes := ds.TerminateLosers("pc33.atlanta.com", "UDP")
	require.NotNil(t, cancel, "the still-early loser requires a CANCEL")
	assert.Equal(t, sipmsg.CANCEL, cancel.Method)
	require.Len(t, byes, 1, "the confirmed-but-losing dialog requires its own BYE")
	assert.Equal(t, sipmsg.BYE, byes[0].Method)
}

func TestDialogCSeqMustStrictlyIncrease(t *testing.T) {
	req := buildInitialInvite(t)
	ds, _ := NewDialogSet(req, ForkManual)
	resp := buildResponseWithTag(t, req, sipmsg.StatusOK, "tag-A")
	d := ds.DialogFor(resp)

	require.NoError(t, d.CheckRemoteCSeq(1))
	require.NoError(t, d.CheckRemoteCSeq(2))
	assert.ErrorIs(t, d.CheckRemoteCSeq(2), ErrCSeqOutOfOrder)
	assert.ErrorIs(t, d.CheckRemoteCSeq(1), ErrCSeqOutOfOrder)
}

func buildResponseWithTag(t *testing.T, req *sipmsg.Request, status sipmsg.StatusCode, tag string) *sipmsg.Response {
	t.Helper()
	resp := NewResponse(req, status, "status", "")
	to, ok := resp.To()
	require.True(t, ok)
	to.NameAddr.Params.Add("tag", tag)
	resp.ReplaceHeader(to)
	return resp
}

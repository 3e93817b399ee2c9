package stack

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-sip/uacore/dialog"
	"github.com/go-sip/uacore/sipmsg"
	"github.com/go-sip/uacore/transaction"
)

type recordingSender struct {
	mu  sync.Mutex
	out []interface{}
}

func (r *recordingSender) Send(m interface{}, dest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, m)
	return nil
}

func (r *recordingSender) methods() []sipmsg.Method {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sipmsg.Method
	for _, m := range r.out {
		if req, ok := m.(*sipmsg.Request); ok {
			out = append(out, req.Method)
		}
	}
	return out
}

func buildCallInvite(t *testing.T) *sipmsg.Request {
	t.Helper()
	ruri, err := sipmsg.ParseURI("sip:bob@biloxi.com")
	require.NoError(t, err)
	furi, err := sipmsg.ParseURI("sip:alice@atlanta.com")
	require.NoError(t, err)
	return dialog.NewInitialRequest(sipmsg.INVITE, *ruri, *furi, *ruri, "Alice", "pc33.atlanta.com", "UDP")
}

func respWithTag(t *testing.T, req *sipmsg.Request, status sipmsg.StatusCode, tag string) *sipmsg.Response {
	t.Helper()
	resp := dialog.NewResponse(req, status, "status", "")
	to, ok := resp.To()
	require.True(t, ok)
	to.NameAddr.Params.Add("tag", tag)
	resp.ReplaceHeader(to)
	return resp
}

// newCallTestStack builds a bare Stack whose transaction layer writes to
// sender directly, skipping transport registration entirely: PlaceCall and
// Call.cleanupLosers only ever go through s.txl, never s.Send.
func newCallTestStack(sender transaction.Sender) *Stack {
	return &Stack{txl: transaction.NewLayer(sender)}
}

func TestPlaceCallCleansUpForkLosers(t *testing.T) {
	sender := &recordingSender{}
	s := newCallTestStack(sender)

	req := buildCallInvite(t)
	call, err := s.PlaceCall(req, "1.2.3.4:5060", true, dialog.ForkAutomatic)
	require.NoError(t, err)

	var dialogs []*dialog.Dialog
	call.OnDialog = func(d *dialog.Dialog) { dialogs = append(dialogs, d) }

	// Branch A answers first and wins.
	call.onResponse(respWithTag(t, req, sipmsg.StatusOK, "tag-A"))
	// Branch B is still ringing when A wins: an early loser, needs CANCEL.
	call.onResponse(respWithTag(t, req, sipmsg.StatusRinging, "tag-B"))
	// Re-deliver A's 2xx as a forking-proxy retransmit: must stay idempotent.
	call.onResponse(respWithTag(t, req, sipmsg.StatusOK, "tag-A"))

	require.Len(t, dialogs, 2)

	w, found := call.ds.Winner()
	require.True(t, found)
	assert.Equal(t, "tag-A", w.ID().RemoteTag)

	var sawCancel bool
	for _, m := range sender.methods() {
		if m == sipmsg.CANCEL {
			sawCancel = true
		}
	}
	assert.True(t, sawCancel, "the early loser on tag-B must be CANCELed")
}

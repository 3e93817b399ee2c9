package transaction

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-sip/uacore/sipmsg"
)

type fakeSender struct {
	mu  sync.Mutex
	out []interface{}
}

func (f *fakeSender) Send(m interface{}, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, m)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out)
}

func buildInvite(branch string) *sipmsg.Request {
	u, _ := sipmsg.ParseURI("sip:bob@biloxi.com")
	req := sipmsg.NewRequest(sipmsg.INVITE, *u, "SIP/2.0")
	via := &sipmsg.ViaHeader{ProtocolName: "SIP", ProtocolVersion: "2.0", Transport: "UDP", SentHost: "pc33.atlanta.com"}
	via.Params.Add("branch", branch)
	req.AppendHeader(via)
	req.AppendHeader(&sipmsg.CallIDHeader{Value: "abc@atlanta.com"})
	req.AppendHeader(&sipmsg.CSeqHeader{Seq: 1, Method: sipmsg.INVITE})
	return req
}

func TestClientInviteTxRetransmitsOnTimerA(t *testing.T) {
	sender := &fakeSender{}
	timers := NewTimerQueue()
	now := int64(0)
	clock := func() int64 { return now }
	req := buildInvite(RFC3261BranchMagicCookie + "abc")

	tx, err := NewClientInviteTx(ClientKey("b1", sipmsg.INVITE), req, sender, "1.2.3.4:5060", timers, clock, true, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, sender.count())

	now = int64(TimerA())
	timers.PopDue(now)
	assert.Equal(t, 2, sender.count(), "Timer A should have triggered one retransmit")

	_ = tx
}

func TestClientInviteTxAcceptedAbsorbsRetransmit(t *testing.T) {
	sender := &fakeSender{}
	timers := NewTimerQueue()
	now := int64(0)
	clock := func() int64 { return now }
	req := buildInvite(RFC3261BranchMagicCookie + "abc")

	tx, err := NewClientInviteTx(ClientKey("b1", sipmsg.INVITE), req, sender, "1.2.3.4:5060", timers, clock, false, zerolog.Nop())
	require.NoError(t, err)

	var responses int
	tx.OnResponse = func(*sipmsg.Response) { responses++ }

	ok := sipmsg.NewResponse(sipmsg.StatusOK, "OK", "SIP/2.0")
	ok.AppendHeader(&sipmsg.CSeqHeader{Seq: 1, Method: sipmsg.INVITE})
	tx.OnTransportResponse(ok)
	assert.Equal(t, StateAccepted, tx.State())
	assert.Equal(t, 1, responses)

	tx.OnTransportResponse(ok)
	assert.Equal(t, 1, responses, "a second 2xx must be absorbed, not passed up again")
}

func TestClientInviteTxReliableTerminatesAfterAckingNonSuccess(t *testing.T) {
	sender := &fakeSender{}
	timers := NewTimerQueue()
	now := int64(0)
	clock := func() int64 { return now }
	req := buildInvite(RFC3261BranchMagicCookie + "abc")

	tx, err := NewClientInviteTx(ClientKey("b1", sipmsg.INVITE), req, sender, "1.2.3.4:5060", timers, clock, false, zerolog.Nop())
	require.NoError(t, err)

	busy := sipmsg.NewResponse(sipmsg.StatusBusyHere, "Busy Here", "SIP/2.0")
	busy.AppendHeader(&sipmsg.CSeqHeader{Seq: 1, Method: sipmsg.INVITE})
	to := &sipmsg.NameAddrHeader{HeaderName: "To", NameAddr: sipmsg.NameAddr{Addr: *mustURI(t, "sip:bob@biloxi.com")}}
	to.NameAddr.Params.Add("tag", "remote")
	busy.AppendHeader(to)

	tx.OnTransportResponse(busy)
	assert.Equal(t, StateTerminated, tx.State(), "Timer D is 0 on a reliable transport: terminate immediately after ACKing")
	assert.Equal(t, 2, sender.count(), "INVITE then ACK")
	assert.Equal(t, 0, timers.Len(), "no Timer D should have been armed")
}

func TestClientInviteTxUnreliableArmsTimerDBeforeTerminating(t *testing.T) {
	sender := &fakeSender{}
	timers := NewTimerQueue()
	now := int64(0)
	clock := func() int64 { return now }
	req := buildInvite(RFC3261BranchMagicCookie + "abc")

	tx, err := NewClientInviteTx(ClientKey("b1", sipmsg.INVITE), req, sender, "1.2.3.4:5060", timers, clock, true, zerolog.Nop())
	require.NoError(t, err)

	busy := sipmsg.NewResponse(sipmsg.StatusBusyHere, "Busy Here", "SIP/2.0")
	busy.AppendHeader(&sipmsg.CSeqHeader{Seq: 1, Method: sipmsg.INVITE})
	to := &sipmsg.NameAddrHeader{HeaderName: "To", NameAddr: sipmsg.NameAddr{Addr: *mustURI(t, "sip:bob@biloxi.com")}}
	to.NameAddr.Params.Add("tag", "remote")
	busy.AppendHeader(to)

	tx.OnTransportResponse(busy)
	assert.Equal(t, StateCompleted, tx.State(), "Timer D keeps the transaction alive on an unreliable transport")

	now = int64(TimerD())
	timers.PopDue(now)
	assert.Equal(t, StateTerminated, tx.State())
}

func TestServerNonInviteTxReliableTerminatesImmediately(t *testing.T) {
	sender := &fakeSender{}
	timers := NewTimerQueue()
	now := int64(0)
	clock := func() int64 { return now }

	tx := NewServerNonInviteTx("k1", sender, "1.2.3.4:5060", timers, clock, zerolog.Nop())
	resp := sipmsg.NewResponse(sipmsg.StatusOK, "OK", "SIP/2.0")
	require.NoError(t, tx.Respond(resp, false))
	assert.Equal(t, StateTerminated, tx.State(), "Timer J is 0 on a reliable transport")
	assert.Equal(t, 0, timers.Len())
}

func mustURI(t *testing.T, s string) *sipmsg.URI {
	t.Helper()
	u, err := sipmsg.ParseURI(s)
	require.NoError(t, err)
	return u
}

func TestServerInviteTxCompletedRetransmitsLastResponse(t *testing.T) {
	sender := &fakeSender{}
	timers := NewTimerQueue()
	now := int64(0)
	clock := func() int64 { return now }

	tx := NewServerInviteTx("k1", sender, "1.2.3.4:5060", timers, clock, zerolog.Nop())
	resp := sipmsg.NewResponse(sipmsg.StatusBusyHere, "Busy Here", "SIP/2.0")
	require.NoError(t, tx.Respond(resp, true))
	assert.Equal(t, StateCompleted, tx.State())

	tx.OnRequestRetransmission()
	assert.Equal(t, 2, sender.count())

	tx.OnAck()
	assert.Equal(t, StateConfirmed, tx.State())
}

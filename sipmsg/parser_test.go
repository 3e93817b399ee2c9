package sipmsg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInvite = "INVITE sip:bob@biloxi.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
	"Max-Forwards: 70\r\n" +
	"To: Bob <sip:bob@biloxi.com>\r\n" +
	"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
	"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Contact: <sip:alice@pc33.atlanta.com>\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"test"

// sampleInviteCanonical is sampleInvite with its headers in the canonical
// encode order (Via, From, To, Call-ID, CSeq, Contact, Max-Forwards, others,
// Content-Length last).
const sampleInviteCanonical = "INVITE sip:bob@biloxi.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
	"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
	"To: Bob <sip:bob@biloxi.com>\r\n" +
	"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Contact: <sip:alice@pc33.atlanta.com>\r\n" +
	"Max-Forwards: 70\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"test"

func TestParseInviteRoundTrip(t *testing.T) {
	p := NewParser()
	msg, err := p.Parse([]byte(sampleInvite))
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, INVITE, req.Method)

	via, ok := req.Via()
	require.True(t, ok)
	branch, ok := via.Branch()
	require.True(t, ok)
	assert.Equal(t, "z9hG4bK776asdhds", branch)

	from, ok := req.From()
	require.True(t, ok)
	tag, ok := from.Tag()
	require.True(t, ok)
	assert.Equal(t, "1928301774", tag)

	cseq, ok := req.CSeq()
	require.True(t, ok)
	assert.EqualValues(t, 314159, cseq.Seq)
	assert.Equal(t, INVITE, cseq.Method)

	assert.Equal(t, "test", string(req.Body()))

	// Untouched headers round-trip byte-identical, in canonical header order.
	assert.Equal(t, sampleInviteCanonical, req.String())
}

func TestParseCSeqUnknownMethodPreservesCase(t *testing.T) {
	cseq, err := ParseCSeq("1323333 InviTe")
	require.NoError(t, err)
	assert.EqualValues(t, 1323333, cseq.Seq)
	assert.Equal(t, MethodUnknown, cseq.Method)
	assert.Equal(t, "InviTe", cseq.RawMethod)

	var sb strings.Builder
	cseq.touch()
	cseq.EncodeTo(&sb)
	assert.Equal(t, "CSeq: 1323333 InviTe", sb.String())

	_, err = ParseCSeq("ACK")
	assert.Error(t, err)
}

func TestParseRequestLineUnknownMethodPreservesCase(t *testing.T) {
	rl, err := ParseRequestLine("InviTe sip:bob@biloxi.com SIP/2.0")
	require.NoError(t, err)
	assert.Equal(t, MethodUnknown, rl.Method)
	assert.Equal(t, "InviTe", rl.RawMethod)
}

func TestParseStatusLine(t *testing.T) {
	sl, err := ParseStatusLine("SIP/2.0 180 Ringing")
	require.NoError(t, err)
	assert.Equal(t, StatusRinging, sl.StatusCode)
	assert.Equal(t, "Ringing", sl.Reason)
}

func TestParseResponseDispatch(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
		"To: Bob <sip:bob@biloxi.com>;tag=a6c85cf\r\n" +
		"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
		"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
		"CSeq: 314159 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"
	p := NewParser()
	msg, err := p.Parse([]byte(raw))
	require.NoError(t, err)
	resp, ok := msg.(*Response)
	require.True(t, ok)
	assert.True(t, resp.StatusCode.IsSuccess())
}

func TestMalformedHeaderFallsBackToStringHeader(t *testing.T) {
	raw := "OPTIONS sip:bob@biloxi.com SIP/2.0\r\n" +
		"Via: garbage-not-a-via\r\n" +
		"CSeq: 1 OPTIONS\r\n" +
		"Call-ID: x\r\n" +
		"From: <sip:a@a.com>\r\n" +
		"To: <sip:b@b.com>\r\n" +
		"Content-Length: 0\r\n\r\n"
	p := NewParser()
	msg, err := p.Parse([]byte(raw))
	require.NoError(t, err)
	req := msg.(*Request)
	h, ok := req.Header("Via")
	require.True(t, ok)
	_, isString := h.(*StringHeader)
	assert.True(t, isString, "malformed Via should degrade to StringHeader, not abort the parse")
}

func TestParseURIWithParamsAndHeaders(t *testing.T) {
	u, err := ParseURI("sip:alice@atlanta.com;transport=tcp?subject=project")
	require.NoError(t, err)
	v, ok := u.Params.Get("transport")
	require.True(t, ok)
	assert.Equal(t, "tcp", v)
	v, ok = u.Headers.Get("subject")
	require.True(t, ok)
	assert.Equal(t, "project", v)
}

func TestParseURIIPv6(t *testing.T) {
	u, err := ParseURI("sip:alice@[2001:db8::1]:5060")
	require.NoError(t, err)
	assert.True(t, u.IPv6Literal)
	assert.Equal(t, "2001:db8::1", u.Host)
	assert.Equal(t, 5060, u.Port)
}

func TestSetBodyRecomputesContentLength(t *testing.T) {
	req := NewRequest(MESSAGE, URI{Scheme: "sip", Host: "bob@example.com"}, "SIP/2.0")
	req.SetBody([]byte("hello"))
	h, ok := req.Header("Content-Length")
	require.True(t, ok)
	ih := h.(*IntegerHeader)
	assert.EqualValues(t, 5, ih.Value)
}

package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-sip/uacore/sipmsg"
)

func TestContentLengthFrom(t *testing.T) {
	headers := "INVITE sip:bob@biloxi.com SIP/2.0\r\nContent-Length: 42\r\n\r\n"
	assert.Equal(t, 42, contentLengthFrom(headers))
}

func TestContentLengthFromCompactForm(t *testing.T) {
	headers := "INVITE sip:bob@biloxi.com SIP/2.0\r\nl: 7\r\n\r\n"
	assert.Equal(t, 7, contentLengthFrom(headers))
}

func TestSelectorPrefersRouteOverRequestURI(t *testing.T) {
	sel := NewSelector("udp")
	sel.Register(&fakeTransport{protocol: "UDP"})
	sel.Register(&fakeTransport{protocol: "TCP"})

	ruri, _ := sipmsg.ParseURI("sip:bob@biloxi.com")
	req := sipmsg.NewRequest(sipmsg.INVITE, *ruri, "SIP/2.0")

	routeURI, _ := sipmsg.ParseURI("sip:proxy.atlanta.com;transport=tcp")
	req.AppendHeader(&sipmsg.NameAddrHeader{HeaderName: "Route", NameAddr: sipmsg.NameAddr{HasBrackets: true, Addr: *routeURI}})

	tp, dest, err := sel.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "TCP", tp.Protocol())
	assert.Contains(t, dest, "proxy.atlanta.com")
}

type fakeTransport struct{ protocol string }

func (f *fakeTransport) Protocol() string { return f.protocol }
func (f *fakeTransport) IsReliable() bool { return true }
func (f *fakeTransport) IsSecure() bool   { return false }
func (f *fakeTransport) Send(ctx context.Context, dest string, data []byte) error { return nil }
func (f *fakeTransport) Close() error                                             { return nil }

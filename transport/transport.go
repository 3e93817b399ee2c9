// Package transport implements the SIP transport layer (spec.md §4.7):
// per-protocol framing over UDP/TCP/TLS/WS/WSS and a pooled outbound
// connection cache. Messages are written as given: Via and Contact are
// not rewritten to match the socket a message goes out on.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/go-sip/uacore/sipmsg"
)

var ErrNoTransport = errors.New("transport: no transport registered for protocol")

// Transport is one wire protocol binding: it knows how to dial/listen and
// how to frame a parsed message onto the wire.
type Transport interface {
	Protocol() string
	IsReliable() bool
	IsSecure() bool
	Send(ctx context.Context, dest string, data []byte) error
	Close() error
}

// Connection wraps a net.Conn (or ws.Conn-over-net.Conn) with the
// framing its protocol needs, plus its local address (reported by
// LocalAddr; nothing in this package rewrites Via or Contact from it).
type Connection struct {
	conn      net.Conn
	protocol  string
	localAddr string
	mu        sync.Mutex
}

func (c *Connection) LocalAddr() string  { return c.localAddr }
func (c *Connection) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *Connection) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.protocol == "ws" || c.protocol == "wss" {
		return ws.WriteFrame(c.conn, ws.NewTextFrame(data))
	}
	_, err := c.conn.Write(data)
	return err
}

func (c *Connection) Close() error { return c.conn.Close() }

// Pool caches outbound stream connections keyed by "protocol|addr" so a
// dialog's in-dialog requests reuse the TCP/TLS/WS socket the initial
// request opened (RFC 3261 §18.1.1), deduplicating concurrent dials to
// the same destination via singleflight the way the teacher's transport
// layer avoids double-dialing (grounded on sipgo's connection reuse and
// golang.org/x/sync/singleflight).
type Pool struct {
	mu    sync.Mutex
	conns map[string]*Connection
	group singleflight.Group
	log   zerolog.Logger
}

func NewPool(log zerolog.Logger) *Pool {
	return &Pool{conns: make(map[string]*Connection), log: log}
}

func (p *Pool) key(protocol, addr string) string { return protocol + "|" + addr }

// Get returns a cached connection, or dials a new one via dial, ensuring
// concurrent Get calls for the same key share one dial attempt.
func (p *Pool) Get(protocol, addr string, dial func() (net.Conn, error)) (*Connection, error) {
	key := p.key(protocol, addr)

	p.mu.Lock()
	if c, ok := p.conns[key]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		p.mu.Lock()
		if c, ok := p.conns[key]; ok {
			p.mu.Unlock()
			return c, nil
		}
		p.mu.Unlock()

		conn, err := dial()
		if err != nil {
			return nil, err
		}
		c := &Connection{conn: conn, protocol: protocol, localAddr: conn.LocalAddr().String()}
		p.mu.Lock()
		p.conns[key] = c
		p.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

// Evict removes and closes a connection, called when a write fails or the
// peer closes the socket.
func (p *Pool) Evict(protocol, addr string) {
	key := p.key(protocol, addr)
	p.mu.Lock()
	c, ok := p.conns[key]
	delete(p.conns, key)
	p.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Connection)
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Selector picks the outbound transport/destination for a request per
// RFC 3261 §8.1.2 / RFC 3263: Route header first, else Request-URI, with
// sips:/transport=tls upgrading to TLS and wss upgrading to secure
// WebSocket.
type Selector struct {
	transports map[string]Transport
	defaultTP  string
}

func NewSelector(defaultTP string) *Selector {
	return &Selector{transports: make(map[string]Transport), defaultTP: defaultTP}
}

func (s *Selector) Register(t Transport) { s.transports[strings.ToUpper(t.Protocol())] = t }

// Resolve returns the transport and destination to use for req, applying
// the Route-header-first rule (spec.md §4.7).
func (s *Selector) Resolve(req *sipmsg.Request) (Transport, string, error) {
	target := req.RequestURI
	if routes := req.Headers("Route"); len(routes) > 0 {
		ra := routes[0].(*sipmsg.NameAddrHeader)
		target = ra.NameAddr.Addr
	}

	proto := s.protocolFor(target)
	t, ok := s.transports[proto]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNoTransport, proto)
	}
	dest := net.JoinHostPort(target.Host, portOrDefault(target, t))
	return t, dest, nil
}

func (s *Selector) protocolFor(u sipmsg.URI) string {
	if tp, ok := u.Params.Get("transport"); ok {
		return strings.ToUpper(tp)
	}
	if u.Encrypted {
		return "TLS"
	}
	return strings.ToUpper(s.defaultTP)
}

func portOrDefault(u sipmsg.URI, t Transport) string {
	if u.Port != 0 {
		return fmt.Sprintf("%d", u.Port)
	}
	if t.IsSecure() {
		return "5061"
	}
	return "5060"
}

// tlsConfigFor returns a minimal client tls.Config; callers needing
// mutual auth or custom CAs build their own Transport instead of relying
// on this default.
func tlsConfigFor(serverName string) *tls.Config {
	return &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
}

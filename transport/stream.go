package transport

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/rs/zerolog"
)

// StreamTransport is the shared TCP/TLS implementation: both are
// connection-oriented and framed purely by Content-Length (RFC 3261
// §7.5), so they differ only in how the socket is dialed/accepted.
type StreamTransport struct {
	protocol string
	secure   bool
	listener net.Listener
	pool     *Pool
	log      zerolog.Logger
	dial     func(addr string) (net.Conn, error)

	OnMessage func(data []byte, from string)
}

func NewTCPTransport(laddr string, log zerolog.Logger) (*StreamTransport, error) {
	ln, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, err
	}
	t := &StreamTransport{protocol: "TCP", listener: ln, pool: NewPool(log), log: log}
	t.dial = func(addr string) (net.Conn, error) { return net.Dial("tcp", addr) }
	return t, nil
}

func NewTLSTransport(laddr string, cfg *tls.Config, log zerolog.Logger) (*StreamTransport, error) {
	ln, err := tls.Listen("tcp", laddr, cfg)
	if err != nil {
		return nil, err
	}
	t := &StreamTransport{protocol: "TLS", secure: true, listener: ln, pool: NewPool(log), log: log}
	t.dial = func(addr string) (net.Conn, error) {
		host, _, _ := net.SplitHostPort(addr)
		return tls.Dial("tcp", addr, tlsConfigFor(host))
	}
	return t, nil
}

func (t *StreamTransport) Protocol() string { return t.protocol }
func (t *StreamTransport) IsReliable() bool { return true }
func (t *StreamTransport) IsSecure() bool   { return t.secure }

func (t *StreamTransport) Send(ctx context.Context, dest string, data []byte) error {
	conn, err := t.pool.Get(t.protocol, dest, func() (net.Conn, error) { return t.dial(dest) })
	if err != nil {
		return err
	}
	if err := conn.Write(data); err != nil {
		t.pool.Evict(t.protocol, dest)
		return err
	}
	return nil
}

// AcceptLoop accepts inbound connections and spawns a reader goroutine
// per connection; each reader unframes messages by Content-Length and
// invokes OnMessage (spec.md §4.7).
func (t *StreamTransport) AcceptLoop(ctx context.Context) error {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return err
		}
		c := &Connection{conn: conn, protocol: t.protocol, localAddr: conn.LocalAddr().String()}
		t.pool.mu.Lock()
		t.pool.conns[t.pool.key(t.protocol, conn.RemoteAddr().String())] = c
		t.pool.mu.Unlock()
		go t.readConn(ctx, c)
	}
}

func (t *StreamTransport) readConn(ctx context.Context, c *Connection) {
	defer t.pool.Evict(t.protocol, c.RemoteAddr())
	fr := newFramer(c.conn)
	for {
		msg, err := fr.next()
		if err != nil {
			return
		}
		if t.OnMessage != nil {
			t.OnMessage(msg, c.RemoteAddr())
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (t *StreamTransport) Close() error {
	t.pool.CloseAll()
	return t.listener.Close()
}

package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
)

// WSTransport implements SIP-over-WebSocket (RFC 7118) using gobwas/ws
// for the handshake and frame codec, grounded on the teacher's
// transport_ws.go/transport_wss.go pairing of a plain and TLS variant
// sharing one frame-level implementation.
type WSTransport struct {
	secure   bool
	listener net.Listener
	pool     *Pool
	log      zerolog.Logger

	OnMessage func(data []byte, from string)
}

func NewWSTransport(laddr string, log zerolog.Logger) (*WSTransport, error) {
	ln, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, err
	}
	return &WSTransport{listener: ln, pool: NewPool(log), log: log}, nil
}

func NewWSSTransport(laddr string, cfg *tls.Config, log zerolog.Logger) (*WSTransport, error) {
	ln, err := tls.Listen("tcp", laddr, cfg)
	if err != nil {
		return nil, err
	}
	return &WSTransport{secure: true, listener: ln, pool: NewPool(log), log: log}, nil
}

func (t *WSTransport) Protocol() string {
	if t.secure {
		return "WSS"
	}
	return "WS"
}
func (t *WSTransport) IsReliable() bool { return true }
func (t *WSTransport) IsSecure() bool   { return t.secure }

func (t *WSTransport) dial(dest string) (net.Conn, error) {
	scheme := "ws"
	if t.secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: dest, Path: "/"}
	conn, _, _, err := ws.Dial(context.Background(), u.String())
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (t *WSTransport) Send(ctx context.Context, dest string, data []byte) error {
	conn, err := t.pool.Get(t.Protocol(), dest, func() (net.Conn, error) { return t.dial(dest) })
	if err != nil {
		return err
	}
	if err := conn.Write(data); err != nil {
		t.pool.Evict(t.Protocol(), dest)
		return err
	}
	return nil
}

// AcceptLoop upgrades each inbound TCP connection to a WebSocket server
// connection and spawns a frame reader.
func (t *WSTransport) AcceptLoop(ctx context.Context) error {
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
		if _, err := ws.Upgrade(conn); err != nil {
			_ = conn.Close()
			continue
		}
		c := &Connection{conn: conn, protocol: t.Protocol(), localAddr: conn.LocalAddr().String()}
		t.pool.mu.Lock()
		t.pool.conns[t.pool.key(t.Protocol(), conn.RemoteAddr().String())] = c
		t.pool.mu.Unlock()
		go t.readConn(ctx, c)
	}
}

func (t *WSTransport) readConn(ctx context.Context, c *Connection) {
	defer t.pool.Evict(t.Protocol(), c.RemoteAddr())
	for {
		data, _, err := wsReadFrame(c.conn)
		if err != nil {
			return
		}
		if t.OnMessage != nil {
			t.OnMessage(data, c.RemoteAddr())
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// wsReadFrame reads one WebSocket frame's payload, unmasking client
// frames per RFC 6455 as gobwas/ws requires the caller to do on the
// server side.
func wsReadFrame(conn net.Conn) ([]byte, ws.OpCode, error) {
	header, err := ws.ReadHeader(conn)
	if err != nil {
		return nil, 0, err
	}
	payload := make([]byte, header.Length)
	if _, err := ioReadFull(conn, payload); err != nil {
		return nil, 0, err
	}
	if header.Masked {
		ws.Cipher(payload, header.Mask, 0)
	}
	return payload, header.OpCode, nil
}

func ioReadFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (t *WSTransport) Close() error {
	t.pool.CloseAll()
	return t.listener.Close()
}

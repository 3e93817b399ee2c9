package transport

import (
	"context"
	"net"

	"github.com/rs/zerolog"
)

// UDPTransport sends datagrams without connection reuse: each Send is
// one WriteTo on a shared listening socket (spec.md §4.7: UDP carries no
// Timer A/Timer G cadence discount since retransmission lives entirely
// in the transaction layer).
type UDPTransport struct {
	conn *net.UDPConn
	log  zerolog.Logger

	OnMessage func(data []byte, from string)
}

func NewUDPTransport(laddr string, log zerolog.Logger) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPTransport{conn: conn, log: log}, nil
}

func (t *UDPTransport) Protocol() string { return "UDP" }
func (t *UDPTransport) IsReliable() bool { return false }
func (t *UDPTransport) IsSecure() bool   { return false }

func (t *UDPTransport) Send(ctx context.Context, dest string, data []byte) error {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(data, addr)
	return err
}

// ReadLoop blocks reading datagrams until ctx is canceled or the socket
// closes, calling OnMessage for each; it is meant to run on its own
// goroutine, handing parsing off to the Executive via OnMessage rather
// than parsing inline (spec.md §4.8: the Executive owns all FSM state).
func (t *UDPTransport) ReadLoop(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return err
		}
		if n == 0 {
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		if t.OnMessage != nil {
			t.OnMessage(msg, from.String())
		}
	}
}

func (t *UDPTransport) Close() error { return t.conn.Close() }

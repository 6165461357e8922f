package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/nczempin/mqttnet-go/errors"
)

// ConnDialer builds links on top of net.Conn. DialContext may be replaced to
// supply any stream connection, for example a tls.Dialer.
//
// Timeouts become connection deadlines, re-armed before every receive and
// send so each one gets the full timeout.
type ConnDialer struct {
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)
}

// Dial connects over tcp4 to addr.
func (d ConnDialer) Dial(ctx context.Context, addr netip.AddrPort) (Link, error) {
	dial := d.DialContext
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	conn, err := dial(ctx, "tcp4", addr.String())
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			fmt.Sprintf("failed to connect to %s", addr),
			err,
		)
	}

	// Set TCP_NODELAY to disable Nagle's algorithm for lower latency
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			_ = conn.Close()
			return nil, errors.NewTransportError(
				errors.TransportErrorSocketCreateFailure,
				"failed to set TCP_NODELAY",
				err,
			)
		}
	}

	return NewConnLink(conn), nil
}

// NewConnLink adapts an established connection to the Link interface.
func NewConnLink(conn net.Conn) Link {
	return &connLink{conn: conn}
}

type connLink struct {
	conn net.Conn

	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (l *connLink) SetReadTimeout(d time.Duration) error {
	l.readTimeout = d
	return nil
}

func (l *connLink) SetWriteTimeout(d time.Duration) error {
	l.writeTimeout = d
	return nil
}

// deadline turns a timeout into an absolute deadline; zero clears it.
func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func (l *connLink) Recv(p []byte) (int, error) {
	if err := l.conn.SetReadDeadline(deadline(l.readTimeout)); err != nil {
		return 0, classifyIOError(errors.TransportErrorSocketReadFailure, "failed to set read deadline", err)
	}
	n, err := l.conn.Read(p)
	if err != nil {
		return n, classifyIOError(errors.TransportErrorSocketReadFailure, "read failed", err)
	}
	return n, nil
}

// Send hands the whole buffer to the connection. net.Conn writes loop
// internally, so a short count only comes back together with an error.
func (l *connLink) Send(p []byte) (int, error) {
	if err := l.conn.SetWriteDeadline(deadline(l.writeTimeout)); err != nil {
		return 0, classifyIOError(errors.TransportErrorSocketWriteFailure, "failed to set write deadline", err)
	}
	n, err := l.conn.Write(p)
	if err != nil {
		return n, classifyIOError(errors.TransportErrorSocketWriteFailure, "write failed", err)
	}
	return n, nil
}

func (l *connLink) Close() error {
	return l.conn.Close()
}

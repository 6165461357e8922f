package transport

import (
	"context"
	"net/netip"
	"time"
)

// Dialer opens a Link to an already resolved IPv4 address.
// Implementations include a raw socket, a net.Conn adapter and io_uring.
type Dialer interface {
	// Dial connects to addr and returns the connected link.
	// Errors are *errors.NetError values.
	Dial(ctx context.Context, addr netip.AddrPort) (Link, error)
}

// Link is one connected stream socket.
//
// Recv and Send perform a single underlying transfer and never return a
// negative count. Errors are *errors.NetError values classified as
// ConnectionClosed (peer-disconnect class), Timeout, or a read/write failure.
type Link interface {
	// SetReadTimeout bounds subsequent Recv calls.
	SetReadTimeout(d time.Duration) error

	// SetWriteTimeout bounds subsequent Send calls.
	SetWriteTimeout(d time.Duration) error

	// Recv receives at most len(p) bytes. A zero count with a nil error
	// means the peer closed its write side.
	Recv(p []byte) (int, error)

	// Send sends at most len(p) bytes in a single attempt.
	Send(p []byte) (int, error)

	// Close releases the socket.
	Close() error
}

// MinTimeout is the smallest timeout installed on a link. A zero socket
// timeout blocks forever, so non-positive and sub-floor values are raised
// to it.
const MinTimeout = 100 * time.Microsecond

func clampTimeout(d time.Duration) time.Duration {
	if d < MinTimeout {
		return MinTimeout
	}
	return d
}

package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/nczempin/mqttnet-go/errors"
)

// Network is a single outbound TCP connection used by a protocol client.
//
// All calls are synchronous. A Network is not safe for concurrent use:
// Read and Write both mutate the liveness flag and reconfigure the socket
// timeout of the shared link.
type Network struct {
	link      Link
	connected bool

	dialer   Dialer
	resolver Resolver
	logger   *zap.Logger
}

// Option configures a Network
type Option func(*Network)

// WithDialer selects the link implementation. The default is SocketDialer.
func WithDialer(d Dialer) Option {
	return func(n *Network) {
		n.dialer = d
	}
}

// WithResolver replaces net.DefaultResolver for host lookups.
func WithResolver(r Resolver) Option {
	return func(n *Network) {
		n.resolver = r
	}
}

// WithLogger sets the logger used for connection lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(n *Network) {
		n.logger = l
	}
}

// NewNetwork creates an unconnected Network.
func NewNetwork(opts ...Option) *Network {
	n := &Network{}
	for _, opt := range opts {
		opt(n)
	}
	n.Init()
	return n
}

// Init resets the Network to the unconnected state and binds the default
// collaborators that were not configured. It performs no I/O; a link that is
// still held is dropped without being closed, so call Disconnect first.
func (n *Network) Init() {
	n.link = nil
	n.connected = false
	n.defaults()
}

func (n *Network) defaults() {
	if n.dialer == nil {
		n.dialer = SocketDialer{}
	}
	if n.resolver == nil {
		n.resolver = net.DefaultResolver
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
}

// Connect resolves host, preferring its first IPv4 address, and connects to
// it. No connect timeout is applied.
func (n *Network) Connect(host string, port int) error {
	return n.ConnectContext(context.Background(), host, port)
}

// ConnectContext is Connect with a context for the address lookup and for
// dialers that honor cancellation.
func (n *Network) ConnectContext(ctx context.Context, host string, port int) error {
	n.defaults()

	if port < 1 || port > 65535 {
		return errors.NewInvalidArgumentError(fmt.Sprintf("port %d out of range", port))
	}

	if n.link != nil {
		n.Disconnect()
	}

	ip, err := resolveIPv4(ctx, n.resolver, host)
	if err != nil {
		n.logger.Debug("resolve failed", zap.String("host", host), zap.Error(err))
		return err
	}

	addr := netip.AddrPortFrom(ip, uint16(port))
	link, err := n.dialer.Dial(ctx, addr)
	if err != nil {
		n.logger.Debug("dial failed", zap.Stringer("addr", addr), zap.Error(err))
		return err
	}

	n.link = link
	n.connected = true
	n.logger.Debug("connected", zap.String("host", host), zap.Stringer("addr", addr))
	return nil
}

// Read fills buf completely unless the connection dies or a receive fails.
//
// The receive timeout is installed once per call and bounds every
// underlying receive. It returns:
//   - len(buf), nil on success;
//   - a shorter count and a ConnectionClosed error when the peer went away;
//     buf[:n] holds the data received so far;
//   - 0 and a Timeout or SocketReadFailure error otherwise. The prefix of buf
//     may have been written but must not be relied upon.
func (n *Network) Read(buf []byte, timeout time.Duration) (int, error) {
	if !n.connected {
		return 0, errors.NewTransportError(errors.TransportErrorNotConnected, "read on unconnected transport", nil)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	if err := n.link.SetReadTimeout(clampTimeout(timeout)); err != nil {
		return 0, classifyIOError(errors.TransportErrorSocketReadFailure, "failed to set receive timeout", err)
	}

	var cause error
	read := 0
	for read < len(buf) && n.connected {
		rc, err := n.link.Recv(buf[read:])
		read += rc
		if err != nil {
			if !errors.IsConnectionClosed(err) {
				return 0, err
			}
			cause = err
			n.lost("read", err)
			break
		}
		if rc == 0 {
			n.lost("read", nil)
		}
	}

	if read < len(buf) {
		if cause != nil {
			return read, cause
		}
		return read, errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			fmt.Sprintf("peer closed after %d of %d bytes", read, len(buf)),
			nil,
		)
	}
	return read, nil
}

// Write makes a single send attempt of buf. A short write is returned as is;
// topping it up is the caller's job.
func (n *Network) Write(buf []byte, timeout time.Duration) (int, error) {
	if !n.connected {
		return 0, errors.NewTransportError(errors.TransportErrorNotConnected, "write on unconnected transport", nil)
	}

	if err := n.link.SetWriteTimeout(clampTimeout(timeout)); err != nil {
		return 0, classifyIOError(errors.TransportErrorSocketWriteFailure, "failed to set send timeout", err)
	}

	rc, err := n.link.Send(buf)
	if err != nil {
		if errors.IsConnectionClosed(err) {
			n.lost("write", err)
		}
		return 0, err
	}
	return rc, nil
}

// Disconnect closes the link, if any, and marks the Network unconnected.
// Close failures are not reported.
func (n *Network) Disconnect() {
	if n.link != nil {
		if err := n.link.Close(); err != nil && n.logger != nil {
			n.logger.Debug("close failed", zap.Error(err))
		}
		n.link = nil
	}
	n.connected = false
}

// IsConnected reports the liveness flag. It never performs I/O.
func (n *Network) IsConnected() bool {
	return n.connected
}

func (n *Network) lost(op string, err error) {
	n.connected = false
	n.logger.Debug("connection lost", zap.String("op", op), zap.Error(err))
}

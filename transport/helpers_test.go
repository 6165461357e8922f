package transport

import (
	"context"
	"net"
	"testing"

	"github.com/iceber/iouring-go"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

func setupTcpTestServer(t *testing.T, serverLogic func(net.Conn)) (string, int, func()) {
	t.Helper()

	listener, err := nettest.NewLocalListener("tcp4")
	require.NoError(t, err, "failed to create test server")

	addr := listener.Addr().(*net.TCPAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		serverLogic(conn)
		conn.Close()
	}()

	cleanup := func() {
		listener.Close()
		<-done
	}

	return addr.IP.String(), addr.Port, cleanup
}

// forEachDialer runs fn once per link implementation. The io_uring variant
// is skipped where the kernel does not offer io_uring.
func forEachDialer(t *testing.T, fn func(t *testing.T, d Dialer)) {
	t.Run("socket", func(t *testing.T) { fn(t, SocketDialer{}) })
	t.Run("conn", func(t *testing.T) { fn(t, ConnDialer{}) })
	t.Run("uring", func(t *testing.T) {
		iour, err := iouring.New(1)
		if err != nil {
			t.Skipf("io_uring unavailable: %v", err)
		}
		iour.Close()
		fn(t, UringDialer{})
	})
}

// staticResolver answers every lookup with the same address list.
type staticResolver struct {
	addrs []net.IPAddr
	err   error
}

func (r staticResolver) LookupIPAddr(_ context.Context, _ string) ([]net.IPAddr, error) {
	return r.addrs, r.err
}

package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/nczempin/mqttnet-go/errors"
)

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, MinTimeout, clampTimeout(0))
	assert.Equal(t, MinTimeout, clampTimeout(-time.Second))
	assert.Equal(t, MinTimeout, clampTimeout(time.Nanosecond))
	assert.Equal(t, time.Second, clampTimeout(time.Second))
}

func TestNetwork_Init(t *testing.T) {
	n := NewNetwork()
	assert.False(t, n.IsConnected())
	assert.Nil(t, n.link)
	assert.IsType(t, SocketDialer{}, n.dialer)

	custom := NewNetwork(WithDialer(ConnDialer{}))
	custom.Init()
	assert.IsType(t, ConnDialer{}, custom.dialer, "Init keeps a configured dialer")
}

func TestNetwork_Connect_Success(t *testing.T) {
	forEachDialer(t, func(t *testing.T, d Dialer) {
		host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {})
		defer cleanup()

		n := NewNetwork(WithDialer(d))
		require.NoError(t, n.Connect(host, port))
		assert.True(t, n.IsConnected())
		assert.NotNil(t, n.link)

		n.Disconnect()
		assert.False(t, n.IsConnected())
	})
}

func TestNetwork_Connect_PrefersIPv4(t *testing.T) {
	host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {})
	defer cleanup()

	r := staticResolver{addrs: []net.IPAddr{
		{IP: net.ParseIP("::1")},
		{IP: net.ParseIP(host)},
	}}

	n := NewNetwork(WithResolver(r))
	require.NoError(t, n.Connect("broker.example", port))
	defer n.Disconnect()
	assert.True(t, n.IsConnected())
}

func TestNetwork_Connect_Failure_NoIPv4(t *testing.T) {
	cases := map[string]struct {
		host     string
		resolver Resolver
	}{
		"ipv6 literal":   {host: "::1"},
		"ipv6-only name": {host: "v6only.example", resolver: staticResolver{addrs: []net.IPAddr{{IP: net.ParseIP("2001:db8::1")}}}},
		"empty answer":   {host: "empty.example", resolver: staticResolver{}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var opts []Option
			if tc.resolver != nil {
				opts = append(opts, WithResolver(tc.resolver))
			}
			n := NewNetwork(opts...)

			err := n.Connect(tc.host, 1883)
			require.Error(t, err)
			assert.Equal(t, errors.TransportErrorNoIPv4Address, errors.KindOf(err))
			assert.False(t, n.IsConnected())
		})
	}
}

func TestNetwork_Connect_Failure_DnsError(t *testing.T) {
	n := NewNetwork()
	err := n.Connect("this-is-not-a-real-domain.invalid", 1883)

	require.Error(t, err)
	assert.Equal(t, errors.TransportErrorDnsFailure, errors.KindOf(err))
	assert.False(t, n.IsConnected())
}

func TestNetwork_Connect_Failure_ResolverError(t *testing.T) {
	n := NewNetwork(WithResolver(staticResolver{err: &net.DNSError{Err: "server misbehaving", Name: "x"}}))
	err := n.Connect("x", 1883)

	assert.Equal(t, errors.TransportErrorDnsFailure, errors.KindOf(err))
}

func TestNetwork_Connect_Failure_ConnectionRefused(t *testing.T) {
	forEachDialer(t, func(t *testing.T, d Dialer) {
		listener, err := nettest.NewLocalListener("tcp4")
		require.NoError(t, err)
		port := listener.Addr().(*net.TCPAddr).Port
		listener.Close()

		n := NewNetwork(WithDialer(d))
		err = n.Connect("127.0.0.1", port)

		require.Error(t, err)
		assert.Equal(t, errors.TransportErrorSocketConnectFailure, errors.KindOf(err))
		assert.False(t, n.IsConnected())
	})
}

func TestNetwork_Connect_InvalidPort(t *testing.T) {
	n := NewNetwork()
	for _, port := range []int{0, -1, 65536} {
		err := n.Connect("127.0.0.1", port)
		var ne *errors.NetError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, errors.ErrorInvalidArgument, ne.Type)
	}
}

func TestNetwork_Connect_ReplacesLink(t *testing.T) {
	host1, port1, cleanup1 := setupTcpTestServer(t, func(conn net.Conn) {
		// returns once the first link is closed by the second Connect
		io.Copy(io.Discard, conn)
	})
	defer cleanup1()
	host2, port2, cleanup2 := setupTcpTestServer(t, func(conn net.Conn) {})
	defer cleanup2()

	n := NewNetwork()
	require.NoError(t, n.Connect(host1, port1))
	first := n.link

	require.NoError(t, n.Connect(host2, port2))
	defer n.Disconnect()
	assert.NotSame(t, first, n.link)
	assert.True(t, n.IsConnected())
}

func TestNetwork_Read_Chunked(t *testing.T) {
	chunks := []string{"he", "llo", " ", "wor", "ld"}

	forEachDialer(t, func(t *testing.T, d Dialer) {
		host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
			for _, c := range chunks {
				conn.Write([]byte(c))
				time.Sleep(10 * time.Millisecond)
			}
		})
		defer cleanup()

		n := NewNetwork(WithDialer(d))
		require.NoError(t, n.Connect(host, port))
		defer n.Disconnect()

		buf := make([]byte, len("hello world"))
		got, err := n.Read(buf, time.Second)
		require.NoError(t, err)
		assert.Equal(t, len(buf), got)
		assert.Equal(t, "hello world", string(buf))
		assert.True(t, n.IsConnected())
	})
}

func TestNetwork_Read_PeerClosesEarly(t *testing.T) {
	forEachDialer(t, func(t *testing.T, d Dialer) {
		host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
			conn.Write([]byte{0x20, 0x02, 0x00})
		})
		defer cleanup()

		n := NewNetwork(WithDialer(d))
		require.NoError(t, n.Connect(host, port))
		defer n.Disconnect()

		buf := make([]byte, 8)
		got, err := n.Read(buf, time.Second)
		assert.Equal(t, 3, got)
		assert.True(t, errors.IsConnectionClosed(err), "got %v", err)
		assert.Equal(t, []byte{0x20, 0x02, 0x00}, buf[:got])
		assert.False(t, n.IsConnected())

		got, err = n.Read(buf, time.Second)
		assert.Equal(t, 0, got)
		assert.Equal(t, errors.TransportErrorNotConnected, errors.KindOf(err))
	})
}

func TestNetwork_Read_SlowPeerWithinTimeout(t *testing.T) {
	forEachDialer(t, func(t *testing.T, d Dialer) {
		host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
			for i := byte(0); i < 5; i++ {
				time.Sleep(40 * time.Millisecond)
				if _, err := conn.Write([]byte{i}); err != nil {
					return
				}
			}
		})
		defer cleanup()

		n := NewNetwork(WithDialer(d))
		require.NoError(t, n.Connect(host, port))
		defer n.Disconnect()

		// Every gap is shorter than the timeout; the total is not.
		buf := make([]byte, 5)
		got, err := n.Read(buf, 100*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 5, got)
		assert.Equal(t, []byte{0, 1, 2, 3, 4}, buf)
		assert.True(t, n.IsConnected())
	})
}

func TestNetwork_Read_PartialThenTimeout(t *testing.T) {
	forEachDialer(t, func(t *testing.T, d Dialer) {
		release := make(chan struct{})
		host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
			conn.Write([]byte{0x20, 0x02})
			<-release
		})
		defer cleanup()
		defer close(release)

		n := NewNetwork(WithDialer(d))
		require.NoError(t, n.Connect(host, port))
		defer n.Disconnect()

		got, err := n.Read(make([]byte, 4), 50*time.Millisecond)
		assert.Equal(t, 0, got, "a partial count is discarded on timeout")
		assert.True(t, errors.IsTimeout(err), "got %v", err)
		assert.True(t, n.IsConnected(), "a timeout is not a liveness change")
	})
}

func TestNetwork_Read_NonPositiveTimeoutDoesNotBlock(t *testing.T) {
	forEachDialer(t, func(t *testing.T, d Dialer) {
		release := make(chan struct{})
		host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
			<-release
		})
		defer cleanup()
		defer close(release)

		n := NewNetwork(WithDialer(d))
		require.NoError(t, n.Connect(host, port))
		defer n.Disconnect()

		for _, timeout := range []time.Duration{0, -time.Second} {
			start := time.Now()
			got, err := n.Read(make([]byte, 4), timeout)
			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Equal(t, 0, got)
			assert.True(t, errors.IsTimeout(err), "got %v", err)
			assert.True(t, n.IsConnected(), "a timeout is not a liveness change")
		}
	})
}

func TestNetwork_Read_ZeroLength(t *testing.T) {
	host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {})
	defer cleanup()

	n := NewNetwork()
	require.NoError(t, n.Connect(host, port))
	defer n.Disconnect()

	got, err := n.Read(nil, time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestNetwork_Read_Failure_NoConnection(t *testing.T) {
	var n Network
	got, err := n.Read(make([]byte, 4), time.Second)
	assert.Equal(t, 0, got)
	assert.Equal(t, errors.TransportErrorNotConnected, errors.KindOf(err))
}

func TestNetwork_Write_Success(t *testing.T) {
	message := []byte("hello broker")

	forEachDialer(t, func(t *testing.T, d Dialer) {
		received := make(chan []byte, 1)
		host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
			buf := make([]byte, len(message))
			_, err := io.ReadFull(conn, buf)
			if err == nil {
				received <- buf
			}
		})
		defer cleanup()

		n := NewNetwork(WithDialer(d))
		require.NoError(t, n.Connect(host, port))
		defer n.Disconnect()

		got, err := n.Write(message, time.Second)
		require.NoError(t, err)
		assert.Equal(t, len(message), got)

		select {
		case msg := <-received:
			assert.Equal(t, message, msg)
		case <-time.After(time.Second):
			t.Error("timeout waiting for message")
		}
	})
}

func TestNetwork_Write_Failure_PeerReset(t *testing.T) {
	forEachDialer(t, func(t *testing.T, d Dialer) {
		reset := make(chan struct{})
		host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
			defer close(reset)
			// Reset only once the client is connected and has spoken.
			if _, err := io.ReadFull(conn, make([]byte, 1)); err != nil {
				return
			}
			// SO_LINGER 0 makes Close send RST
			conn.(*net.TCPConn).SetLinger(0)
		})
		defer cleanup()

		n := NewNetwork(WithDialer(d))
		require.NoError(t, n.Connect(host, port))
		defer n.Disconnect()

		got, err := n.Write([]byte{0xc0}, time.Second)
		require.NoError(t, err)
		require.Equal(t, 1, got)

		select {
		case <-reset:
		case <-time.After(time.Second):
			t.Fatal("server never reset the connection")
		}
		time.Sleep(20 * time.Millisecond)

		for i := 0; i < 10 && err == nil; i++ {
			_, err = n.Write([]byte("this should fail"), time.Second)
			time.Sleep(20 * time.Millisecond)
		}

		require.Error(t, err)
		assert.True(t, errors.IsConnectionClosed(err), "got %v", err)
		assert.False(t, n.IsConnected())
	})
}

func TestNetwork_Write_Failure_NoConnection(t *testing.T) {
	n := NewNetwork()
	got, err := n.Write([]byte("test"), time.Second)
	assert.Equal(t, 0, got)
	assert.Equal(t, errors.TransportErrorNotConnected, errors.KindOf(err))
}

func TestNetwork_Disconnect(t *testing.T) {
	t.Run("never connected", func(t *testing.T) {
		var n Network
		n.Disconnect()
		assert.False(t, n.IsConnected())
	})

	t.Run("connected twice", func(t *testing.T) {
		host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {})
		defer cleanup()

		n := NewNetwork()
		require.NoError(t, n.Connect(host, port))

		n.Disconnect()
		assert.False(t, n.IsConnected())
		assert.Nil(t, n.link)

		n.Disconnect()
		assert.False(t, n.IsConnected())
	})
}

func TestNetwork_ConnectContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewNetwork(WithResolver(net.DefaultResolver))
	err := n.ConnectContext(ctx, "this-is-not-a-real-domain.invalid", 1883)
	assert.Equal(t, errors.TransportErrorDnsFailure, errors.KindOf(err))
	assert.False(t, n.IsConnected())
}

func TestNetwork_MQTTConnectScenario(t *testing.T) {
	connect := []byte{
		0x10, 0x0c,
		0x00, 0x04, 'M', 'Q', 'T', 'T',
		0x04, 0x02, 0x00, 0x00,
		0x00, 0x00,
	}
	connack := []byte{0x20, 0x02, 0x00, 0x00}

	forEachDialer(t, func(t *testing.T, d Dialer) {
		host, port, cleanup := setupTcpTestServer(t, func(conn net.Conn) {
			buf := make([]byte, len(connect))
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			conn.Write(connack)
			io.Copy(io.Discard, conn)
		})
		defer cleanup()

		n := NewNetwork(WithDialer(d))
		require.NoError(t, n.Connect(host, port))

		written, err := n.Write(connect, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 14, written)

		buf := make([]byte, 4)
		got, err := n.Read(buf, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 4, got)
		assert.Equal(t, connack, buf)

		n.Disconnect()
		assert.False(t, n.IsConnected())
	})
}

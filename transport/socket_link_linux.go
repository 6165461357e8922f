//go:build linux

package transport

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nczempin/mqttnet-go/errors"
)

// SocketDialer connects a blocking AF_INET stream socket. Timeouts are
// enforced by the kernel through SO_RCVTIMEO and SO_SNDTIMEO.
//
// Dial blocks until the kernel finishes the connect; ctx is not consulted.
type SocketDialer struct{}

// Dial creates the socket and connects it to addr.
func (SocketDialer) Dial(_ context.Context, addr netip.AddrPort) (Link, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to create socket",
			os.NewSyscallError("socket", err),
		)
	}

	sa := &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().As4()}
	if err := connectBlocking(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			fmt.Sprintf("failed to connect to %s", addr),
			err,
		)
	}

	return &socketLink{fd: fd}, nil
}

// connectBlocking issues a blocking connect. A connect interrupted by a
// signal keeps going in the kernel, so wait for it and read SO_ERROR.
func connectBlocking(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err != unix.EINTR {
		return os.NewSyscallError("connect", err)
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return os.NewSyscallError("poll", err)
		}
		break
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if soErr != 0 {
		return os.NewSyscallError("connect", unix.Errno(soErr))
	}
	return nil
}

type socketLink struct {
	fd int
}

func (l *socketLink) SetReadTimeout(d time.Duration) error {
	return l.setTimeout(unix.SO_RCVTIMEO, d)
}

func (l *socketLink) SetWriteTimeout(d time.Duration) error {
	return l.setTimeout(unix.SO_SNDTIMEO, d)
}

func (l *socketLink) setTimeout(opt int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return os.NewSyscallError("setsockopt", unix.SetsockoptTimeval(l.fd, unix.SOL_SOCKET, opt, &tv))
}

// Recv retries on EINTR; a socket with a receive timeout is never restarted
// by the kernel, and the Go runtime signals its threads routinely.
func (l *socketLink) Recv(p []byte) (int, error) {
	for {
		n, _, err := unix.Recvfrom(l.fd, p, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, classifyIOError(errors.TransportErrorSocketReadFailure, "recv failed", os.NewSyscallError("recv", err))
		}
		return n, nil
	}
}

// Send uses MSG_NOSIGNAL so a reset peer yields EPIPE instead of SIGPIPE.
func (l *socketLink) Send(p []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(l.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, classifyIOError(errors.TransportErrorSocketWriteFailure, "send failed", os.NewSyscallError("send", err))
		}
		return n, nil
	}
}

func (l *socketLink) Close() error {
	return os.NewSyscallError("close", unix.Close(l.fd))
}

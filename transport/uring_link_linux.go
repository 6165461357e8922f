//go:build linux

package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/netip"
	"os"
	"syscall"
	"time"

	"github.com/iceber/iouring-go"
	"go.uber.org/multierr"

	"github.com/nczempin/mqttnet-go/errors"
)

// UringDialer builds links whose I/O is submitted through io_uring. Each link
// owns its ring. Timeouts are enforced by cancelling the pending request.
type UringDialer struct {
	// Entries is the ring queue depth. Zero means 32.
	Entries uint
}

// Dial creates the ring and the socket and connects through the ring.
func (d UringDialer) Dial(ctx context.Context, addr netip.AddrPort) (Link, error) {
	entries := d.Entries
	if entries == 0 {
		entries = 32
	}

	iour, err := iouring.New(entries)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		_ = iour.Close()
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to create socket",
			os.NewSyscallError("socket", err),
		)
	}

	// The socket stays blocking: the ring polls it and retries on its own,
	// while an O_NONBLOCK socket would hand EAGAIN back to us.
	l := &uringLink{iour: iour, fd: fd}

	sa := &syscall.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().As4()}
	prep, err := iouring.Connect(fd, sa)
	if err != nil {
		_ = l.Close()
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			fmt.Sprintf("failed to prepare connect to %s", addr),
			err,
		)
	}
	if _, err := l.await(ctx, prep, 0); err != nil {
		_ = l.Close()
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			fmt.Sprintf("failed to connect to %s", addr),
			err,
		)
	}

	return l, nil
}

type uringLink struct {
	iour *iouring.IOURing
	fd   int

	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (l *uringLink) SetReadTimeout(d time.Duration) error {
	l.readTimeout = d
	return nil
}

func (l *uringLink) SetWriteTimeout(d time.Duration) error {
	l.writeTimeout = d
	return nil
}

func (l *uringLink) Recv(p []byte) (int, error) {
	n, err := l.await(context.Background(), iouring.Recv(l.fd, p, 0), l.readTimeout)
	if err != nil {
		return 0, classifyIOError(errors.TransportErrorSocketReadFailure, "recv failed", err)
	}
	return n, nil
}

func (l *uringLink) Send(p []byte) (int, error) {
	n, err := l.await(context.Background(), iouring.Send(l.fd, p, syscall.MSG_NOSIGNAL), l.writeTimeout)
	if err != nil {
		return 0, classifyIOError(errors.TransportErrorSocketWriteFailure, "send failed", err)
	}
	return n, nil
}

// await submits one request and waits for its completion. When timeout
// (if positive) elapses or ctx is done the request is cancelled; a request
// that completes before the cancellation lands keeps its result.
//
// Completions are decoded from the raw CQE result since the library attaches
// no result resolver to send and recv requests.
func (l *uringLink) await(ctx context.Context, prep iouring.PrepRequest, timeout time.Duration) (int, error) {
	ch := make(chan iouring.Result, 1)
	req, err := l.iour.SubmitRequest(prep, ch)
	if err != nil {
		return 0, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to submit request",
			err,
		)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var stopErr error
	select {
	case <-ch:
		return completion(req)
	case <-expired:
		stopErr = os.ErrDeadlineExceeded
	case <-ctx.Done():
		stopErr = ctx.Err()
	}

	_, _ = req.Cancel()
	<-ch
	n, err := completion(req)
	if stderrors.Is(err, syscall.ECANCELED) || stderrors.Is(err, syscall.EINTR) {
		return 0, stopErr
	}
	return n, err
}

// completion maps a finished request's result to a byte count or an errno.
func completion(req iouring.Request) (int, error) {
	res, err := req.GetRes()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, syscall.Errno(-res)
	}
	return res, nil
}

func (l *uringLink) Close() error {
	return multierr.Combine(
		os.NewSyscallError("close", syscall.Close(l.fd)),
		l.iour.Close(),
	)
}

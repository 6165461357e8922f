package transport

import (
	stderrors "errors"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/nczempin/mqttnet-go/errors"
)

// isPeerDisconnect reports whether err says the remote end is gone.
func isPeerDisconnect(err error) bool {
	return stderrors.Is(err, unix.ENOTCONN) ||
		stderrors.Is(err, unix.ECONNRESET) ||
		stderrors.Is(err, unix.EPIPE) ||
		stderrors.Is(err, io.EOF) ||
		stderrors.Is(err, net.ErrClosed)
}

func isTimeout(err error) bool {
	if stderrors.Is(err, unix.EAGAIN) || stderrors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}

// classifyIOError maps an OS-level failure onto the transport error kinds.
// fallback is used when err is neither a disconnect nor a timeout.
func classifyIOError(fallback errors.TransportError, message string, err error) error {
	var ne *errors.NetError
	if stderrors.As(err, &ne) {
		return err
	}

	switch {
	case isPeerDisconnect(err):
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, message, err)
	case isTimeout(err):
		return errors.NewTransportError(errors.TransportErrorTimeout, message, err)
	default:
		return errors.NewTransportError(fallback, message, err)
	}
}

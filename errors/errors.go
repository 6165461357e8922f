package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorTransport
	ErrorProtocol
	ErrorInvalidArgument
)

// TransportError represents transport-layer specific errors
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorDnsFailure
	TransportErrorNoIPv4Address
	TransportErrorSocketCreateFailure
	TransportErrorSocketConnectFailure
	TransportErrorSocketReadFailure
	TransportErrorSocketWriteFailure
	TransportErrorConnectionClosed
	TransportErrorTimeout
	TransportErrorNotConnected
	TransportErrorIoUringInit
	TransportErrorIoUringSubmit
)

func (e TransportError) String() string {
	switch e {
	case TransportErrorNone:
		return "none"
	case TransportErrorDnsFailure:
		return "DNS lookup failed"
	case TransportErrorNoIPv4Address:
		return "no IPv4 address"
	case TransportErrorSocketCreateFailure:
		return "socket creation failed"
	case TransportErrorSocketConnectFailure:
		return "socket connection failed"
	case TransportErrorSocketReadFailure:
		return "socket read failed"
	case TransportErrorSocketWriteFailure:
		return "socket write failed"
	case TransportErrorConnectionClosed:
		return "connection closed"
	case TransportErrorTimeout:
		return "timeout"
	case TransportErrorNotConnected:
		return "not connected"
	case TransportErrorIoUringInit:
		return "io_uring init failed"
	case TransportErrorIoUringSubmit:
		return "io_uring submit failed"
	default:
		return fmt.Sprintf("unknown transport error %d", int(e))
	}
}

// ProtocolError represents protocol-layer specific errors
type ProtocolError int

const (
	ProtocolErrorNone ProtocolError = iota
	ProtocolErrorMalformedPacket
	ProtocolErrorUnexpectedPacket
	ProtocolErrorConnectionRefused
)

func (e ProtocolError) String() string {
	switch e {
	case ProtocolErrorNone:
		return "none"
	case ProtocolErrorMalformedPacket:
		return "malformed packet"
	case ProtocolErrorUnexpectedPacket:
		return "unexpected packet"
	case ProtocolErrorConnectionRefused:
		return "connection refused by broker"
	default:
		return fmt.Sprintf("unknown protocol error %d", int(e))
	}
}

// NetError is the error type returned by every package in this module
type NetError struct {
	Type          ErrorType
	TransportErr  TransportError
	ProtocolErr   ProtocolError
	Message       string
	UnderlyingErr error
}

// Error implements the error interface
func (e *NetError) Error() string {
	if e == nil {
		return "no error"
	}

	var typeStr string
	switch e.Type {
	case ErrorTransport:
		typeStr = fmt.Sprintf("transport error: %s", e.TransportErr)
	case ErrorProtocol:
		typeStr = fmt.Sprintf("protocol error: %s", e.ProtocolErr)
	case ErrorInvalidArgument:
		typeStr = "invalid argument"
	default:
		typeStr = "unknown error"
	}

	if e.Message != "" {
		typeStr = fmt.Sprintf("%s: %s", typeStr, e.Message)
	}

	if e.UnderlyingErr != nil {
		return fmt.Sprintf("%s (caused by: %v)", typeStr, e.UnderlyingErr)
	}

	return typeStr
}

// Unwrap returns the underlying error for error chain support
func (e *NetError) Unwrap() error {
	return e.UnderlyingErr
}

// NewTransportError creates a new transport error
func NewTransportError(err TransportError, message string, underlying error) *NetError {
	return &NetError{
		Type:          ErrorTransport,
		TransportErr:  err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(err ProtocolError, message string) *NetError {
	return &NetError{
		Type:        ErrorProtocol,
		ProtocolErr: err,
		Message:     message,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *NetError {
	return &NetError{
		Type:    ErrorInvalidArgument,
		Message: message,
	}
}

// KindOf returns the transport error kind carried by err, or
// TransportErrorNone when err is not a transport error.
func KindOf(err error) TransportError {
	var ne *NetError
	if stderrors.As(err, &ne) && ne.Type == ErrorTransport {
		return ne.TransportErr
	}
	return TransportErrorNone
}

// IsConnectionClosed reports whether err means the peer went away.
func IsConnectionClosed(err error) bool {
	return KindOf(err) == TransportErrorConnectionClosed
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == TransportErrorTimeout
}

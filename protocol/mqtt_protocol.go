package protocol

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nczempin/mqttnet-go/errors"
)

var (
	protocolName   = []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}
	pingreqPacket  = []byte{byte(PacketPingreq) << 4, 0x00}
	pingrespPacket = []byte{byte(PacketPingresp) << 4, 0x00}
	disconnPacket  = []byte{byte(PacketDisconnect) << 4, 0x00}
)

const (
	flagCleanSession = 0x02
	flagPassword     = 0x40
	flagUsername     = 0x80
)

// Conn is the transport surface the protocol drives.
// *transport.Network satisfies it.
type Conn interface {
	Connect(host string, port int) error
	Read(buf []byte, timeout time.Duration) (int, error)
	Write(buf []byte, timeout time.Duration) (int, error)
	Disconnect()
	IsConnected() bool
}

// Mqtt311Protocol implements the MQTT 3.1.1 session packets a probe needs
type Mqtt311Protocol struct {
	conn         Conn
	buffer       []byte
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewMqtt311Protocol creates a protocol handler over conn
func NewMqtt311Protocol(conn Conn, readTimeout, writeTimeout time.Duration) *Mqtt311Protocol {
	return &Mqtt311Protocol{
		conn:         conn,
		buffer:       make([]byte, 0, 64),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Connect establishes a connection to the specified host and port
func (p *Mqtt311Protocol) Connect(host string, port int) error {
	return p.conn.Connect(host, port)
}

// Disconnect sends DISCONNECT when the connection is still alive and then
// closes it. The DISCONNECT write is best effort.
func (p *Mqtt311Protocol) Disconnect() {
	if p.conn.IsConnected() {
		_ = p.writeAll(disconnPacket)
	}
	p.conn.Disconnect()
}

// Handshake sends CONNECT and waits for CONNACK. A refused connection returns
// the parsed CONNACK together with a ConnectionRefused protocol error.
func (p *Mqtt311Protocol) Handshake(opts ConnectOptions) (*Connack, error) {
	p.buffer = AppendConnect(p.buffer[:0], opts)
	if err := p.writeAll(p.buffer); err != nil {
		return nil, err
	}

	resp := make([]byte, 4)
	if _, err := p.conn.Read(resp, p.readTimeout); err != nil {
		return nil, err
	}

	ack, err := ParseConnack(resp)
	if err != nil {
		return nil, err
	}
	if ack.ReturnCode != Accepted {
		return ack, errors.NewProtocolError(
			errors.ProtocolErrorConnectionRefused,
			ack.ReturnCode.String(),
		)
	}
	return ack, nil
}

// Ping performs one PINGREQ/PINGRESP exchange
func (p *Mqtt311Protocol) Ping() error {
	if err := p.writeAll(pingreqPacket); err != nil {
		return err
	}

	resp := make([]byte, len(pingrespPacket))
	if _, err := p.conn.Read(resp, p.readTimeout); err != nil {
		return err
	}
	if !bytes.Equal(resp, pingrespPacket) {
		return errors.NewProtocolError(
			errors.ProtocolErrorUnexpectedPacket,
			fmt.Sprintf("expected PINGRESP, got % x", resp),
		)
	}
	return nil
}

// writeAll tops up the short writes the transport is allowed to return
func (p *Mqtt311Protocol) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := p.conn.Write(buf, p.writeTimeout)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "write made no progress", nil)
		}
		buf = buf[n:]
	}
	return nil
}

// ConnectPacket encodes a CONNECT packet
func ConnectPacket(opts ConnectOptions) []byte {
	return AppendConnect(nil, opts)
}

// AppendConnect appends an encoded CONNECT packet to dst
func AppendConnect(dst []byte, opts ConnectOptions) []byte {
	var flags byte
	if opts.CleanSession {
		flags |= flagCleanSession
	}

	remaining := len(protocolName) + 1 + 1 + 2 + 2 + len(opts.ClientID)
	if opts.Username != "" {
		flags |= flagUsername
		remaining += 2 + len(opts.Username)
	}
	if opts.Password != nil {
		flags |= flagPassword
		remaining += 2 + len(opts.Password)
	}

	dst = append(dst, byte(PacketConnect)<<4)
	dst = appendRemainingLength(dst, remaining)
	dst = append(dst, protocolName...)
	dst = append(dst, ProtocolLevel, flags, byte(opts.KeepAlive>>8), byte(opts.KeepAlive))
	dst = appendString(dst, []byte(opts.ClientID))
	if opts.Username != "" {
		dst = appendString(dst, []byte(opts.Username))
	}
	if opts.Password != nil {
		dst = appendString(dst, opts.Password)
	}
	return dst
}

func appendString(dst, s []byte) []byte {
	dst = append(dst, byte(len(s)>>8), byte(len(s)))
	return append(dst, s...)
}

// appendRemainingLength writes the variable length encoding: seven bits per
// byte, high bit set on every byte but the last.
func appendRemainingLength(dst []byte, n int) []byte {
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if n == 0 {
			return dst
		}
	}
}

// ParseConnack parses a 4-byte CONNACK packet
func ParseConnack(b []byte) (*Connack, error) {
	if len(b) != 4 {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorMalformedPacket,
			fmt.Sprintf("CONNACK must be 4 bytes, got %d", len(b)),
		)
	}
	if PacketType(b[0]>>4) != PacketConnack || b[0]&0x0f != 0 {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorUnexpectedPacket,
			fmt.Sprintf("expected CONNACK, got header 0x%02x", b[0]),
		)
	}
	if b[1] != 2 || b[2]&0xfe != 0 {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorMalformedPacket,
			fmt.Sprintf("invalid CONNACK body % x", b[1:]),
		)
	}

	return &Connack{
		SessionPresent: b[2]&0x01 == 1,
		ReturnCode:     ReturnCode(b[3]),
	}, nil
}

// RandomClientID returns prefix followed by random hex digits, no longer
// than MaxClientIDLength.
func RandomClientID(prefix string) string {
	id := prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) > MaxClientIDLength {
		id = id[:MaxClientIDLength]
	}
	return id
}

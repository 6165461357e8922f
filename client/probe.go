package client

import (
	"time"

	"github.com/nczempin/mqttnet-go/errors"
	"github.com/nczempin/mqttnet-go/protocol"
)

// Probe checks that an MQTT broker accepts a session and answers pings
type Probe struct {
	protocol *protocol.Mqtt311Protocol
}

// NewProbe creates a new probe with the given protocol
func NewProbe(proto *protocol.Mqtt311Protocol) *Probe {
	return &Probe{
		protocol: proto,
	}
}

// Connect opens the connection and performs the CONNECT/CONNACK handshake.
// The connection is closed again when the handshake fails.
func (c *Probe) Connect(host string, port int, opts protocol.ConnectOptions) (*protocol.Connack, error) {
	if err := validateConnectOptions(opts); err != nil {
		return nil, err
	}

	if err := c.protocol.Connect(host, port); err != nil {
		return nil, err
	}

	ack, err := c.protocol.Handshake(opts)
	if err != nil {
		c.protocol.Disconnect()
		return ack, err
	}
	return ack, nil
}

// Ping performs one PINGREQ/PINGRESP round trip and returns its duration
func (c *Probe) Ping() (time.Duration, error) {
	start := time.Now()
	if err := c.protocol.Ping(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Close sends DISCONNECT and closes the connection
func (c *Probe) Close() {
	c.protocol.Disconnect()
}

// maxFieldLength is the largest length a 2-byte prefixed CONNECT field can carry
const maxFieldLength = 65535

// validateConnectOptions checks the CONNECT payload rules of MQTT 3.1.1
func validateConnectOptions(opts protocol.ConnectOptions) error {
	if opts.ClientID == "" && !opts.CleanSession {
		return errors.NewInvalidArgumentError("empty client identifier requires a clean session")
	}
	if len(opts.ClientID) > maxFieldLength {
		return errors.NewInvalidArgumentError("client identifier too long")
	}
	if len(opts.Username) > maxFieldLength {
		return errors.NewInvalidArgumentError("user name too long")
	}
	if len(opts.Password) > maxFieldLength {
		return errors.NewInvalidArgumentError("password too long")
	}
	if opts.Password != nil && opts.Username == "" {
		return errors.NewInvalidArgumentError("password requires a user name")
	}
	return nil
}

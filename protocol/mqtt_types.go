package protocol

import "fmt"

// PacketType is the MQTT control packet type carried in the high nibble of
// the first header byte.
type PacketType byte

const (
	PacketConnect    PacketType = 1
	PacketConnack    PacketType = 2
	PacketPingreq    PacketType = 12
	PacketPingresp   PacketType = 13
	PacketDisconnect PacketType = 14
)

// ProtocolLevel is the CONNECT protocol level for MQTT 3.1.1
const ProtocolLevel = 4

// MaxClientIDLength is the client identifier length every 3.1.1 broker must accept
const MaxClientIDLength = 23

// ConnectOptions describes a CONNECT request
type ConnectOptions struct {
	ClientID     string
	CleanSession bool
	KeepAlive    uint16 // seconds
	Username     string
	Password     []byte
}

// ReturnCode is the CONNACK return code
type ReturnCode byte

const (
	Accepted ReturnCode = iota
	RefusedProtocolVersion
	RefusedIdentifierRejected
	RefusedServerUnavailable
	RefusedBadCredentials
	RefusedNotAuthorized
)

func (c ReturnCode) String() string {
	switch c {
	case Accepted:
		return "accepted"
	case RefusedProtocolVersion:
		return "unacceptable protocol version"
	case RefusedIdentifierRejected:
		return "identifier rejected"
	case RefusedServerUnavailable:
		return "server unavailable"
	case RefusedBadCredentials:
		return "bad user name or password"
	case RefusedNotAuthorized:
		return "not authorized"
	default:
		return fmt.Sprintf("reserved return code %d", byte(c))
	}
}

// Connack is a parsed CONNACK packet
type Connack struct {
	SessionPresent bool
	ReturnCode     ReturnCode
}

package config

import (
	"fmt"
	"time"

	"github.com/nczempin/mqttnet-go/errors"
	"github.com/nczempin/mqttnet-go/transport"
)

// Link names accepted in TransportConfig.Link
const (
	LinkSocket = "socket"
	LinkConn   = "conn"
	LinkUring  = "uring"
)

// Config holds the settings of the probe command
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
}

// BrokerConfig identifies the broker and the session to open on it
type BrokerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ClientID     string        `yaml:"client_id"`
	CleanSession bool          `yaml:"clean_session"`
	KeepAlive    time.Duration `yaml:"keepalive"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
}

// TransportConfig selects the link implementation and the I/O timeouts
type TransportConfig struct {
	Link         string        `yaml:"link"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	UringEntries uint          `yaml:"uring_entries"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:         "localhost",
			Port:         1883,
			CleanSession: true,
			KeepAlive:    60 * time.Second,
		},
		Transport: TransportConfig{
			Link:         LinkSocket,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			UringEntries: 32,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return errors.NewInvalidArgumentError("broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return errors.NewInvalidArgumentError(fmt.Sprintf("broker.port %d out of range", c.Broker.Port))
	}
	if c.Broker.KeepAlive < 0 || c.Broker.KeepAlive > 65535*time.Second {
		return errors.NewInvalidArgumentError(fmt.Sprintf("broker.keepalive %s out of range", c.Broker.KeepAlive))
	}
	if _, err := c.Transport.Dialer(); err != nil {
		return err
	}
	return nil
}

// KeepAliveSeconds returns the keepalive as the CONNECT field value
func (b BrokerConfig) KeepAliveSeconds() uint16 {
	return uint16(b.KeepAlive / time.Second)
}

// Dialer maps Link to a transport dialer
func (t TransportConfig) Dialer() (transport.Dialer, error) {
	switch t.Link {
	case LinkSocket, "":
		return transport.SocketDialer{}, nil
	case LinkConn:
		return transport.ConnDialer{}, nil
	case LinkUring:
		return transport.UringDialer{Entries: t.UringEntries}, nil
	default:
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("unknown transport.link %q", t.Link))
	}
}

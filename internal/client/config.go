package client

import (
	"strings"

	"github.com/danmuck/candlewire/internal/protocol/session"
)

const (
	DefaultHost        = "127.0.0.1"
	DefaultControlPort = 12000
	// DefaultStreamPort is control + 2.
	DefaultStreamPort = DefaultControlPort + 2
)

// Config selects the runtime endpoints and channel behavior.
type Config struct {
	Host        string
	ControlPort int
	// StreamPort defaults to ControlPort+2.
	StreamPort int

	// ControlEndpoint and StreamEndpoint override Host and ports when set,
	// e.g. "tcp://10.0.0.4:12000".
	ControlEndpoint string
	StreamEndpoint  string

	Session session.Config
	// CleanOnClose sends a best-effort cmd_clean from Close when a model
	// was loaded.
	CleanOnClose bool
}

func DefaultConfig() Config {
	return Config{
		Host:         DefaultHost,
		ControlPort:  DefaultControlPort,
		StreamPort:   DefaultStreamPort,
		Session:      session.DefaultConfig(),
		CleanOnClose: true,
	}
}

func (c Config) endpoints() (control, stream string) {
	controlPort := c.ControlPort
	if controlPort <= 0 {
		controlPort = DefaultControlPort
	}
	streamPort := c.StreamPort
	if streamPort <= 0 {
		streamPort = controlPort + 2
	}
	control = strings.TrimSpace(c.ControlEndpoint)
	if control == "" {
		control = session.Endpoint(c.Host, controlPort)
	}
	stream = strings.TrimSpace(c.StreamEndpoint)
	if stream == "" {
		stream = session.Endpoint(c.Host, streamPort)
	}
	return control, stream
}

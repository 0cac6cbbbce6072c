package session

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/candlewire/internal/protocol/frame"
)

// Stream socket patterns.
const (
	StreamPush = "push"
	StreamPub  = "pub"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	// ConnectTimeout bounds every dial, including control redials.
	ConnectTimeout time.Duration
	// CallTimeout bounds one control round trip when the caller's context
	// carries no earlier deadline.
	CallTimeout time.Duration
	// SendTimeout bounds one blocked stream socket send.
	SendTimeout  time.Duration
	CloseTimeout time.Duration
	DialRetry    time.Duration

	StreamQueueSize int
	StreamPattern   string

	Backoff BackoffConfig
	Limits  frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  2 * time.Second,
		CallTimeout:     5 * time.Second,
		SendTimeout:     time.Second,
		CloseTimeout:    time.Second,
		DialRetry:       100 * time.Millisecond,
		StreamQueueSize: 64,
		StreamPattern:   StreamPush,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
		Limits: frame.DefaultLimits(),
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.DialRetry <= 0 {
		c.DialRetry = d.DialRetry
	}
	if c.StreamQueueSize <= 0 {
		c.StreamQueueSize = d.StreamQueueSize
	}
	c.StreamPattern = strings.ToLower(strings.TrimSpace(c.StreamPattern))
	if c.StreamPattern == "" {
		c.StreamPattern = d.StreamPattern
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 {
		c.Backoff = d.Backoff
	}
	if c.Limits.MaxTagBytes <= 0 {
		c.Limits.MaxTagBytes = d.Limits.MaxTagBytes
	}
	if c.Limits.MaxPayloadBytes <= 0 {
		c.Limits.MaxPayloadBytes = d.Limits.MaxPayloadBytes
	}
	return c
}

func (c Config) Validate() error {
	switch c.StreamPattern {
	case StreamPush, StreamPub:
	default:
		return fmt.Errorf("session: invalid stream pattern %q", c.StreamPattern)
	}
	if c.Backoff.Multiplier < 0 {
		return fmt.Errorf("session: negative backoff multiplier")
	}
	return nil
}

// Endpoint builds a tcp endpoint for host:port. Hosts that already carry a
// transport prefix are only given the port.
func Endpoint(host string, port int) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "127.0.0.1"
	}
	if i := strings.Index(host, "://"); i >= 0 {
		return host + ":" + strconv.Itoa(port)
	}
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

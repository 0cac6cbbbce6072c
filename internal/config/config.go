package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/candlewire/internal/client"
	"github.com/danmuck/candlewire/internal/protocol/session"
	"github.com/danmuck/candlewire/internal/runtime"
)

// sessionFile is the [session] table shared by client configs.
type sessionFile struct {
	ConnectTimeout    Duration `toml:"connect_timeout"`
	CallTimeout       Duration `toml:"call_timeout"`
	SendTimeout       Duration `toml:"send_timeout"`
	CloseTimeout      Duration `toml:"close_timeout"`
	DialRetry         Duration `toml:"dial_retry"`
	StreamQueueSize   int      `toml:"stream_queue_size"`
	StreamPattern     string   `toml:"stream_pattern"`
	BackoffInitial    Duration `toml:"backoff_initial"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	BackoffMax        Duration `toml:"backoff_max"`
	BackoffJitter     bool     `toml:"backoff_jitter"`
	MaxPayloadBytes   int      `toml:"max_payload_bytes"`
}

// clientFile is the vizclient config.toml key mapping.
type clientFile struct {
	Host         string      `toml:"host"`
	ControlPort  int         `toml:"control_port"`
	StreamPort   int         `toml:"stream_port"`
	CleanOnClose bool        `toml:"clean_on_close"`
	LogLevel     string      `toml:"log_level"`
	Session      sessionFile `toml:"session"`
}

// runtimeFile is the vizruntime config.toml key mapping.
type runtimeFile struct {
	ControlAddr      string   `toml:"control_addr"`
	StreamAddr       string   `toml:"stream_addr"`
	StreamPattern    string   `toml:"stream_pattern"`
	FrameRate        float64  `toml:"frame_rate"`
	AdminAddr        string   `toml:"admin_addr"`
	AdminCORSOrigins []string `toml:"admin_cors_origins"`
	AdminToken       string   `toml:"admin_token"`
	RecordDir        string   `toml:"record_dir"`
	LogLevel         string   `toml:"log_level"`
	MaxPayloadBytes  int      `toml:"max_payload_bytes"`
}

// ClientSettings is a loaded client config.
type ClientSettings struct {
	Client   client.Config
	LogLevel string
}

// RuntimeSettings is a loaded runtime config.
type RuntimeSettings struct {
	Server    runtime.Config
	RecordDir string
	LogLevel  string
}

// LoadClient overlays the keys present in path on client.DefaultConfig.
func LoadClient(path string) (ClientSettings, error) {
	out := ClientSettings{Client: client.DefaultConfig()}

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientSettings{}, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ClientSettings{}, fmt.Errorf("load client config: unknown keys %v", undecoded)
	}

	cfg := &out.Client
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("control_port") {
		cfg.ControlPort = raw.ControlPort
		if !meta.IsDefined("stream_port") {
			cfg.StreamPort = raw.ControlPort + 2
		}
	}
	if meta.IsDefined("stream_port") {
		cfg.StreamPort = raw.StreamPort
	}
	if meta.IsDefined("clean_on_close") {
		cfg.CleanOnClose = raw.CleanOnClose
	}
	if meta.IsDefined("log_level") {
		out.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	overlaySession(meta, raw.Session, &cfg.Session)

	if err := validatePort("control_port", cfg.ControlPort); err != nil {
		return ClientSettings{}, fmt.Errorf("load client config: %w", err)
	}
	if err := validatePort("stream_port", cfg.StreamPort); err != nil {
		return ClientSettings{}, fmt.Errorf("load client config: %w", err)
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return ClientSettings{}, fmt.Errorf("load client config: %w", err)
	}
	return out, nil
}

func overlaySession(meta toml.MetaData, raw sessionFile, cfg *session.Config) {
	key := func(k string) bool { return meta.IsDefined("session", k) }
	if key("connect_timeout") {
		cfg.ConnectTimeout = raw.ConnectTimeout.Duration
	}
	if key("call_timeout") {
		cfg.CallTimeout = raw.CallTimeout.Duration
	}
	if key("send_timeout") {
		cfg.SendTimeout = raw.SendTimeout.Duration
	}
	if key("close_timeout") {
		cfg.CloseTimeout = raw.CloseTimeout.Duration
	}
	if key("dial_retry") {
		cfg.DialRetry = raw.DialRetry.Duration
	}
	if key("stream_queue_size") {
		cfg.StreamQueueSize = raw.StreamQueueSize
	}
	if key("stream_pattern") {
		cfg.StreamPattern = strings.TrimSpace(raw.StreamPattern)
	}
	if key("backoff_initial") {
		cfg.Backoff.InitialDelay = raw.BackoffInitial.Duration
	}
	if key("backoff_multiplier") {
		cfg.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if key("backoff_max") {
		cfg.Backoff.MaxDelay = raw.BackoffMax.Duration
	}
	if key("backoff_jitter") {
		cfg.Backoff.Jitter = raw.BackoffJitter
	}
	if key("max_payload_bytes") {
		cfg.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
}

// LoadRuntime overlays the keys present in path on runtime.DefaultConfig.
func LoadRuntime(path string) (RuntimeSettings, error) {
	out := RuntimeSettings{Server: runtime.DefaultConfig()}

	var raw runtimeFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return RuntimeSettings{}, fmt.Errorf("load runtime config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return RuntimeSettings{}, fmt.Errorf("load runtime config: unknown keys %v", undecoded)
	}

	cfg := &out.Server
	if meta.IsDefined("control_addr") {
		cfg.ControlAddr = strings.TrimSpace(raw.ControlAddr)
	}
	if meta.IsDefined("stream_addr") {
		cfg.StreamAddr = strings.TrimSpace(raw.StreamAddr)
	}
	if meta.IsDefined("stream_pattern") {
		cfg.StreamPattern = strings.ToLower(strings.TrimSpace(raw.StreamPattern))
	}
	if meta.IsDefined("frame_rate") {
		cfg.FrameRate = raw.FrameRate
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = raw.AdminCORSOrigins
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("record_dir") {
		out.RecordDir = strings.TrimSpace(raw.RecordDir)
	}
	if meta.IsDefined("log_level") {
		out.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if cfg.StreamPattern != session.StreamPush && cfg.StreamPattern != session.StreamPub {
		return RuntimeSettings{}, fmt.Errorf("load runtime config: invalid stream_pattern %q", cfg.StreamPattern)
	}
	if cfg.FrameRate <= 0 {
		return RuntimeSettings{}, fmt.Errorf("load runtime config: frame_rate must be positive")
	}
	if strings.TrimSpace(cfg.ControlAddr) == "" || strings.TrimSpace(cfg.StreamAddr) == "" {
		return RuntimeSettings{}, fmt.Errorf("load runtime config: control_addr and stream_addr are required")
	}
	return out, nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}

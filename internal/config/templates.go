package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	KindClient  = "client"
	KindRuntime = "runtime"
)

func Template(kind string) (string, error) {
	switch normalizeKind(kind) {
	case KindClient:
		return clientTemplate, nil
	case KindRuntime:
		return runtimeTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate strictly decodes path as the given kind. Unknown keys and type
// mismatches are errors.
func Validate(path, kind string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var target any
	switch normalizeKind(kind) {
	case KindClient:
		target = &clientFile{}
	case KindRuntime:
		target = &runtimeFile{}
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

const clientTemplate = `host = "127.0.0.1"
control_port = 12000
stream_port = 12002
clean_on_close = true
log_level = "info"

[session]
connect_timeout = "2s"
call_timeout = "5s"
send_timeout = "1s"
close_timeout = "1s"
dial_retry = "100ms"
stream_queue_size = 64
stream_pattern = "push"
backoff_initial = "250ms"
backoff_multiplier = 2.0
backoff_max = "2s"
backoff_jitter = true
`

const runtimeTemplate = `control_addr = "tcp://0.0.0.0:12000"
stream_addr = "tcp://0.0.0.0:12002"
stream_pattern = "push"
frame_rate = 60.0
admin_addr = "127.0.0.1:9500"
admin_cors_origins = []
admin_token = ""
record_dir = "recordings"
log_level = "info"
`

// vizruntime runs the headless reference runtime: a control REP socket, a
// stream PULL (or SUB) socket, a fixed-rate render loop and an optional admin
// HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/candlewire/internal/config"
	"github.com/danmuck/candlewire/internal/logging"
	"github.com/danmuck/candlewire/internal/observability"
	"github.com/danmuck/candlewire/internal/runtime"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "vizruntime: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		control    string
		stream     string
		pattern    string
		admin      string
		adminToken string
		recordDir  string
		fps        float64
		nq, nv     int
	)
	flagSet := pflag.NewFlagSet("vizruntime", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "runtime config.toml (see configgen --kind runtime)")
	flagSet.StringVar(&control, "control", "", "control bind address (default tcp://0.0.0.0:12000)")
	flagSet.StringVar(&stream, "stream", "", "stream bind address (default tcp://0.0.0.0:12002)")
	flagSet.StringVar(&pattern, "pattern", "", "stream socket pattern: push|pub")
	flagSet.StringVar(&admin, "admin", "", "admin HTTP listen address, empty disables")
	flagSet.StringVar(&adminToken, "admin-token", "", "bearer token required on /status and /metrics")
	flagSet.StringVar(&recordDir, "record-dir", "", "directory for recordings")
	flagSet.Float64Var(&fps, "fps", 0, "render loop frame rate")
	flagSet.IntVar(&nq, "nq", 0, "expected position length per state, 0 accepts any")
	flagSet.IntVar(&nv, "nv", 0, "expected velocity length per state, 0 accepts any")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	settings := config.RuntimeSettings{Server: runtime.DefaultConfig(), RecordDir: "recordings"}
	if configPath != "" {
		loaded, err := config.LoadRuntime(configPath)
		if err != nil {
			return err
		}
		settings = loaded
	}

	observability.InitLogger("vizruntime")
	applyLogLevel(settings.LogLevel)

	cfg := &settings.Server
	if flagSet.Changed("control") {
		cfg.ControlAddr = control
	}
	if flagSet.Changed("stream") {
		cfg.StreamAddr = stream
	}
	if flagSet.Changed("pattern") {
		cfg.StreamPattern = pattern
	}
	if flagSet.Changed("admin") {
		cfg.AdminAddr = admin
	}
	if flagSet.Changed("admin-token") {
		cfg.AdminToken = adminToken
	}
	if flagSet.Changed("fps") {
		cfg.FrameRate = fps
	}
	if flagSet.Changed("record-dir") {
		settings.RecordDir = recordDir
	}

	renderer := runtime.NewHeadlessRenderer(settings.RecordDir)
	if nq > 0 || nv > 0 {
		dims := runtime.Dims{NQ: nq, NV: nv}
		renderer.Dims = func(string, string) (runtime.Dims, error) { return dims, nil }
	}
	if settings.RecordDir != "" {
		if err := os.MkdirAll(settings.RecordDir, 0o755); err != nil {
			return fmt.Errorf("record dir: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := runtime.NewServer(*cfg, renderer)
	log.Info().Msgf("vizruntime starting control=%q stream=%q record_dir=%q", cfg.ControlAddr, cfg.StreamAddr, settings.RecordDir)
	return srv.Run(ctx)
}

func applyLogLevel(raw string) {
	if raw == "" || os.Getenv(logging.EnvLogLevel) != "" {
		return
	}
	if level, ok := logging.ParseLevel(raw); ok {
		zerolog.SetGlobalLevel(level)
		return
	}
	log.Warn().Msgf("vizruntime ignoring log_level=%q", raw)
}

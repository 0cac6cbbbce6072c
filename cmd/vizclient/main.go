// vizclient is a demo client: it loads a model into a runtime, positions the
// camera, streams a generated trajectory and optionally records it.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/candlewire/internal/client"
	"github.com/danmuck/candlewire/internal/config"
	"github.com/danmuck/candlewire/internal/logging"
	"github.com/danmuck/candlewire/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/mat"
)

type options struct {
	configPath string
	host       string
	port       int
	model      string
	geometry   string
	nq         int
	frames     int
	fps        float64
	record     string
	distance   float64
	keep       bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "vizclient: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("vizclient", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "client config.toml (see configgen --kind client)")
	flagSet.StringVar(&opts.host, "host", "", "runtime host")
	flagSet.IntVarP(&opts.port, "port", "p", 0, "runtime control port; stream uses port+2")
	flagSet.StringVar(&opts.model, "model", "", "model description file (required)")
	flagSet.StringVar(&opts.geometry, "geometry", "", "geometry file")
	flagSet.IntVar(&opts.nq, "nq", 7, "generalized coordinate count of the trajectory")
	flagSet.IntVar(&opts.frames, "frames", 300, "number of states to stream")
	flagSet.Float64Var(&opts.fps, "fps", 60, "stream rate in states per second")
	flagSet.StringVar(&opts.record, "record", "", "record the trajectory to this filename on the runtime")
	flagSet.Float64Var(&opts.distance, "distance", 3, "camera distance from the origin")
	flagSet.BoolVar(&opts.keep, "keep", false, "leave the model loaded on exit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if opts.model == "" {
		return fmt.Errorf("--model is required")
	}
	if opts.nq <= 0 || opts.frames <= 0 || opts.fps <= 0 {
		return fmt.Errorf("--nq, --frames and --fps must be positive")
	}

	settings := config.ClientSettings{Client: client.DefaultConfig()}
	if opts.configPath != "" {
		loaded, err := config.LoadClient(opts.configPath)
		if err != nil {
			return err
		}
		settings = loaded
	}
	observability.InitLogger("vizclient")
	if level, ok := logging.ParseLevel(settings.LogLevel); ok && os.Getenv(logging.EnvLogLevel) == "" {
		zerolog.SetGlobalLevel(level)
	}

	cfg := settings.Client
	if flagSet.Changed("host") {
		cfg.Host = opts.host
	}
	if flagSet.Changed("port") {
		cfg.ControlPort = opts.port
		cfg.StreamPort = opts.port + 2
	}
	if opts.keep {
		cfg.CleanOnClose = false
	}

	modelBlob, err := os.ReadFile(opts.model)
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	var geometryBlob []byte
	if opts.geometry != "" {
		if geometryBlob, err = os.ReadFile(opts.geometry); err != nil {
			return fmt.Errorf("read geometry: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("vizclient close")
		}
	}()

	if err := c.Load(ctx, client.Model{
		ModelBlob:    string(modelBlob),
		GeometryBlob: string(geometryBlob),
		NQ:           opts.nq,
		NV:           opts.nq,
	}); err != nil {
		return err
	}
	if err := c.SetCameraPoseMatrix(ctx, cameraPose(opts.distance)); err != nil {
		return err
	}

	play := func(ctx context.Context) error {
		return streamTrajectory(ctx, c, opts)
	}
	if opts.record != "" {
		err = c.Record(ctx, opts.record, play)
	} else {
		err = play(ctx)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	stats := c.StreamStats()
	log.Info().Msgf("vizclient done published=%d sent=%d dropped=%d failed=%d", stats.Published, stats.Sent, stats.Dropped, stats.Failed)
	return err
}

func streamTrajectory(ctx context.Context, c *client.Client, opts options) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / opts.fps))
	defer ticker.Stop()

	traj := newTrajectory(opts.nq)
	dt := 1 / opts.fps
	for i := 0; i < opts.frames; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		q, v := traj.at(float64(i) * dt)
		if err := c.PushStateValues(q.RawVector().Data, v.RawVector().Data); err != nil {
			return err
		}
	}
	return nil
}

// trajectory is q_i(t) = amp_i * sin(freq_i*t + phase_i).
type trajectory struct {
	amp, freq, phase *mat.VecDense
}

func newTrajectory(n int) trajectory {
	amp := mat.NewVecDense(n, nil)
	freq := mat.NewVecDense(n, nil)
	phase := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		amp.SetVec(i, 0.5+0.1*float64(i%5))
		freq.SetVec(i, 2*math.Pi*(0.25+0.05*float64(i)))
		phase.SetVec(i, float64(i)*math.Pi/float64(n))
	}
	return trajectory{amp: amp, freq: freq, phase: phase}
}

func (tr trajectory) at(t float64) (q, v *mat.VecDense) {
	n := tr.amp.Len()
	arg := mat.NewVecDense(n, nil)
	arg.AddScaledVec(tr.phase, t, tr.freq)

	sin := mat.NewVecDense(n, nil)
	cos := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sin.SetVec(i, math.Sin(arg.AtVec(i)))
		cos.SetVec(i, math.Cos(arg.AtVec(i)))
	}
	q = mat.NewVecDense(n, nil)
	q.MulElemVec(tr.amp, sin)
	v = mat.NewVecDense(n, nil)
	v.MulElemVec(tr.amp, cos)
	v.MulElemVec(v, tr.freq)
	return q, v
}

// cameraPose places the camera on the +x/+z diagonal at distance d, tilted
// 30 degrees down towards the origin.
func cameraPose(d float64) *mat.Dense {
	yaw := math.Pi / 4
	pitch := -math.Pi / 6

	rz := mat.NewDense(3, 3, []float64{
		math.Cos(yaw), -math.Sin(yaw), 0,
		math.Sin(yaw), math.Cos(yaw), 0,
		0, 0, 1,
	})
	ry := mat.NewDense(3, 3, []float64{
		math.Cos(pitch), 0, math.Sin(pitch),
		0, 1, 0,
		-math.Sin(pitch), 0, math.Cos(pitch),
	})
	var rot mat.Dense
	rot.Mul(rz, ry)

	pose := mat.NewDense(4, 4, nil)
	pose.Slice(0, 3, 0, 3).(*mat.Dense).Copy(&rot)
	pose.Set(0, 3, d*math.Cos(yaw))
	pose.Set(1, 3, d*math.Sin(yaw))
	pose.Set(2, 3, d*0.5)
	pose.Set(3, 3, 1)
	return pose
}

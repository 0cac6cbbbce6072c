package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/candlewire/internal/observability"
	"github.com/danmuck/candlewire/internal/protocol"
	"github.com/danmuck/candlewire/internal/protocol/array"
	"github.com/danmuck/candlewire/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrClosed        = errors.New("client: closed")
	ErrStateMismatch = errors.New("client: state does not match model dimensions")
)

// Model is one scene to load. NQ and NV are the generalized coordinate and
// velocity counts; zero disables the PushState length checks.
type Model struct {
	ModelBlob    string
	GeometryBlob string
	NQ           int
	NV           int
}

// Client owns one control channel and one stream channel to a runtime.
// Control calls are serialized; PushState may run concurrently with them.
type Client struct {
	cfg     Config
	control *session.ControlChannel
	stream  *session.StreamChannel

	mu     sync.RWMutex
	model  Model
	loaded bool

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Connect dials both channels. Either endpoint failing within the connect
// timeout returns an error wrapping protocol.ErrConnection.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg.Session = cfg.Session.WithDefaults()
	controlEndpoint, streamEndpoint := cfg.endpoints()

	control, err := session.DialControl(ctx, controlEndpoint, cfg.Session)
	if err != nil {
		return nil, err
	}
	stream, err := session.DialStream(ctx, streamEndpoint, cfg.Session)
	if err != nil {
		_ = control.Close()
		return nil, err
	}
	log.Info().Msgf("client.Connect control=%q stream=%q pattern=%s", controlEndpoint, streamEndpoint, cfg.Session.StreamPattern)
	return &Client{
		cfg:     cfg,
		control: control,
		stream:  stream,
		closed:  make(chan struct{}),
	}, nil
}

// Load replaces the runtime scene.
func (c *Client) Load(ctx context.Context, m Model) error {
	if err := c.status(ctx, protocol.SendModels{ModelBlob: m.ModelBlob, GeometryBlob: m.GeometryBlob}); err != nil {
		return err
	}
	c.mu.Lock()
	c.model = m
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// PushState publishes a state update without waiting on the runtime.
// Errors are local: malformed envelopes, lengths that do not match the
// loaded model, or a closed client. Delivery failures are never reported.
func (c *Client) PushState(position array.Envelope, velocity *array.Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.RLock()
	model, loaded := c.model, c.loaded
	c.mu.RUnlock()
	if loaded {
		if model.NQ > 0 && position.Len() != model.NQ {
			return fmt.Errorf("%w: position has %d values, model nq=%d", ErrStateMismatch, position.Len(), model.NQ)
		}
		if velocity != nil && model.NV > 0 && velocity.Len() != model.NV {
			return fmt.Errorf("%w: velocity has %d values, model nv=%d", ErrStateMismatch, velocity.Len(), model.NV)
		}
	}
	if err := c.stream.Publish(protocol.StateUpdate{Position: position, Velocity: velocity}); err != nil {
		return err
	}
	c.recordStream()
	return nil
}

// PushStateValues packs float64 slices and publishes them. A nil velocity
// is sent as absent.
func (c *Client) PushStateValues(q, v []float64) error {
	position, err := array.FromSlice(q)
	if err != nil {
		return err
	}
	if v == nil {
		return c.PushState(position, nil)
	}
	velocity, err := array.FromSlice(v)
	if err != nil {
		return err
	}
	return c.PushState(position, &velocity)
}

// SetCameraPose sends a 4x4 pose. Shape and dtype are checked by the
// runtime; a bad pose returns a *protocol.RejectedError.
func (c *Client) SetCameraPose(ctx context.Context, pose array.Envelope) error {
	return c.status(ctx, protocol.SendCameraPose{Pose: pose})
}

func (c *Client) SetCameraPoseMatrix(ctx context.Context, pose mat.Matrix) error {
	return c.SetCameraPose(ctx, array.FromMatrix(pose))
}

func (c *Client) ResetCamera(ctx context.Context) error {
	return c.status(ctx, protocol.ResetCamera{})
}

// Clean removes the loaded model from the runtime.
func (c *Client) Clean(ctx context.Context) error {
	if err := c.status(ctx, protocol.Clean{}); err != nil {
		return err
	}
	c.mu.Lock()
	c.model = Model{}
	c.loaded = false
	c.mu.Unlock()
	return nil
}

func (c *Client) StartRecording(ctx context.Context, filename string) error {
	return c.status(ctx, protocol.StartRecording{Filename: filename})
}

// StopRecording reports whether a recording was active on the runtime.
func (c *Client) StopRecording(ctx context.Context) (bool, error) {
	reply, err := c.call(ctx, protocol.StopRecording{}, func(r protocol.Reply) error {
		_, err := r.Flag()
		return err
	})
	if err != nil {
		return false, err
	}
	return reply.Flag()
}

// Record starts a recording, runs fn and always stops the recording
// afterwards. The first error wins.
func (c *Client) Record(ctx context.Context, filename string, fn func(context.Context) error) error {
	if err := c.StartRecording(ctx, filename); err != nil {
		return err
	}
	runErr := fn(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Session.CallTimeout)
	defer cancel()
	_, stopErr := c.StopRecording(stopCtx)
	if runErr != nil {
		if stopErr != nil {
			log.Warn().Err(stopErr).Msgf("client.Record stop failed file=%q", filename)
		}
		return runErr
	}
	return stopErr
}

func (c *Client) StreamStats() session.StreamStats {
	return c.stream.Stats()
}

// Close releases both channels within a bounded time. With CleanOnClose a
// loaded model is cleaned first on a best-effort basis.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.RLock()
		loaded := c.loaded
		c.mu.RUnlock()

		if loaded && c.cfg.CleanOnClose {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Session.CloseTimeout)
			reply, err := c.control.Call(ctx, protocol.Clean{})
			if err == nil {
				err = reply.Err()
			}
			if err != nil {
				log.Warn().Err(err).Msg("client.Close clean skipped")
			}
			cancel()
		}

		c.recordStream()
		c.closeErr = errors.Join(c.stream.Close(), c.control.Close())
		st := c.stream.Stats()
		log.Info().Msgf("client.Close published=%d sent=%d dropped=%d", st.Published, st.Sent, st.Dropped)
	})
	return c.closeErr
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) status(ctx context.Context, cmd protocol.Command) error {
	_, err := c.call(ctx, cmd, protocol.Reply.Err)
	return err
}

// call runs one control round trip, interprets the reply with check and
// records the outcome.
func (c *Client) call(ctx context.Context, cmd protocol.Command, check func(protocol.Reply) error) (protocol.Reply, error) {
	if c.isClosed() {
		return protocol.Reply{}, ErrClosed
	}
	start := time.Now()
	reply, err := c.control.Call(ctx, cmd)
	if err == nil {
		err = check(reply)
	}
	outcome := outcomeOf(err)
	observability.RecordControlCall(cmd.Tag(), outcome, time.Since(start))
	if err != nil {
		log.Warn().Err(err).Str("tag", cmd.Tag()).Str("outcome", outcome).Msg("client.call failed")
		return protocol.Reply{}, err
	}
	log.Debug().Str("tag", cmd.Tag()).Dur("duration", time.Since(start)).Msg("client.call")
	return reply, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.Is(err, protocol.ErrCommandRejected):
		return observability.OutcomeRejected
	case errors.Is(err, protocol.ErrTimeout):
		return observability.OutcomeTimeout
	case errors.Is(err, protocol.ErrConnection), errors.Is(err, session.ErrClosed):
		return observability.OutcomeConnection
	default:
		return observability.OutcomeError
	}
}

func (c *Client) recordStream() {
	st := c.stream.Stats()
	observability.RecordStreamCounts(c.stream.Endpoint(), observability.StreamCounts{
		Published: st.Published,
		Sent:      st.Sent,
		Dropped:   st.Dropped,
		Failed:    st.Failed,
	})
}

package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/candlewire/internal/observability"
	"github.com/danmuck/candlewire/internal/protocol"
	"github.com/danmuck/candlewire/internal/protocol/array"
	"github.com/danmuck/candlewire/internal/protocol/frame"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// State results recorded per received stream frame.
const (
	StateAccepted = "accepted"
	StateIgnored  = "ignored"
	StateRejected = "rejected"
	StateRendered = "rendered"
)

var (
	ErrNotStream    = errors.New("runtime: not a stream command")
	ErrStateIgnored = errors.New("runtime: state ignored before model load")
	ErrStateShape   = errors.New("runtime: state does not match model dimensions")
)

// Status is the dispatcher view served on the admin status route.
type Status struct {
	Loaded         bool      `json:"loaded"`
	Dims           Dims      `json:"dims"`
	Recording      bool      `json:"recording"`
	RecordingFile  string    `json:"recording_file,omitempty"`
	Commands       uint64    `json:"commands"`
	Rejected       uint64    `json:"rejected"`
	StatesReceived uint64    `json:"states_received"`
	StatesRendered uint64    `json:"states_rendered"`
	StatesDropped  uint64    `json:"states_dropped"`
	LastStateAt    time.Time `json:"last_state_at,omitempty"`
}

// Dispatcher applies decoded commands to a Renderer. Every control frame
// produces exactly one reply body, including frames it cannot parse.
type Dispatcher struct {
	renderer Renderer
	limits   frame.Limits

	mu            sync.Mutex
	loaded        bool
	dims          Dims
	recording     bool
	recordingFile string
	latest        *State
	seq           uint64
	renderedSeq   uint64
	commands      uint64
	rejected      uint64
	received      uint64
	rendered      uint64
	dropped       uint64
}

func NewDispatcher(renderer Renderer, limits frame.Limits) *Dispatcher {
	if limits.MaxTagBytes <= 0 || limits.MaxPayloadBytes <= 0 {
		limits = frame.DefaultLimits()
	}
	return &Dispatcher{renderer: renderer, limits: limits}
}

// HandleControl answers one control message.
func (d *Dispatcher) HandleControl(parts [][]byte) []byte {
	f, err := frame.Decode(parts, d.limits)
	if err != nil {
		var unknown *frame.UnknownCommandError
		if errors.As(err, &unknown) {
			log.Warn().Msgf("runtime.control unknown command tag=%q", unknown.Tag)
			d.countRejected("unknown")
			return protocol.UnknownCommandReply(unknown.Tag)
		}
		log.Warn().Err(err).Msg("runtime.control bad frame")
		d.countRejected("invalid")
		return protocol.ErrorReply(err.Error())
	}
	if !frame.IsControl(f.Tag) {
		d.countRejected(f.Tag)
		return protocol.ErrorReply(fmt.Sprintf("%s is not a control command", f.Tag))
	}
	cmd, err := protocol.DecodeCommand(f)
	if err != nil {
		log.Warn().Err(err).Str("tag", f.Tag).Msg("runtime.control bad payload")
		d.countRejected(f.Tag)
		return protocol.ErrorReply(err.Error())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands++
	reply, err := d.applyLocked(cmd)
	if err != nil {
		d.rejected++
		observability.RecordRuntimeCommand(f.Tag, "rejected")
		log.Warn().Err(err).Str("tag", f.Tag).Msg("runtime.control rejected")
		return protocol.ErrorReply(err.Error())
	}
	observability.RecordRuntimeCommand(f.Tag, "ok")
	log.Debug().Str("tag", f.Tag).Msg("runtime.control handled")
	return reply
}

func (d *Dispatcher) countRejected(tag string) {
	d.mu.Lock()
	d.commands++
	d.rejected++
	d.mu.Unlock()
	observability.RecordRuntimeCommand(tag, "rejected")
}

func (d *Dispatcher) applyLocked(cmd protocol.Command) ([]byte, error) {
	switch c := cmd.(type) {
	case protocol.SendModels:
		dims, err := d.renderer.LoadModel(c.ModelBlob, c.GeometryBlob)
		if err != nil {
			return nil, err
		}
		d.loaded = true
		d.dims = dims
		d.latest = nil
		log.Info().Msgf("runtime.control model loaded nq=%d nv=%d", dims.NQ, dims.NV)
		return protocol.OKReply(), nil
	case protocol.SendCameraPose:
		if err := protocol.ValidatePose(c.Pose); err != nil {
			return nil, err
		}
		values, err := array.Values[float64](c.Pose)
		if err != nil {
			return nil, err
		}
		if err := d.renderer.SetCameraPose(mat.NewDense(4, 4, values)); err != nil {
			return nil, err
		}
		return protocol.OKReply(), nil
	case protocol.ResetCamera:
		if err := d.renderer.ResetCamera(); err != nil {
			return nil, err
		}
		return protocol.OKReply(), nil
	case protocol.Clean:
		if err := d.renderer.Clean(); err != nil {
			return nil, err
		}
		d.loaded = false
		d.dims = Dims{}
		d.latest = nil
		return protocol.OKReply(), nil
	case protocol.StartRecording:
		if d.recording {
			return nil, fmt.Errorf("recording already active: %s", d.recordingFile)
		}
		if err := d.renderer.StartRecording(c.Filename); err != nil {
			return nil, err
		}
		d.recording = true
		d.recordingFile = c.Filename
		observability.SetRuntimeRecording(true)
		return protocol.OKReply(), nil
	case protocol.StopRecording:
		if !d.recording {
			return protocol.FlagReply(false), nil
		}
		err := d.renderer.StopRecording()
		d.recording = false
		d.recordingFile = ""
		observability.SetRuntimeRecording(false)
		if err != nil {
			return nil, err
		}
		return protocol.FlagReply(true), nil
	default:
		return nil, fmt.Errorf("%s is not a control command", cmd.Tag())
	}
}

// HandleStream stores one state update as the latest state. Nothing is
// replied; the error only reports why a frame was dropped.
func (d *Dispatcher) HandleStream(parts [][]byte) error {
	f, err := frame.Decode(parts, d.limits)
	if err != nil {
		d.countState(StateRejected)
		return err
	}
	if !frame.IsStream(f.Tag) {
		d.countState(StateRejected)
		return fmt.Errorf("%w: %s", ErrNotStream, f.Tag)
	}
	cmd, err := protocol.DecodeCommand(f)
	if err != nil {
		d.countState(StateRejected)
		return err
	}
	update := cmd.(protocol.StateUpdate)

	q, err := array.Values[float64](update.Position)
	if err != nil {
		d.countState(StateRejected)
		return err
	}
	var v []float64
	if update.Velocity != nil {
		if v, err = array.Values[float64](*update.Velocity); err != nil {
			d.countState(StateRejected)
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.received++
	if !d.loaded {
		d.dropped++
		observability.RecordRuntimeState(StateIgnored)
		return ErrStateIgnored
	}
	if (d.dims.NQ > 0 && len(q) != d.dims.NQ) || (v != nil && d.dims.NV > 0 && len(v) != d.dims.NV) {
		d.dropped++
		observability.RecordRuntimeState(StateRejected)
		return fmt.Errorf("%w: q=%d v=%d want nq=%d nv=%d", ErrStateShape, len(q), len(v), d.dims.NQ, d.dims.NV)
	}
	d.seq++
	d.latest = &State{Seq: d.seq, Position: q, Velocity: v, Received: time.Now()}
	observability.RecordRuntimeState(StateAccepted)
	return nil
}

func (d *Dispatcher) countState(result string) {
	d.mu.Lock()
	d.received++
	d.dropped++
	d.mu.Unlock()
	observability.RecordRuntimeState(result)
}

// RenderLatest renders the newest state if it has not been rendered yet.
// States that arrived in between are superseded and never rendered.
func (d *Dispatcher) RenderLatest() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.latest == nil || d.latest.Seq <= d.renderedSeq {
		return false, nil
	}
	state := *d.latest
	d.renderedSeq = state.Seq
	if err := d.renderer.Render(state); err != nil {
		return false, err
	}
	d.rendered++
	observability.RecordRuntimeState(StateRendered)
	return true, nil
}

// Shutdown stops an active recording so its output is finalized.
func (d *Dispatcher) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.recording {
		return nil
	}
	d.recording = false
	d.recordingFile = ""
	observability.SetRuntimeRecording(false)
	return d.renderer.StopRecording()
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Status{
		Loaded:         d.loaded,
		Dims:           d.dims,
		Recording:      d.recording,
		RecordingFile:  d.recordingFile,
		Commands:       d.commands,
		Rejected:       d.rejected,
		StatesReceived: d.received,
		StatesRendered: d.rendered,
		StatesDropped:  d.dropped,
	}
	if d.latest != nil {
		s.LastStateAt = d.latest.Received
	}
	return s
}

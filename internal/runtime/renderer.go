package runtime

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// Dims are the generalized coordinate and velocity counts of a loaded
// model. Zero means unchecked.
type Dims struct {
	NQ int `json:"nq"`
	NV int `json:"nv"`
}

// State is one configuration received on the stream channel.
type State struct {
	Seq      uint64    `msgpack:"seq" json:"seq"`
	Position []float64 `msgpack:"q" json:"q"`
	Velocity []float64 `msgpack:"v,omitempty" json:"v,omitempty"`
	Received time.Time `msgpack:"t" json:"received"`
}

// Renderer is the rendering collaborator driven by the dispatcher. Calls
// are serialized by the dispatcher.
type Renderer interface {
	LoadModel(model, geometry string) (Dims, error)
	Clean() error
	SetCameraPose(pose *mat.Dense) error
	ResetCamera() error
	StartRecording(filename string) error
	StopRecording() error
	Render(state State) error
}

// DimsFunc derives model dimensions from the loaded blobs.
type DimsFunc func(model, geometry string) (Dims, error)

// HeadlessRenderer implements Renderer without a display.
type HeadlessRenderer struct {
	// RecordDir receives recording files. Empty disables file output; the
	// recording state is still tracked.
	RecordDir string
	Dims      DimsFunc

	mu        sync.Mutex
	model     string
	geometry  string
	pose      *mat.Dense
	frames    uint64
	recording *recordingFile
}

type recordingFile struct {
	path   string
	file   *os.File
	buf    *bufio.Writer
	enc    *msgpack.Encoder
	frames uint64
}

// Snapshot is a copy of the renderer scene state.
type Snapshot struct {
	Model     string
	Geometry  string
	Pose      []float64
	Frames    uint64
	Recording string
}

var ErrNoModel = errors.New("runtime: no model loaded")

func NewHeadlessRenderer(recordDir string) *HeadlessRenderer {
	return &HeadlessRenderer{RecordDir: recordDir}
}

func (r *HeadlessRenderer) LoadModel(model, geometry string) (Dims, error) {
	var dims Dims
	if r.Dims != nil {
		d, err := r.Dims(model, geometry)
		if err != nil {
			return Dims{}, err
		}
		dims = d
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model = model
	r.geometry = geometry
	r.pose = nil
	log.Debug().Int("model_bytes", len(model)).Int("geometry_bytes", len(geometry)).Msg("runtime.headless model loaded")
	return dims, nil
}

func (r *HeadlessRenderer) Clean() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model = ""
	r.geometry = ""
	return nil
}

func (r *HeadlessRenderer) SetCameraPose(pose *mat.Dense) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pose = mat.DenseCopyOf(pose)
	return nil
}

func (r *HeadlessRenderer) ResetCamera() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pose = nil
	return nil
}

func (r *HeadlessRenderer) StartRecording(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording != nil {
		return fmt.Errorf("recording already active: %s", r.recording.path)
	}
	rec := &recordingFile{path: filename}
	if r.RecordDir != "" {
		rec.path = filepath.Join(r.RecordDir, filepath.Base(filename))
		f, err := os.Create(rec.path)
		if err != nil {
			return err
		}
		rec.file = f
		rec.buf = bufio.NewWriter(f)
		rec.enc = msgpack.NewEncoder(rec.buf)
	}
	r.recording = rec
	log.Info().Msgf("runtime.headless recording started path=%q", rec.path)
	return nil
}

func (r *HeadlessRenderer) StopRecording() error {
	r.mu.Lock()
	rec := r.recording
	r.recording = nil
	r.mu.Unlock()
	if rec == nil {
		return nil
	}
	log.Info().Msgf("runtime.headless recording stopped path=%q frames=%d", rec.path, rec.frames)
	if rec.file == nil {
		return nil
	}
	return errors.Join(rec.buf.Flush(), rec.file.Close())
}

func (r *HeadlessRenderer) Render(state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == "" {
		return ErrNoModel
	}
	r.frames++
	if r.recording == nil {
		return nil
	}
	r.recording.frames++
	if r.recording.enc == nil {
		return nil
	}
	return r.recording.enc.Encode(state)
}

func (r *HeadlessRenderer) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{Model: r.model, Geometry: r.geometry, Frames: r.frames}
	if r.pose != nil {
		s.Pose = slices.Clone(r.pose.RawMatrix().Data)
	}
	if r.recording != nil {
		s.Recording = r.recording.path
	}
	return s
}

// ReadRecording decodes a recording written by HeadlessRenderer.
func ReadRecording(path string) ([]State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := msgpack.NewDecoder(bufio.NewReader(f))
	var out []State
	for {
		var s State
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, s)
	}
}

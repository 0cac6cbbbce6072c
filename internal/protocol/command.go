package protocol

import (
	"github.com/danmuck/candlewire/internal/protocol/array"
	"github.com/danmuck/candlewire/internal/protocol/frame"
)

// Command is one message sent from client to runtime. The variant set is
// closed; each variant knows its tag and payload encoding.
type Command interface {
	Tag() string
	encodePayload() ([]byte, error)
}

// SendModels replaces the runtime scene. Both blobs are opaque and passed
// through verbatim.
type SendModels struct {
	ModelBlob    string
	GeometryBlob string
}

// SendCameraPose sets the camera transform. Pose must be a float64 4x4.
type SendCameraPose struct {
	Pose array.Envelope
}

type ResetCamera struct{}

// Clean removes the currently loaded model.
type Clean struct{}

// StartRecording opens a recording to Filename on the runtime host.
type StartRecording struct {
	Filename string
}

// StopRecording closes the active recording. The reply says whether one was
// active.
type StopRecording struct{}

// StateUpdate is a streamed configuration. Velocity is optional.
type StateUpdate struct {
	Position array.Envelope
	Velocity *array.Envelope
}

func (SendModels) Tag() string     { return frame.TagSendModels }
func (SendCameraPose) Tag() string { return frame.TagSendCamPose }
func (ResetCamera) Tag() string    { return frame.TagResetCamera }
func (Clean) Tag() string          { return frame.TagClean }
func (StartRecording) Tag() string { return frame.TagStartRecording }
func (StopRecording) Tag() string  { return frame.TagStopRecording }
func (StateUpdate) Tag() string    { return frame.TagStateUpdate }

var (
	_ Command = SendModels{}
	_ Command = SendCameraPose{}
	_ Command = ResetCamera{}
	_ Command = Clean{}
	_ Command = StartRecording{}
	_ Command = StopRecording{}
	_ Command = StateUpdate{}
)

// PoseShape is the only accepted camera pose shape.
var PoseShape = []int{4, 4}

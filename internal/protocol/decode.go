package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/candlewire/internal/protocol/array"
	"github.com/danmuck/candlewire/internal/protocol/codec"
	"github.com/danmuck/candlewire/internal/protocol/frame"
)

// DecodeCommand parses a frame into its command variant. Unknown tags
// return *frame.UnknownCommandError; bad payloads wrap ErrMalformedPayload
// (and ErrMalformedEnvelope when an array was at fault).
func DecodeCommand(f frame.Frame) (Command, error) {
	switch f.Tag {
	case frame.TagSendModels:
		return decodeSendModels(f.Payload)
	case frame.TagSendCamPose:
		pose, err := array.Decode(f.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, f.Tag, err)
		}
		return SendCameraPose{Pose: pose}, nil
	case frame.TagResetCamera:
		return ResetCamera{}, nil
	case frame.TagClean:
		return Clean{}, nil
	case frame.TagStartRecording:
		return decodeStartRecording(f.Payload)
	case frame.TagStopRecording:
		return StopRecording{}, nil
	case frame.TagStateUpdate:
		return decodeStateUpdate(f.Payload)
	default:
		return nil, &frame.UnknownCommandError{Tag: f.Tag}
	}
}

func decodeSendModels(payload []byte) (Command, error) {
	var blobs []string
	if err := codec.Unmarshal(payload, &blobs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, frame.TagSendModels, err)
	}
	if len(blobs) != 2 {
		return nil, fmt.Errorf("%w: %s: want 2 blobs, got %d", ErrMalformedPayload, frame.TagSendModels, len(blobs))
	}
	return SendModels{ModelBlob: blobs[0], GeometryBlob: blobs[1]}, nil
}

func decodeStartRecording(payload []byte) (Command, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: %s: filename is not utf-8", ErrMalformedPayload, frame.TagStartRecording)
	}
	name := string(payload)
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, ErrEmptyFilename)
	}
	return StartRecording{Filename: name}, nil
}

func decodeStateUpdate(payload []byte) (Command, error) {
	var p statePayload
	if err := codec.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %w: %v", ErrMalformedPayload, frame.TagStateUpdate, array.ErrMalformedEnvelope, err)
	}
	if err := p.Position.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s position: %w", ErrMalformedPayload, frame.TagStateUpdate, err)
	}
	if p.Velocity != nil {
		if err := p.Velocity.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s velocity: %w", ErrMalformedPayload, frame.TagStateUpdate, err)
		}
	}
	return StateUpdate{Position: p.Position, Velocity: p.Velocity}, nil
}

// ValidatePose checks the camera pose contract: float64, shape [4,4].
func ValidatePose(pose array.Envelope) error {
	if err := pose.Validate(); err != nil {
		return err
	}
	if pose.DType != array.Float64 {
		return fmt.Errorf("camera pose dtype %s, want %s", pose.DType, array.Float64)
	}
	if !pose.HasShape(PoseShape...) {
		return fmt.Errorf("camera pose shape %v, want %v", pose.Shape, PoseShape)
	}
	return nil
}

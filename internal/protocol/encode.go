package protocol

import (
	"fmt"
	"strings"

	"github.com/danmuck/candlewire/internal/protocol/array"
	"github.com/danmuck/candlewire/internal/protocol/codec"
	"github.com/danmuck/candlewire/internal/protocol/frame"
)

// statePayload is the wire form of a state update: [q, v|nil].
type statePayload struct {
	_msgpack struct{} `msgpack:",as_array"`

	Position array.Envelope  `msgpack:"q"`
	Velocity *array.Envelope `msgpack:"v"`
}

// EncodeCommand turns cmd into a frame ready for a channel.
func EncodeCommand(cmd Command) (frame.Frame, error) {
	if cmd == nil {
		return frame.Frame{}, fmt.Errorf("%w: nil command", ErrMalformedPayload)
	}
	payload, err := cmd.encodePayload()
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.New(cmd.Tag(), payload), nil
}

func (c SendModels) encodePayload() ([]byte, error) {
	return codec.Marshal([]string{c.ModelBlob, c.GeometryBlob})
}

func (c SendCameraPose) encodePayload() ([]byte, error) {
	return array.Encode(c.Pose)
}

func (ResetCamera) encodePayload() ([]byte, error) { return nil, nil }

func (Clean) encodePayload() ([]byte, error) { return nil, nil }

func (StopRecording) encodePayload() ([]byte, error) { return nil, nil }

func (c StartRecording) encodePayload() ([]byte, error) {
	if strings.TrimSpace(c.Filename) == "" {
		return nil, ErrEmptyFilename
	}
	return []byte(c.Filename), nil
}

func (c StateUpdate) encodePayload() ([]byte, error) {
	if err := c.Position.Validate(); err != nil {
		return nil, fmt.Errorf("position: %w", err)
	}
	p := statePayload{Position: c.Position.Canonical()}
	if c.Velocity != nil {
		if err := c.Velocity.Validate(); err != nil {
			return nil, fmt.Errorf("velocity: %w", err)
		}
		v := c.Velocity.Canonical()
		p.Velocity = &v
	}
	return codec.Marshal(p)
}

package frame

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Command tags. These are the stable wire contract: new commands get new
// tags, existing tags are never reused.
const (
	TagSendModels     = "send_models"
	TagStateUpdate    = "state_update"
	TagSendCamPose    = "send_cam_pose"
	TagResetCamera    = "reset_camera"
	TagClean          = "cmd_clean"
	TagStartRecording = "start_recording"
	TagStopRecording  = "stop_recording"
)

// PartCount is the number of transport parts in every framed message.
const PartCount = 2

var (
	ErrUnknownCommand  = errors.New("frame: unknown command")
	ErrPartCount       = errors.New("frame: wrong number of message parts")
	ErrEmptyTag        = errors.New("frame: empty tag")
	ErrTagTooLong      = errors.New("frame: tag too long")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

var controlTags = []string{
	TagSendModels,
	TagSendCamPose,
	TagResetCamera,
	TagClean,
	TagStartRecording,
	TagStopRecording,
}

var streamTags = []string{
	TagStateUpdate,
}

// UnknownCommandError carries the unrecognized tag.
type UnknownCommandError struct {
	Tag string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %s", e.Tag)
}

func (e *UnknownCommandError) Is(target error) bool {
	return target == ErrUnknownCommand
}

// Frame is one tagged message: [tag, payload] on the wire.
type Frame struct {
	Tag     string
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxTagBytes     int
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxTagBytes:     64,
		MaxPayloadBytes: 256 * 1024 * 1024,
	}
}

func New(tag string, payload []byte) Frame {
	return Frame{Tag: tag, Payload: payload}
}

// Parts returns the two transport parts without copying the payload.
func (f Frame) Parts() [][]byte {
	payload := f.Payload
	if payload == nil {
		payload = []byte{}
	}
	return [][]byte{[]byte(f.Tag), payload}
}

// Encode checks f against limits and returns its transport parts.
func Encode(f Frame, limits Limits) ([][]byte, error) {
	if err := checkTag(f.Tag, limits); err != nil {
		return nil, err
	}
	if len(f.Payload) > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}
	return f.Parts(), nil
}

// Decode splits transport parts into a frame. A tag outside the known set
// returns the frame together with an *UnknownCommandError so receivers can
// still answer with the offending tag.
func Decode(parts [][]byte, limits Limits) (Frame, error) {
	if len(parts) != PartCount {
		return Frame{}, fmt.Errorf("%w: got %d, want %d", ErrPartCount, len(parts), PartCount)
	}
	tag := string(parts[0])
	if err := checkTag(tag, limits); err != nil {
		return Frame{}, err
	}
	if len(parts[1]) > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(parts[1]))
	}
	f := Frame{Tag: tag, Payload: parts[1]}
	if !Known(tag) {
		return f, &UnknownCommandError{Tag: tag}
	}
	return f, nil
}

func checkTag(tag string, limits Limits) error {
	if strings.TrimSpace(tag) == "" {
		return ErrEmptyTag
	}
	if len(tag) > limits.MaxTagBytes {
		return fmt.Errorf("%w: %d bytes", ErrTagTooLong, len(tag))
	}
	return nil
}

// Known reports whether tag belongs to the wire contract.
func Known(tag string) bool {
	return IsControl(tag) || IsStream(tag)
}

// IsControl reports whether tag is carried on the request/reply channel.
func IsControl(tag string) bool {
	return slices.Contains(controlTags, tag)
}

// IsStream reports whether tag is carried on the streaming channel.
func IsStream(tag string) bool {
	return slices.Contains(streamTags, tag)
}

// Tags lists every known tag, control tags first.
func Tags() []string {
	return slices.Concat(controlTags, streamTags)
}

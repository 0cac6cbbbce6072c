package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/candlewire/internal/protocol/array"
	"github.com/danmuck/candlewire/internal/protocol/frame"
)

var (
	ErrMalformedEnvelope = array.ErrMalformedEnvelope
	ErrUnknownCommand    = frame.ErrUnknownCommand
	ErrCommandRejected   = errors.New("protocol: command rejected")
	ErrTimeout           = errors.New("protocol: reply timeout")
	ErrConnection        = errors.New("protocol: connection error")
	ErrMalformedPayload  = errors.New("protocol: malformed payload")
	ErrMalformedReply    = errors.New("protocol: malformed reply")
	ErrEmptyFilename     = errors.New("protocol: empty recording filename")
)

// RejectedError is a command the runtime understood and refused.
type RejectedError struct {
	Tag     string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("protocol: %s rejected: %s", e.Tag, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrCommandRejected
}

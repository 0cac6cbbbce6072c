package protocol

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/danmuck/candlewire/internal/protocol/frame"
)

const (
	replyOK          = "ok"
	replyErrorPrefix = "error: "
)

// Reply is the single-part answer to one control command.
type Reply struct {
	Tag  string
	Body []byte
}

// Err interprets a status reply: nil for "ok", *RejectedError for
// "error: ...", ErrMalformedReply for anything else.
func (r Reply) Err() error {
	if string(r.Body) == replyOK {
		return nil
	}
	if rejected := r.rejected(); rejected != nil {
		return rejected
	}
	return fmt.Errorf("%w: %s: %q", ErrMalformedReply, r.Tag, truncate(r.Body))
}

// Flag interprets a boolean reply. An empty body is false and a single
// 0x01 byte is true. Peers that test truthiness by body length would read
// a lone 0x00 as true, so that body is ambiguous and reported as
// ErrMalformedReply rather than guessed.
func (r Reply) Flag() (bool, error) {
	switch {
	case len(r.Body) == 0:
		return false, nil
	case bytes.Equal(r.Body, []byte{1}):
		return true, nil
	}
	if rejected := r.rejected(); rejected != nil {
		return false, rejected
	}
	return false, fmt.Errorf("%w: %s: %q", ErrMalformedReply, r.Tag, truncate(r.Body))
}

func (r Reply) rejected() error {
	body := string(r.Body)
	if !strings.HasPrefix(body, replyErrorPrefix) {
		return nil
	}
	return &RejectedError{Tag: r.Tag, Message: strings.TrimPrefix(body, replyErrorPrefix)}
}

// OKReply is the success status body.
func OKReply() []byte {
	return []byte(replyOK)
}

// ErrorReply builds an "error: <msg>" status body.
func ErrorReply(msg string) []byte {
	return []byte(replyErrorPrefix + msg)
}

// FlagReply builds a boolean reply body.
func FlagReply(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{}
}

func truncate(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// UnknownCommandReply is the reply for a tag the receiver does not know.
func UnknownCommandReply(tag string) []byte {
	return ErrorReply((&frame.UnknownCommandError{Tag: tag}).Error())
}

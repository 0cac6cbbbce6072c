package session

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"
)

// Handler answers one control request. parts are the frames after the
// routing envelope; the returned body is sent back as a single frame.
type Handler func(parts [][]byte) []byte

// Responder is the listening side of the control channel. It binds a
// ROUTER socket and splits each request at the first empty delimiter, so
// empty payload frames are never mistaken for routing envelope.
type Responder struct {
	sock   zmq4.Socket
	addr   string
	closed atomic.Bool
}

// ListenResponder binds a responder on endpoint. The socket lives until
// Close or until ctx is done.
func ListenResponder(ctx context.Context, endpoint string) (*Responder, error) {
	sock := zmq4.NewRouter(ctx)
	if err := sock.Listen(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("session: responder listen %s: %w", endpoint, err)
	}
	return &Responder{sock: sock, addr: endpoint}, nil
}

// Endpoint is the bound address, with the real port when listening on
// port 0.
func (r *Responder) Endpoint() string {
	addr := r.sock.Addr()
	if addr == nil {
		return r.addr
	}
	return addr.Network() + "://" + addr.String()
}

// Serve answers requests one at a time until ctx is done or the responder
// is closed. A request without a delimiter is dropped.
func (r *Responder) Serve(ctx context.Context, handle Handler) {
	for {
		msg, err := r.sock.Recv()
		if err != nil {
			if ctx.Err() != nil || r.closed.Load() {
				return
			}
			log.Debug().Err(err).Msg("session.responder recv failed")
			wait(ctx, 10*time.Millisecond)
			continue
		}
		envelope, body, ok := splitEnvelope(msg.Frames)
		if !ok {
			log.Warn().Msgf("session.responder dropped request parts=%d: no delimiter", len(msg.Frames))
			continue
		}
		reply := handle(body)
		parts := append(slices.Clone(envelope), []byte{}, reply)
		if err := r.sock.SendMulti(zmq4.NewMsgFrom(parts...)); err != nil {
			if ctx.Err() != nil || r.closed.Load() {
				return
			}
			log.Warn().Err(err).Msg("session.responder reply not delivered")
		}
	}
}

func (r *Responder) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.sock.Close()
}

// splitEnvelope separates ROUTER frames into [identity..., ""] and the
// request body. The first frame is always the peer identity.
func splitEnvelope(frames [][]byte) (envelope, body [][]byte, ok bool) {
	for i := 1; i < len(frames); i++ {
		if len(frames[i]) == 0 {
			return frames[:i], frames[i+1:], true
		}
	}
	return nil, nil, false
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/candlewire/internal/protocol"
	"github.com/danmuck/candlewire/internal/protocol/frame"
	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"
)

// ControlChannel is the synchronous request/reply channel. At most one
// request is outstanding; concurrent callers queue on sem.
//
// Callers waiting behind an in-flight call give up when their ctx ends.
// A round trip that times out, is cancelled, or fails at the transport
// closes the socket. The next call redials after the backoff delay, so an
// unanswered request can never be paired with a later reply.
type ControlChannel struct {
	cfg      Config
	endpoint string

	// sem is a one-slot lock that callers can abandon when ctx ends.
	sem      chan struct{}
	sock     zmq4.Socket
	closed   bool
	failures int
	retryAt  time.Time
	rng      *rand.Rand
}

// DialControl connects a REQ socket to endpoint.
func DialControl(ctx context.Context, endpoint string, cfg Config) (*ControlChannel, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sock, err := dialSocket(ctx, cfg, zmq4.NewReq, endpoint)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("endpoint", endpoint).Msg("session.control connected")
	return &ControlChannel{
		cfg:      cfg,
		endpoint: endpoint,
		sem:      make(chan struct{}, 1),
		sock:     sock,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *ControlChannel) Endpoint() string {
	return c.endpoint
}

// Call encodes cmd, sends it and waits for its reply. The reply body is
// returned uninterpreted; callers use Reply.Err or Reply.Flag.
func (c *ControlChannel) Call(ctx context.Context, cmd protocol.Command) (protocol.Reply, error) {
	f, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return protocol.Reply{}, err
	}
	if !frame.IsControl(f.Tag) {
		return protocol.Reply{}, fmt.Errorf("session: %s is not a control command", f.Tag)
	}
	return c.Roundtrip(ctx, f)
}

// Roundtrip sends an already built frame. Tags are not checked against the
// known set so peers can be sent arbitrary commands.
func (c *ControlChannel) Roundtrip(ctx context.Context, f frame.Frame) (protocol.Reply, error) {
	parts, err := frame.Encode(f, c.cfg.Limits)
	if err != nil {
		return protocol.Reply{}, err
	}

	if err := c.acquire(ctx, f.Tag); err != nil {
		return protocol.Reply{}, err
	}
	defer c.release()
	if c.closed {
		return protocol.Reply{}, ErrClosed
	}
	sock, err := c.ensureLocked(ctx)
	if err != nil {
		return protocol.Reply{}, err
	}

	type result struct {
		msg zmq4.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		if err := sock.SendMulti(zmq4.NewMsgFrom(parts...)); err != nil {
			done <- result{err: err}
			return
		}
		msg, err := sock.Recv()
		done <- result{msg: msg, err: err}
	}()

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			c.resetLocked("transport error")
			return protocol.Reply{}, fmt.Errorf("%w: %s: %v", protocol.ErrConnection, f.Tag, r.err)
		}
		c.failures = 0
		return replyFromMsg(f.Tag, r.msg)
	case <-timer.C:
		c.resetLocked("timeout")
		return protocol.Reply{}, fmt.Errorf("%w: %s: no reply after %s", protocol.ErrTimeout, f.Tag, c.cfg.CallTimeout)
	case <-ctx.Done():
		c.resetLocked("cancelled")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Reply{}, fmt.Errorf("%w: %s: %w", protocol.ErrTimeout, f.Tag, ctx.Err())
		}
		return protocol.Reply{}, fmt.Errorf("session: %s: %w", f.Tag, ctx.Err())
	}
}

// acquire waits for the in-flight call to finish. Giving up here never
// touches the socket: nothing was sent.
func (c *ControlChannel) acquire(ctx context.Context, tag string) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: waiting for in-flight call: %w", protocol.ErrTimeout, tag, ctx.Err())
		}
		return fmt.Errorf("session: %s: waiting for in-flight call: %w", tag, ctx.Err())
	}
}

func (c *ControlChannel) release() {
	<-c.sem
}

func replyFromMsg(tag string, msg zmq4.Msg) (protocol.Reply, error) {
	switch len(msg.Frames) {
	case 0:
		return protocol.Reply{Tag: tag, Body: []byte{}}, nil
	case 1:
		return protocol.Reply{Tag: tag, Body: msg.Frames[0]}, nil
	default:
		return protocol.Reply{}, fmt.Errorf("%w: %s: %d reply parts", protocol.ErrMalformedReply, tag, len(msg.Frames))
	}
}

// ensureLocked returns the live socket, redialing after a reset.
func (c *ControlChannel) ensureLocked(ctx context.Context) (zmq4.Socket, error) {
	if c.sock != nil {
		return c.sock, nil
	}
	if wait := time.Until(c.retryAt); wait > 0 {
		wait = min(wait, c.cfg.ConnectTimeout)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: redial %s: %w", protocol.ErrConnection, c.endpoint, ctx.Err())
		}
	}
	sock, err := dialSocket(ctx, c.cfg, zmq4.NewReq, c.endpoint)
	if err != nil {
		c.failures++
		c.retryAt = time.Now().Add(NextBackoffDelay(c.cfg.Backoff, c.failures, c.rng))
		log.Warn().Err(err).Int("attempt", c.failures).Str("endpoint", c.endpoint).Msg("session.control redial failed")
		return nil, err
	}
	log.Info().Str("endpoint", c.endpoint).Int("attempt", c.failures).Msg("session.control reconnected")
	c.sock = sock
	return sock, nil
}

func (c *ControlChannel) resetLocked(reason string) {
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.failures++
	c.retryAt = time.Now().Add(NextBackoffDelay(c.cfg.Backoff, c.failures, c.rng))
	log.Warn().Msgf("session.control reset endpoint=%q reason=%s attempt=%d", c.endpoint, reason, c.failures)
}

// Close releases the socket. It waits for an in-flight call at most
// CloseTimeout; after that the socket is left to the in-flight call, which
// observes the closed flag on return.
func (c *ControlChannel) Close() error {
	timer := time.NewTimer(c.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case c.sem <- struct{}{}:
	case <-timer.C:
		go func() {
			c.sem <- struct{}{}
			_ = c.closeLocked()
			c.release()
		}()
		return fmt.Errorf("session: control close: call still in flight after %s", c.cfg.CloseTimeout)
	}
	defer c.release()
	return c.closeLocked()
}

func (c *ControlChannel) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.sock == nil {
		return nil
	}
	err := c.sock.Close()
	c.sock = nil
	return err
}

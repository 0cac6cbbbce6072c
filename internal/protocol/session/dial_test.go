package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/candlewire/internal/protocol"
	"github.com/danmuck/candlewire/internal/testutil/testlog"
	"github.com/go-zeromq/zmq4"
)

// hangingDialer never reaches its peer; Dial returns only once the
// socket context is cancelled.
type hangingDialer struct {
	zmq4.Socket
	ctx      context.Context
	dialDone chan struct{}
	closed   atomic.Bool
}

func (h *hangingDialer) Dial(string) error {
	defer close(h.dialDone)
	<-h.ctx.Done()
	return h.ctx.Err()
}

func (h *hangingDialer) Close() error {
	h.closed.Store(true)
	return nil
}

func TestDialSocketStopsDialerOnTimeout(t *testing.T) {
	testlog.Start(t)
	var built *hangingDialer
	factory := func(ctx context.Context, _ ...zmq4.Option) zmq4.Socket {
		built = &hangingDialer{ctx: ctx, dialDone: make(chan struct{})}
		return built
	}
	cfg := testConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond

	if _, err := dialSocket(context.Background(), cfg, factory, "tcp://127.0.0.1:1"); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	select {
	case <-built.dialDone:
	case <-time.After(time.Second):
		t.Fatalf("dialer still running after timeout")
	}
	if !built.closed.Load() {
		t.Fatalf("socket not closed after timeout")
	}
}

func TestDialSocketStopsDialerOnCancel(t *testing.T) {
	testlog.Start(t)
	var built *hangingDialer
	factory := func(ctx context.Context, _ ...zmq4.Option) zmq4.Socket {
		built = &hangingDialer{ctx: ctx, dialDone: make(chan struct{})}
		return built
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := dialSocket(ctx, testConfig(), factory, "tcp://127.0.0.1:1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	select {
	case <-built.dialDone:
	case <-time.After(time.Second):
		t.Fatalf("dialer still running after cancel")
	}
}

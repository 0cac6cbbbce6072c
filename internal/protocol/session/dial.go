package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/candlewire/internal/protocol"
	"github.com/go-zeromq/zmq4"
)

// ErrClosed is returned by channel operations after Close.
var ErrClosed = errors.New("session: channel closed")

type socketFactory func(ctx context.Context, opts ...zmq4.Option) zmq4.Socket

// ownedSocket ties a socket to the context it was built with, so closing
// the socket also stops any dialer goroutine still retrying under it.
type ownedSocket struct {
	zmq4.Socket
	cancel context.CancelFunc
}

func (s *ownedSocket) Close() error {
	err := s.Socket.Close()
	s.cancel()
	return err
}

// dialSocket creates a socket and connects it to endpoint within
// cfg.ConnectTimeout. The socket lifetime is independent of ctx; ctx only
// bounds the dial. On every failure path the socket context is cancelled
// before returning.
func dialSocket(ctx context.Context, cfg Config, factory socketFactory, endpoint string, opts ...zmq4.Option) (zmq4.Socket, error) {
	retries := int(cfg.ConnectTimeout / cfg.DialRetry)
	if retries < 1 {
		retries = 1
	}
	opts = append([]zmq4.Option{
		zmq4.WithDialerRetry(cfg.DialRetry),
		zmq4.WithDialerMaxRetries(retries),
	}, opts...)
	sockCtx, cancel := context.WithCancel(context.Background())
	sock := factory(sockCtx, opts...)
	abandon := func() {
		cancel()
		_ = sock.Close()
	}

	errc := make(chan error, 1)
	go func() {
		errc <- sock.Dial(endpoint)
	}()

	timer := time.NewTimer(cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		if err != nil {
			abandon()
			return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrConnection, endpoint, err)
		}
		return &ownedSocket{Socket: sock, cancel: cancel}, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("%w: dial %s: no peer after %s", protocol.ErrConnection, endpoint, cfg.ConnectTimeout)
	case <-ctx.Done():
		abandon()
		return nil, fmt.Errorf("%w: dial %s: %w", protocol.ErrConnection, endpoint, ctx.Err())
	}
}

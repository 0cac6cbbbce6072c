package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/candlewire/internal/protocol"
	"github.com/danmuck/candlewire/internal/protocol/frame"
	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"
)

// sender is the part of a zmq4 socket the stream writer uses.
type sender interface {
	SendMulti(msg zmq4.Msg) error
	Close() error
}

// StreamStats counts stream traffic since the channel was opened.
type StreamStats struct {
	// Published counts frames accepted by Publish.
	Published uint64
	// Sent counts frames handed to the socket.
	Sent uint64
	// Dropped counts frames evicted from the queue before sending.
	Dropped uint64
	// Failed counts socket sends that returned an error.
	Failed uint64
	Queued int
}

// StreamChannel is the lossy one-way state channel. Publish only enqueues;
// a single writer goroutine owns the socket.
type StreamChannel struct {
	cfg      Config
	endpoint string
	sock     sender
	queue    *FrameQueue

	published atomic.Uint64
	sent      atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// DialStream connects a PUSH (default) or PUB socket to endpoint and starts
// the writer.
func DialStream(ctx context.Context, endpoint string, cfg Config) (*StreamChannel, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factory := zmq4.NewPush
	if cfg.StreamPattern == StreamPub {
		factory = zmq4.NewPub
	}
	sock, err := dialSocket(ctx, cfg, factory, endpoint, zmq4.WithTimeout(cfg.SendTimeout))
	if err != nil {
		return nil, err
	}
	log.Debug().Str("endpoint", endpoint).Str("pattern", cfg.StreamPattern).Msg("session.stream connected")
	return newStreamChannel(cfg, endpoint, sock), nil
}

func newStreamChannel(cfg Config, endpoint string, sock sender) *StreamChannel {
	s := &StreamChannel{
		cfg:      cfg,
		endpoint: endpoint,
		sock:     sock,
		queue:    NewFrameQueue(cfg.StreamQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *StreamChannel) Endpoint() string {
	return s.endpoint
}

// Publish encodes cmd and queues it for sending. It never waits on the
// peer. When the queue is full the oldest queued frame is dropped. Errors
// are local only: encoding failures, non-stream commands, or a closed
// channel.
func (s *StreamChannel) Publish(cmd protocol.Command) error {
	f, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if !frame.IsStream(f.Tag) {
		return fmt.Errorf("session: %s is not a stream command", f.Tag)
	}
	return s.PublishFrame(f)
}

// PublishFrame queues an already built frame.
func (s *StreamChannel) PublishFrame(f frame.Frame) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := frame.Encode(f, s.cfg.Limits); err != nil {
		return err
	}
	s.published.Add(1)
	if s.queue.Push(f) {
		log.Debug().Str("tag", f.Tag).Msg("session.stream dropped oldest frame")
	}
	return nil
}

func (s *StreamChannel) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.queue.Ready():
		}
		for {
			select {
			case <-s.stop:
				return
			default:
			}
			f, ok := s.queue.Pop()
			if !ok {
				break
			}
			if err := s.sock.SendMulti(zmq4.NewMsgFrom(f.Parts()...)); err != nil {
				s.failed.Add(1)
				log.Debug().Err(err).Str("tag", f.Tag).Msg("session.stream send failed")
				continue
			}
			s.sent.Add(1)
		}
	}
}

func (s *StreamChannel) Stats() StreamStats {
	return StreamStats{
		Published: s.published.Load(),
		Sent:      s.sent.Load(),
		Dropped:   s.queue.Dropped(),
		Failed:    s.failed.Load(),
		Queued:    s.queue.Len(),
	}
}

// Close stops the writer and closes the socket. Queued frames are
// discarded. It returns within CloseTimeout even if the writer is stuck in
// a send.
func (s *StreamChannel) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		s.closeErr = s.sock.Close()
		discarded := s.queue.Reset()

		timer := time.NewTimer(s.cfg.CloseTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			log.Warn().Msgf("session.stream close endpoint=%q writer still busy after %s", s.endpoint, s.cfg.CloseTimeout)
		}
		if discarded > 0 {
			log.Debug().Int("discarded", discarded).Str("endpoint", s.endpoint).Msg("session.stream closed with queued frames")
		}
	})
	return s.closeErr
}

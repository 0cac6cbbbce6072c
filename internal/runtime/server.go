package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/candlewire/internal/protocol/frame"
	"github.com/danmuck/candlewire/internal/protocol/session"
	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"
)

const (
	DefaultControlPort = 12000
	// DefaultStreamPort is control + 2.
	DefaultStreamPort = DefaultControlPort + 2
)

// Config defines runtime listener settings.
type Config struct {
	ControlAddr      string
	StreamAddr       string
	StreamPattern    string
	FrameRate        float64
	AdminAddr        string
	AdminCORSOrigins []string
	// AdminToken, when set, is required as a bearer token on /status and
	// /metrics.
	AdminToken string
	Limits     frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ControlAddr:   session.Endpoint("0.0.0.0", DefaultControlPort),
		StreamAddr:    session.Endpoint("0.0.0.0", DefaultStreamPort),
		StreamPattern: session.StreamPush,
		FrameRate:     60,
		Limits:        frame.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.ControlAddr) == "" {
		c.ControlAddr = d.ControlAddr
	}
	if strings.TrimSpace(c.StreamAddr) == "" {
		c.StreamAddr = d.StreamAddr
	}
	c.StreamPattern = strings.ToLower(strings.TrimSpace(c.StreamPattern))
	if c.StreamPattern == "" {
		c.StreamPattern = d.StreamPattern
	}
	if c.FrameRate <= 0 {
		c.FrameRate = d.FrameRate
	}
	if c.Limits.MaxTagBytes <= 0 || c.Limits.MaxPayloadBytes <= 0 {
		c.Limits = d.Limits
	}
	return c
}

var ErrAlreadyStarted = errors.New("runtime: server already started")

// Server binds the runtime sockets and runs the control, stream and render
// loops around a Dispatcher.
type Server struct {
	cfg        Config
	dispatcher *Dispatcher
	started    time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	control *session.Responder
	stream  zmq4.Socket
	admin   *http.Server
	wg      sync.WaitGroup
	closed  bool
}

func NewServer(cfg Config, renderer Renderer) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:        cfg,
		dispatcher: NewDispatcher(renderer, cfg.Limits),
	}
}

func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Start binds all listeners and starts the loops. It returns once the
// sockets are bound; use Close to stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	if s.cfg.StreamPattern != session.StreamPush && s.cfg.StreamPattern != session.StreamPub {
		return fmt.Errorf("runtime: invalid stream pattern %q", s.cfg.StreamPattern)
	}

	ctx, cancel := context.WithCancel(ctx)
	control, err := session.ListenResponder(ctx, s.cfg.ControlAddr)
	if err != nil {
		cancel()
		return fmt.Errorf("runtime: control: %w", err)
	}

	var stream zmq4.Socket
	if s.cfg.StreamPattern == session.StreamPub {
		stream = zmq4.NewSub(ctx)
	} else {
		stream = zmq4.NewPull(ctx)
	}
	if err := stream.Listen(s.cfg.StreamAddr); err != nil {
		cancel()
		_ = control.Close()
		_ = stream.Close()
		return fmt.Errorf("runtime: stream listen %s: %w", s.cfg.StreamAddr, err)
	}
	if s.cfg.StreamPattern == session.StreamPub {
		if err := stream.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			cancel()
			_ = control.Close()
			_ = stream.Close()
			return fmt.Errorf("runtime: subscribe: %w", err)
		}
	}

	s.cancel = cancel
	s.control = control
	s.stream = stream
	s.started = time.Now()

	s.wg.Add(3)
	go s.controlLoop(ctx)
	go s.streamLoop(ctx)
	go s.renderLoop(ctx)

	if strings.TrimSpace(s.cfg.AdminAddr) != "" {
		s.admin = &http.Server{
			Addr:              s.cfg.AdminAddr,
			Handler:           s.AdminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Msgf("runtime.admin listening addr=%q", s.cfg.AdminAddr)
			if err := s.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("runtime.admin stopped")
			}
		}()
	}

	log.Info().Msgf(
		"runtime.Server.Start control=%q stream=%q pattern=%s fps=%.0f",
		s.ControlEndpoint(),
		s.StreamEndpoint(),
		s.cfg.StreamPattern,
		s.cfg.FrameRate,
	)
	return nil
}

// Run starts the server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info().Msg("runtime.Server.Run shutdown")
	return s.Close()
}

// ControlEndpoint is the bound control address, with the real port when
// listening on port 0.
func (s *Server) ControlEndpoint() string {
	if s.control == nil {
		return s.cfg.ControlAddr
	}
	return s.control.Endpoint()
}

func (s *Server) StreamEndpoint() string {
	return boundEndpoint(s.stream, s.cfg.StreamAddr)
}

func boundEndpoint(sock zmq4.Socket, fallback string) string {
	if sock == nil || sock.Addr() == nil {
		return fallback
	}
	addr := sock.Addr()
	return addr.Network() + "://" + addr.String()
}

func (s *Server) controlLoop(ctx context.Context) {
	defer s.wg.Done()
	s.control.Serve(ctx, s.dispatcher.HandleControl)
}

func (s *Server) streamLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		msg, err := s.stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug().Err(err).Msg("runtime.stream recv")
			pause(ctx)
			continue
		}
		if err := s.dispatcher.HandleStream(msg.Frames); err != nil {
			log.Trace().Err(err).Msg("runtime.stream dropped state")
		}
	}
}

func (s *Server) renderLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.FrameRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.dispatcher.RenderLatest(); err != nil {
				log.Debug().Err(err).Msg("runtime.render frame failed")
			}
		}
	}
}

func pause(ctx context.Context) {
	t := time.NewTimer(10 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Close stops the loops, finalizes any active recording and releases the
// sockets.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cancel == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	s.cancel()

	var errs []error
	if s.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, s.admin.Shutdown(ctx))
		cancel()
	}
	errs = append(errs, s.control.Close(), s.stream.Close())
	s.wg.Wait()
	errs = append(errs, s.dispatcher.Shutdown())
	log.Info().Msgf("runtime.Server.Close uptime=%s", time.Since(s.started).Round(time.Millisecond))
	return errors.Join(errs...)
}

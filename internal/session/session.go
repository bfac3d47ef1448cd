package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/transport"
)

// TransportFactory builds a transport for one connection attempt. The
// session discards the transport on failure and builds a fresh one per
// attempt.
type TransportFactory func(cfg transport.Config, logger *slog.Logger) transport.Client

// Session converts a flaky transport into a logically always-reconnecting
// channel. Messages() stays valid across reconnects.
type Session struct {
	cfg     Config
	factory TransportFactory
	logger  *slog.Logger

	mu     sync.RWMutex
	state  State
	client transport.Client

	events   chan Event
	messages chan transport.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithTransportFactory overrides how transports are built (used in tests).
func WithTransportFactory(f TransportFactory) Option {
	return func(s *Session) {
		s.factory = f
	}
}

// New creates a Session.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultConfig().EventBufferSize
	}

	s := &Session{
		cfg:      cfg,
		factory:  transport.NewClient,
		logger:   logger,
		state:    StateDisconnected,
		events:   make(chan Event, cfg.EventBufferSize),
		messages: make(chan transport.Message, cfg.Transport.BufferSize),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins connecting. Calling Start while already connecting or
// connected is a no-op; calling it after Stop returns ErrClosed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateClosing:
		s.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	return nil
}

// Stop closes the transport and stops the reconnection loop. Idempotent.
// Consumers' desired-subscription state is untouched; a later Start on a
// fresh session resumes from it.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.emit(Event{Type: EventClosed})
	close(s.events)
	close(s.messages)

	s.logger.Info("session stopped")
}

// Send delegates to the transport when connected.
func (s *Session) Send(data []byte) error {
	s.mu.RLock()
	client := s.client
	connected := s.state == StateConnected
	s.mu.RUnlock()

	if !connected || client == nil {
		return ErrNotConnected
	}
	return client.Send(data)
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether sends are currently permitted.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Events returns the session lifecycle event stream.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Messages returns inbound frames. The channel survives reconnects and is
// closed only by Stop.
func (s *Session) Messages() <-chan transport.Message {
	return s.messages
}

// run is the connect/pump/backoff loop.
func (s *Session) run() {
	defer s.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectBaseDelay
	b.MaxInterval = s.cfg.ReconnectMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	attempt := 0
	everConnected := false

	for {
		if s.ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)

		client := s.factory(s.cfg.Transport, s.logger)
		if err := client.Connect(s.ctx); err != nil {
			attempt++
			s.logger.Warn("connect failed",
				"attempt", attempt,
				"max_attempts", s.cfg.MaxReconnectAttempts,
				"error", err,
			)
			s.emit(Event{Type: EventDisconnected, Err: err, Attempt: attempt})

			if attempt >= s.cfg.MaxReconnectAttempts {
				s.setState(StateError)
				s.emit(Event{Type: EventExhausted, Err: err, Attempt: attempt})
				s.logger.Error("reconnect budget exhausted", "attempts", attempt)
				return
			}

			wait := b.NextBackOff()
			s.logger.Info("waiting before reconnect", "delay", wait)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		s.mu.Lock()
		s.client = client
		s.state = StateConnected
		s.mu.Unlock()

		attempt = 0
		b.Reset()

		if everConnected {
			s.logger.Info("session reconnected")
			s.emitSync(Event{Type: EventReconnected})
		} else {
			everConnected = true
			s.logger.Info("session ready")
			s.emitSync(Event{Type: EventReady})
		}

		err := s.pump(client)
		client.Close()

		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}

		s.setState(StateDisconnected)
		s.logger.Warn("connection lost", "error", err)
		s.emit(Event{Type: EventDisconnected, Err: err})
	}
}

// pump forwards frames from one transport into the session channel until
// the transport fails or the session is stopped.
func (s *Session) pump(client transport.Client) error {
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()

		case err := <-client.Errors():
			// Frames read before the failure are already buffered;
			// deliver them before surfacing the error.
			for {
				select {
				case msg, ok := <-client.Messages():
					if !ok {
						return err
					}
					select {
					case s.messages <- msg:
					case <-s.ctx.Done():
						return s.ctx.Err()
					}
				default:
					return err
				}
			}

		case msg, ok := <-client.Messages():
			if !ok {
				return transport.ErrNotConnected
			}
			select {
			case s.messages <- msg:
			case <-s.ctx.Done():
				return s.ctx.Err()
			}
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	// Closing/Closed are terminal for the run loop.
	if s.state != StateClosing && s.state != StateClosed {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event buffer full, dropping event", "type", ev.Type)
	}
}

// emitSync waits until the event is consumed or the session stops. Ready
// and Reconnected drive subscription replay downstream and must not be
// dropped, even when the consumer is mid-dispatch on a message backlog.
func (s *Session) emitSync(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

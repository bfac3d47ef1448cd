package subs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/session"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/transport"
)

// Router is the single dispatch loop. It consumes session events and
// inbound frames from one queue each: on Ready/Reconnected it replays the
// registry's desired subscriptions, and every frame is dispatched in the
// order the transport received it.
type Router struct {
	registry *Registry
	events   <-chan session.Event
	messages <-chan transport.Message
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouter creates a Router reading from the given session channels.
func NewRouter(registry *Registry, events <-chan session.Event, messages <-chan transport.Message, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		registry: registry,
		events:   events,
		messages: messages,
		logger:   logger,
	}
}

// Start begins the dispatch loop.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.loop()

	r.logger.Info("router started")
	return nil
}

// Stop shuts down the dispatch loop.
func (r *Router) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("router stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("router stop timed out")
		return ctx.Err()
	}
}

func (r *Router) loop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return

		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.handleEvent(ev)

		case msg, ok := <-r.messages:
			if !ok {
				return
			}
			r.registry.dispatch(msg.Data)
		}
	}
}

func (r *Router) handleEvent(ev session.Event) {
	switch ev.Type {
	case session.EventReady, session.EventReconnected:
		r.registry.replay()

	case session.EventDisconnected:
		r.logger.Warn("session disconnected",
			"attempt", ev.Attempt,
			"error", ev.Err,
		)

	case session.EventExhausted:
		r.logger.Error("session gave up reconnecting", "error", ev.Err)

	case session.EventClosed:
		r.logger.Info("session closed")
	}
}

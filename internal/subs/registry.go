package subs

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

// Registry holds the desired subscription set and routes inbound envelopes
// to callbacks. All map mutation happens under one lock, shared by the
// application-facing Subscribe/Unsubscribe calls and the replay path, so a
// replay always completes before a newly requested subscribe hits the wire.
type Registry struct {
	cfg    Config
	sender Sender
	token  TokenSource
	logger *slog.Logger

	mu    sync.Mutex
	recs  map[Key]*record
	order []Key // insertion order, drives replay

	errorCbs   []Callback
	defaultCbs []Callback

	stats Stats
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config, sender Sender, token TokenSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		cfg:    cfg,
		sender: sender,
		token:  token,
		logger: logger,
		recs:   make(map[Key]*record),
	}
}

// Subscribe registers a callback for (channel, trKey). The first call for a
// key creates the record and, if the session is connected, sends the
// subscribe request; subsequent calls only append the callback. The same
// callback registered twice is deduplicated.
func (r *Registry) Subscribe(channel, trKey string, cb Callback) error {
	key := Key{Channel: channel, TrKey: trKey}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.recs[key]; ok {
		if !containsCallback(rec.callbacks, cb) {
			rec.callbacks = append(rec.callbacks, cb)
		}
		return nil
	}

	if len(r.recs) >= r.cfg.MaxSubscriptions {
		return fmt.Errorf("subscribe %s: %w", key, ErrTooManySubscriptions)
	}

	rec := &record{
		key:          key,
		payload:      protocol.SubscribeRequest(r.token(), channel, trKey),
		callbacks:    []Callback{cb},
		subscribedAt: time.Now(),
	}
	r.recs[key] = rec
	r.order = append(r.order, key)

	if !r.sender.IsConnected() {
		// The record is desired state; it goes on the wire at the next
		// Ready/Reconnected replay.
		r.logger.Debug("subscribe deferred until connected", "key", key.String())
		return nil
	}

	if err := r.sender.Send(rec.payload); err != nil {
		// Desired state is kept so a reconnect replay retries it.
		return fmt.Errorf("subscribe %s: %w", key, err)
	}

	r.logger.Info("subscribed", "key", key.String())
	return nil
}

// Unsubscribe removes callbacks for (channel, trKey). With callbacks given,
// only those are removed, and the record stays alive while any remain.
// With none given, or once the last callback is gone, the record is deleted
// and an unsubscribe request is sent best-effort.
func (r *Registry) Unsubscribe(channel, trKey string, cbs ...Callback) error {
	key := Key{Channel: channel, TrKey: trKey}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.recs[key]
	if !ok {
		return fmt.Errorf("unsubscribe %s: %w", key, ErrNotSubscribed)
	}

	if len(cbs) > 0 {
		for _, cb := range cbs {
			rec.callbacks = removeCallback(rec.callbacks, cb)
		}
		if len(rec.callbacks) > 0 {
			return nil
		}
	}

	delete(r.recs, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	// Best-effort: the record is gone from desired state regardless, so a
	// failed send only means the broker keeps streaming until reconnect.
	if r.sender.IsConnected() {
		payload := protocol.UnsubscribeRequest(r.token(), channel, trKey)
		if err := r.sender.Send(payload); err != nil {
			r.logger.Warn("unsubscribe send failed", "key", key.String(), "error", err)
		}
	}

	r.logger.Info("unsubscribed", "key", key.String())
	return nil
}

// OnError registers a callback for envelope-level error responses.
func (r *Registry) OnError(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorCbs = append(r.errorCbs, cb)
}

// OnDefault registers a catch-all callback for messages with no matching
// subscription.
func (r *Registry) OnDefault(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultCbs = append(r.defaultCbs, cb)
}

// IsConnected reports whether the underlying session is connected.
func (r *Registry) IsConnected() bool {
	return r.sender.IsConnected()
}

// Keys returns the desired subscription keys in registration order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Key, len(r.order))
	copy(out, r.order)
	return out
}

// Stats returns router counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// replay re-sends every desired subscription in registration order. A
// failure for one key is logged and does not block the rest.
func (r *Registry) replay() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("replaying subscriptions", "count", len(r.order))

	for _, key := range r.order {
		rec := r.recs[key]
		if err := r.sender.Send(rec.payload); err != nil {
			r.logger.Warn("replay failed", "key", key.String(), "error", err)
		}
	}
}

// dispatch routes one inbound frame to its subscribers. Called from the
// router loop only.
func (r *Registry) dispatch(data []byte) {
	r.mu.Lock()
	r.stats.MessagesReceived++
	r.mu.Unlock()

	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		r.logger.Warn("malformed envelope dropped", "error", err)
		r.mu.Lock()
		r.stats.ParseErrors++
		r.mu.Unlock()
		return
	}

	if env.IsError() {
		r.logger.Warn("broker error response",
			"rsp_cd", env.Header.RspCd,
			"rsp_msg", env.Header.RspMsg,
			"tr_cd", env.Header.TrCd,
		)
		r.mu.Lock()
		cbs := append([]Callback(nil), r.errorCbs...)
		r.stats.ErrorsRouted++
		r.mu.Unlock()
		r.invoke(cbs, env, "error")
		return
	}

	channel := env.Channel()
	trKey := env.RoutingKey()

	r.mu.Lock()
	cbs := r.lookupLocked(channel, trKey)
	if cbs != nil {
		r.stats.Dispatched++
	} else {
		cbs = append([]Callback(nil), r.defaultCbs...)
		r.stats.Unrouted++
	}
	r.mu.Unlock()

	if len(cbs) == 0 {
		r.logger.Debug("no handler for message", "tr_cd", channel, "tr_key", trKey)
		return
	}

	r.invoke(cbs, env, Key{Channel: channel, TrKey: trKey}.String())
}

// lookupLocked resolves callbacks for a message: exact key first, then the
// channel's all-symbols subscription. Returns nil when neither exists.
func (r *Registry) lookupLocked(channel, trKey string) []Callback {
	now := time.Now()

	if rec, ok := r.recs[Key{Channel: channel, TrKey: trKey}]; ok {
		rec.lastDeliveredAt = now
		return append([]Callback(nil), rec.callbacks...)
	}

	if trKey != protocol.AllSymbols {
		if rec, ok := r.recs[Key{Channel: channel, TrKey: protocol.AllSymbols}]; ok {
			rec.lastDeliveredAt = now
			return append([]Callback(nil), rec.callbacks...)
		}
	}

	return nil
}

// invoke runs callbacks in registration order, containing panics so one
// misbehaving handler cannot stall dispatch for the rest.
func (r *Registry) invoke(cbs []Callback, env *protocol.Envelope, key string) {
	for _, cb := range cbs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("callback panicked",
						"key", key,
						"panic", rec,
					)
				}
			}()
			cb(env)
		}()
	}
}

func containsCallback(cbs []Callback, cb Callback) bool {
	p := reflect.ValueOf(cb).Pointer()
	for _, c := range cbs {
		if reflect.ValueOf(c).Pointer() == p {
			return true
		}
	}
	return false
}

func removeCallback(cbs []Callback, cb Callback) []Callback {
	p := reflect.ValueOf(cb).Pointer()
	out := cbs[:0]
	for _, c := range cbs {
		if reflect.ValueOf(c).Pointer() != p {
			out = append(out, c)
		}
	}
	return out
}

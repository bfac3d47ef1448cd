package vi

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

// Controller drives the VI subscription cascade. It owns the all-symbols
// VI_ subscription, tracks per-symbol VI state, and schedules the delayed
// unsubscribe that follows each release.
type Controller struct {
	cfg      Config
	subs     Subscriber
	lookup   MarketLookup
	observer Observer
	logger   *slog.Logger

	mu      sync.Mutex
	states  map[string]*symbolState
	pending *pendingHeap
	wake    chan struct{}

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Controller. lookup may be nil, in which case every symbol
// is treated as unknown and no trade subscriptions are derived.
func New(cfg Config, subs Subscriber, lookup MarketLookup, observer Observer, logger *slog.Logger) *Controller {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultConfig().GracePeriod
	}
	if lookup == nil {
		lookup = func(string) (protocol.Market, bool) { return "", false }
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		cfg:      cfg,
		subs:     subs,
		lookup:   lookup,
		observer: observer,
		logger:   logger,
		states:   make(map[string]*symbolState),
		pending:  newPendingHeap(),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Start subscribes the VI channel for all symbols and launches the expiry
// loop.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.subs.Subscribe(protocol.ChannelVI, protocol.AllSymbols, c.handleVI); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.expiryLoop()

	c.logger.Info("vi controller started", "grace_period", c.cfg.GracePeriod)
	return nil
}

// Stop halts the expiry loop. Subscriptions already in the registry are
// left as-is so a later restart resumes from the same desired state.
func (c *Controller) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("vi controller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveSymbols returns the symbols currently under VI, released symbols in
// their grace period included.
func (c *Controller) ActiveSymbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	symbols := make([]string, 0, len(c.states))
	for symbol := range c.states {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// Snapshots returns the tracked symbol states for health reporting.
func (c *Controller) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, 0, len(c.states))
	for _, st := range c.states {
		out = append(out, Snapshot{
			Symbol:      st.symbol,
			Market:      st.market,
			Kind:        st.event.KindLabel(),
			ActivatedAt: st.activatedAt,
			ReleasedAt:  st.releasedAt,
			Released:    st.released,
		})
	}
	return out
}

// handleVI is the callback registered on the VI_ channel.
func (c *Controller) handleVI(env *protocol.Envelope) {
	ev, err := protocol.ParseVIEvent(env.Body)
	if err != nil {
		c.logger.Warn("dropping malformed vi event", "error", err)
		return
	}

	symbol := ev.Symbol
	if symbol == "" {
		symbol = ev.RefSymbol
	}

	if ev.Activated() {
		c.activate(symbol, ev)
	} else {
		c.release(symbol, ev)
	}
}

func (c *Controller) activate(symbol string, ev *protocol.VIEvent) {
	c.mu.Lock()

	st, exists := c.states[symbol]
	if exists && !st.released {
		// Duplicate activation, refresh the event and move on.
		st.event = ev
		c.mu.Unlock()
		c.logger.Debug("duplicate vi activation", "symbol", symbol, "kind", ev.KindLabel())
		return
	}

	if exists {
		// Reactivation during the grace period. The trade subscription is
		// still live; just invalidate the pending unsubscribe.
		st.gen++
		st.event = ev
		st.activatedAt = c.now()
		st.released = false
		st.releasedAt = time.Time{}
		market := st.market
		c.mu.Unlock()

		c.logger.Info("vi reactivated within grace period",
			"symbol", symbol,
			"kind", ev.KindLabel(),
		)
		c.observer.OnActivated(ev, market)
		return
	}

	market, known := c.lookup(symbol)
	st = &symbolState{
		symbol:      symbol,
		market:      market,
		known:       known,
		event:       ev,
		activatedAt: c.now(),
	}
	c.states[symbol] = st
	c.mu.Unlock()

	c.logger.Info("vi activated",
		"symbol", symbol,
		"kind", ev.KindLabel(),
		"market", market,
		"trigger_price", ev.TriggerPrice,
	)

	if known {
		if err := c.subs.Subscribe(market.TradeChannel(), symbol, c.handleTrade); err != nil {
			c.logger.Error("failed to subscribe trade channel",
				"symbol", symbol,
				"channel", market.TradeChannel(),
				"error", err,
			)
		}
	} else {
		c.logger.Warn("unknown market for vi symbol, skipping trade subscription",
			"symbol", symbol,
		)
	}

	c.observer.OnActivated(ev, market)
}

func (c *Controller) release(symbol string, ev *protocol.VIEvent) {
	c.mu.Lock()

	st, exists := c.states[symbol]
	if !exists {
		c.mu.Unlock()
		c.logger.Debug("vi release for untracked symbol", "symbol", symbol)
		return
	}
	if st.released {
		c.mu.Unlock()
		c.logger.Debug("duplicate vi release", "symbol", symbol)
		return
	}

	now := c.now()
	st.released = true
	st.releasedAt = now
	st.gen++
	activeFor := now.Sub(st.activatedAt)

	deadline := now.Add(c.cfg.GracePeriod)
	heap.Push(c.pending, pendingEntry{symbol: symbol, deadline: deadline, gen: st.gen})
	c.mu.Unlock()

	c.signalWake()

	c.logger.Info("vi released",
		"symbol", symbol,
		"active_for", activeFor,
		"unsubscribe_at", deadline.Format(time.TimeOnly),
	)

	c.observer.OnReleased(ev, activeFor)
}

// handleTrade is the callback registered on each derived trade channel.
func (c *Controller) handleTrade(env *protocol.Envelope) {
	tick, err := protocol.ParseTradeTick(env.Body)
	if err != nil {
		c.logger.Warn("dropping malformed trade tick", "error", err)
		return
	}

	c.mu.Lock()
	st, tracked := c.states[tick.Symbol]
	var market protocol.Market
	if tracked {
		market = st.market
	}
	c.mu.Unlock()

	if !tracked {
		// Tick raced the unsubscribe. Drop it.
		return
	}

	c.observer.OnTrade(tick, market)
}

func (c *Controller) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// expiryLoop pops pending unsubscribes as their deadlines pass. A single
// timer tracks the nearest deadline; scheduling a new entry wakes the loop
// so the timer can be re-armed.
func (c *Controller) expiryLoop() {
	defer c.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		c.expireDue()

		c.mu.Lock()
		var wait time.Duration
		armed := c.pending.Len() > 0
		if armed {
			wait = time.Until(c.pending.peek().deadline)
		}
		c.mu.Unlock()

		if armed {
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
			select {
			case <-c.ctx.Done():
				return
			case <-timer.C:
			case <-c.wake:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}
		} else {
			select {
			case <-c.ctx.Done():
				return
			case <-c.wake:
			}
		}
	}
}

// expireDue tears down every pending entry whose deadline has passed,
// skipping entries invalidated by a reactivation.
func (c *Controller) expireDue() {
	now := c.now()

	for {
		c.mu.Lock()
		if c.pending.Len() == 0 || c.pending.peek().deadline.After(now) {
			c.mu.Unlock()
			return
		}
		entry := heap.Pop(c.pending).(pendingEntry)

		st, exists := c.states[entry.symbol]
		if !exists || st.gen != entry.gen || !st.released {
			c.mu.Unlock()
			continue
		}
		delete(c.states, entry.symbol)
		market := st.market
		known := st.known
		c.mu.Unlock()

		if known {
			if err := c.subs.Unsubscribe(market.TradeChannel(), entry.symbol, c.handleTrade); err != nil {
				c.logger.Warn("failed to unsubscribe trade channel",
					"symbol", entry.symbol,
					"channel", market.TradeChannel(),
					"error", err,
				)
			}
		}

		c.logger.Info("vi watch expired", "symbol", entry.symbol)
	}
}

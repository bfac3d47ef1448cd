package market

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

// MasterSource fetches the symbol master. *api.Client satisfies it.
type MasterSource interface {
	MarketMap(ctx context.Context) (map[string]protocol.Market, error)
}

// registryImpl implements the Registry interface.
type registryImpl struct {
	cfg    Config
	source MasterSource
	logger *slog.Logger

	mu         sync.RWMutex
	markets    map[string]protocol.Market
	lastSyncAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a symbol master registry.
func NewRegistry(cfg Config, source MasterSource, logger *slog.Logger) Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &registryImpl{
		cfg:     cfg,
		source:  source,
		logger:  logger,
		markets: make(map[string]protocol.Market),
	}
}

// Start loads the master (blocking) and begins background resync.
func (r *registryImpl) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	loadCtx, loadCancel := context.WithTimeout(r.ctx, r.cfg.InitialLoadTimeout)
	defer loadCancel()

	if err := r.sync(loadCtx); err != nil {
		r.cancel()
		return err
	}

	r.wg.Add(1)
	go r.resyncLoop()

	r.logger.Info("symbol master loaded",
		"symbols", r.Count(),
		"resync_interval", r.cfg.ResyncInterval,
	)
	return nil
}

// Stop gracefully shuts down.
func (r *registryImpl) Stop(ctx context.Context) error {
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
		r.logger.Info("symbol master stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetMarket returns the listing venue of a symbol.
func (r *registryImpl) GetMarket(symbol string) (protocol.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	market, ok := r.markets[symbol]
	return market, ok
}

// Count returns the number of classified symbols.
func (r *registryImpl) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// LastSyncAt returns when the master was last refreshed.
func (r *registryImpl) LastSyncAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSyncAt
}

// sync refetches the master and swaps the map wholesale.
func (r *registryImpl) sync(ctx context.Context) error {
	start := time.Now()

	markets, err := r.source.MarketMap(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	prev := len(r.markets)
	r.markets = markets
	r.lastSyncAt = time.Now()
	r.mu.Unlock()

	r.logger.Debug("symbol master synced",
		"symbols", len(markets),
		"previous", prev,
		"duration", time.Since(start),
	)
	return nil
}

// resyncLoop refreshes the master periodically. A failed resync keeps the
// previous map; stale is better than empty.
func (r *registryImpl) resyncLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.sync(r.ctx); err != nil {
				r.logger.Warn("symbol master resync failed", "error", err)
			}
		}
	}
}

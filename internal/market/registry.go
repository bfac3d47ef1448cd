package market

import (
	"context"
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

// Registry resolves short codes to listing venues.
type Registry interface {
	// Start performs the initial master load (blocking) and begins
	// background resync.
	Start(ctx context.Context) error

	// Stop gracefully shuts down.
	Stop(ctx context.Context) error

	// GetMarket returns the listing venue of a symbol.
	GetMarket(symbol string) (protocol.Market, bool)

	// Count returns the number of classified symbols.
	Count() int

	// LastSyncAt returns when the master was last refreshed.
	LastSyncAt() time.Time
}

// Config holds symbol master configuration.
type Config struct {
	// ResyncInterval is how often the master is refetched. Listings
	// change rarely, once a day is plenty.
	ResyncInterval time.Duration

	// InitialLoadTimeout bounds the blocking load in Start.
	InitialLoadTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ResyncInterval:     24 * time.Hour,
		InitialLoadTimeout: time.Minute,
	}
}

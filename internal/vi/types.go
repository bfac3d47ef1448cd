package vi

import (
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/subs"
)

// MarketLookup resolves a symbol to its listing venue. Symbols the lookup
// does not know still have their VI events observed, but no trade
// subscription is derived for them.
type MarketLookup func(symbol string) (protocol.Market, bool)

// Subscriber is the slice of the subscription registry the controller
// drives.
type Subscriber interface {
	Subscribe(channel, trKey string, cb subs.Callback) error
	Unsubscribe(channel, trKey string, cbs ...subs.Callback) error
}

// Config holds controller configuration.
type Config struct {
	GracePeriod time.Duration // how long trade ticks keep flowing after a VI release
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriod: 180 * time.Second,
	}
}

// Observer receives controller notifications. All methods are invoked from
// the dispatch goroutine; implementations must not block.
type Observer interface {
	OnActivated(ev *protocol.VIEvent, market protocol.Market)
	OnReleased(ev *protocol.VIEvent, activeFor time.Duration)
	OnTrade(tick *protocol.TradeTick, market protocol.Market)
}

// NopObserver is an Observer that ignores everything. Embed it to implement
// only the notifications you care about.
type NopObserver struct{}

func (NopObserver) OnActivated(*protocol.VIEvent, protocol.Market) {}
func (NopObserver) OnReleased(*protocol.VIEvent, time.Duration)    {}
func (NopObserver) OnTrade(*protocol.TradeTick, protocol.Market)   {}

// Snapshot describes one tracked symbol for health reporting.
type Snapshot struct {
	Symbol      string          `json:"symbol"`
	Market      protocol.Market `json:"market"`
	Kind        string          `json:"kind"`
	ActivatedAt time.Time       `json:"activated_at"`
	ReleasedAt  time.Time       `json:"released_at,omitempty"`
	Released    bool            `json:"released"`
}

// symbolState tracks one symbol from VI activation until its trade
// subscription is torn down.
type symbolState struct {
	symbol      string
	market      protocol.Market
	known       bool // market lookup succeeded, trade channel subscribed
	event       *protocol.VIEvent
	activatedAt time.Time
	releasedAt  time.Time
	released    bool
	gen         uint64 // bumped on reactivation, stale pending entries are skipped
}

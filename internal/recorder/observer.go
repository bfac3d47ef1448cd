package recorder

import (
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/vi"
)

// Observer feeds controller notifications into the recorders. Either
// recorder may be nil, in which case that stream is not persisted.
type Observer struct {
	events *EventRecorder
	ticks  *TickRecorder
	lookup vi.MarketLookup
}

var _ vi.Observer = (*Observer)(nil)

// NewObserver wires recorders behind the controller's observer hooks.
func NewObserver(events *EventRecorder, ticks *TickRecorder, lookup vi.MarketLookup) *Observer {
	if lookup == nil {
		lookup = func(string) (protocol.Market, bool) { return "", false }
	}
	return &Observer{
		events: events,
		ticks:  ticks,
		lookup: lookup,
	}
}

func (o *Observer) OnActivated(ev *protocol.VIEvent, market protocol.Market) {
	if o.events == nil {
		return
	}
	o.events.Record(EventRecord{
		Event:      ev,
		Market:     market,
		ReceivedAt: time.Now(),
	})
}

func (o *Observer) OnReleased(ev *protocol.VIEvent, activeFor time.Duration) {
	if o.events == nil {
		return
	}
	symbol := ev.Symbol
	if symbol == "" {
		symbol = ev.RefSymbol
	}
	market, _ := o.lookup(symbol)
	o.events.Record(EventRecord{
		Event:      ev,
		Market:     market,
		Released:   true,
		ReceivedAt: time.Now(),
	})
}

func (o *Observer) OnTrade(tick *protocol.TradeTick, market protocol.Market) {
	if o.ticks == nil {
		return
	}
	o.ticks.Record(TickRecord{
		Tick:       tick,
		Market:     market,
		ReceivedAt: time.Now(),
	})
}

package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

type fakeSource struct {
	mu      sync.Mutex
	markets map[string]protocol.Market
	err     error
	calls   int
}

func (f *fakeSource) MarketMap(ctx context.Context) (map[string]protocol.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]protocol.Market, len(f.markets))
	for k, v := range f.markets {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testMaster() map[string]protocol.Market {
	return map[string]protocol.Market{
		"005930": protocol.MarketKOSPI,
		"000660": protocol.MarketKOSPI,
		"035720": protocol.MarketKOSDAQ,
	}
}

func TestRegistry_StartLoadsMaster(t *testing.T) {
	source := &fakeSource{markets: testMaster()}
	reg := NewRegistry(DefaultConfig(), source, nil)

	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stopRegistry(t, reg)

	if got := reg.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}

	market, ok := reg.GetMarket("005930")
	if !ok || market != protocol.MarketKOSPI {
		t.Errorf("GetMarket(005930) = %v, %v; want kospi, true", market, ok)
	}
	market, ok = reg.GetMarket("035720")
	if !ok || market != protocol.MarketKOSDAQ {
		t.Errorf("GetMarket(035720) = %v, %v; want kosdaq, true", market, ok)
	}
	if _, ok := reg.GetMarket("999999"); ok {
		t.Error("GetMarket(999999) should be unknown")
	}
	if reg.LastSyncAt().IsZero() {
		t.Error("LastSyncAt() should be set after Start")
	}
}

func TestRegistry_StartFailsWhenSourceFails(t *testing.T) {
	source := &fakeSource{err: errors.New("broker down")}
	reg := NewRegistry(DefaultConfig(), source, nil)

	if err := reg.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when the initial load fails")
	}
}

func TestRegistry_Resync(t *testing.T) {
	source := &fakeSource{markets: testMaster()}
	cfg := Config{
		ResyncInterval:     30 * time.Millisecond,
		InitialLoadTimeout: time.Second,
	}
	reg := NewRegistry(cfg, source, nil)

	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stopRegistry(t, reg)

	// Add a listing; a resync should pick it up.
	source.mu.Lock()
	source.markets["123456"] = protocol.MarketKOSDAQ
	source.mu.Unlock()

	deadline := time.After(time.Second)
	for {
		if _, ok := reg.GetMarket("123456"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("resync did not pick up the new listing")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegistry_ResyncFailureKeepsPreviousMaster(t *testing.T) {
	source := &fakeSource{markets: testMaster()}
	cfg := Config{
		ResyncInterval:     20 * time.Millisecond,
		InitialLoadTimeout: time.Second,
	}
	reg := NewRegistry(cfg, source, nil)

	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stopRegistry(t, reg)

	source.mu.Lock()
	source.err = errors.New("temporary outage")
	source.mu.Unlock()

	initial := source.callCount()
	deadline := time.After(time.Second)
	for source.callCount() == initial {
		select {
		case <-deadline:
			t.Fatal("resync never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := reg.Count(); got != 3 {
		t.Errorf("Count() = %d after failed resync, want 3", got)
	}
}

func stopRegistry(t *testing.T, reg Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

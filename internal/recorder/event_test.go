package recorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

// fakeSink stands in for the pgx pool and records every batch it is sent.
type fakeSink struct {
	mu   sync.Mutex
	ctxs []context.Context
	rows int
}

func (f *fakeSink) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxs = append(f.ctxs, ctx)
	f.rows += b.Len()
	return fakeResults{n: b.Len()}
}

func (f *fakeSink) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows
}

// cancelledSends reports how many batches arrived with a dead context.
func (f *fakeSink) cancelledSends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ctx := range f.ctxs {
		if ctx.Err() != nil {
			n++
		}
	}
	return n
}

type fakeResults struct{ n int }

func (fakeResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (fakeResults) Query() (pgx.Rows, error) { return nil, nil }
func (fakeResults) QueryRow() pgx.Row        { return nil }
func (fakeResults) Close() error             { return nil }

func TestEventRecorder_Transform(t *testing.T) {
	cfg := DefaultConfig()
	r := NewEventRecorder(cfg, nil, nil)

	receivedAt := time.Date(2026, 3, 2, 10, 15, 30, 0, time.UTC)
	rec := EventRecord{
		Event: &protocol.VIEvent{
			Gubun:          protocol.VIStatic,
			Symbol:         "005930",
			TriggerPrice:   "71500",
			StaticRefPrice: "65000",
			DynamicRef:     "71200",
			Time:           "101530",
		},
		Market:     protocol.MarketKOSPI,
		ReceivedAt: receivedAt,
	}

	row := r.transform(rec)

	if row.ID == "" {
		t.Error("ID should be a generated UUID")
	}
	if row.Symbol != "005930" {
		t.Errorf("Symbol = %s, want 005930", row.Symbol)
	}
	if row.Market != "kospi" {
		t.Errorf("Market = %s, want kospi", row.Market)
	}
	if row.Kind != "static" {
		t.Errorf("Kind = %s, want static", row.Kind)
	}
	if row.TriggerPrice != "71500" {
		t.Errorf("TriggerPrice = %s, want 71500", row.TriggerPrice)
	}
	if row.EventTime != "101530" {
		t.Errorf("EventTime = %s, want 101530", row.EventTime)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
	if row.Released {
		t.Error("Released = true, want false")
	}
}

func TestEventRecorder_Transform_RefSymbolFallback(t *testing.T) {
	cfg := DefaultConfig()
	r := NewEventRecorder(cfg, nil, nil)

	rec := EventRecord{
		Event: &protocol.VIEvent{
			Gubun:     protocol.VIReleased,
			RefSymbol: "035720",
		},
		Released:   true,
		ReceivedAt: time.Now(),
	}

	row := r.transform(rec)

	if row.Symbol != "035720" {
		t.Errorf("Symbol = %s, want ref_shcode fallback 035720", row.Symbol)
	}
	if row.Kind != "released" {
		t.Errorf("Kind = %s, want released", row.Kind)
	}
	if !row.Released {
		t.Error("Released = false, want true")
	}
}

func TestEventRecorder_RecordAddsToBatch(t *testing.T) {
	cfg := Config{
		BatchSize:     100, // large batch so no auto-flush
		FlushInterval: time.Hour,
		BufferSize:    10,
	}
	r := NewEventRecorder(cfg, nil, nil)

	r.handleRecord(context.Background(), EventRecord{
		Event:      &protocol.VIEvent{Gubun: protocol.VIStatic, Symbol: "005930"},
		ReceivedAt: time.Now(),
	})

	r.batchMu.Lock()
	batchLen := len(r.batch)
	r.batchMu.Unlock()

	if batchLen != 1 {
		t.Errorf("batch length = %d, want 1", batchLen)
	}
}

func TestEventRecorder_DropsOnFullBuffer(t *testing.T) {
	cfg := Config{
		BatchSize:     10,
		FlushInterval: time.Hour,
		BufferSize:    1,
	}
	r := NewEventRecorder(cfg, nil, nil)

	rec := EventRecord{
		Event:      &protocol.VIEvent{Gubun: protocol.VIStatic, Symbol: "005930"},
		ReceivedAt: time.Now(),
	}

	// Not started, so the first record fills the buffer.
	r.Record(rec)
	r.Record(rec)

	if got := r.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestEventRecorder_Lifecycle(t *testing.T) {
	cfg := Config{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
		BufferSize:    10,
	}

	// Note: no database, this tests the goroutine lifecycle only.
	r := NewEventRecorder(cfg, nil, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestEventRecorder_StopFlushesFinalBatch(t *testing.T) {
	cfg := Config{
		BatchSize:     100, // nothing flushes until Stop
		FlushInterval: time.Hour,
		BufferSize:    10,
	}
	sink := &fakeSink{}
	r := NewEventRecorder(cfg, nil, nil)
	r.db = sink

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		r.Record(EventRecord{
			Event:      &protocol.VIEvent{Gubun: protocol.VIStatic, Symbol: "005930"},
			ReceivedAt: time.Now(),
		})
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := sink.rowCount(); got != 3 {
		t.Errorf("rows written = %d, want 3", got)
	}
	if got := sink.cancelledSends(); got != 0 {
		t.Errorf("batches sent on a cancelled context = %d, want 0", got)
	}
	if got := r.Stats().Inserts; got != 3 {
		t.Errorf("Inserts = %d, want 3", got)
	}
}

func TestEventRecorder_StopDrainsQueuedRecords(t *testing.T) {
	cfg := Config{
		BatchSize:     100,
		FlushInterval: time.Hour,
		BufferSize:    10,
	}
	sink := &fakeSink{}
	r := NewEventRecorder(cfg, nil, nil)
	r.db = sink

	// Never started: everything Record enqueued is still sitting in input
	// when Stop runs, and must reach the sink anyway.
	for i := 0; i < 5; i++ {
		r.Record(EventRecord{
			Event:      &protocol.VIEvent{Gubun: protocol.VIStatic, Symbol: "000660"},
			ReceivedAt: time.Now(),
		})
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := sink.rowCount(); got != 5 {
		t.Errorf("rows written = %d, want 5", got)
	}
}

func TestEventRecorder_Stats(t *testing.T) {
	r := NewEventRecorder(DefaultConfig(), nil, nil)

	stats := r.Stats()

	if stats.Inserts != 0 {
		t.Errorf("initial Inserts = %d, want 0", stats.Inserts)
	}
	if stats.Errors != 0 {
		t.Errorf("initial Errors = %d, want 0", stats.Errors)
	}
	if stats.Flushes != 0 {
		t.Errorf("initial Flushes = %d, want 0", stats.Flushes)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if cfg.BufferSize != 10000 {
		t.Errorf("BufferSize = %d, want 10000", cfg.BufferSize)
	}
}

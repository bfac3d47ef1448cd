package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

// EventRecord is one VI activation or release headed for storage.
type EventRecord struct {
	Event      *protocol.VIEvent
	Market     protocol.Market
	Released   bool
	ReceivedAt time.Time
}

// EventRecorder batches VI events into the vi_events table.
type EventRecorder struct {
	cfg    Config
	logger *slog.Logger

	input chan EventRecord
	db    batchSender

	batch       []viEventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewEventRecorder creates an EventRecorder writing to db.
func NewEventRecorder(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *EventRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &EventRecorder{
		cfg:    cfg,
		logger: logger,
		input:  make(chan EventRecord, cfg.BufferSize),
		batch:  make([]viEventRow, 0, cfg.BatchSize),
	}
	if db != nil {
		r.db = db
	}
	return r
}

// Record enqueues an event. It never blocks; on overflow the event is
// dropped and counted.
func (r *EventRecorder) Record(rec EventRecord) {
	select {
	case r.input <- rec:
	default:
		r.batchMu.Lock()
		r.metrics.Dropped++
		r.batchMu.Unlock()
		r.logger.Warn("event recorder buffer full, dropping", "symbol", rec.Event.Symbol)
	}
}

// Start begins consuming events and writing to the database.
func (r *EventRecorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.logger.Info("vi event recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued records and flushes the final batch. The caller's
// ctx bounds the drain; the recorder's own context is already cancelled
// by then and must not reach the database.
func (r *EventRecorder) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("vi event recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("vi event recorder stop timed out")
		return ctx.Err()
	}

	r.drain(ctx)
	r.flush(ctx)
	return nil
}

// drain empties whatever Record enqueued after the consume loop exited.
func (r *EventRecorder) drain(ctx context.Context) {
	for {
		select {
		case rec := <-r.input:
			r.handleRecord(ctx, rec)
		default:
			return
		}
	}
}

// Stats returns current metrics.
func (r *EventRecorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

func (r *EventRecorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		case rec := <-r.input:
			r.handleRecord(r.ctx, rec)
		}
	}
}

func (r *EventRecorder) handleRecord(ctx context.Context, rec EventRecord) {
	row := r.transform(rec)

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(ctx)
	}
}

func (r *EventRecorder) transform(rec EventRecord) viEventRow {
	ev := rec.Event
	symbol := ev.Symbol
	if symbol == "" {
		symbol = ev.RefSymbol
	}
	return viEventRow{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Market:       string(rec.Market),
		Kind:         ev.KindLabel(),
		Gubun:        ev.Gubun,
		TriggerPrice: ev.TriggerPrice,
		StaticRef:    ev.StaticRefPrice,
		DynamicRef:   ev.DynamicRef,
		EventTime:    ev.Time,
		ReceivedAt:   rec.ReceivedAt.UnixMicro(),
		Released:     rec.Released,
	}
}

func (r *EventRecorder) flush(ctx context.Context) {
	if r.db == nil {
		return
	}

	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	batch := r.batch
	r.batch = make([]viEventRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed vi events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (r *EventRecorder) batchInsert(ctx context.Context, rows []viEventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO vi_events (id, symbol, market, kind, gubun, trigger_price, static_ref, dynamic_ref, event_time, received_at, released)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT DO NOTHING
		`, row.ID, row.Symbol, row.Market, row.Kind, row.Gubun, row.TriggerPrice,
			row.StaticRef, row.DynamicRef, row.EventTime, row.ReceivedAt, row.Released)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

// TickRecord is one trade tick headed for storage.
type TickRecord struct {
	Tick       *protocol.TradeTick
	Market     protocol.Market
	ReceivedAt time.Time
}

// TickRecorder batches trade ticks into the vi_ticks table.
type TickRecorder struct {
	cfg    Config
	logger *slog.Logger

	input chan TickRecord
	db    batchSender

	batch       []tickRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewTickRecorder creates a TickRecorder writing to db.
func NewTickRecorder(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *TickRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &TickRecorder{
		cfg:    cfg,
		logger: logger,
		input:  make(chan TickRecord, cfg.BufferSize),
		batch:  make([]tickRow, 0, cfg.BatchSize),
	}
	if db != nil {
		r.db = db
	}
	return r
}

// Record enqueues a tick. It never blocks; on overflow the tick is dropped
// and counted.
func (r *TickRecorder) Record(rec TickRecord) {
	select {
	case r.input <- rec:
	default:
		r.batchMu.Lock()
		r.metrics.Dropped++
		r.batchMu.Unlock()
		r.logger.Warn("tick recorder buffer full, dropping", "symbol", rec.Tick.Symbol)
	}
}

// Start begins consuming ticks and writing to the database.
func (r *TickRecorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.logger.Info("tick recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued ticks and flushes the final batch. The caller's ctx
// bounds the drain; the recorder's own context is already cancelled by
// then and must not reach the database.
func (r *TickRecorder) Stop(ctx context.Context) error {
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
		r.logger.Info("tick recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("tick recorder stop timed out")
		return ctx.Err()
	}

	r.drain(ctx)
	r.flush(ctx)
	return nil
}

// drain empties whatever Record enqueued after the consume loop exited.
func (r *TickRecorder) drain(ctx context.Context) {
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
func (r *TickRecorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

func (r *TickRecorder) consumeLoop() {
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

func (r *TickRecorder) handleRecord(ctx context.Context, rec TickRecord) {
	row := r.transform(rec)

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(ctx)
	}
}

func (r *TickRecorder) transform(rec TickRecord) tickRow {
	tick := rec.Tick
	return tickRow{
		Symbol:     tick.Symbol,
		Market:     string(rec.Market),
		ExecTime:   tick.Time,
		Price:      tick.Price,
		Sign:       tick.Sign,
		Change:     tick.Change,
		Rate:       tick.Rate,
		Volume:     tick.Volume,
		CumVolume:  tick.CumVolume,
		Side:       tick.Side,
		ReceivedAt: rec.ReceivedAt.UnixMicro(),
	}
}

func (r *TickRecorder) flush(ctx context.Context) {
	if r.db == nil {
		return
	}

	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	batch := r.batch
	r.batch = make([]tickRow, 0, r.cfg.BatchSize)
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

	r.logger.Debug("flushed ticks",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (r *TickRecorder) batchInsert(ctx context.Context, rows []tickRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO vi_ticks (symbol, market, exec_time, price, sign, change, rate, volume, cum_volume, side, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT DO NOTHING
		`, row.Symbol, row.Market, row.ExecTime, row.Price, row.Sign, row.Change,
			row.Rate, row.Volume, row.CumVolume, row.Side, row.ReceivedAt)
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

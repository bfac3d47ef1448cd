package recorder

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// batchSender is the slice of pgxpool.Pool the recorders write through.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config contains configuration for batch recorders.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize bounds the input queue. Rows arriving on a full queue
	// are dropped and counted.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		BufferSize:    10000,
	}
}

// Metrics holds counters for a recorder.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

// viEventRow represents a row for the vi_events table.
type viEventRow struct {
	ID           string // UUID
	Symbol       string
	Market       string
	Kind         string // static, dynamic, static+dynamic, released
	Gubun        string
	TriggerPrice string
	StaticRef    string
	DynamicRef   string
	EventTime    string // HHMMSS exchange time
	ReceivedAt   int64  // Microseconds
	Released     bool
}

// tickRow represents a row for the vi_ticks table.
type tickRow struct {
	Symbol     string
	Market     string
	ExecTime   string // HHMMSS
	Price      string
	Sign       string
	Change     string
	Rate       string
	Volume     string
	CumVolume  string
	Side       string
	ReceivedAt int64 // Microseconds
}

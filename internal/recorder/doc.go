// Package recorder implements batch writers for the VI history tables.
//
// Writers:
//   - VI event recorder (vi_events)
//   - Trade tick recorder (vi_ticks)
//
// Both use append-only semantics (never update, only insert) and flush on
// batch size or interval, whichever comes first.
package recorder

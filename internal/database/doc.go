// Package database provides connection pool management for PostgreSQL.
//
// The monitor keeps a single pool holding the recorded VI event and trade
// tick history. TimescaleDB works too; the writers only use plain inserts.
package database

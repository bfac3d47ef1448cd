// Package session wraps a transport in a connection state machine with a
// reconnection policy. It is the single owner of retry behavior: everything
// above it only reacts to Ready/Reconnected events.
package session

package session

import (
	"errors"
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/transport"
)

// Errors
var (
	ErrNotConnected = errors.New("session not connected")
	ErrClosed       = errors.New("session closed")
)

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EventType identifies a session lifecycle event.
type EventType string

const (
	// EventReady fires on the first successful connect.
	EventReady EventType = "ready"
	// EventReconnected fires on every successful connect after the first,
	// so consumers know to replay subscriptions.
	EventReconnected EventType = "reconnected"
	// EventDisconnected fires when the connection is lost or a connect
	// attempt fails; the session keeps retrying.
	EventDisconnected EventType = "disconnected"
	// EventExhausted fires when the reconnect budget is spent. Terminal.
	EventExhausted EventType = "exhausted"
	// EventClosed fires after Stop. Terminal.
	EventClosed EventType = "closed"
)

// Event is a session lifecycle notification.
type Event struct {
	Type    EventType
	Err     error // cause, for disconnected/exhausted
	Attempt int   // consecutive failed attempts so far
}

// Config configures a Session.
type Config struct {
	Transport transport.Config

	// MaxReconnectAttempts is the number of consecutive failed connects
	// tolerated before the session gives up.
	MaxReconnectAttempts int

	// ReconnectBaseDelay and ReconnectMaxDelay bound the exponential
	// backoff between attempts: min(base * 2^n, max).
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// EventBufferSize bounds the events channel.
	EventBufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Transport:            transport.DefaultConfig(),
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   5 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		EventBufferSize:      16,
	}
}

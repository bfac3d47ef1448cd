package transport

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Message wraps raw frame data with a receive timestamp.
type Message struct {
	Data       []byte    // Raw frame bytes from the websocket
	ReceivedAt time.Time // Local timestamp when the read returned
}

// Config configures a websocket transport.
type Config struct {
	URL               string        // Websocket URL (e.g., wss://openapi.ls-sec.co.kr:9443/websocket)
	Token             string        // Access token sent during the handshake
	TokenSource       func() string // When set, consulted at dial time instead of Token
	HandshakeTimeout  time.Duration // Dial deadline
	KeepaliveInterval time.Duration // Interval between outbound pings
	KeepaliveTimeout  time.Duration // Slack beyond the interval before the connection is stale
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Message channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  30 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        10000,
	}
}

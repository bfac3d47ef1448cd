package subs

import (
	"errors"
	"time"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

// Errors
var (
	ErrTooManySubscriptions = errors.New("max subscriptions exceeded")
	ErrNotSubscribed        = errors.New("not subscribed")
)

// Key identifies a subscription: a channel code plus a routing key.
type Key struct {
	Channel string // e.g. "VI_", "S3_"
	TrKey   string // symbol code or the all-symbols sentinel
}

func (k Key) String() string {
	return k.Channel + "." + k.TrKey
}

// Callback handles a routed inbound envelope. Callbacks run on the router
// loop and must not block.
type Callback func(env *protocol.Envelope)

// Sender is the slice of the session the registry needs.
type Sender interface {
	Send(data []byte) error
	IsConnected() bool
}

// TokenSource supplies the access token placed in outbound requests.
type TokenSource func() string

// Config configures a Registry.
type Config struct {
	// MaxSubscriptions bounds the number of live subscription records.
	MaxSubscriptions int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSubscriptions: 100,
	}
}

// record is the registry's bookkeeping for one subscription key. It is not
// tied to a physical connection and survives reconnects.
type record struct {
	key             Key
	payload         []byte // outbound subscribe request
	callbacks       []Callback
	subscribedAt    time.Time
	lastDeliveredAt time.Time
}

// Stats contains router runtime counters.
type Stats struct {
	MessagesReceived int64
	Dispatched       int64
	ParseErrors      int64
	ErrorsRouted     int64
	Unrouted         int64
}

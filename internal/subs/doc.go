// Package subs holds the subscription registry and the message router.
//
// The registry owns the authoritative set of desired subscriptions and
// replays all of them onto the wire after every reconnect. The router is a
// single loop consuming session events and inbound frames, dispatching each
// frame to the callbacks registered for its (channel, routing key) pair.
package subs

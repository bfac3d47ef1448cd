// Package transport implements the websocket transport layer.
//
// The transport:
//   - Owns exactly one physical connection to the LS realtime endpoint
//   - Serializes all outbound writes through a single writer
//   - Answers protocol keepalive probes without forwarding them
//   - Reports inbound frames and connection errors upward
//
// It never retries; reconnection is the session's responsibility.
package transport

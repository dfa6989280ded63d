// Package server defines the Channel abstraction the router delivers events
// through, decoupling routing logic from the WebSocket transport.
package server

// Channel is a full-duplex event channel to one connected client. The
// concrete implementation is the WebSocket Client; tests substitute fakes.
// Send must never block the caller: delivery to a dead or saturated channel
// is dropped for that recipient only.
type Channel interface {
	// ID returns a stable identifier for the connection.
	ID() string
	// Send queues a named event for delivery to the client.
	Send(event string, payload any)
}

// Broadcaster delivers an event to every connected channel regardless of
// room. The Hub implements it.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

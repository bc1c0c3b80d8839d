package transport

import (
	"context"
	"time"

	"github.com/buzzdeck/buzzdeck/internal/protocol"
)

// Status describes the transport's connectivity.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
)

// StatusChange is a connectivity transition. After a prior session the
// transport always passes through reconnecting before reporting connected
// again; recovery keys off that edge to pull a fresh snapshot.
type StatusChange struct {
	Status Status
	At     time.Time
}

// Inbound is one item received from the transport: either a server event or a
// connectivity transition. Exactly one field is set.
type Inbound struct {
	Event  *protocol.Envelope
	Status *StatusChange
}

// Channel is a persistent, bidirectional, at-most-once push transport to the
// authoritative game server. Events arrive in per-connection order; across
// reconnects no ordering holds and any event may have been lost, so consumers
// treat the stream as gappy and rely on full snapshots to converge.
type Channel interface {
	// Connect establishes the transport. Calling it while connected is a no-op.
	Connect(ctx context.Context) error

	// Send transmits a named command fire-and-forget. No delivery
	// acknowledgement exists unless the protocol defines one for the command.
	Send(event string, payload interface{}) error

	// Inbound returns the single stream of events and status changes. One
	// consumer goroutine drains it; handlers therefore never run concurrently.
	Inbound() <-chan Inbound

	// Close tears the transport down permanently.
	Close() error
}

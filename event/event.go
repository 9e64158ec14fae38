// Package event defines the observable side effects named throughout
// spec.md §6: command monitoring, connection pool (CMAP) events, and SDAM
// events. Grounded on the shape of the teacher's event.CommandMonitor
// (x/mongo/driver's command-logging hooks) generalized to a single
// interface set this core's connection/topology packages call directly,
// since the teacher's own event package was not present in the retrieval
// pack's file list.
package event

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// CommandStartedEvent is emitted before a command is sent.
type CommandStartedEvent struct {
	ConnectionID string
	Database     string
	CommandName  string
	Command      bsoncore.Document // nil when redacted, spec.md §4.3
	RequestID    int32
}

// CommandSucceededEvent is emitted after a successful round trip.
type CommandSucceededEvent struct {
	ConnectionID string
	CommandName  string
	Duration     time.Duration
	Reply        bsoncore.Document // nil when redacted
	RequestID    int32
}

// CommandFailedEvent is emitted when the round trip itself failed (a
// network error, not a reply carrying ok:0 — spec.md §4.3 treats those as
// a normal CommandSucceededEvent whose reply the caller inspects).
type CommandFailedEvent struct {
	ConnectionID string
	CommandName  string
	Duration     time.Duration
	Failure      error
	RequestID    int32
}

// CommandMonitor receives command events. A nil *CommandMonitor value (via
// a nil interface) disables monitoring; callers check for nil before
// invoking.
type CommandMonitor interface {
	Started(CommandStartedEvent)
	Succeeded(CommandSucceededEvent)
	Failed(CommandFailedEvent)
}

// ConnectionClosedReason classifies why a CMAP connection was closed
// (spec.md §6).
type ConnectionClosedReason string

const (
	ReasonStale       ConnectionClosedReason = "stale"
	ReasonIdle        ConnectionClosedReason = "idle"
	ReasonError       ConnectionClosedReason = "error"
	ReasonPoolClosed  ConnectionClosedReason = "poolClosed"
)

// PoolEvent covers PoolCreated/Ready/Cleared/Closed.
type PoolEvent struct {
	Address string
	Type    string // "created" | "ready" | "cleared" | "closed"
	Error   error  // set for "cleared"
}

// ConnectionEvent covers ConnectionCreated/Ready/Closed.
type ConnectionEvent struct {
	Address      string
	ConnectionID string
	Type         string // "created" | "ready" | "closed"
	Reason       ConnectionClosedReason
}

// CheckOutEvent covers CheckOutStarted/Failed/CheckedOut/CheckedIn.
type CheckOutEvent struct {
	Address      string
	ConnectionID string
	Type         string // "checkOutStarted" | "checkOutFailed" | "checkedOut" | "checkedIn"
	Duration     time.Duration
	Reason       string
}

// PoolMonitor receives CMAP events. Methods are no-ops to implement for a
// caller only interested in a subset.
type PoolMonitor interface {
	Pool(PoolEvent)
	Connection(ConnectionEvent)
	CheckOut(CheckOutEvent)
}

// ServerChangedEvent/ServerOpeningEvent/etc. cover the SDAM
// events named in spec.md §4.6 step 4 ("compute the diff ... and emit SDAM
// events").
type ServerChangedEvent struct {
	Address  string
	Previous interface{}
	New      interface{}
}

type ServerOpeningEvent struct{ Address string }
type ServerClosedEvent struct{ Address string }

type TopologyChangedEvent struct {
	Previous interface{}
	New      interface{}
}
type TopologyOpeningEvent struct{}
type TopologyClosedEvent struct{}

type ServerHeartbeatStartedEvent struct {
	Address string
	Awaited bool
}
type ServerHeartbeatSucceededEvent struct {
	Address  string
	Duration time.Duration
	Awaited  bool
}
type ServerHeartbeatFailedEvent struct {
	Address  string
	Duration time.Duration
	Awaited  bool
	Failure  error
}

// SDAMMonitor receives SDAM events.
type SDAMMonitor interface {
	ServerDescriptionChanged(ServerChangedEvent)
	ServerOpening(ServerOpeningEvent)
	ServerClosed(ServerClosedEvent)
	TopologyDescriptionChanged(TopologyChangedEvent)
	TopologyOpening(TopologyOpeningEvent)
	TopologyClosed(TopologyClosedEvent)
	ServerHeartbeatStarted(ServerHeartbeatStartedEvent)
	ServerHeartbeatSucceeded(ServerHeartbeatSucceededEvent)
	ServerHeartbeatFailed(ServerHeartbeatFailedEvent)
}

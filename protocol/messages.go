// Package protocol defines the binary messages exchanged between clients and
// the session server. Messages use the protobuf wire format with fixed field
// numbers, and every frame carries exactly one variant of a per-direction
// envelope.
package protocol

import "errors"

var (
	// ErrMalformed is returned for bytes that are not a valid envelope.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrUnknownVariant is returned when an envelope carries no known variant.
	ErrUnknownVariant = errors.New("protocol: unknown message variant")
)

// ClientMessage is one of *IssueOrders, *RequestSnapshot or *Ping.
type ClientMessage interface {
	isClientMessage()
}

// ServerMessage is one of *Welcome, *Snapshot, *Delta, *Pong or *RoomEnded.
type ServerMessage interface {
	isServerMessage()
}

// IssueOrders asks the server to send a fraction of the ships on each source
// planet toward a target planet.
type IssueOrders struct {
	ClientTimeMs uint64
	FromIDs      []uint32
	TargetID     uint32
	Pct          float64 // fraction in [0,1]; out of range values are clamped
	InputSeq     uint32
}

// RequestSnapshot asks for a fresh welcome without leaving the room.
type RequestSnapshot struct{}

// Ping is echoed back as a Pong.
type Ping struct {
	ClientTimeMs uint64
	Seq          uint32
}

func (*IssueOrders) isClientMessage()     {}
func (*RequestSnapshot) isClientMessage() {}
func (*Ping) isClientMessage()            {}

// Welcome is sent on join: the static layout plus a full snapshot.
type Welcome struct {
	RoomID   uint32
	TickRate uint32
	DeltaHz  uint32
	PlayerID uint32 // 0 for spectators
	Layout   Layout
	Snapshot Snapshot
}

// Layout is the part of the world that never changes during a match.
type Layout struct {
	Width   float32
	Height  float32
	Planets []PlanetLayout
}

// PlanetLayout is the static description of one planet.
type PlanetLayout struct {
	ID         uint32
	X          float32
	Y          float32
	Radius     float32
	Production float32
}

// Snapshot is the complete dynamic state of a match.
type Snapshot struct {
	Tick    uint64
	Planets []PlanetState
	Fleets  []FleetState
}

// PlanetState is the dynamic state of one planet.
type PlanetState struct {
	ID    uint32
	Owner uint32
	Ships uint32
}

// FleetState fully describes a fleet in flight.
type FleetState struct {
	ID     uint32
	Owner  uint32
	FromID uint32
	ToID   uint32
	X      float32
	Y      float32
	VX     float32
	VY     float32
	Ships  uint32
}

// FleetPos is a position update for a fleet the client already knows.
type FleetPos struct {
	ID uint32
	X  float32
	Y  float32
}

// Delta carries only what changed since the previous delta.
type Delta struct {
	Tick         uint64
	Planets      []PlanetState
	Fleets       []FleetPos
	RemoveFleets []uint32
	NewFleets    []FleetState
}

// Pong answers a Ping.
type Pong struct {
	ServerTimeMs uint64
	Seq          uint32
}

// RoomEnded tells clients the room is going away.
type RoomEnded struct {
	Reason string
}

func (*Welcome) isServerMessage()   {}
func (*Snapshot) isServerMessage()  {}
func (*Delta) isServerMessage()     {}
func (*Pong) isServerMessage()      {}
func (*RoomEnded) isServerMessage() {}

// Kind names a server message for logs and metrics.
func Kind(m ServerMessage) string {
	switch m.(type) {
	case *Welcome:
		return "welcome"
	case *Snapshot:
		return "snapshot"
	case *Delta:
		return "delta"
	case *Pong:
		return "pong"
	case *RoomEnded:
		return "room_ended"
	default:
		return "unknown"
	}
}

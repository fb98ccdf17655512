package game

import (
	"fmt"
	"math"
	"time"
)

// MaxSeats is the largest number of player seats a match can have.
const MaxSeats = 8

// Owner identifies who controls a planet or fleet. It is a closed
// enumeration and never doubles as an entity id.
type Owner uint8

// Owners
const (
	Neutral Owner = iota
	Seat1
	Seat2
	Seat3
	Seat4
	Seat5
	Seat6
	Seat7
	Seat8
)

// SeatOwner returns the owner for a 1-based seat number.
func SeatOwner(n int) (Owner, bool) {
	if n < 1 || n > MaxSeats {
		return Neutral, false
	}
	return Owner(n), true
}

// IsSeat reports whether o is a player seat rather than Neutral.
func (o Owner) IsSeat() bool {
	return o >= Seat1 && o <= Owner(MaxSeats)
}

func (o Owner) String() string {
	if o == Neutral {
		return "neutral"
	}
	return fmt.Sprintf("seat%d", uint8(o))
}

// PlanetID is a dense, stable index into the planet slice of a match.
type PlanetID uint32

// FleetID is a match-scoped, monotonically increasing fleet identifier.
type FleetID uint32

// Vec2 is a 2D position or velocity.
type Vec2 struct {
	X float64
	Y float64
}

// Add returns v+o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

// Sub returns v-o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

// Scale returns v*k.
func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }

// Len returns the length of v.
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// Distance returns the distance between two points
func Distance(a, b Vec2) float64 {
	return b.Sub(a).Len()
}

// Planet is a capturable body. Its id, position, radius and production never
// change during a match.
type Planet struct {
	ID         PlanetID
	Pos        Vec2
	Radius     float64
	Owner      Owner
	Ships      float64
	Production float64 // ships per second
}

// DisplayShips is the rounded ship count clients render.
func (p *Planet) DisplayShips() uint32 {
	if p.Ships <= 0 {
		return 0
	}
	return uint32(math.Round(p.Ships))
}

// Fleet is a group of ships in flight between two planets.
type Fleet struct {
	ID    FleetID
	Owner Owner
	Ships float64
	Pos   Vec2
	Vel   Vec2
	From  PlanetID
	To    PlanetID
}

// SimConfig holds the immutable parameters of one match.
type SimConfig struct {
	Width       float64
	Height      float64
	Seed        int64
	PlanetCount int
	MinRadius   float64
	MaxRadius   float64
	FleetSpeed  float64 // world units per second
	TickRate    int     // simulation steps per second
	DeltaHz     int     // delta broadcasts per second
	SeatCount   int
}

// DefaultSimConfig returns the configuration used for new rooms.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Width:       1600,
		Height:      900,
		Seed:        1337,
		PlanetCount: 24,
		MinRadius:   18,
		MaxRadius:   42,
		FleetSpeed:  180,
		TickRate:    30,
		DeltaHz:     15,
		SeatCount:   2,
	}
}

// Validate reports the first invalid field of the config.
func (c SimConfig) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("world bounds must be positive, got %vx%v", c.Width, c.Height)
	case c.PlanetCount < 0:
		return fmt.Errorf("planet count must not be negative, got %d", c.PlanetCount)
	case c.MinRadius <= 0 || c.MaxRadius < c.MinRadius:
		return fmt.Errorf("invalid radius bounds [%v, %v]", c.MinRadius, c.MaxRadius)
	case c.FleetSpeed <= 0:
		return fmt.Errorf("fleet speed must be positive, got %v", c.FleetSpeed)
	case c.TickRate <= 0:
		return fmt.Errorf("tick rate must be positive, got %d", c.TickRate)
	case c.DeltaHz <= 0:
		return fmt.Errorf("delta rate must be positive, got %d", c.DeltaHz)
	case c.SeatCount < 1 || c.SeatCount > MaxSeats:
		return fmt.Errorf("seat count must be in [1, %d], got %d", MaxSeats, c.SeatCount)
	}
	return nil
}

// TickDuration is the wall-clock length of one simulation step.
func (c SimConfig) TickDuration() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// DeltaInterval is the minimum spacing between two delta broadcasts.
func (c SimConfig) DeltaInterval() time.Duration {
	return time.Second / time.Duration(c.DeltaHz)
}

// StepSeconds is the fixed dt used by the simulation.
func (c SimConfig) StepSeconds() float64 {
	return 1 / float64(c.TickRate)
}

package server

import (
	"github.com/lab1702/planetfall/game"
	"github.com/lab1702/planetfall/protocol"
)

// layoutOf describes the static part of a match. It is sent once per join.
func layoutOf(e *game.Engine) protocol.Layout {
	cfg := e.Config()
	planets := e.Planets()
	layout := protocol.Layout{
		Width:   float32(cfg.Width),
		Height:  float32(cfg.Height),
		Planets: make([]protocol.PlanetLayout, 0, len(planets)),
	}
	for i := range planets {
		p := &planets[i]
		layout.Planets = append(layout.Planets, protocol.PlanetLayout{
			ID:         uint32(p.ID),
			X:          float32(p.Pos.X),
			Y:          float32(p.Pos.Y),
			Radius:     float32(p.Radius),
			Production: float32(p.Production),
		})
	}
	return layout
}

// snapshotOf captures every planet and live fleet.
func snapshotOf(e *game.Engine) protocol.Snapshot {
	planets := e.Planets()
	fleets := e.Fleets()
	snap := protocol.Snapshot{
		Tick:    e.Tick(),
		Planets: make([]protocol.PlanetState, 0, len(planets)),
		Fleets:  make([]protocol.FleetState, 0, len(fleets)),
	}
	for i := range planets {
		snap.Planets = append(snap.Planets, planetState(&planets[i]))
	}
	for _, f := range fleets {
		snap.Fleets = append(snap.Fleets, fleetState(f))
	}
	return snap
}

func planetState(p *game.Planet) protocol.PlanetState {
	return protocol.PlanetState{
		ID:    uint32(p.ID),
		Owner: uint32(p.Owner),
		Ships: p.DisplayShips(),
	}
}

func fleetState(f *game.Fleet) protocol.FleetState {
	return protocol.FleetState{
		ID:     uint32(f.ID),
		Owner:  uint32(f.Owner),
		FromID: uint32(f.From),
		ToID:   uint32(f.To),
		X:      float32(f.Pos.X),
		Y:      float32(f.Pos.Y),
		VX:     float32(f.Vel.X),
		VY:     float32(f.Vel.Y),
		Ships:  uint32(f.Ships),
	}
}

func fleetPos(f *game.Fleet) protocol.FleetPos {
	return protocol.FleetPos{
		ID: uint32(f.ID),
		X:  float32(f.Pos.X),
		Y:  float32(f.Pos.Y),
	}
}

package server

import (
	"sort"

	"github.com/lab1702/planetfall/game"
	"github.com/lab1702/planetfall/protocol"
)

// pendingDelta accumulates what changed since the last delta broadcast.
type pendingDelta struct {
	planets    map[game.PlanetID]struct{}
	moved      map[game.FleetID]struct{}
	created    []game.FleetID
	createdSet map[game.FleetID]struct{}
	removed    []game.FleetID
}

func newPendingDelta() *pendingDelta {
	return &pendingDelta{
		planets:    make(map[game.PlanetID]struct{}),
		moved:      make(map[game.FleetID]struct{}),
		createdSet: make(map[game.FleetID]struct{}),
	}
}

func (d *pendingDelta) touchPlanet(id game.PlanetID) {
	d.planets[id] = struct{}{}
}

func (d *pendingDelta) addFleet(id game.FleetID) {
	if _, ok := d.createdSet[id]; ok {
		return
	}
	d.createdSet[id] = struct{}{}
	d.created = append(d.created, id)
}

// moveFleet records a position change. New fleets already carry their
// current position, so they are not listed twice.
func (d *pendingDelta) moveFleet(id game.FleetID) {
	if _, ok := d.createdSet[id]; ok {
		return
	}
	d.moved[id] = struct{}{}
}

// removeFleet records a resolved fleet. A fleet created and resolved inside
// the same window is dropped entirely; clients never hear of it.
func (d *pendingDelta) removeFleet(id game.FleetID) {
	delete(d.moved, id)
	if _, ok := d.createdSet[id]; ok {
		delete(d.createdSet, id)
		for i, c := range d.created {
			if c == id {
				d.created = append(d.created[:i], d.created[i+1:]...)
				break
			}
		}
		return
	}
	d.removed = append(d.removed, id)
}

func (d *pendingDelta) reset() {
	clear(d.planets)
	clear(d.moved)
	clear(d.createdSet)
	d.created = d.created[:0]
	d.removed = d.removed[:0]
}

// build renders the accumulated changes against the engine's current state.
func (d *pendingDelta) build(e *game.Engine) *protocol.Delta {
	msg := &protocol.Delta{Tick: e.Tick()}

	planetIDs := make([]game.PlanetID, 0, len(d.planets))
	for id := range d.planets {
		planetIDs = append(planetIDs, id)
	}
	sort.Slice(planetIDs, func(i, j int) bool { return planetIDs[i] < planetIDs[j] })
	for _, id := range planetIDs {
		if p, ok := e.Planet(id); ok {
			msg.Planets = append(msg.Planets, planetState(p))
		}
	}

	movedIDs := make([]game.FleetID, 0, len(d.moved))
	for id := range d.moved {
		movedIDs = append(movedIDs, id)
	}
	sort.Slice(movedIDs, func(i, j int) bool { return movedIDs[i] < movedIDs[j] })
	for _, id := range movedIDs {
		if f, ok := e.Fleet(id); ok {
			msg.Fleets = append(msg.Fleets, fleetPos(f))
		}
	}

	for _, id := range d.removed {
		msg.RemoveFleets = append(msg.RemoveFleets, uint32(id))
	}
	for _, id := range d.created {
		if f, ok := e.Fleet(id); ok {
			msg.NewFleets = append(msg.NewFleets, fleetState(f))
		}
	}
	return msg
}

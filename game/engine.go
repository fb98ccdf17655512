package game

import (
	"math"
	"sort"
)

// Engine owns the planets and fleets of one match and advances them in fixed
// steps. It is not safe for concurrent use; callers serialize access.
type Engine struct {
	cfg         SimConfig
	planets     []Planet
	fleets      map[FleetID]*Fleet
	nextFleetID FleetID
	tick        uint64
}

// OrderResult describes what an IssueOrders call changed.
type OrderResult struct {
	Fleets  []*Fleet
	Touched []PlanetID // source planets that were debited
}

// StepResult describes what a Step changed.
type StepResult struct {
	Removed []FleetID
	Changed []PlanetID // owner or rounded ship count differs from before the step
}

// NewEngine creates an engine for cfg starting from the given planets. Planet
// ids are rewritten to their slice index.
func NewEngine(cfg SimConfig, planets []Planet) *Engine {
	ps := make([]Planet, len(planets))
	copy(ps, planets)
	for i := range ps {
		ps[i].ID = PlanetID(i)
	}
	return &Engine{
		cfg:         cfg,
		planets:     ps,
		fleets:      make(map[FleetID]*Fleet),
		nextFleetID: 1,
	}
}

// NewGeneratedEngine creates an engine with a freshly generated world.
func NewGeneratedEngine(cfg SimConfig) *Engine {
	return NewEngine(cfg, Generate(cfg))
}

// Config returns the match configuration.
func (e *Engine) Config() SimConfig { return e.cfg }

// Tick returns the number of steps taken so far.
func (e *Engine) Tick() uint64 { return e.tick }

// Planets returns the planet slice. Callers must not modify it.
func (e *Engine) Planets() []Planet { return e.planets }

// Planet returns the planet with the given id.
func (e *Engine) Planet(id PlanetID) (*Planet, bool) {
	if int(id) >= len(e.planets) {
		return nil, false
	}
	return &e.planets[id], true
}

// Fleet returns the live fleet with the given id.
func (e *Engine) Fleet(id FleetID) (*Fleet, bool) {
	f, ok := e.fleets[id]
	return f, ok
}

// FleetCount returns the number of fleets in flight.
func (e *Engine) FleetCount() int { return len(e.fleets) }

// Fleets returns the live fleets ordered by id.
func (e *Engine) Fleets() []*Fleet {
	out := make([]*Fleet, 0, len(e.fleets))
	for _, f := range e.fleets {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OwnerTotals sums planets and ships (planets plus fleets) per owner.
type OwnerTotals struct {
	Planets int
	Ships   float64
}

// Totals returns per-owner planet and ship totals.
func (e *Engine) Totals() map[Owner]OwnerTotals {
	out := make(map[Owner]OwnerTotals)
	for i := range e.planets {
		p := &e.planets[i]
		t := out[p.Owner]
		t.Planets++
		t.Ships += p.Ships
		out[p.Owner] = t
	}
	for _, f := range e.fleets {
		t := out[f.Owner]
		t.Ships += f.Ships
		out[f.Owner] = t
	}
	return out
}

// IssueOrders launches one fleet from every source planet owned by owner
// toward target, carrying floor(ships*fraction) ships. Sources that are not
// owned by owner, equal the target, or would send nothing are skipped. A
// source listed more than once launches only one fleet.
func (e *Engine) IssueOrders(owner Owner, sources []PlanetID, target PlanetID, fraction float64) OrderResult {
	var res OrderResult
	if !owner.IsSeat() {
		return res
	}
	dst, ok := e.Planet(target)
	if !ok {
		return res
	}
	if math.IsNaN(fraction) {
		return res
	}
	fraction = math.Max(0, math.Min(1, fraction))

	seen := make(map[PlanetID]struct{}, len(sources))
	for _, sid := range sources {
		if sid == target {
			continue
		}
		if _, dup := seen[sid]; dup {
			continue
		}
		seen[sid] = struct{}{}
		src, ok := e.Planet(sid)
		if !ok || src.Owner != owner {
			continue
		}
		send := math.Floor(src.Ships * fraction)
		if send <= 0 {
			continue
		}

		dir := dst.Pos.Sub(src.Pos)
		dist := dir.Len()
		if dist == 0 {
			continue
		}
		dir = dir.Scale(1 / dist)

		src.Ships -= send
		f := &Fleet{
			ID:    e.nextFleetID,
			Owner: owner,
			Ships: send,
			Pos:   src.Pos.Add(dir.Scale(src.Radius)),
			Vel:   dir.Scale(e.cfg.FleetSpeed),
			From:  src.ID,
			To:    dst.ID,
		}
		e.nextFleetID++
		e.fleets[f.ID] = f

		res.Fleets = append(res.Fleets, f)
		res.Touched = append(res.Touched, src.ID)
	}
	return res
}

// Step advances the match by dt seconds: production, fleet movement and
// arrival combat, then the tick counter.
func (e *Engine) Step(dt float64) StepResult {
	before := make([]planetView, len(e.planets))
	for i := range e.planets {
		before[i] = viewOf(&e.planets[i])
		p := &e.planets[i]
		if p.Owner != Neutral {
			p.Ships += p.Production * dt
		}
	}

	var res StepResult
	for _, f := range e.Fleets() {
		dst, ok := e.Planet(f.To)
		if !ok || f.Ships <= 0 {
			e.removeFleet(f.ID, &res)
			continue
		}

		travel := f.Vel.Len() * dt
		remaining := Distance(f.Pos, dst.Pos) - dst.Radius
		if remaining <= travel {
			resolveArrival(f, dst)
			e.removeFleet(f.ID, &res)
			continue
		}
		f.Pos = f.Pos.Add(f.Vel.Scale(dt))
	}

	for i := range e.planets {
		if viewOf(&e.planets[i]) != before[i] {
			res.Changed = append(res.Changed, PlanetID(i))
		}
	}

	e.tick++
	return res
}

func (e *Engine) removeFleet(id FleetID, res *StepResult) {
	delete(e.fleets, id)
	res.Removed = append(res.Removed, id)
}

// resolveArrival lands f on dst. The defender keeps the planet on an exact
// tie, left with zero ships.
func resolveArrival(f *Fleet, dst *Planet) {
	if f.Owner == dst.Owner {
		dst.Ships += f.Ships
		return
	}
	left := dst.Ships - f.Ships
	if left < 0 {
		dst.Owner = f.Owner
		dst.Ships = -left
		return
	}
	dst.Ships = left
}

type planetView struct {
	owner Owner
	ships uint32
}

func viewOf(p *Planet) planetView {
	return planetView{owner: p.Owner, ships: p.DisplayShips()}
}

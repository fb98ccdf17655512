package game

import (
	"math"
	"math/rand"
)

// Generation tuning
const (
	Padding               = 20.0 // extra gap between a planet and the world edge
	Clearance             = 12.0 // minimum gap between two planet circles
	AttemptsPerPlanet     = 200
	ProductionPerRadius   = 0.05 // ships/second per unit of radius
	NeutralShipsPerRadius = 0.5
	StartShips            = 40.0
	StartProductionBonus  = 1.25
)

// Generate builds the initial planet set for cfg. The same config and seed
// always yield the same planets, in the same order. Placement is best effort:
// when the world is too crowded fewer than cfg.PlanetCount planets come back.
func Generate(cfg SimConfig) []Planet {
	rng := rand.New(rand.NewSource(cfg.Seed))

	margin := cfg.MaxRadius + Padding
	spanX := cfg.Width - 2*margin
	spanY := cfg.Height - 2*margin
	if cfg.PlanetCount <= 0 || spanX < 0 || spanY < 0 {
		return nil
	}

	grid := newSpatialGrid(cfg.Width, cfg.Height, 2*cfg.MaxRadius+Clearance)
	planets := make([]Planet, 0, cfg.PlanetCount)

	maxAttempts := cfg.PlanetCount * AttemptsPerPlanet
	for attempt := 0; attempt < maxAttempts && len(planets) < cfg.PlanetCount; attempt++ {
		radius := cfg.MinRadius + rng.Float64()*(cfg.MaxRadius-cfg.MinRadius)
		pos := Vec2{
			X: margin + rng.Float64()*spanX,
			Y: margin + rng.Float64()*spanY,
		}
		mult := 0.85 + 0.3*rng.Float64()

		if overlaps(planets, grid, pos, radius) {
			continue
		}

		id := PlanetID(len(planets))
		planets = append(planets, Planet{
			ID:         id,
			Pos:        pos,
			Radius:     radius,
			Owner:      Neutral,
			Ships:      math.Floor(radius * NeutralShipsPerRadius),
			Production: radius * ProductionPerRadius * mult,
		})
		grid.insert(id, pos)
	}

	assignStartingBases(planets, cfg.SeatCount)
	return planets
}

func overlaps(planets []Planet, grid *spatialGrid, pos Vec2, radius float64) bool {
	for _, id := range grid.nearby(pos) {
		other := &planets[id]
		if Distance(pos, other.Pos) < radius+other.Radius+Clearance {
			return true
		}
	}
	return false
}

// assignStartingBases gives the two farthest-apart planets to Seat1 and Seat2.
func assignStartingBases(planets []Planet, seats int) {
	if len(planets) < 2 || seats < 1 {
		return
	}

	a, b := 0, 1
	best := -1.0
	for i := 0; i < len(planets); i++ {
		for j := i + 1; j < len(planets); j++ {
			d := Distance(planets[i].Pos, planets[j].Pos)
			if d > best {
				best = d
				a, b = i, j
			}
		}
	}

	bases := []int{a, b}
	for i, idx := range bases {
		if i >= seats {
			break
		}
		p := &planets[idx]
		p.Owner = Owner(i + 1)
		p.Ships = math.Max(p.Ships, StartShips)
		p.Production *= StartProductionBonus
	}
}

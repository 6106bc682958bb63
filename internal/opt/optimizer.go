// Package opt contains the route optimization strategies: a greedy
// nearest-neighbor heuristic and an ALNS-based constraint solver, plus the
// selector that picks between them.
package opt

import (
	"context"
	"time"

	"gasroute/internal/geo"
	"gasroute/internal/model"
)

// Stop is one delivery location handed to an optimizer.
type Stop struct {
	CustomerID  string
	Location    model.GeoPoint
	Window      *model.TimeWindow // nil means any time within the shift
	ServiceTime time.Duration
}

// Input is the per-team routing problem for one day.
type Input struct {
	Team  model.Team
	Date  time.Time
	Stops []Stop

	// TimeBudget bounds the solver search. Ignored by the greedy strategy.
	TimeBudget time.Duration
	Seed       int64
}

// Result is the optimizer output. Unplaced holds stops the solver could not
// fit within its budget; the greedy strategy never populates it.
type Result struct {
	Route      model.Route
	Unplaced   []Stop
	Iterations int
	Stats      *SolverStats // nil for the greedy strategy
}

// Optimizer orders the stops assigned to one team into a route.
type Optimizer interface {
	Name() string
	Optimize(ctx context.Context, in Input) (Result, error)
}

// Kind tags the selected strategy.
type Kind string

const (
	KindGreedy Kind = "greedy"
	KindSolver Kind = "solver"
)

// SelectorConfig holds the tunable selection rule inputs.
type SelectorConfig struct {
	StopThreshold int      // above this many stops, always solve
	SolverModes   []string // requested modes that force the solver
}

// Select picks the strategy: the solver for large instances, time-windowed
// instances, or when the requested mode asks for it; greedy otherwise.
func Select(stopCount int, hasTimeWindows bool, mode string, cfg SelectorConfig) Kind {
	if stopCount > cfg.StopThreshold || hasTimeWindows {
		return KindSolver
	}
	for _, m := range cfg.SolverModes {
		if m == mode {
			return KindSolver
		}
	}
	return KindGreedy
}

// matrix holds precomputed legs. Index 0 is the team's home base, 1..n the
// stops, so m.km[i][j] is the leg from point i to point j.
type matrix struct {
	km  [][]float64
	dur [][]time.Duration
}

// buildMatrix resolves all pairwise legs through the provider. It reports
// whether any lookup degraded to the fallback estimate.
func buildMatrix(ctx context.Context, lookup *geo.Fallback, base model.GeoPoint, stops []Stop) (matrix, bool) {
	n := len(stops) + 1
	pts := make([]model.GeoPoint, n)
	pts[0] = base
	for i, s := range stops {
		pts[i+1] = s.Location
	}
	m := matrix{km: make([][]float64, n), dur: make([][]time.Duration, n)}
	fellBack := false
	for i := 0; i < n; i++ {
		m.km[i] = make([]float64, n)
		m.dur[i] = make([]time.Duration, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			r, fb, err := lookup.Lookup(ctx, pts[i], pts[j])
			if err != nil {
				// Estimate never fails in practice; keep zero leg if it does.
				continue
			}
			if fb {
				fellBack = true
			}
			m.km[i][j] = r.Km
			m.dur[i][j] = r.Dur
		}
	}
	return m, fellBack
}

// pathKm sums leg distances for an order of 1-based stop indices starting
// from the home base.
func (m matrix) pathKm(order []int) float64 {
	total := 0.0
	prev := 0
	for _, idx := range order {
		total += m.km[prev][idx]
		prev = idx
	}
	return total
}

package opt

import (
	"context"
	"math"
	"time"

	"gasroute/internal/geo"
	"gasroute/internal/model"
)

// Greedy is the nearest-neighbor strategy: from the home base it repeatedly
// takes the closest unvisited stop, ties broken by lowest customer ID for
// determinism. It visits every input stop and knows nothing about time
// windows or capacity; that is the documented tradeoff versus the solver.
type Greedy struct {
	Lookup *geo.Fallback
}

func NewGreedy(lookup *geo.Fallback) *Greedy { return &Greedy{Lookup: lookup} }

func (g *Greedy) Name() string { return string(KindGreedy) }

func (g *Greedy) Optimize(ctx context.Context, in Input) (Result, error) {
	route := model.Route{
		TeamID:    in.Team.ID(),
		Date:      in.Date,
		Stops:     []model.RouteStop{},
		Optimizer: g.Name(),
	}
	if len(in.Stops) == 0 {
		route.QualityScore = 1
		return Result{Route: route}, nil
	}

	m, fellBack := buildMatrix(ctx, g.Lookup, in.Team.HomeBase, in.Stops)
	route.Fallback = fellBack

	remaining := make(map[int]struct{}, len(in.Stops))
	for i := range in.Stops {
		remaining[i+1] = struct{}{}
	}

	order := make([]int, 0, len(in.Stops))
	cur := 0
	for len(remaining) > 0 {
		best := -1
		bestKm := math.MaxFloat64
		for idx := range remaining {
			km := m.km[cur][idx]
			if km < bestKm || (km == bestKm && (best == -1 || in.Stops[idx-1].CustomerID < in.Stops[best-1].CustomerID)) {
				bestKm = km
				best = idx
			}
		}
		order = append(order, best)
		delete(remaining, best)
		cur = best
	}

	// Baseline for the quality score is the unoptimized input order.
	naive := make([]int, len(in.Stops))
	for i := range naive {
		naive[i] = i + 1
	}
	route.Stops, route.TotalKm, route.TotalDur = legsForOrder(m, in, order)
	route.QualityScore = qualityVsBaseline(m.pathKm(order), m.pathKm(naive))
	return Result{Route: route}, nil
}

// legsForOrder materializes RouteStops with arrival times for an order of
// 1-based matrix indices. Arrival waits for a stop's window start when early.
func legsForOrder(m matrix, in Input, order []int) ([]model.RouteStop, float64, time.Duration) {
	stops := make([]model.RouteStop, 0, len(order))
	t := in.Team.Shift.Start
	totalKm := 0.0
	var totalDur time.Duration
	prev := 0
	for i, idx := range order {
		s := in.Stops[idx-1]
		legKm := m.km[prev][idx]
		legDur := m.dur[prev][idx]
		t = t.Add(legDur)
		if s.Window != nil && t.Before(s.Window.Start) {
			t = s.Window.Start
		}
		stops = append(stops, model.RouteStop{
			Seq:        i + 1,
			CustomerID: s.CustomerID,
			ArriveAt:   t,
			LegKm:      legKm,
			LegDur:     legDur,
		})
		t = t.Add(s.ServiceTime)
		totalKm += legKm
		totalDur += legDur
		prev = idx
	}
	return stops, totalKm, totalDur
}

func qualityVsBaseline(optimized, baseline float64) float64 {
	if baseline <= 0 {
		return 1
	}
	q := 1 - optimized/baseline
	if q < 0 {
		q = 0
	}
	// An unchanged route still gets a floor score: feasible beats nothing.
	return 0.5 + q/2
}

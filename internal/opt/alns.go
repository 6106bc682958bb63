package opt

import (
	"context"
	"math"
	"math/rand"
	"time"

	"gasroute/internal/geo"
	"gasroute/internal/model"
)

// Solver is the constraint-based strategy: an adaptive large neighborhood
// search over one team's stops with hard time windows, a stop-count cap and
// the shift as the working-hour budget. The search is deadline-bounded and
// always returns the best solution found; stops it could not fit come back in
// Result.Unplaced for the caller to re-queue.
type Solver struct {
	Lookup *geo.Fallback

	InitialTemp    float64
	Cooling        float64
	DistanceWeight float64
	LatenessWeight float64
}

// SolverStats reports search behavior for plan metrics.
type SolverStats struct {
	Iterations       int        `json:"iterations"`
	Improvements     int        `json:"improvements"`
	AcceptedWorse    int        `json:"acceptedWorse"`
	BestCost         float64    `json:"bestCost"`
	RemovalWeights   [2]float64 `json:"removalWeights"`   // random, shaw
	InsertionWeights [2]float64 `json:"insertionWeights"` // greedy, regret2
}

func NewSolver(lookup *geo.Fallback, initialTemp, cooling, distanceWeight, latenessWeight float64) *Solver {
	if initialTemp <= 0 {
		initialTemp = 1
	}
	if cooling <= 0 || cooling >= 1 {
		cooling = 0.995
	}
	if distanceWeight <= 0 {
		distanceWeight = 1
	}
	return &Solver{
		Lookup:         lookup,
		InitialTemp:    initialTemp,
		Cooling:        cooling,
		DistanceWeight: distanceWeight,
		LatenessWeight: latenessWeight,
	}
}

func (s *Solver) Name() string { return string(KindSolver) }

// candidate is one search state: visit order plus the stops left out of it.
// Indices are 1-based into the matrix (0 is the home base).
type candidate struct {
	order []int
	out   []int
	cost  float64
}

func (c candidate) clone() candidate {
	return candidate{
		order: append([]int(nil), c.order...),
		out:   append([]int(nil), c.out...),
		cost:  c.cost,
	}
}

const unplacedPenalty = 1e4 // km-equivalent per stop left out

func (s *Solver) Optimize(ctx context.Context, in Input) (Result, error) {
	if len(in.Stops) == 0 {
		return Result{Route: model.Route{
			TeamID:       in.Team.ID(),
			Date:         in.Date,
			Stops:        []model.RouteStop{},
			Optimizer:    s.Name(),
			QualityScore: 1,
		}}, nil
	}

	budget := in.TimeBudget
	if budget <= 0 {
		budget = 5 * time.Second
	}
	seed := in.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	m, fellBack := buildMatrix(ctx, s.Lookup, in.Team.HomeBase, in.Stops)

	curr := s.seedSolution(m, in)
	curr.cost = s.cost(m, in, curr)
	best := curr.clone()

	remW := [2]float64{1, 1}
	insW := [2]float64{1, 1}
	temp := s.InitialTemp
	stats := SolverStats{BestCost: best.cost}
	deadline := time.Now().Add(budget)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			// Best-effort result, never an error.
			stats.RemovalWeights = remW
			stats.InsertionWeights = insW
			return s.finish(m, in, best, stats, fellBack), nil
		default:
		}
		stats.Iterations++

		k := 1 + rng.Intn(3)
		rop := roulette(remW, rng)
		iop := roulette(insW, rng)

		next := curr.clone()
		var removed []int
		switch rop {
		case 0:
			removed = s.removeRandom(&next, k, rng)
		default:
			removed = s.removeShaw(m, in, &next, k, rng)
		}
		next.out = append(next.out, removed...)
		switch iop {
		case 0:
			s.insertGreedy(m, in, &next)
		default:
			s.insertRegret(m, in, &next)
		}
		s.improveTwoOpt(m, in, &next)
		s.improveRelocate(m, in, &next)
		next.cost = s.cost(m, in, next)

		delta := next.cost - curr.cost
		if delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			curr = next
			if curr.cost < best.cost {
				best = curr.clone()
				remW[rop] += 0.1
				insW[iop] += 0.1
				stats.Improvements++
				stats.BestCost = best.cost
			} else {
				remW[rop] += 0.01
				insW[iop] += 0.01
				stats.AcceptedWorse++
			}
		} else {
			remW[rop] = math.Max(0.01, remW[rop]*0.999)
			insW[iop] = math.Max(0.01, insW[iop]*0.999)
		}
		temp *= s.Cooling

		if len(best.out) == 0 && len(in.Stops) <= 3 && stats.Iterations >= 500 {
			// Tiny instances converge immediately; no point burning the budget.
			break
		}
	}
	stats.RemovalWeights = remW
	stats.InsertionWeights = insW
	return s.finish(m, in, best, stats, fellBack), nil
}

func (s *Solver) finish(m matrix, in Input, best candidate, stats SolverStats, fellBack bool) Result {
	route := model.Route{
		TeamID:    in.Team.ID(),
		Date:      in.Date,
		Optimizer: s.Name(),
		Fallback:  fellBack,
	}
	route.Stops, route.TotalKm, route.TotalDur = legsForOrder(m, in, best.order)

	naive := make([]int, len(in.Stops))
	for i := range naive {
		naive[i] = i + 1
	}
	placedRatio := float64(len(best.order)) / float64(len(in.Stops))
	route.QualityScore = placedRatio * qualityVsBaseline(m.pathKm(best.order), m.pathKm(naive))

	unplaced := make([]Stop, 0, len(best.out))
	for _, idx := range best.out {
		unplaced = append(unplaced, in.Stops[idx-1])
	}
	return Result{Route: route, Unplaced: unplaced, Iterations: stats.Iterations, Stats: &stats}
}

// seedSolution greedily appends the cheapest feasible stop until none fits.
func (s *Solver) seedSolution(m matrix, in Input) candidate {
	n := len(in.Stops)
	used := make([]bool, n+1)
	c := candidate{order: []int{}}
	for {
		bestIdx := -1
		bestKm := math.MaxFloat64
		for idx := 1; idx <= n; idx++ {
			if used[idx] {
				continue
			}
			trial := append(append([]int(nil), c.order...), idx)
			if !s.feasible(m, in, trial) {
				continue
			}
			last := 0
			if len(c.order) > 0 {
				last = c.order[len(c.order)-1]
			}
			if km := m.km[last][idx]; km < bestKm {
				bestKm = km
				bestIdx = idx
			}
		}
		if bestIdx < 0 {
			break
		}
		c.order = append(c.order, bestIdx)
		used[bestIdx] = true
	}
	for idx := 1; idx <= n; idx++ {
		if !used[idx] {
			c.out = append(c.out, idx)
		}
	}
	return c
}

// feasible propagates the schedule: shift start from the home base, waiting
// for window starts, hard-failing on window ends, service past shift end, or
// exceeding the team's stop cap.
func (s *Solver) feasible(m matrix, in Input, order []int) bool {
	_, _, ok := s.propagate(m, in, order)
	return ok
}

func (s *Solver) propagate(m matrix, in Input, order []int) (km float64, late time.Duration, ok bool) {
	if in.Team.MaxStops > 0 && len(order) > in.Team.MaxStops {
		return 0, 0, false
	}
	t := in.Team.Shift.Start
	prev := 0
	for _, idx := range order {
		st := in.Stops[idx-1]
		km += m.km[prev][idx]
		t = t.Add(m.dur[prev][idx])
		if st.Window != nil {
			if t.Before(st.Window.Start) {
				t = st.Window.Start
			}
			if t.After(st.Window.End) {
				return km, late + t.Sub(st.Window.End), false
			}
		}
		t = t.Add(st.ServiceTime)
		if in.Team.Shift.Valid() && t.After(in.Team.Shift.End) {
			return km, late, false
		}
		prev = idx
	}
	return km, late, true
}

func (s *Solver) cost(m matrix, in Input, c candidate) float64 {
	km, late, _ := s.propagate(m, in, c.order)
	return s.DistanceWeight*km + s.LatenessWeight*late.Hours() + unplacedPenalty*float64(len(c.out))
}

func (s *Solver) removeRandom(c *candidate, k int, rng *rand.Rand) []int {
	removed := []int{}
	for i := 0; i < k && len(c.order) > 0; i++ {
		j := rng.Intn(len(c.order))
		removed = append(removed, c.order[j])
		c.order = append(c.order[:j], c.order[j+1:]...)
	}
	return removed
}

// removeShaw removes stops related to a random seed stop: close in distance
// and with overlapping windows, the classic relatedness measure.
func (s *Solver) removeShaw(m matrix, in Input, c *candidate, k int, rng *rand.Rand) []int {
	if len(c.order) == 0 {
		return nil
	}
	seedIdx := c.order[rng.Intn(len(c.order))]
	seedStop := in.Stops[seedIdx-1]

	type scored struct {
		idx   int
		score float64
	}
	rel := make([]scored, 0, len(c.order)-1)
	for _, idx := range c.order {
		if idx == seedIdx {
			continue
		}
		st := in.Stops[idx-1]
		score := m.km[seedIdx][idx]
		if seedStop.Window != nil && st.Window != nil && seedStop.Window.Overlaps(*st.Window) {
			score -= 10 // prefer removing window-coupled neighbors together
		}
		rel = append(rel, scored{idx: idx, score: score})
	}
	for i := 0; i < len(rel); i++ {
		for j := i + 1; j < len(rel); j++ {
			if rel[j].score < rel[i].score {
				rel[i], rel[j] = rel[j], rel[i]
			}
		}
	}
	removed := []int{seedIdx}
	for i := 0; i < len(rel) && len(removed) < k; i++ {
		removed = append(removed, rel[i].idx)
	}
	rm := map[int]bool{}
	for _, idx := range removed {
		rm[idx] = true
	}
	keep := c.order[:0]
	for _, idx := range c.order {
		if !rm[idx] {
			keep = append(keep, idx)
		}
	}
	c.order = keep
	return removed
}

// insertGreedy places out-stops at their cheapest feasible position; stops
// with no feasible position stay out.
func (s *Solver) insertGreedy(m matrix, in Input, c *candidate) {
	pending := c.out
	c.out = nil
	for len(pending) > 0 {
		bestStop, bestPos := -1, -1
		bestDelta := math.MaxFloat64
		for pi, idx := range pending {
			for pos := 0; pos <= len(c.order); pos++ {
				trial := insertAt(c.order, idx, pos)
				if !s.feasible(m, in, trial) {
					continue
				}
				if d := s.insertDelta(m, c.order, idx, pos); d < bestDelta {
					bestDelta = d
					bestStop = pi
					bestPos = pos
				}
			}
		}
		if bestStop < 0 {
			c.out = append(c.out, pending...)
			return
		}
		c.order = insertAt(c.order, pending[bestStop], bestPos)
		pending = append(pending[:bestStop], pending[bestStop+1:]...)
	}
}

// insertRegret is regret-2 insertion: place first the stop that loses the
// most if denied its best position.
func (s *Solver) insertRegret(m matrix, in Input, c *candidate) {
	pending := c.out
	c.out = nil
	for len(pending) > 0 {
		bestStop, bestPos := -1, -1
		bestRegret := -1.0
		bestCost := math.MaxFloat64
		for pi, idx := range pending {
			first, second := math.MaxFloat64, math.MaxFloat64
			firstPos := -1
			for pos := 0; pos <= len(c.order); pos++ {
				trial := insertAt(c.order, idx, pos)
				if !s.feasible(m, in, trial) {
					continue
				}
				d := s.insertDelta(m, c.order, idx, pos)
				if d < first {
					second = first
					first = d
					firstPos = pos
				} else if d < second {
					second = d
				}
			}
			if firstPos < 0 {
				continue
			}
			regret := second - first
			if second == math.MaxFloat64 {
				regret = unplacedPenalty
			}
			if regret > bestRegret || (regret == bestRegret && first < bestCost) {
				bestRegret = regret
				bestCost = first
				bestStop = pi
				bestPos = firstPos
			}
		}
		if bestStop < 0 {
			c.out = append(c.out, pending...)
			return
		}
		c.order = insertAt(c.order, pending[bestStop], bestPos)
		pending = append(pending[:bestStop], pending[bestStop+1:]...)
	}
}

func (s *Solver) insertDelta(m matrix, order []int, idx, pos int) float64 {
	prev := 0
	if pos > 0 {
		prev = order[pos-1]
	}
	next := -1
	if pos < len(order) {
		next = order[pos]
	}
	added := m.km[prev][idx]
	removedLeg := 0.0
	if next >= 0 {
		added += m.km[idx][next]
		removedLeg = m.km[prev][next]
	}
	return added - removedLeg
}

// improveTwoOpt reverses segments while that shortens the path and stays
// feasible.
func (s *Solver) improveTwoOpt(m matrix, in Input, c *candidate) {
	n := len(c.order)
	improved := true
	for improved {
		improved = false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				trial := append([]int(nil), c.order...)
				for a, b := i, k; a < b; a, b = a+1, b-1 {
					trial[a], trial[b] = trial[b], trial[a]
				}
				if !s.feasible(m, in, trial) {
					continue
				}
				if m.pathKm(trial)+1e-9 < m.pathKm(c.order) {
					c.order = trial
					improved = true
				}
			}
		}
	}
}

// improveRelocate is an or-opt pass moving single stops to better positions.
func (s *Solver) improveRelocate(m matrix, in Input, c *candidate) {
	improved := true
	for improved {
		improved = false
		for i := 0; i < len(c.order); i++ {
			for j := 0; j <= len(c.order); j++ {
				if j == i || j == i+1 {
					continue
				}
				trial := append([]int(nil), c.order...)
				idx := trial[i]
				trial = append(trial[:i], trial[i+1:]...)
				pos := j
				if pos > i {
					pos--
				}
				trial = insertAt(trial, idx, pos)
				if !s.feasible(m, in, trial) {
					continue
				}
				if m.pathKm(trial)+1e-9 < m.pathKm(c.order) {
					c.order = trial
					improved = true
				}
			}
		}
	}
}

func insertAt(order []int, idx, pos int) []int {
	out := make([]int, 0, len(order)+1)
	out = append(out, order[:pos]...)
	out = append(out, idx)
	out = append(out, order[pos:]...)
	return out
}

func roulette(weights [2]float64, rng *rand.Rand) int {
	sum := weights[0] + weights[1]
	if sum <= 0 {
		return 0
	}
	if rng.Float64()*sum <= weights[0] {
		return 0
	}
	return 1
}

package opt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gasroute/internal/model"
)

func newTestSolver() *Solver {
	return NewSolver(estimateOnly(), 1.0, 0.995, 1.0, 4.0)
}

func window(startHour, endHour int) *model.TimeWindow {
	return &model.TimeWindow{Start: sep1.Add(time.Duration(startHour) * time.Hour), End: sep1.Add(time.Duration(endHour) * time.Hour)}
}

func TestSolverPlacesAllFeasibleStops(t *testing.T) {
	s := newTestSolver()
	in := Input{
		Team: testTeam(),
		Date: sep1,
		Stops: []Stop{
			stopAt("a", 35.02, 135.01),
			stopAt("b", 35.03, 134.99),
			stopAt("c", 34.98, 135.02),
		},
		TimeBudget: 200 * time.Millisecond,
		Seed:       42,
	}
	res, err := s.Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Route.Stops, 3)
	require.Empty(t, res.Unplaced)
	require.NotNil(t, res.Stats)
	require.Greater(t, res.Stats.Iterations, 0)
}

func TestSolverReportsInfeasibleStops(t *testing.T) {
	s := newTestSolver()
	impossible := stopAt("x", 35.01, 135.0)
	// Window ends before the shift even starts.
	impossible.Window = &model.TimeWindow{Start: sep1.Add(1 * time.Hour), End: sep1.Add(2 * time.Hour)}
	in := Input{
		Team: testTeam(),
		Date: sep1,
		Stops: []Stop{
			stopAt("a", 35.02, 135.01),
			impossible,
			stopAt("b", 34.99, 134.99),
		},
		TimeBudget: 200 * time.Millisecond,
		Seed:       7,
	}
	res, err := s.Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Route.Stops, 2)
	require.Len(t, res.Unplaced, 1)
	require.Equal(t, "x", res.Unplaced[0].CustomerID)
	require.Less(t, res.Route.QualityScore, 1.0, "unplaced stops must cost quality")
}

func TestSolverRespectsMaxStops(t *testing.T) {
	s := newTestSolver()
	team := testTeam()
	team.MaxStops = 2
	in := Input{
		Team: team,
		Date: sep1,
		Stops: []Stop{
			stopAt("a", 35.02, 135.01),
			stopAt("b", 35.03, 134.99),
			stopAt("c", 34.98, 135.02),
			stopAt("d", 35.05, 135.04),
		},
		TimeBudget: 200 * time.Millisecond,
		Seed:       1,
	}
	res, err := s.Optimize(context.Background(), in)
	require.NoError(t, err)
	require.LessOrEqual(t, len(res.Route.Stops), 2)
	require.Len(t, res.Unplaced, 4-len(res.Route.Stops))
}

func TestSolverHonorsTimeWindows(t *testing.T) {
	s := newTestSolver()
	morning := stopAt("morning", 35.02, 135.0)
	morning.Window = window(8, 10)
	afternoon := stopAt("afternoon", 35.01, 135.0)
	afternoon.Window = window(14, 16)
	in := Input{
		Team:       testTeam(),
		Date:       sep1,
		Stops:      []Stop{afternoon, morning},
		TimeBudget: 300 * time.Millisecond,
		Seed:       3,
	}
	res, err := s.Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Route.Stops, 2)
	for _, stop := range res.Route.Stops {
		switch stop.CustomerID {
		case "morning":
			require.False(t, stop.ArriveAt.After(sep1.Add(10*time.Hour)))
		case "afternoon":
			require.False(t, stop.ArriveAt.Before(sep1.Add(14*time.Hour)))
		}
	}
}

func TestSolverDeterministicWithSeed(t *testing.T) {
	s := newTestSolver()
	in := Input{
		Team: testTeam(),
		Date: sep1,
		Stops: []Stop{
			stopAt("a", 35.02, 135.01),
			stopAt("b", 35.03, 134.99),
			stopAt("c", 34.98, 135.02),
		},
		TimeBudget: 150 * time.Millisecond,
		Seed:       99,
	}
	first, err := s.Optimize(context.Background(), in)
	require.NoError(t, err)
	again, err := s.Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first.Route.Stops, again.Route.Stops, "same seed must give the same route")
}

func TestSolverRespectsBudget(t *testing.T) {
	s := newTestSolver()
	stops := make([]Stop, 0, 30)
	for i := 0; i < 30; i++ {
		stops = append(stops, stopAt(string(rune('a'+i%26))+string(rune('0'+i/26)), 35.0+float64(i)*0.005, 135.0+float64(i%7)*0.004))
	}
	in := Input{Team: testTeam(), Date: sep1, Stops: stops, TimeBudget: 300 * time.Millisecond, Seed: 5}
	start := time.Now()
	_, err := s.Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestSolverCancelledContextReturnsBestEffort(t *testing.T) {
	s := newTestSolver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := Input{
		Team:       testTeam(),
		Date:       sep1,
		Stops:      []Stop{stopAt("a", 35.02, 135.01)},
		TimeBudget: 5 * time.Second,
		Seed:       2,
	}
	res, err := s.Optimize(ctx, in)
	require.NoError(t, err, "cancellation yields the best found, not an error")
	require.Len(t, res.Route.Stops, 1, "the greedy seed already placed it")
	require.NotNil(t, res.Stats)
	require.Positive(t, res.Stats.RemovalWeights[0], "weight snapshots survive cancellation")
	require.Positive(t, res.Stats.InsertionWeights[0])
}

func TestSolverEmptyInput(t *testing.T) {
	s := newTestSolver()
	res, err := s.Optimize(context.Background(), Input{Team: testTeam(), Date: sep1})
	require.NoError(t, err)
	require.Empty(t, res.Route.Stops)
	require.Equal(t, 1.0, res.Route.QualityScore)
}

package opt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gasroute/internal/geo"
	"gasroute/internal/model"
)

var sep1 = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func estimateOnly() *geo.Fallback {
	return &geo.Fallback{Estimate: geo.NewHaversine(40)}
}

func testTeam() model.Team {
	return model.Team{
		DriverID:  "d1",
		VehicleID: "v1",
		Shift:     model.TimeWindow{Start: sep1.Add(8 * time.Hour), End: sep1.Add(18 * time.Hour)},
		HomeBase:  model.GeoPoint{Lat: 35.0, Lng: 135.0},
	}
}

func stopAt(id string, lat, lng float64) Stop {
	return Stop{CustomerID: id, Location: model.GeoPoint{Lat: lat, Lng: lng}, ServiceTime: 10 * time.Minute}
}

func TestGreedyVisitsNearestFirst(t *testing.T) {
	g := NewGreedy(estimateOnly())
	in := Input{
		Team: testTeam(),
		Date: sep1,
		Stops: []Stop{
			stopAt("far", 35.10, 135.0),
			stopAt("near", 35.01, 135.0),
			stopAt("mid", 35.05, 135.0),
		},
	}
	res, err := g.Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Route.Stops, 3)
	require.Equal(t, "near", res.Route.Stops[0].CustomerID)
	require.Equal(t, "mid", res.Route.Stops[1].CustomerID)
	require.Equal(t, "far", res.Route.Stops[2].CustomerID)
	require.Empty(t, res.Unplaced, "greedy never drops stops")
}

func TestGreedyTieBreakLowestID(t *testing.T) {
	g := NewGreedy(estimateOnly())
	in := Input{
		Team: testTeam(),
		Date: sep1,
		Stops: []Stop{
			stopAt("zeta", 35.01, 135.0),
			stopAt("alpha", 35.01, 135.0), // same location, same distance
		},
	}
	res, err := g.Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "alpha", res.Route.Stops[0].CustomerID)
}

func TestGreedyRouteInvariants(t *testing.T) {
	g := NewGreedy(estimateOnly())
	in := Input{
		Team: testTeam(),
		Date: sep1,
		Stops: []Stop{
			stopAt("a", 35.02, 135.01),
			stopAt("b", 35.04, 134.98),
			stopAt("c", 34.97, 135.03),
		},
	}
	res, err := g.Optimize(context.Background(), in)
	require.NoError(t, err)

	sum := 0.0
	for i, s := range res.Route.Stops {
		require.Equal(t, i+1, s.Seq)
		sum += s.LegKm
	}
	require.InDelta(t, res.Route.TotalKm, sum, 1e-9)
	require.GreaterOrEqual(t, res.Route.QualityScore, 0.5)
	require.LessOrEqual(t, res.Route.QualityScore, 1.0)
	require.Equal(t, "greedy", res.Route.Optimizer)
}

func TestGreedyDeterministic(t *testing.T) {
	g := NewGreedy(estimateOnly())
	in := Input{
		Team: testTeam(),
		Date: sep1,
		Stops: []Stop{
			stopAt("a", 35.02, 135.01),
			stopAt("b", 35.04, 134.98),
			stopAt("c", 34.97, 135.03),
			stopAt("d", 35.06, 135.06),
		},
	}
	first, err := g.Optimize(context.Background(), in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := g.Optimize(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, first.Route.Stops, again.Route.Stops)
	}
}

func TestGreedyEmptyInput(t *testing.T) {
	g := NewGreedy(estimateOnly())
	res, err := g.Optimize(context.Background(), Input{Team: testTeam(), Date: sep1})
	require.NoError(t, err)
	require.Empty(t, res.Route.Stops)
	require.Equal(t, 1.0, res.Route.QualityScore)
}

package sched

import (
	"context"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gasroute/internal/avail"
	"gasroute/internal/config"
	"gasroute/internal/forecast"
	"gasroute/internal/geo"
	"gasroute/internal/metrics"
	"gasroute/internal/model"
	"gasroute/internal/opt"
	"gasroute/internal/slot"
	"gasroute/internal/store"
)

// Events receives run lifecycle notifications for streaming to clients.
type Events interface {
	Emit(runID, eventType string, data map[string]any)
}

// NopEvents discards events.
type NopEvents struct{}

func (NopEvents) Emit(string, string, map[string]any) {}

// Pipeline runs one scheduling pass: forecast, availability, slot
// allocation, per-team route optimization, assembly. One invocation produces
// one immutable GeneratedSchedule for one date.
type Pipeline struct {
	Cfg    config.Config
	Store  store.Store
	Lookup *geo.Fallback
	Log    zerolog.Logger
	Events Events

	greedy *opt.Greedy
	solver *opt.Solver
}

func NewPipeline(cfg config.Config, st store.Store, lookup *geo.Fallback, log zerolog.Logger, events Events) *Pipeline {
	if events == nil {
		events = NopEvents{}
	}
	o := cfg.Optimizer
	return &Pipeline{
		Cfg:    cfg,
		Store:  st,
		Lookup: lookup,
		Log:    log,
		Events: events,
		greedy: opt.NewGreedy(lookup),
		solver: opt.NewSolver(lookup, o.InitialTemp, o.Cooling, o.DistanceWeight, o.LatenessWeight),
	}
}

// teamResult carries one team's optimization output back to the merge step.
type teamResult struct {
	teamID string
	res    opt.Result
	err    error
}

func (p *Pipeline) Run(ctx context.Context, req model.ScheduleRequest) (model.GeneratedSchedule, error) {
	started := time.Now()
	mode := req.Mode
	if mode == "" {
		mode = "fast"
	}
	date, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		metrics.ScheduleRuns.WithLabelValues(mode, "error").Inc()
		return model.GeneratedSchedule{}, err
	}
	runID := uuid.New().String()
	log := p.Log.With().Str("run_id", runID).Str("date", req.Date).Str("mode", mode).Logger()
	p.Events.Emit(runID, "run.started", map[string]any{"date": req.Date, "mode": mode})

	snap, err := p.Store.LoadSnapshot(ctx)
	if err != nil {
		metrics.ScheduleRuns.WithLabelValues(mode, "error").Inc()
		return model.GeneratedSchedule{}, err
	}

	var warnings []model.Warning

	// Forecast demand per customer, deterministically by customer ID.
	customers := make(map[string]model.Customer, len(snap.Customers))
	ordered := append([]model.Customer(nil), snap.Customers...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	horizon := req.HorizonDays
	if horizon <= 0 {
		horizon = p.Cfg.Forecast.HorizonDays
	}
	fc := forecast.New(horizon)
	requests := []model.DeliveryRequest{}
	skippedHistory := 0
	for _, c := range ordered {
		customers[c.ID] = c
		dr, ferr := fc.Forecast(c, snap.History[c.ID], date)
		if ferr != nil {
			// Malformed history degrades to a per-customer omission.
			log.Warn().Err(ferr).Str("customer", c.ID).Msg("forecast failed, customer skipped")
			continue
		}
		if dr == nil {
			if len(snap.History[c.ID]) < 2 {
				skippedHistory++
				log.Debug().Str("customer", c.ID).Msg("insufficient history, not scheduled")
			}
			continue
		}
		requests = append(requests, *dr)
	}
	if skippedHistory > 0 {
		warnings = append(warnings, model.Warning{
			Kind:   model.WarnNoHistory,
			Detail: nDetail(skippedHistory, "customers skipped: fewer than two past deliveries"),
		})
	}

	// Availability.
	resolver := avail.New(p.Cfg.Slots.DayStartHour, p.Cfg.Slots.DayEndHour)
	teams := resolver.AvailableTeams(date, snap.Drivers, snap.Vehicles)
	if len(teams) == 0 {
		warnings = append(warnings, model.Warning{Kind: model.WarnNoTeams, Detail: model.ErrNoAvailableTeams.Error()})
		log.Warn().Msg("no available teams, schedule will serve nothing")
	}

	// Slot allocation.
	slots, buildErr := slot.BuildDaySlots(date, p.Cfg.Slots, len(teams))
	if buildErr != nil {
		metrics.ScheduleRuns.WithLabelValues(mode, "error").Inc()
		return model.GeneratedSchedule{}, buildErr
	}
	slots, dropped := slot.Allocate(requests, customers, slots)

	// Partition slot-assigned requests into per-team stop lists, then
	// optimize each team's route. Teams share nothing from here on, so the
	// optimizations run in parallel; results merge by team ID.
	stopsByTeam, overflow := partition(slots, customers, teams)
	dropped = append(dropped, overflow...)

	budget := p.Cfg.Optimizer.TimeBudget
	if req.TimeBudgetMs > 0 {
		budget = time.Duration(req.TimeBudgetMs) * time.Millisecond
	}
	if mode == "quality" {
		budget *= 2
	}

	results := make([]teamResult, len(teams))
	var wg sync.WaitGroup
	for i, team := range teams {
		wg.Add(1)
		go func(i int, team model.Team) {
			defer wg.Done()
			stops := stopsByTeam[team.ID()]
			kind := opt.Select(len(stops), hasWindows(stops), mode, opt.SelectorConfig{
				StopThreshold: p.Cfg.Optimizer.SolverStopThreshold,
				SolverModes:   p.Cfg.Optimizer.SolverModes,
			})
			var optimizer opt.Optimizer = p.greedy
			if kind == opt.KindSolver {
				optimizer = p.solver
			}
			seed := req.Seed
			if seed == 0 {
				seed = deriveSeed(req.Date, team.ID())
			}
			res, oerr := optimizer.Optimize(ctx, opt.Input{
				Team:       team,
				Date:       date,
				Stops:      stops,
				TimeBudget: budget,
				Seed:       seed,
			})
			results[i] = teamResult{teamID: team.ID(), res: res, err: oerr}
		}(i, team)
	}
	wg.Wait()

	routes := []model.Route{}
	for _, tr := range results {
		if tr.err != nil {
			// A failed team costs its stops, never the run.
			log.Error().Err(tr.err).Str("team", tr.teamID).Msg("optimization failed, team skipped")
			continue
		}
		for _, un := range tr.res.Unplaced {
			dropped = append(dropped, model.DroppedRequest{
				Request: requestFor(slots, un.CustomerID),
				Reason:  model.DropInfeasible,
			})
		}
		if tr.res.Stats != nil {
			metrics.SolverIterations.Observe(float64(tr.res.Stats.Iterations))
		}
		routes = append(routes, tr.res.Route)
		p.Events.Emit(runID, "team.optimized", map[string]any{
			"team":     tr.teamID,
			"stops":    len(tr.res.Route.Stops),
			"unplaced": len(tr.res.Unplaced),
			"totalKm":  tr.res.Route.TotalKm,
		})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].TeamID < routes[j].TeamID })

	asm := Assembler{Cost: p.Cfg.Cost, WarnUtilization: p.Cfg.WarnUtilization}
	schedule, err := asm.Assemble(runID, date, slots, routes, dropped, warnings)
	if err != nil {
		metrics.ScheduleRuns.WithLabelValues(mode, "error").Inc()
		return model.GeneratedSchedule{}, err
	}

	if err := p.Store.SaveSchedule(ctx, schedule); err != nil {
		log.Error().Err(err).Msg("save schedule")
	}
	for _, tr := range results {
		if tr.err == nil && tr.res.Stats != nil {
			_ = p.Store.SavePlanMetrics(ctx, runID, tr.teamID, tr.res.Route.Optimizer, map[string]any{
				"iterations":    tr.res.Stats.Iterations,
				"improvements":  tr.res.Stats.Improvements,
				"acceptedWorse": tr.res.Stats.AcceptedWorse,
				"bestCost":      tr.res.Stats.BestCost,
			})
		}
	}
	for _, d := range schedule.Dropped {
		metrics.RequestsDropped.WithLabelValues(string(d.Reason)).Inc()
	}
	metrics.ScheduleRuns.WithLabelValues(mode, "ok").Inc()
	metrics.ScheduleRunDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())

	log.Info().
		Int("served", schedule.ServedCount).
		Int("dropped", len(schedule.Dropped)).
		Float64("total_km", schedule.TotalKm).
		Dur("took", time.Since(started)).
		Msg("schedule generated")
	p.Events.Emit(runID, "run.completed", map[string]any{
		"served":  schedule.ServedCount,
		"dropped": len(schedule.Dropped),
		"totalKm": schedule.TotalKm,
	})
	return schedule, nil
}

// partition spreads slot-assigned requests across teams, earliest slot
// first, always onto the least-loaded team with headroom (team ID breaks
// ties via the pre-sorted team order). Requests beyond every team's stop cap
// drop with NoCapacity.
func partition(slots []model.TimeSlot, customers map[string]model.Customer, teams []model.Team) (map[string][]opt.Stop, []model.DroppedRequest) {
	byTeam := make(map[string][]opt.Stop, len(teams))
	for _, t := range teams {
		byTeam[t.ID()] = []opt.Stop{}
	}
	overflow := []model.DroppedRequest{}
	for _, s := range slots {
		for _, req := range s.Assigned {
			best := -1
			for i, t := range teams {
				if t.MaxStops > 0 && len(byTeam[t.ID()]) >= t.MaxStops {
					continue
				}
				if best < 0 || len(byTeam[t.ID()]) < len(byTeam[teams[best].ID()]) {
					best = i
				}
			}
			if best < 0 {
				overflow = append(overflow, model.DroppedRequest{Request: req, Reason: model.DropNoCapacity})
				continue
			}
			c := customers[req.CustomerID]
			st := opt.Stop{
				CustomerID:  req.CustomerID,
				Location:    c.Location,
				ServiceTime: time.Duration(c.ServiceTimeSec) * time.Second,
			}
			if w, ok := windowForSlot(c.Windows, req.Date, s.Window); ok {
				st.Window = &w
			}
			byTeam[teams[best].ID()] = append(byTeam[teams[best].ID()], st)
		}
	}
	return byTeam, overflow
}

// windowForSlot binds a stop to the customer window the allocator matched:
// the first accepted window overlapping the assigned slot, narrowed to the
// shared span so the route arrival stays inside the promised slot. A
// customer with no windows gets none; if no window overlaps the slot the
// first window applies unchanged.
func windowForSlot(windows []model.ClockWindow, day time.Time, slotWin model.TimeWindow) (model.TimeWindow, bool) {
	if len(windows) == 0 {
		return model.TimeWindow{}, false
	}
	for _, cw := range windows {
		w := cw.On(day)
		if w.Overlaps(slotWin) {
			return w.Intersect(slotWin), true
		}
	}
	return windows[0].On(day), true
}

func hasWindows(stops []opt.Stop) bool {
	for _, s := range stops {
		if s.Window != nil {
			return true
		}
	}
	return false
}

// requestFor finds the slot-assigned request for a customer so infeasible
// stops carry their original forecast data into the dropped list.
func requestFor(slots []model.TimeSlot, customerID string) model.DeliveryRequest {
	for _, s := range slots {
		for _, req := range s.Assigned {
			if req.CustomerID == customerID {
				return req
			}
		}
	}
	return model.DeliveryRequest{CustomerID: customerID}
}

// deriveSeed keeps solver runs reproducible per date and team when the
// caller does not pin a seed.
func deriveSeed(date, teamID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(date))
	_, _ = h.Write([]byte(teamID))
	return int64(h.Sum64())
}

func nDetail(n int, suffix string) string {
	return strconv.Itoa(n) + " " + suffix
}

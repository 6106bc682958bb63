// Package sched orchestrates the scheduling pipeline and assembles its
// output into a GeneratedSchedule.
package sched

import (
	"fmt"
	"math"
	"time"

	"gasroute/internal/config"
	"gasroute/internal/model"
)

// Assembler merges slot assignments and per-team routes into one schedule.
// It performs no optimization; it aggregates, prices and validates.
type Assembler struct {
	Cost            config.CostConfig
	WarnUtilization float64
}

// Assemble computes aggregate metrics and enforces the cross-consistency
// invariant: every routed stop must be assigned to exactly one slot. A
// violation is a pipeline bug, reported as an error, not a warning.
func (a *Assembler) Assemble(id string, date time.Time, slots []model.TimeSlot, routes []model.Route, dropped []model.DroppedRequest, warnings []model.Warning) (model.GeneratedSchedule, error) {
	// Dropped requests (including solver-infeasible ones) are pulled back out
	// of their slots so the published slots reflect the final plan.
	droppedIDs := map[string]bool{}
	for _, d := range dropped {
		droppedIDs[d.Request.CustomerID] = true
	}
	cleaned := make([]model.TimeSlot, len(slots))
	slotCount := map[string]int{}
	for i, s := range slots {
		cleaned[i] = model.TimeSlot{Window: s.Window, Capacity: s.Capacity}
		for _, req := range s.Assigned {
			if droppedIDs[req.CustomerID] {
				continue
			}
			cleaned[i].Assigned = append(cleaned[i].Assigned, req)
			slotCount[req.CustomerID]++
		}
	}

	served := 0
	totalKm := 0.0
	cost := 0.0
	for _, r := range routes {
		if err := validateRoute(r); err != nil {
			return model.GeneratedSchedule{}, err
		}
		for _, stop := range r.Stops {
			if slotCount[stop.CustomerID] != 1 {
				return model.GeneratedSchedule{}, fmt.Errorf("schedule %s: stop %s routed but assigned to %d slots", id, stop.CustomerID, slotCount[stop.CustomerID])
			}
		}
		served += len(r.Stops)
		totalKm += r.TotalKm
		cost += r.TotalKm*a.Cost.PerKm + r.TotalDur.Hours()*a.Cost.DriverPerHour
		if r.Fallback {
			warnings = appendOnce(warnings, model.Warning{
				Kind:   model.WarnGeoFallback,
				Detail: "distance provider unavailable, haversine estimates used",
			})
		}
	}

	threshold := a.WarnUtilization
	if threshold <= 0 {
		threshold = 0.9
	}
	for _, s := range cleaned {
		if s.Capacity <= 0 {
			continue
		}
		if util := float64(len(s.Assigned)) / float64(s.Capacity); util >= threshold {
			warnings = append(warnings, model.Warning{
				Kind:   model.WarnSlotSaturation,
				Detail: fmt.Sprintf("slot %s-%s at %.0f%% capacity", s.Window.Start.Format("15:04"), s.Window.End.Format("15:04"), util*100),
			})
		}
	}
	if len(dropped) > 0 {
		byReason := map[model.DropReason]int{}
		for _, d := range dropped {
			byReason[d.Reason]++
		}
		warnings = append(warnings, model.Warning{
			Kind:   model.WarnDropped,
			Detail: fmt.Sprintf("%d requests dropped: %v", len(dropped), byReason),
		})
	}

	efficiency := 1.0
	if served+len(dropped) > 0 {
		efficiency = float64(served) / float64(served+len(dropped))
	}
	return model.GeneratedSchedule{
		ID:            id,
		Date:          date,
		GeneratedAt:   time.Now().UTC(),
		Slots:         cleaned,
		Routes:        routes,
		ServedCount:   served,
		Dropped:       dropped,
		TotalKm:       totalKm,
		EstimatedCost: cost,
		Efficiency:    efficiency,
		Warnings:      warnings,
	}, nil
}

// validateRoute checks the aggregation invariants: contiguous 1-based stop
// sequence and total distance equal to the sum of leg distances.
func validateRoute(r model.Route) error {
	sum := 0.0
	for i, s := range r.Stops {
		if s.Seq != i+1 {
			return fmt.Errorf("route %s: stop %d has seq %d", r.TeamID, i, s.Seq)
		}
		sum += s.LegKm
	}
	if math.Abs(sum-r.TotalKm) > 1e-6 {
		return fmt.Errorf("route %s: total %.6fkm != leg sum %.6fkm", r.TeamID, r.TotalKm, sum)
	}
	return nil
}

func appendOnce(ws []model.Warning, w model.Warning) []model.Warning {
	for _, existing := range ws {
		if existing.Kind == w.Kind {
			return ws
		}
	}
	return append(ws, w)
}

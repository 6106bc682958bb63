// Package slot partitions a working day into fixed time slots and assigns
// forecasted delivery requests to them.
package slot

import (
	"fmt"
	"sort"
	"time"

	"gasroute/internal/config"
	"gasroute/internal/model"
)

// BuildDaySlots lays out the day's slots from config. Total capacity per slot
// is per_slot_per_team x teamCount, so a day with no teams has zero-capacity
// slots and every request drops.
func BuildDaySlots(date time.Time, cfg config.SlotConfig, teamCount int) ([]model.TimeSlot, error) {
	day := date.Truncate(24 * time.Hour)
	start := day.Add(time.Duration(cfg.DayStartHour) * time.Hour)
	end := day.Add(time.Duration(cfg.DayEndHour) * time.Hour)
	if !end.After(start) || cfg.SlotMinutes <= 0 || cfg.PerSlotPerTeam <= 0 {
		return nil, fmt.Errorf("%w: slot layout %d..%dh step %dm", model.ErrBadConfig, cfg.DayStartHour, cfg.DayEndHour, cfg.SlotMinutes)
	}
	step := time.Duration(cfg.SlotMinutes) * time.Minute
	slots := []model.TimeSlot{}
	for t := start; t.Before(end); t = t.Add(step) {
		slots = append(slots, model.TimeSlot{
			Window:   model.TimeWindow{Start: t, End: t.Add(step)},
			Capacity: cfg.PerSlotPerTeam * teamCount,
		})
	}
	return slots, nil
}

// Allocate assigns requests to slots: highest priority first (customer ID
// ascending on ties for determinism), each request into the earliest slot
// that intersects one of the customer's accepted windows and still has free
// capacity. Greedy bin packing, deliberately not globally optimal.
func Allocate(requests []model.DeliveryRequest, customers map[string]model.Customer, slots []model.TimeSlot) (assigned []model.TimeSlot, dropped []model.DroppedRequest) {
	ordered := append([]model.DeliveryRequest(nil), requests...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].CustomerID < ordered[j].CustomerID
	})

	out := make([]model.TimeSlot, len(slots))
	for i, s := range slots {
		out[i] = model.TimeSlot{Window: s.Window, Capacity: s.Capacity}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Window.Start.Before(out[j].Window.Start) })

	for _, req := range ordered {
		cust, knownCustomer := customers[req.CustomerID]
		matched := false
		placed := false
		for i := range out {
			if !windowsAccept(cust, knownCustomer, out[i].Window) {
				continue
			}
			matched = true
			if out[i].Free() <= 0 {
				continue
			}
			out[i].Assigned = append(out[i].Assigned, req)
			placed = true
			break
		}
		if placed {
			continue
		}
		reason := model.DropNoCapacity
		if !matched {
			reason = model.DropNoWindowMatch
		}
		dropped = append(dropped, model.DroppedRequest{Request: req, Reason: reason})
	}
	return out, dropped
}

// windowsAccept reports whether the slot window intersects any of the
// customer's accepted windows on that day. No windows (or unknown customer)
// means any slot is acceptable.
func windowsAccept(c model.Customer, known bool, slot model.TimeWindow) bool {
	if !known || len(c.Windows) == 0 {
		return true
	}
	for _, w := range c.Windows {
		if w.On(slot.Start).Overlaps(slot) {
			return true
		}
	}
	return false
}

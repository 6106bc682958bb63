// Package avail resolves which driver/vehicle teams are usable on a date.
package avail

import (
	"sort"
	"time"

	"gasroute/internal/model"
)

// Resolver pairs active drivers with active vehicles for a date, excluding
// drivers on leave and vehicles whose maintenance spans the date. The result
// is a read-only snapshot for one scheduling run.
type Resolver struct {
	// Shift bounds applied to every team, expressed as hours into the day.
	DayStartHour int
	DayEndHour   int
}

func New(dayStartHour, dayEndHour int) *Resolver {
	return &Resolver{DayStartHour: dayStartHour, DayEndHour: dayEndHour}
}

// AvailableTeams returns the usable teams for date, sorted by team ID for
// deterministic downstream ordering. An empty result is not an error; the
// caller reports it as a run-level warning.
func (r *Resolver) AvailableTeams(date time.Time, drivers []model.Driver, vehicles []model.Vehicle) []model.Team {
	day := date.Truncate(24 * time.Hour)

	free := make([]model.Driver, 0, len(drivers))
	for _, d := range drivers {
		if !onLeave(d, day) {
			free = append(free, d)
		}
	}
	usable := make([]model.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if !underMaintenance(v, day) {
			usable = append(usable, v)
		}
	}

	sort.Slice(free, func(i, j int) bool { return free[i].ID < free[j].ID })
	sort.Slice(usable, func(i, j int) bool { return usable[i].ID < usable[j].ID })

	n := len(free)
	if len(usable) < n {
		n = len(usable)
	}
	shift := model.TimeWindow{
		Start: day.Add(time.Duration(r.DayStartHour) * time.Hour),
		End:   day.Add(time.Duration(r.DayEndHour) * time.Hour),
	}
	teams := make([]model.Team, 0, n)
	for i := 0; i < n; i++ {
		teams = append(teams, model.Team{
			DriverID:  free[i].ID,
			VehicleID: usable[i].ID,
			MaxStops:  usable[i].MaxStops,
			Shift:     shift,
			HomeBase:  usable[i].HomeBase,
		})
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID() < teams[j].ID() })
	return teams
}

func onLeave(d model.Driver, day time.Time) bool {
	for _, l := range d.LeaveDates {
		if l.Truncate(24 * time.Hour).Equal(day) {
			return true
		}
	}
	return false
}

// underMaintenance reports whether any maintenance window covers the day,
// including multi-day windows spanning it.
func underMaintenance(v model.Vehicle, day time.Time) bool {
	dayEnd := day.Add(24 * time.Hour)
	for _, w := range v.Maintenance {
		if w.Start.Before(dayEnd) && day.Before(w.End) {
			return true
		}
	}
	return false
}

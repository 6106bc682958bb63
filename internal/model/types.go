package model

import "time"

// Core scheduling domain types. All of these are value objects built once per
// scheduling run from a read-only snapshot and never mutated afterwards.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TimeWindow is a half-open [Start, End) interval within a single day.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w TimeWindow) Valid() bool { return w.End.After(w.Start) }

// Overlaps reports whether two windows share any time.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Intersect narrows w to the part shared with o. Call only when the
// windows overlap.
func (w TimeWindow) Intersect(o TimeWindow) TimeWindow {
	if o.Start.After(w.Start) {
		w.Start = o.Start
	}
	if o.End.Before(w.End) {
		w.End = o.End
	}
	return w
}

// ClockWindow is a recurring daily window expressed as minutes from
// midnight, e.g. {540, 720} for 09:00-12:00. Customer preferences repeat
// every day, so they are stored clock-relative and materialized per date.
type ClockWindow struct {
	StartMin int `json:"startMin"`
	EndMin   int `json:"endMin"`
}

func (c ClockWindow) Valid() bool { return c.EndMin > c.StartMin }

// On materializes the window on a concrete day.
func (c ClockWindow) On(day time.Time) TimeWindow {
	day = day.Truncate(24 * time.Hour)
	return TimeWindow{
		Start: day.Add(time.Duration(c.StartMin) * time.Minute),
		End:   day.Add(time.Duration(c.EndMin) * time.Minute),
	}
}

type Customer struct {
	ID              string        `json:"id"`
	Name            string        `json:"name,omitempty"`
	Address         string        `json:"address,omitempty"`
	Location        GeoPoint      `json:"location"`
	Windows         []ClockWindow `json:"windows,omitempty"` // accepted delivery windows; empty means any time
	ConsumptionRate float64       `json:"consumptionRate"`   // units per day
	PriorityWeight  float64       `json:"priorityWeight"`    // relative importance multiplier
	ServiceTimeSec  int           `json:"serviceTimeSec,omitempty"`
}

// DeliveryRecord is one historical delivery for a customer.
type DeliveryRecord struct {
	CustomerID  string    `json:"customerId"`
	DeliveredAt time.Time `json:"deliveredAt"`
	Quantity    float64   `json:"quantity"`
}

// DeliveryRequest is a forecasted need for one customer on one date.
type DeliveryRequest struct {
	CustomerID string    `json:"customerId"`
	Date       time.Time `json:"date"`
	Quantity   float64   `json:"quantity"`
	Confidence float64   `json:"confidence"` // 0..1
	Priority   float64   `json:"priority"`   // urgency x confidence x customer weight
}

type Driver struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	LeaveDates []time.Time `json:"leaveDates,omitempty"`
}

type Vehicle struct {
	ID          string       `json:"id"`
	MaxStops    int          `json:"maxStops"`
	HomeBase    GeoPoint     `json:"homeBase"`
	Maintenance []TimeWindow `json:"maintenance,omitempty"`
}

// Team is a driver/vehicle pairing for one day, the schedulable unit of
// capacity. Recomputed each run; never mutated after creation.
type Team struct {
	DriverID  string     `json:"driverId"`
	VehicleID string     `json:"vehicleId"`
	MaxStops  int        `json:"maxStops"`
	Shift     TimeWindow `json:"shift"`
	HomeBase  GeoPoint   `json:"homeBase"`
}

// ID returns the stable team identifier used for deterministic merges.
func (t Team) ID() string { return t.DriverID + "/" + t.VehicleID }

type TimeSlot struct {
	Window   TimeWindow        `json:"window"`
	Capacity int               `json:"capacity"`
	Assigned []DeliveryRequest `json:"assigned,omitempty"`
}

func (s *TimeSlot) Free() int { return s.Capacity - len(s.Assigned) }

type DropReason string

const (
	DropNoCapacity    DropReason = "no_capacity"
	DropNoWindowMatch DropReason = "no_window_match"
	DropInfeasible    DropReason = "infeasible"
)

// DroppedRequest records a request the run could not serve, with the reason.
type DroppedRequest struct {
	Request DeliveryRequest `json:"request"`
	Reason  DropReason      `json:"reason"`
}

type RouteStop struct {
	Seq        int           `json:"seq"` // 1-based, contiguous within a route
	CustomerID string        `json:"customerId"`
	ArriveAt   time.Time     `json:"arriveAt"`
	LegKm      float64       `json:"legKm"` // from previous stop (home base for seq 1)
	LegDur     time.Duration `json:"legDur"`
}

type Route struct {
	TeamID       string        `json:"teamId"`
	Date         time.Time     `json:"date"`
	Stops        []RouteStop   `json:"stops"`
	TotalKm      float64       `json:"totalKm"`
	TotalDur     time.Duration `json:"totalDur"`
	QualityScore float64       `json:"qualityScore"` // 0..1
	Optimizer    string        `json:"optimizer"`
	Fallback     bool          `json:"fallback,omitempty"` // provider failed, haversine estimates used
}

type WarningKind string

const (
	WarnNoTeams        WarningKind = "no_available_teams"
	WarnSlotSaturation WarningKind = "slot_near_saturation"
	WarnDropped        WarningKind = "requests_dropped"
	WarnGeoFallback    WarningKind = "geo_fallback"
	WarnNoHistory      WarningKind = "insufficient_history"
)

type Warning struct {
	Kind   WarningKind `json:"kind"`
	Detail string      `json:"detail,omitempty"`
}

// GeneratedSchedule is the immutable output of one pipeline run. Applying it
// (converting to permanent delivery records) happens outside this service.
type GeneratedSchedule struct {
	ID            string           `json:"id"`
	Date          time.Time        `json:"date"`
	GeneratedAt   time.Time        `json:"generatedAt"`
	Slots         []TimeSlot       `json:"slots"`
	Routes        []Route          `json:"routes"`
	ServedCount   int              `json:"servedCount"`
	Dropped       []DroppedRequest `json:"dropped,omitempty"`
	TotalKm       float64          `json:"totalKm"`
	EstimatedCost float64          `json:"estimatedCost"`
	Efficiency    float64          `json:"efficiency"` // served / (served + dropped)
	Warnings      []Warning        `json:"warnings,omitempty"`
}

// ScheduleRequest is the API input for one scheduling run.
type ScheduleRequest struct {
	Date         string `json:"date"`           // YYYY-MM-DD
	Mode         string `json:"mode,omitempty"` // fast, cost, quality
	HorizonDays  int    `json:"horizonDays,omitempty"`
	TimeBudgetMs int    `json:"timeBudgetMs,omitempty"`
	Seed         int64  `json:"seed,omitempty"`
}

// Subscription is a webhook registration for schedule lifecycle events.
type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

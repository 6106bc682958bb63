// Package geo provides distance and travel-duration lookups between
// coordinates, with caching and a closed-form fallback.
package geo

import (
	"context"
	"math"
	"time"

	"gasroute/internal/model"
)

// Result is one distance/duration lookup.
type Result struct {
	Km  float64
	Dur time.Duration
}

// Provider returns road distance and travel duration between two points.
type Provider interface {
	DistanceDuration(ctx context.Context, a, b model.GeoPoint) (Result, error)
}

// Haversine is the closed-form great-circle estimator. It never fails and is
// the fallback when an external matrix provider is unavailable.
type Haversine struct {
	// AvgSpeedKph converts distance to an estimated drive duration.
	AvgSpeedKph float64
}

func NewHaversine(avgSpeedKph float64) *Haversine {
	if avgSpeedKph <= 0 {
		avgSpeedKph = 40
	}
	return &Haversine{AvgSpeedKph: avgSpeedKph}
}

func (h *Haversine) DistanceDuration(_ context.Context, a, b model.GeoPoint) (Result, error) {
	km := HaversineKm(a, b)
	hours := km / h.AvgSpeedKph
	return Result{Km: km, Dur: time.Duration(hours * float64(time.Hour))}, nil
}

// HaversineKm returns the great-circle distance in kilometers.
func HaversineKm(a, b model.GeoPoint) float64 {
	const earthRadiusKm = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

// Fallback wraps a primary provider and degrades to an estimate when the
// primary fails. The returned bool on Lookup reports whether the fallback was
// used so callers can flag the route.
type Fallback struct {
	Primary  Provider
	Estimate Provider
}

func (f *Fallback) DistanceDuration(ctx context.Context, a, b model.GeoPoint) (Result, error) {
	r, _, err := f.Lookup(ctx, a, b)
	return r, err
}

func (f *Fallback) Lookup(ctx context.Context, a, b model.GeoPoint) (Result, bool, error) {
	if f.Primary == nil {
		// no external provider configured, estimates are the primary source
		r, err := f.Estimate.DistanceDuration(ctx, a, b)
		return r, false, err
	}
	r, err := f.Primary.DistanceDuration(ctx, a, b)
	if err == nil {
		return r, false, nil
	}
	r, err = f.Estimate.DistanceDuration(ctx, a, b)
	return r, true, err
}

// Package forecast estimates replenishment dates from delivery history.
package forecast

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gasroute/internal/model"
)

// Forecaster derives depletion-date predictions from the interval pattern of
// past deliveries and the customer's consumption rate.
type Forecaster struct {
	HorizonDays int
}

func New(horizonDays int) *Forecaster {
	if horizonDays <= 0 {
		horizonDays = 7
	}
	return &Forecaster{HorizonDays: horizonDays}
}

// Forecast returns a DeliveryRequest when the customer is predicted to need a
// delivery within the horizon ending on target, or nil when it is not due or
// there is not enough history to tell. Only malformed history is an error.
func (f *Forecaster) Forecast(c model.Customer, history []model.DeliveryRecord, target time.Time) (*model.DeliveryRequest, error) {
	if len(history) < 2 {
		// Insufficient data is expected, not exceptional.
		return nil, nil
	}
	for _, rec := range history {
		if rec.Quantity < 0 {
			return nil, fmt.Errorf("%w: customer %s quantity %v", model.ErrMalformedHistory, c.ID, rec.Quantity)
		}
	}

	recs := append([]model.DeliveryRecord(nil), history...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].DeliveredAt.Before(recs[j].DeliveredAt) })

	intervals := make([]float64, 0, len(recs)-1)
	var qtySum float64
	for i := 1; i < len(recs); i++ {
		d := recs[i].DeliveredAt.Sub(recs[i-1].DeliveredAt).Hours() / 24
		if d <= 0 {
			return nil, fmt.Errorf("%w: customer %s duplicate or unordered deliveries", model.ErrMalformedHistory, c.ID)
		}
		intervals = append(intervals, d)
		qtySum += recs[i].Quantity
	}

	meanInterval := mean(intervals)
	last := recs[len(recs)-1]

	// Consumption-rate depletion beats the raw interval when both exist:
	// lastQty / rate is how long the last fill actually lasts.
	depletionDays := meanInterval
	if c.ConsumptionRate > 0 && last.Quantity > 0 {
		depletionDays = last.Quantity / c.ConsumptionRate
	}
	depletion := last.DeliveredAt.Add(time.Duration(depletionDays * 24 * float64(time.Hour)))

	horizonEnd := target.AddDate(0, 0, f.HorizonDays)
	if depletion.After(horizonEnd) {
		return nil, nil // not due yet
	}

	conf := confidence(intervals, target, depletion)
	urgency := urgencyScore(target, depletion)
	weight := c.PriorityWeight
	if weight <= 0 {
		weight = 1
	}

	qty := last.Quantity
	if qty <= 0 {
		qty = qtySum / float64(len(recs)-1)
	}
	return &model.DeliveryRequest{
		CustomerID: c.ID,
		Date:       target,
		Quantity:   qty,
		Confidence: conf,
		Priority:   urgency * conf * weight,
	}, nil
}

// confidence grows with interval regularity (low coefficient of variation)
// and shrinks the further the depletion date sits from the target.
func confidence(intervals []float64, target, depletion time.Time) float64 {
	m := mean(intervals)
	if m <= 0 {
		return 0
	}
	var varSum float64
	for _, v := range intervals {
		varSum += (v - m) * (v - m)
	}
	cv := math.Sqrt(varSum/float64(len(intervals))) / m
	regularity := 1 / (1 + cv)

	distDays := math.Abs(depletion.Sub(target).Hours() / 24)
	decay := 1 - distDays/30
	if decay < 0.2 {
		decay = 0.2
	}
	c := regularity * decay
	if c > 1 {
		c = 1
	}
	return c
}

// urgencyScore is 1 when the customer is already due (or overdue) on the
// target date, easing toward 0.1 for needs further out.
func urgencyScore(target, depletion time.Time) float64 {
	daysOut := depletion.Sub(target).Hours() / 24
	if daysOut <= 0 {
		return 1
	}
	u := 1 - daysOut/14
	if u < 0.1 {
		u = 0.1
	}
	return u
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

package forecast

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gasroute/internal/model"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func regularHistory(id string, start time.Time, everyDays, count int, qty float64) []model.DeliveryRecord {
	recs := make([]model.DeliveryRecord, 0, count)
	for i := 0; i < count; i++ {
		recs = append(recs, model.DeliveryRecord{
			CustomerID:  id,
			DeliveredAt: start.AddDate(0, 0, i*everyDays),
			Quantity:    qty,
		})
	}
	return recs
}

func TestForecastInsufficientHistory(t *testing.T) {
	f := New(7)
	c := model.Customer{ID: "c1"}

	req, err := f.Forecast(c, nil, day("2026-09-01"))
	require.NoError(t, err)
	require.Nil(t, req)

	req, err = f.Forecast(c, regularHistory("c1", day("2026-08-01"), 10, 1, 12), day("2026-09-01"))
	require.NoError(t, err)
	require.Nil(t, req)
}

func TestForecastMalformedHistory(t *testing.T) {
	f := New(7)
	c := model.Customer{ID: "c1"}

	neg := regularHistory("c1", day("2026-08-01"), 10, 3, 12)
	neg[1].Quantity = -4
	_, err := f.Forecast(c, neg, day("2026-09-01"))
	require.ErrorIs(t, err, model.ErrMalformedHistory)

	dup := regularHistory("c1", day("2026-08-01"), 10, 3, 12)
	dup[2].DeliveredAt = dup[1].DeliveredAt
	_, err = f.Forecast(c, dup, day("2026-09-01"))
	require.ErrorIs(t, err, model.ErrMalformedHistory)
}

func TestForecastDueWithinHorizon(t *testing.T) {
	f := New(7)
	c := model.Customer{ID: "c1", PriorityWeight: 1}
	// Deliveries every 10 days, last on Aug 25: due around Sep 4.
	hist := regularHistory("c1", day("2026-07-26"), 10, 4, 12)

	req, err := f.Forecast(c, hist, day("2026-09-01"))
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, "c1", req.CustomerID)
	require.Equal(t, 12.0, req.Quantity)
	require.Greater(t, req.Confidence, 0.5, "perfectly regular history should score high")
	require.Greater(t, req.Priority, 0.0)
}

func TestForecastNotDueYet(t *testing.T) {
	f := New(7)
	c := model.Customer{ID: "c1"}
	// Last delivery Aug 30, 30-day cadence: depletion lands past Sep 8.
	hist := regularHistory("c1", day("2026-06-01"), 30, 4, 12)

	req, err := f.Forecast(c, hist, day("2026-09-01"))
	require.NoError(t, err)
	require.Nil(t, req)
}

func TestForecastConsumptionRateBeatsInterval(t *testing.T) {
	f := New(7)
	// Interval says 30 days, but 12 units at 2/day deplete in 6.
	c := model.Customer{ID: "c1", ConsumptionRate: 2}
	hist := regularHistory("c1", day("2026-07-01"), 30, 3, 12)

	req, err := f.Forecast(c, hist, day("2026-09-01"))
	require.NoError(t, err)
	require.NotNil(t, req, "rate-based depletion on Sep 5 is inside the horizon")
}

func TestForecastIrregularHistoryLowerConfidence(t *testing.T) {
	f := New(7)
	c := model.Customer{ID: "c1", PriorityWeight: 1}

	regular := regularHistory("c1", day("2026-07-26"), 10, 4, 12)
	irregular := []model.DeliveryRecord{
		{CustomerID: "c1", DeliveredAt: day("2026-07-20"), Quantity: 12},
		{CustomerID: "c1", DeliveredAt: day("2026-07-23"), Quantity: 12},
		{CustomerID: "c1", DeliveredAt: day("2026-08-15"), Quantity: 12},
		{CustomerID: "c1", DeliveredAt: day("2026-08-25"), Quantity: 12},
	}

	reqA, err := f.Forecast(c, regular, day("2026-09-01"))
	require.NoError(t, err)
	require.NotNil(t, reqA)
	reqB, err := f.Forecast(c, irregular, day("2026-09-01"))
	require.NoError(t, err)
	require.NotNil(t, reqB)

	require.Greater(t, reqA.Confidence, reqB.Confidence)
}

func TestForecastErrorsWrapSentinel(t *testing.T) {
	f := New(7)
	bad := regularHistory("c1", day("2026-08-01"), 10, 3, 12)
	bad[0].Quantity = -1
	_, err := f.Forecast(model.Customer{ID: "c1"}, bad, day("2026-09-01"))
	require.Error(t, err)
	require.True(t, errors.Is(err, model.ErrMalformedHistory))
}

package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gasroute/internal/model"
)

var (
	tokyo = model.GeoPoint{Lat: 35.6762, Lng: 139.6503}
	osaka = model.GeoPoint{Lat: 34.6937, Lng: 135.5023}
)

func TestHaversineKm(t *testing.T) {
	// Tokyo to Osaka is roughly 400km great-circle.
	km := HaversineKm(tokyo, osaka)
	require.InDelta(t, 400, km, 10)
	require.Zero(t, HaversineKm(tokyo, tokyo))
}

func TestHaversineDuration(t *testing.T) {
	h := NewHaversine(40)
	r, err := h.DistanceDuration(context.Background(), tokyo, osaka)
	require.NoError(t, err)
	require.InDelta(t, r.Km/40, r.Dur.Hours(), 1e-9)
}

type failingProvider struct{}

func (failingProvider) DistanceDuration(context.Context, model.GeoPoint, model.GeoPoint) (Result, error) {
	return Result{}, model.ErrGeoUnavailable
}

type fixedProvider struct{ r Result }

func (p fixedProvider) DistanceDuration(context.Context, model.GeoPoint, model.GeoPoint) (Result, error) {
	return p.r, nil
}

func TestFallbackUsesPrimary(t *testing.T) {
	f := &Fallback{
		Primary:  fixedProvider{r: Result{Km: 42, Dur: time.Hour}},
		Estimate: NewHaversine(40),
	}
	r, fellBack, err := f.Lookup(context.Background(), tokyo, osaka)
	require.NoError(t, err)
	require.False(t, fellBack)
	require.Equal(t, 42.0, r.Km)
}

func TestFallbackOnPrimaryFailure(t *testing.T) {
	f := &Fallback{Primary: failingProvider{}, Estimate: NewHaversine(40)}
	r, fellBack, err := f.Lookup(context.Background(), tokyo, osaka)
	require.NoError(t, err)
	require.True(t, fellBack)
	require.Greater(t, r.Km, 0.0)
}

func TestFallbackWithoutPrimary(t *testing.T) {
	f := &Fallback{Estimate: NewHaversine(40)}
	_, fellBack, err := f.Lookup(context.Background(), tokyo, osaka)
	require.NoError(t, err)
	require.False(t, fellBack, "estimate-only setups are not a degradation")
}

func TestMatrixProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"distances":[[0,12500],[12500,0]],"durations":[[0,900],[900,0]]}`))
	}))
	defer srv.Close()

	p := NewMatrixProvider(srv.URL, "test-key", time.Second)
	r, err := p.DistanceDuration(context.Background(), tokyo, osaka)
	require.NoError(t, err)
	require.Equal(t, 12.5, r.Km)
	require.Equal(t, 15*time.Minute, r.Dur)
}

func TestMatrixProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewMatrixProvider(srv.URL, "", time.Second)
	_, err := p.DistanceDuration(context.Background(), tokyo, osaka)
	require.True(t, errors.Is(err, model.ErrGeoUnavailable))

	p = NewMatrixProvider("http://127.0.0.1:1", "", 100*time.Millisecond)
	_, err = p.DistanceDuration(context.Background(), tokyo, osaka)
	require.True(t, errors.Is(err, model.ErrGeoUnavailable))
}

func TestMatrixProviderTruncatedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"distances":[[0]],"durations":[[0]]}`))
	}))
	defer srv.Close()

	p := NewMatrixProvider(srv.URL, "", time.Second)
	_, err := p.DistanceDuration(context.Background(), tokyo, osaka)
	require.True(t, errors.Is(err, model.ErrGeoUnavailable))
}

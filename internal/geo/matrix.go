package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gasroute/internal/model"
)

// MatrixProvider wraps an external routing-matrix API. Lookups are
// short-timeout; any failure surfaces as model.ErrGeoUnavailable so callers
// can fall back to an estimate.
type MatrixProvider struct {
	URL    string
	APIKey string
	HTTP   *http.Client
}

func NewMatrixProvider(url, apiKey string, timeout time.Duration) *MatrixProvider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MatrixProvider{URL: url, APIKey: apiKey, HTTP: &http.Client{Timeout: timeout}}
}

type matrixRequest struct {
	Locations [][2]float64 `json:"locations"` // [lng, lat]
	Metrics   []string     `json:"metrics"`
}

type matrixResponse struct {
	Distances [][]float64 `json:"distances"` // meters
	Durations [][]float64 `json:"durations"` // seconds
}

func (m *MatrixProvider) DistanceDuration(ctx context.Context, a, b model.GeoPoint) (Result, error) {
	body, _ := json.Marshal(matrixRequest{
		Locations: [][2]float64{{a.Lng, a.Lat}, {b.Lng, b.Lat}},
		Metrics:   []string{"distance", "duration"},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", model.ErrGeoUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.APIKey != "" {
		req.Header.Set("Authorization", m.APIKey)
	}
	resp, err := m.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", model.ErrGeoUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d", model.ErrGeoUnavailable, resp.StatusCode)
	}
	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return Result{}, fmt.Errorf("%w: decode: %v", model.ErrGeoUnavailable, err)
	}
	if len(mr.Distances) < 1 || len(mr.Distances[0]) < 2 || len(mr.Durations) < 1 || len(mr.Durations[0]) < 2 {
		return Result{}, fmt.Errorf("%w: truncated matrix", model.ErrGeoUnavailable)
	}
	return Result{
		Km:  mr.Distances[0][1] / 1000,
		Dur: time.Duration(mr.Durations[0][1] * float64(time.Second)),
	}, nil
}

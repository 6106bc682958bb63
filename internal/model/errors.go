package model

import "errors"

// Error taxonomy. Everything here is non-fatal for a run except
// ErrBadConfig, which signals malformed input and aborts immediately.
var (
	// ErrInsufficientHistory: fewer than two historical deliveries; the
	// customer is skipped, not failed.
	ErrInsufficientHistory = errors.New("insufficient delivery history")

	// ErrMalformedHistory: negative quantities or otherwise corrupt records.
	ErrMalformedHistory = errors.New("malformed delivery history")

	// ErrNoAvailableTeams: zero usable teams for the date; the run proceeds
	// with an empty schedule and a top-level warning.
	ErrNoAvailableTeams = errors.New("no available teams")

	// ErrGeoUnavailable: distance provider lookup failed; callers fall back
	// to a closed-form estimate.
	ErrGeoUnavailable = errors.New("geo provider unavailable")

	// ErrBadConfig: contradictory configuration (end before start, negative
	// capacity). Fatal.
	ErrBadConfig = errors.New("invalid configuration")
)

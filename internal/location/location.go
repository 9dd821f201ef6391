// Package location supplies best-effort position fixes. Lookups never block
// the caller: providers serve whatever they last learned, and unavailability
// is an ordinary answer, not an error.
package location

import "context"

// Fix is a cached position snapshot.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Available bool    `json:"available"`
}

// Provider returns the most recent known fix. A zero-value Fix with
// Available=false means no position has been acquired yet.
type Provider interface {
	Current(ctx context.Context) Fix
}

// Static always returns the same fix. Used in tests and for fixed
// installations where the position is configured, not measured.
type Static struct {
	Fix Fix
}

func (s *Static) Current(ctx context.Context) Fix {
	return s.Fix
}

// Package utils contains small math and waiting helpers shared across the SDK.
package utils

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

// Clamp limits value to the range [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Normalize180 shifts an angle in degrees into the range (-180, 180].
// Differences of headings must pass through this before being compared
// against a tolerance, otherwise a turn across the 180 boundary reads as a
// near-full-circle error.
func Normalize180(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

// WaitFor blocks for the given duration on the supplied clock, returning
// false early if the context is cancelled. It is SelectContextOrWait with a
// mockable clock.
func WaitFor(ctx context.Context, c clock.Clock, d time.Duration) bool {
	timer := c.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

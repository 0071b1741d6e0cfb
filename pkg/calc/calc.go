// Package calc provides progress arithmetic helpers.
package calc

import (
	"math"
	"time"
)

// Fraction returns received/total clamped to [0, 1].
// The second return value is false when the total is unknown.
func Fraction(received, total int64) (float64, bool) {
	if total <= 0 {
		return 0, false
	}

	f := float64(received) / float64(total)

	return min(max(f, 0), 1), true
}

// Percent converts a fraction into a rounded percentage in [0, 100].
func Percent(fraction float64) int {
	return min(max(int(math.Round(fraction*100)), 0), 100)
}

// ETA calculates the estimated time of arrival.
func ETA(fraction float64, started time.Time) time.Duration {
	if fraction <= 0 || fraction >= 1 {
		return 0
	}

	elapsed := time.Since(started)

	return time.Duration(float64(elapsed) * (1/fraction - 1))
}

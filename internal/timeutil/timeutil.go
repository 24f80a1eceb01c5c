// Package timeutil provides utility functions for working with time values
// and datastore keys.
package timeutil

import (
	"math"
	"time"
)

const millisecondsInAMinute = 60_000

// Round rounds a time value in seconds, minutes, or hours to the nearest
// integer.
func Round(t float64) int {
	return int(math.Round(t))
}

// RoundMinutes expresses a duration in whole minutes, rounding to the
// nearest minute. Sub-30-second durations round to zero.
func RoundMinutes(d time.Duration) int {
	return int(math.Round(float64(d.Milliseconds()) / millisecondsInAMinute))
}

// ToKey converts a time value to a database key for Bolt.
func ToKey(t time.Time) []byte {
	return []byte(t.Format(time.RFC3339Nano))
}

package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundMinutes(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{20 * time.Second, 0},
		{29 * time.Second, 0},
		{30 * time.Second, 1},
		{89 * time.Second, 1},
		{90 * time.Second, 2},
		{175 * time.Second, 3},
		{1 * time.Hour, 60},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundMinutes(tc.in), "duration %s", tc.in)
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 3, Round(2.5))
	assert.Equal(t, 2, Round(2.4))
	assert.Equal(t, 0, Round(0.2))
}

func TestToKeyRoundTrips(t *testing.T) {
	ts := time.Date(2026, time.March, 14, 9, 26, 53, 589793238, time.UTC)

	key := ToKey(ts)

	parsed, err := time.Parse(time.RFC3339Nano, string(key))
	assert.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

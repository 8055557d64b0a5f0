package recurrence

import (
	"testing"
	"time"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var midnight = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name     string
		anchor   time.Time
		interval time.Duration
		now      time.Time
		want     time.Time
	}{
		{
			name:     "between windows",
			anchor:   midnight,
			interval: time.Hour,
			now:      midnight.Add(2*time.Hour + 30*time.Minute),
			want:     midnight.Add(3 * time.Hour),
		},
		{
			name:     "exactly on a window moves to the next one",
			anchor:   midnight,
			interval: time.Hour,
			now:      midnight.Add(2 * time.Hour),
			want:     midnight.Add(3 * time.Hour),
		},
		{
			name:     "now equals anchor",
			anchor:   midnight,
			interval: 5 * time.Minute,
			now:      midnight,
			want:     midnight.Add(5 * time.Minute),
		},
		{
			name:     "long outage skips missed windows",
			anchor:   midnight,
			interval: 5 * time.Minute,
			now:      midnight.Add(72*time.Hour + 7*time.Minute),
			want:     midnight.Add(72*time.Hour + 10*time.Minute),
		},
		{
			name:     "anchor in the future",
			anchor:   midnight,
			interval: time.Hour,
			now:      midnight.Add(-30 * time.Minute),
			want:     midnight,
		},
		{
			name:     "anchor far in the future keeps the grid",
			anchor:   midnight,
			interval: time.Hour,
			now:      midnight.Add(-150 * time.Minute),
			want:     midnight.Add(-2 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextOccurrence(tt.anchor, tt.interval, tt.now)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.True(t, got.After(tt.now))
			// Deterministic: recomputing gives the same instant.
			assert.True(t, got.Equal(NextOccurrence(tt.anchor, tt.interval, tt.now)))
		})
	}
}

func TestNextOccurrenceAlwaysAfterNow(t *testing.T) {
	interval := 7 * time.Minute
	for offset := -3 * time.Hour; offset < 3*time.Hour; offset += 13*time.Second + 7*time.Millisecond {
		now := midnight.Add(offset)
		got := NextOccurrence(midnight, interval, now)
		require.True(t, got.After(now), "offset %s", offset)
		require.True(t, got.Sub(now) <= interval, "offset %s", offset)
		require.Zero(t, got.Sub(midnight)%interval, "offset %s", offset)
	}
}

func TestParseInterval(t *testing.T) {
	valid := map[string]time.Duration{
		"PT1H":    time.Hour,
		"PT5M":    5 * time.Minute,
		"PT30S":   30 * time.Second,
		"P1D":     24 * time.Hour,
		"P1DT12H": 36 * time.Hour,
		" PT1M ":  time.Minute,
	}
	for iso, want := range valid {
		got, err := ParseInterval(iso)
		require.NoError(t, err, iso)
		assert.Equal(t, want, got, iso)
	}

	for _, iso := range []string{"", "5m", "every hour", "PT0S"} {
		_, err := ParseInterval(iso)
		assert.ErrorIs(t, err, core.ErrInvalidJob, iso)
	}
}

func TestNext(t *testing.T) {
	got, err := Next(midnight, "PT1H", midnight.Add(150*time.Minute))
	require.NoError(t, err)
	assert.True(t, midnight.Add(3*time.Hour).Equal(got))

	_, err = Next(midnight, "bogus", midnight)
	assert.Error(t, err)
}

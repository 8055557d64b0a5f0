// Package recurrence computes the next execution instant of a recurring job.
// All arithmetic is on absolute instants; time zones play no part.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/sosodev/duration"
)

// ParseInterval parses an ISO-8601 duration such as "PT5M" or "P1D".
// Calendar units are converted with fixed lengths, so "P1M" is a constant
// interval rather than "same day next month".
func ParseInterval(iso string) (time.Duration, error) {
	iso = strings.TrimSpace(iso)
	if iso == "" {
		return 0, core.InvalidJob("runEvery", "empty duration")
	}
	d, err := duration.Parse(iso)
	if err != nil {
		return 0, core.InvalidJob("runEvery", fmt.Sprintf("%q is not an ISO-8601 duration", iso))
	}
	interval := d.ToTimeDuration()
	if interval < time.Millisecond {
		return 0, core.InvalidJob("runEvery", fmt.Sprintf("%q must be at least one millisecond", iso))
	}
	return interval, nil
}

// NextOccurrence returns the first instant strictly after now that lies on
// the grid anchor + k*interval. Missed windows are skipped, not replayed.
func NextOccurrence(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	step := interval.Milliseconds()
	if step <= 0 {
		return now
	}
	elapsed := now.UnixMilli() - anchor.UnixMilli()
	windows := floorDiv(elapsed, step)
	closest := anchor.UnixMilli() + windows*step
	return time.UnixMilli(closest + step).In(anchor.Location())
}

// Next parses runEvery and applies NextOccurrence.
func Next(anchor time.Time, runEvery string, now time.Time) (time.Time, error) {
	interval, err := ParseInterval(runEvery)
	if err != nil {
		return time.Time{}, err
	}
	return NextOccurrence(anchor, interval, now), nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

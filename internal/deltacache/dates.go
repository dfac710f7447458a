// Package deltacache computes the difference between a date-keyed cache
// and a requested date set, so callers fetch only what is missing.
package deltacache

import (
	"sort"
	"time"
)

const (
	// A cached price up to this many days before a requested date satisfies it.
	PriorTolerance = 5

	// Missing dates closer than MaxGap days are coalesced into one run.
	MaxGap = 7

	// A single run never spans more than MaxSpan days.
	MaxSpan = 30

	// Fetch ranges are padded by this many days on both sides so weekend
	// and holiday gaps still land a usable close.
	RangePad = 5
)

// DateKey formats a date the way all caches key it.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Run is a contiguous date range to fetch.
type Run struct {
	From time.Time
	To   time.Time
}

// Padded returns the run widened by RangePad days on both sides.
func (r Run) Padded() Run {
	return Run{
		From: r.From.AddDate(0, 0, -RangePad),
		To:   r.To.AddDate(0, 0, RangePad),
	}
}

// NearestPrior finds a cached value on the given date or up to maxBack days
// before it.
func NearestPrior(cached map[string]float64, date time.Time, maxBack int) (float64, bool) {
	for back := 0; back <= maxBack; back++ {
		if v, ok := cached[DateKey(date.AddDate(0, 0, -back))]; ok {
			return v, true
		}
	}
	return 0, false
}

// MissingDates returns the requested dates the cache cannot serve, sorted
// ascending. A date counts as covered when a value exists on it or within
// PriorTolerance days before it.
func MissingDates(cached map[string]float64, dates []time.Time) []time.Time {
	var missing []time.Time
	for _, d := range dates {
		if _, ok := NearestPrior(cached, d, PriorTolerance); !ok {
			missing = append(missing, d)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Before(missing[j]) })
	return missing
}

// CoalesceRuns groups sorted missing dates into fetch runs. Dates within
// MaxGap days extend the current run until it would exceed MaxSpan days,
// at which point a new run starts.
func CoalesceRuns(missing []time.Time) []Run {
	if len(missing) == 0 {
		return nil
	}

	runs := make([]Run, 0, 1)
	current := Run{From: missing[0], To: missing[0]}

	for _, d := range missing[1:] {
		gap := daysBetween(current.To, d)
		span := daysBetween(current.From, d)
		if gap <= MaxGap && span <= MaxSpan {
			current.To = d
			continue
		}
		runs = append(runs, current)
		current = Run{From: d, To: d}
	}
	runs = append(runs, current)

	return runs
}

func daysBetween(a, b time.Time) int {
	return int(b.Truncate(24*time.Hour).Sub(a.Truncate(24*time.Hour)).Hours() / 24)
}

// Package availability aggregates internal bookings and external calendar
// busy blocks into a merged busy set and generates bookable slots from it.
package availability

import (
	"sort"
	"time"
)

// Source tags where a busy interval came from.
type Source string

const (
	SourceInternal Source = "internal"
	SourceExternal Source = "external"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BusyInterval is an interval during which a scope cannot be booked.
type BusyInterval struct {
	Interval
	Source Source `json:"source"`
}

// IsValid reports whether the interval has positive length.
func (iv Interval) IsValid() bool {
	return iv.End.After(iv.Start)
}

// Overlaps reports whether two half-open intervals intersect. Touching
// boundaries (one ending exactly where the other starts) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Clip bounds the interval to the given window. The zero Interval is returned
// when nothing remains.
func (iv Interval) Clip(window Interval) Interval {
	if iv.Start.Before(window.Start) {
		iv.Start = window.Start
	}
	if iv.End.After(window.End) {
		iv.End = window.End
	}
	if !iv.IsValid() {
		return Interval{}
	}
	return iv
}

// Merge unions busy intervals into a sorted, non-overlapping set. Invalid
// (zero-length or inverted) intervals are dropped. Touching intervals stay
// separate so that a slot may start exactly where a busy block ends.
func Merge(busy []BusyInterval) []BusyInterval {
	valid := make([]BusyInterval, 0, len(busy))
	for _, b := range busy {
		if b.IsValid() {
			valid = append(valid, b)
		}
	}
	if len(valid) <= 1 {
		return valid
	}

	sort.Slice(valid, func(i, j int) bool {
		if valid[i].Start.Equal(valid[j].Start) {
			return valid[i].End.Before(valid[j].End)
		}
		return valid[i].Start.Before(valid[j].Start)
	})

	merged := valid[:1]
	for _, b := range valid[1:] {
		last := &merged[len(merged)-1]
		if b.Start.Before(last.End) {
			if b.End.After(last.End) {
				last.End = b.End
			}
			if b.Source != last.Source {
				last.Source = mixSources(last.Source, b.Source)
			}
			continue
		}
		merged = append(merged, b)
	}
	return merged
}

// ClipAll clips every interval to the window and drops what falls outside.
func ClipAll(busy []BusyInterval, window Interval) []BusyInterval {
	out := make([]BusyInterval, 0, len(busy))
	for _, b := range busy {
		clipped := b.Interval.Clip(window)
		if clipped.IsValid() {
			out = append(out, BusyInterval{Interval: clipped, Source: b.Source})
		}
	}
	return out
}

// overlapsAny reports whether the candidate intersects any busy interval.
// Callers pass a merged set, but correctness does not depend on that.
func overlapsAny(candidate Interval, busy []BusyInterval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b.Interval) {
			return true
		}
	}
	return false
}

func mixSources(a, b Source) Source {
	if a == b {
		return a
	}
	// A merged block fed by both stores is internal for reporting purposes;
	// the internal store is the authoritative one.
	return SourceInternal
}

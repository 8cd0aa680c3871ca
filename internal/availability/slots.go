package availability

import (
	"iter"
	"time"
)

// Slot is a bookable candidate of the requested duration, fully inside
// working hours and disjoint from every busy interval.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Slots walks candidate start times from open to close-duration in steps of
// step and yields every candidate that does not overlap a busy interval.
// The sequence is finite and restartable; callers may stop early to cap the
// result count. A candidate ending exactly at a busy interval's start is
// allowed, as is one starting exactly at a busy interval's end.
//
// busy is expected to be merged and clipped to the day window already.
func Slots(open, close time.Time, busy []BusyInterval, duration, step time.Duration) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if duration <= 0 || step <= 0 {
			return
		}
		if open.Add(duration).After(close) {
			return
		}
		for start := open; !start.Add(duration).After(close); start = start.Add(step) {
			candidate := Interval{Start: start, End: start.Add(duration)}
			if overlapsAny(candidate, busy) {
				continue
			}
			if !yield(Slot{Start: candidate.Start, End: candidate.End}) {
				return
			}
		}
	}
}

// CollectSlots drains a slot sequence into a slice, stopping after limit
// slots when limit > 0.
func CollectSlots(seq iter.Seq[Slot], limit int) []Slot {
	var out []Slot
	for s := range seq {
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

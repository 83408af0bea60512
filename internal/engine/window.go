package engine

import (
	"sort"
	"time"
)

// burstWindow walks the time-ordered events of one signature group and hands
// out non-overlapping [t0, t0+duration] windows.
type burstWindow struct {
	duration time.Duration
	times    []time.Time
	consumed []bool
	head     int
}

func newBurstWindow(duration time.Duration, times []time.Time) *burstWindow {
	sorted := append([]time.Time(nil), times...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return &burstWindow{
		duration: duration,
		times:    sorted,
		consumed: make([]bool, len(sorted)),
	}
}

// nextSeed advances to the next unconsumed event. ok is false once the group
// is exhausted.
func (w *burstWindow) nextSeed() (int, bool) {
	for w.head < len(w.times) {
		i := w.head
		w.head++
		if !w.consumed[i] {
			return i, true
		}
	}
	return 0, false
}

// span returns [lo, hi) covering every event, consumed or not, whose time lies
// in [t0, t0+duration]. Both bounds are inclusive in time.
func (w *burstWindow) span(seed int) (int, int) {
	t0 := w.times[seed]
	end := t0.Add(w.duration)
	lo := sort.Search(len(w.times), func(k int) bool { return !w.times[k].Before(t0) })
	hi := sort.Search(len(w.times), func(k int) bool { return w.times[k].After(end) })
	return lo, hi
}

func (w *burstWindow) consume(lo, hi int) {
	for k := lo; k < hi; k++ {
		w.consumed[k] = true
	}
}

func (w *burstWindow) members(lo, hi int) []time.Time {
	return append([]time.Time(nil), w.times[lo:hi]...)
}

package engine

import (
	"time"

	"chargewatch/internal/model"
)

const (
	DefaultWindow         = 12 * time.Hour
	DefaultMinOccurrences = 3
)

type Options struct {
	Window         time.Duration
	MinOccurrences int
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.MinOccurrences <= 0 {
		o.MinOccurrences = DefaultMinOccurrences
	}
	return o
}

// DetectAlerts groups error events by signature and emits one cluster per
// burst of at least MinOccurrences events inside a window anchored on an
// unconsumed event. Windows only look forward and never overlap: once a
// window fires, its events can neither seed nor join another cluster.
// A non-zero since drops events that started before it.
//
// Groups are visited in the order their first event appears in the input.
func DetectAlerts(events []model.ErrorEvent, since time.Time, opts Options) []model.AlertCluster {
	opts = opts.withDefaults()

	var order []string
	groups := make(map[string][]time.Time)
	sigs := make(map[string]model.Signature)
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			continue
		}
		if !since.IsZero() && ev.Timestamp.Before(since) {
			continue
		}
		key := ev.Signature.Key()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
			sigs[key] = ev.Signature
		}
		groups[key] = append(groups[key], ev.Timestamp)
	}

	var out []model.AlertCluster
	for _, key := range order {
		w := newBurstWindow(opts.Window, groups[key])
		for {
			seed, ok := w.nextSeed()
			if !ok {
				break
			}
			lo, hi := w.span(seed)
			if hi-lo < opts.MinOccurrences {
				continue
			}
			out = append(out, model.AlertCluster{
				Signature:   sigs[key],
				Detection:   w.times[seed],
				Occurrences: hi - lo,
				Members:     w.members(lo, hi),
			})
			w.consume(lo, hi)
		}
	}
	return out
}

// EventsFromSessions keeps the sessions that can be grouped and reports how
// many failed sessions were dropped for missing signature fields.
func EventsFromSessions(sessions []model.ChargeSession) ([]model.ErrorEvent, int) {
	out := make([]model.ErrorEvent, 0, len(sessions))
	dropped := 0
	for _, s := range sessions {
		if s.Success {
			continue
		}
		ev, ok := model.ErrorEventOf(s)
		if !ok {
			dropped++
			continue
		}
		out = append(out, ev)
	}
	return out, dropped
}

package jobs

import (
	"sync"
	"time"

	"chargewatch/internal/model"
)

// History keeps the most recent run summaries in memory, oldest first.
type History struct {
	mu    sync.RWMutex
	buf   []model.RunSummary
	limit int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 200
	}
	return &History{limit: limit}
}

func (h *History) Add(run model.RunSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) < h.limit {
		h.buf = append(h.buf, run)
		return
	}
	copy(h.buf, h.buf[1:])
	h.buf[len(h.buf)-1] = run
}

// List returns up to limit of the latest runs. A non-positive limit returns
// everything held.
func (h *History) List(limit int) []model.RunSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > len(h.buf) {
		limit = len(h.buf)
	}
	out := make([]model.RunSummary, limit)
	copy(out, h.buf[len(h.buf)-limit:])
	return out
}

func (h *History) Since(ts time.Time) []model.RunSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.RunSummary, 0)
	for _, r := range h.buf {
		if !r.Started.Before(ts) {
			out = append(out, r)
		}
	}
	return out
}

// Latest returns the last run of each job.
func (h *History) Latest() map[string]model.RunSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]model.RunSummary)
	for _, r := range h.buf {
		out[r.Job] = r
	}
	return out
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = nil
}

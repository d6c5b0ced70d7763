// Package history keeps the finished runs of the current session.
package history

import (
	"sync"

	"github.com/mpataki/automenu/internal/models"
)

type History struct {
	mu      sync.Mutex
	records []*models.ExecutionRecord
	seen    map[string]bool
	flushed map[string]bool
}

func New() *History {
	return &History{
		seen:    make(map[string]bool),
		flushed: make(map[string]bool),
	}
}

// Add files a finished record. Adding the same record twice is a no-op.
func (h *History) Add(rec *models.ExecutionRecord) {
	if rec == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen[rec.ID] {
		return
	}
	h.seen[rec.ID] = true
	h.records = append(h.records, rec)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// Records returns the filed records, oldest first.
func (h *History) Records() []*models.ExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*models.ExecutionRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Summaries snapshots every filed record.
func (h *History) Summaries() []models.ExecutionSummary {
	recs := h.Records()
	out := make([]models.ExecutionSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Summary())
	}
	return out
}

// Pending snapshots the records not yet marked flushed.
func (h *History) Pending() []models.ExecutionSummary {
	h.mu.Lock()
	var recs []*models.ExecutionRecord
	for _, rec := range h.records {
		if !h.flushed[rec.ID] {
			recs = append(recs, rec)
		}
	}
	h.mu.Unlock()

	out := make([]models.ExecutionSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Summary())
	}
	return out
}

func (h *History) MarkFlushed(ids ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		h.flushed[id] = true
	}
}

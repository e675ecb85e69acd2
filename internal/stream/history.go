package stream

import (
	"sync"

	"github.com/streamgrab/backend/internal/orchestrator"
)

// DefaultHistorySize bounds how many finished jobs stay addressable
// through the files endpoint.
const DefaultHistorySize = 100

// History records terminal job snapshots. The live job table drops
// entries the moment they finish, so this is the only place a
// completed job's file path can still be looked up.
type History struct {
	mu    sync.RWMutex
	byID  map[string]orchestrator.DownloadJob
	order []string
	cap   int
}

// NewHistory creates a history holding at most capacity entries.
// Older entries are evicted first.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		byID: make(map[string]orchestrator.DownloadJob),
		cap:  capacity,
	}
}

func (h *History) record(job orchestrator.DownloadJob) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, seen := h.byID[job.ID]; !seen {
		h.order = append(h.order, job.ID)
	}
	h.byID[job.ID] = job

	for len(h.order) > h.cap {
		evicted := h.order[0]
		h.order = h.order[1:]
		delete(h.byID, evicted)
	}
}

// Get returns the terminal snapshot for a finished job.
func (h *History) Get(jobID string) (orchestrator.DownloadJob, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	job, ok := h.byID[jobID]
	return job, ok
}

// Len returns the number of recorded jobs.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// DownloadProgress is a no-op; only terminal states are recorded.
func (h *History) DownloadProgress(job orchestrator.DownloadJob) {}

// DownloadCompleted records the finished job.
func (h *History) DownloadCompleted(job orchestrator.DownloadJob) {
	h.record(job)
}

// DownloadError records the failed job.
func (h *History) DownloadError(job orchestrator.DownloadJob) {
	h.record(job)
}

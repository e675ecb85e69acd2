package orchestrator

import (
	"sort"
	"sync"
	"time"
)

// Job status constants representing the download lifecycle
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusError       = "error"
	// StatusPaused is part of the status vocabulary consumers may
	// display; no current code path produces it.
	StatusPaused = "paused"
)

// DownloadJob is the live state of one download invocation. Consumers
// always receive value snapshots; the canonical copy lives in the
// JobTable and is mutated only under its lock.
type DownloadJob struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Title           string    `json:"title,omitempty"`
	Status          string    `json:"status"`
	Percent         int       `json:"percent"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	TotalBytes      int64     `json:"total_bytes,omitempty"`
	Speed           float64   `json:"speed,omitempty"`
	Error           string    `json:"error,omitempty"`
	FilePath        string    `json:"file_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *DownloadJob) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusError
}

// JobTable is the registry of live jobs. Entries are inserted when a
// download is allocated and removed when it reaches a terminal state,
// so the table always reflects active work only.
type JobTable struct {
	mu   sync.RWMutex
	jobs map[string]*DownloadJob
}

// NewJobTable creates an empty job table.
func NewJobTable() *JobTable {
	return &JobTable{
		jobs: make(map[string]*DownloadJob),
	}
}

func (t *JobTable) insert(job *DownloadJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.ID] = job
}

func (t *JobTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}

// update applies fn to the job under the table lock and returns the
// resulting snapshot.
func (t *JobTable) update(id string, fn func(*DownloadJob)) (DownloadJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return DownloadJob{}, false
	}
	fn(job)
	return *job, true
}

// Get returns a snapshot of one live job.
func (t *JobTable) Get(id string) (DownloadJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return DownloadJob{}, false
	}
	return *job, true
}

// Active returns snapshots of all live jobs, oldest first.
func (t *JobTable) Active() []DownloadJob {
	t.mu.RLock()
	defer t.mu.RUnlock()

	jobs := make([]DownloadJob, 0, len(t.jobs))
	for _, job := range t.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// Len returns the number of live jobs.
func (t *JobTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

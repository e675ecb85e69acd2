package api

import (
	"sync"

	"github.com/streamgrab/backend/internal/metrics"
	"github.com/streamgrab/backend/internal/orchestrator"
)

// MetricsSink mirrors job lifecycle events into the metrics registry.
// It tracks live job IDs itself; the job table has already dropped an
// entry by the time its terminal event arrives.
type MetricsSink struct {
	m      *metrics.Metrics
	mu     sync.Mutex
	active map[string]struct{}
}

// NewMetricsSink creates a sink feeding m.
func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{
		m:      m,
		active: make(map[string]struct{}),
	}
}

// DownloadProgress marks the job live and refreshes the gauge.
func (s *MetricsSink) DownloadProgress(job orchestrator.DownloadJob) {
	s.mu.Lock()
	s.active[job.ID] = struct{}{}
	n := len(s.active)
	s.mu.Unlock()

	s.m.SetActiveJobs(int64(n))
}

// DownloadCompleted counts the outcome and retires the job.
func (s *MetricsSink) DownloadCompleted(job orchestrator.DownloadJob) {
	s.retire(job.ID)
	s.m.IncCounter("downloads_completed")
	if job.BytesDownloaded > 0 {
		s.m.AddCounter("downloaded_bytes_total", uint64(job.BytesDownloaded))
	}
}

// DownloadError counts the outcome and retires the job.
func (s *MetricsSink) DownloadError(job orchestrator.DownloadJob) {
	s.retire(job.ID)
	s.m.IncCounter("downloads_failed")
}

func (s *MetricsSink) retire(jobID string) {
	s.mu.Lock()
	delete(s.active, jobID)
	n := len(s.active)
	s.mu.Unlock()

	s.m.SetActiveJobs(int64(n))
}

package websocket

import (
	"github.com/streamgrab/backend/internal/orchestrator"
)

// Event type values pushed to clients.
const (
	EventDownloadProgress  = "download_progress"
	EventDownloadCompleted = "download_completed"
	EventDownloadError     = "download_error"
)

// JobEvent is one pushed lifecycle update.
type JobEvent struct {
	Type            string  `json:"type"`
	JobID           string  `json:"job_id"`
	Status          string  `json:"status"`
	Percent         int     `json:"percent"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Title           string  `json:"title,omitempty"`
	Error           string  `json:"error,omitempty"`
	FilePath        string  `json:"file_path,omitempty"`
}

// EventBridge adapts the hub to the orchestrator's event sink.
type EventBridge struct {
	hub *Hub
}

// NewEventBridge creates the sink-to-hub adapter.
func NewEventBridge(hub *Hub) *EventBridge {
	return &EventBridge{hub: hub}
}

func (b *EventBridge) DownloadProgress(job orchestrator.DownloadJob) {
	b.hub.Broadcast(jobEvent(EventDownloadProgress, job))
}

func (b *EventBridge) DownloadCompleted(job orchestrator.DownloadJob) {
	b.hub.Broadcast(jobEvent(EventDownloadCompleted, job))
}

func (b *EventBridge) DownloadError(job orchestrator.DownloadJob) {
	b.hub.Broadcast(jobEvent(EventDownloadError, job))
}

func jobEvent(eventType string, job orchestrator.DownloadJob) *JobEvent {
	return &JobEvent{
		Type:            eventType,
		JobID:           job.ID,
		Status:          job.Status,
		Percent:         job.Percent,
		BytesDownloaded: job.BytesDownloaded,
		TotalBytes:      job.TotalBytes,
		Speed:           job.Speed,
		Title:           job.Title,
		Error:           job.Error,
		FilePath:        job.FilePath,
	}
}

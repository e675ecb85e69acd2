package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/logger"
	"github.com/streamgrab/backend/internal/metrics"
	"github.com/streamgrab/backend/internal/orchestrator"
)

// MediaHandlers contains handlers for the extraction and download
// endpoints.
type MediaHandlers struct {
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewMediaHandlers creates a new MediaHandlers instance
func NewMediaHandlers(orch *orchestrator.Orchestrator, m *metrics.Metrics) *MediaHandlers {
	return &MediaHandlers{
		orch:    orch,
		metrics: m,
		log:     logger.Default().WithComponent("api"),
	}
}

// ExtractRequest represents the request body for extraction
type ExtractRequest struct {
	URL string `json:"url"`
}

// CreateDownloadRequest represents the request body for starting a download
type CreateDownloadRequest struct {
	URL     string          `json:"url"`
	Options DownloadOptions `json:"options"`
}

// DownloadOptions carries the per-download tuning knobs
type DownloadOptions struct {
	Format       string `json:"format,omitempty"`
	Quality      string `json:"quality,omitempty"`
	AudioQuality string `json:"audio_quality,omitempty"`
}

// CreateDownloadResponse represents the response for a started download job
type CreateDownloadResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Extract handles POST /api/v1/extract
func (h *MediaHandlers) Extract(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.URL == "" {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("url is required"))
		return
	}

	result, err := h.orch.Extract(r.Context(), req.URL)
	if err != nil {
		h.metrics.IncCounter("extractions_failed")
		apperrors.WriteError(w, requestID, err)
		return
	}

	h.metrics.IncCounter("extractions_completed")
	apperrors.WriteJSON(w, requestID, http.StatusOK, result)
}

// CreateDownload handles POST /api/v1/downloads. The job runs in the
// background; progress arrives over the WebSocket feed.
func (h *MediaHandlers) CreateDownload(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	var req CreateDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.URL == "" {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("url is required"))
		return
	}

	jobID := h.orch.StartDownload(r.Context(), req.URL, orchestrator.DownloadOptions{
		Format:    req.Options.Format,
		Quality:   req.Options.Quality,
		AudioTier: req.Options.AudioQuality,
	})

	h.log.Info(r.Context(), "download started", map[string]interface{}{
		"job_id": jobID,
		"url":    req.URL,
	})

	apperrors.WriteJSON(w, requestID, http.StatusAccepted, CreateDownloadResponse{
		JobID:  jobID,
		Status: orchestrator.StatusPending,
	})
}

// ListDownloads handles GET /api/v1/downloads
func (h *MediaHandlers) ListDownloads(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	jobs := h.orch.Jobs().Active()
	apperrors.WriteJSON(w, requestID, http.StatusOK, map[string]interface{}{
		"jobs": jobs,
	})
}

// ListExtractors handles GET /api/v1/extractors
func (h *MediaHandlers) ListExtractors(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	apperrors.WriteJSON(w, requestID, http.StatusOK, map[string]interface{}{
		"extractors": h.orch.Extractors(),
	})
}

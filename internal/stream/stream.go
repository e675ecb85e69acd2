// Package stream serves finished download files back over HTTP so the
// shell can preview them. Lookup goes through the job history, never
// the live job table.
package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/logger"
	"github.com/streamgrab/backend/internal/orchestrator"
)

// Handler handles file serving requests.
type Handler struct {
	history *History
	log     *logger.Logger
}

// NewHandler creates a new file serving handler.
func NewHandler(history *History) *Handler {
	return &Handler{
		history: history,
		log:     logger.Default().WithComponent("stream"),
	}
}

// rangeSpec is one byte range, both ends inclusive.
type rangeSpec struct {
	start int64
	end   int64
}

// parseRange interprets a Range header against a file of totalSize
// bytes. A nil spec with a nil error means the whole file. Multi-range
// requests are honored by their first range only.
func parseRange(rangeHeader string, totalSize int64) (*rangeSpec, error) {
	if rangeHeader == "" {
		return nil, nil
	}

	spec, hasUnit := strings.CutPrefix(rangeHeader, "bytes=")
	if !hasUnit {
		return nil, errors.New("invalid range unit")
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = first
	}

	startStr, endStr, hasDash := strings.Cut(strings.TrimSpace(spec), "-")
	if !hasDash {
		return nil, errors.New("invalid range format")
	}

	var r rangeSpec
	switch {
	case startStr == "" && endStr == "":
		return nil, errors.New("invalid range: both start and end are empty")

	case startStr == "":
		// Suffix form: -500 means the last 500 bytes.
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid suffix length: %w", err)
		}
		r.start = totalSize - suffix
		if r.start < 0 {
			r.start = 0
		}
		r.end = totalSize - 1

	case endStr == "":
		// Open form: 500- means from byte 500 to the end.
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid start position: %w", err)
		}
		r.start = start
		r.end = totalSize - 1

	default:
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid start position: %w", err)
		}
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid end position: %w", err)
		}
		r.start = start
		r.end = end
	}

	if r.start < 0 || r.start >= totalSize {
		return nil, errors.New("range start out of bounds")
	}
	if r.end >= totalSize {
		r.end = totalSize - 1
	}
	if r.start > r.end {
		return nil, errors.New("invalid range: start > end")
	}

	return &r, nil
}

// getContentType returns the MIME type based on the file extension.
func getContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".aac":
		return "audio/mp4"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".opus":
		return "audio/opus"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// ServeFile handles GET /api/v1/files/{job_id}
// Supports HTTP Range requests for seeking in media players.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := apperrors.GetRequestID(ctx)

	jobID := r.PathValue("job_id")
	if jobID == "" {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("job_id is required"))
		return
	}

	job, ok := h.history.Get(jobID)
	if !ok || job.Status != orchestrator.StatusCompleted || job.FilePath == "" {
		apperrors.WriteError(w, requestID, apperrors.JobNotFound(jobID))
		return
	}

	file, err := os.Open(job.FilePath)
	if err != nil {
		h.log.Warn(ctx, "download file missing", map[string]interface{}{
			"job_id": jobID,
			"path":   job.FilePath,
		})
		apperrors.WriteError(w, requestID, apperrors.JobNotFound(jobID))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		apperrors.WriteError(w, requestID, apperrors.InternalError("failed to stat download file"))
		return
	}
	totalSize := info.Size()

	rs, err := parseRange(r.Header.Get("Range"), totalSize)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", totalSize))
		apperrors.WriteError(w, requestID, apperrors.New(
			apperrors.CodeInvalidRequest, "invalid range",
			apperrors.CategoryClient, http.StatusRequestedRangeNotSatisfiable))
		return
	}

	w.Header().Set("Content-Type", getContentType(job.FilePath))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("inline; filename=%q", filepath.Base(job.FilePath)))

	if rs == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(totalSize, 10))
		w.WriteHeader(http.StatusOK)

		if _, err := io.Copy(w, file); err != nil {
			h.log.Debug(ctx, "full content copy interrupted", map[string]interface{}{
				"job_id": jobID,
			})
		}
		return
	}

	contentLength := rs.end - rs.start + 1
	w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rs.start, rs.end, totalSize))
	w.WriteHeader(http.StatusPartialContent)

	// Past this point the 206 header is already out; copy failures can
	// only be logged.
	if _, err := file.Seek(rs.start, io.SeekStart); err != nil {
		h.log.Warn(ctx, "seek failed", map[string]interface{}{
			"job_id": jobID,
			"offset": rs.start,
		})
		return
	}
	if _, err := io.CopyN(w, file, contentLength); err != nil {
		h.log.Debug(ctx, "partial content copy interrupted", map[string]interface{}{
			"job_id": jobID,
		})
	}
}

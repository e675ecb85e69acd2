// Package errors defines the pipeline's error taxonomy. Every failure
// a handler can return carries a stable code, an HTTP status, and a
// category that tells callers whether the fault was theirs, ours, or
// the platform's.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCategory tells consumers who to blame.
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryServer   ErrorCategory = "server"
	CategoryExternal ErrorCategory = "external"
)

// Stable error codes. Shells match on these, never on messages.
const (
	// Client errors (4xx)
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNoExtractorFound = "NO_EXTRACTOR_FOUND"
	CodeNoSuitableStream = "NO_SUITABLE_STREAM"
	CodeJobNotFound      = "JOB_NOT_FOUND"

	// Server errors (5xx)
	CodeInternalError = "INTERNAL_ERROR"

	// Pipeline errors: the platform or the network said no.
	CodeExtractionFailed = "EXTRACTION_FAILED"
	CodeDownloadFailed   = "DOWNLOAD_FAILED"
	CodeConversionFailed = "CONVERSION_FAILED"
	CodeExternalTimeout  = "EXTERNAL_TIMEOUT"
)

// AppError is the structured error every pipeline stage returns.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"-"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *AppError) Error() string {
	s := e.Code + ": " + e.Message
	if e.Cause != nil {
		s += " (caused by: " + e.Cause.Error() + ")"
	}
	return s
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches structured context for the response body.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause records the underlying error for logs and Unwrap.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// New creates an AppError. Prefer the named constructors; New exists
// for the rare status that has no constructor of its own.
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Client error constructors

func BadRequest(message string) *AppError {
	return New(CodeInvalidRequest, message, CategoryClient, http.StatusBadRequest)
}

// NoExtractorFound signals that no registered extractor's test predicate
// matched the URL. Never retried.
func NoExtractorFound(url string) *AppError {
	return New(CodeNoExtractorFound, fmt.Sprintf("no extractor found for URL: %s", url), CategoryClient, http.StatusBadRequest)
}

// NoSuitableStream signals that extraction succeeded but produced zero
// usable streams.
func NoSuitableStream(url string) *AppError {
	return New(CodeNoSuitableStream, fmt.Sprintf("no suitable stream found for URL: %s", url), CategoryClient, http.StatusUnprocessableEntity)
}

func JobNotFound(jobID string) *AppError {
	return New(CodeJobNotFound, fmt.Sprintf("job not found: %s", jobID), CategoryClient, http.StatusNotFound)
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

// Pipeline error constructors

// ExtractionFailed signals that every extraction strategy of the matched
// extractor was exhausted.
func ExtractionFailed(extractor, reason string) *AppError {
	return New(CodeExtractionFailed, fmt.Sprintf("%s extraction failed: %s", extractor, reason), CategoryExternal, http.StatusBadGateway).
		WithDetails(map[string]any{"extractor": extractor})
}

// DownloadFailed signals that the download engine exhausted its retry
// budget. The attempt count is carried in the details.
func DownloadFailed(attempts int, lastErr error) *AppError {
	e := New(CodeDownloadFailed, fmt.Sprintf("download failed after %d attempts", attempts), CategoryExternal, http.StatusBadGateway).
		WithDetails(map[string]any{"attempts": attempts})
	if lastErr != nil {
		e.Message = fmt.Sprintf("download failed after %d attempts: %v", attempts, lastErr)
		e.Cause = lastErr
	}
	return e
}

// ConversionFailed signals that the transcoding subprocess reported
// failure. Never retried.
func ConversionFailed(reason string) *AppError {
	return New(CodeConversionFailed, fmt.Sprintf("conversion failed: %s", reason), CategoryExternal, http.StatusBadGateway)
}

func ExternalTimeout(service string) *AppError {
	return New(CodeExternalTimeout, fmt.Sprintf("%s request timed out", service), CategoryExternal, http.StatusGatewayTimeout)
}

// Attempts extracts the attempt count from a DownloadFailed error, or 0.
func Attempts(err error) int {
	appErr, ok := err.(*AppError)
	if !ok || appErr.Details == nil {
		return 0
	}
	if n, ok := appErr.Details["attempts"].(int); ok {
		return n
	}
	return 0
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}

func categoryOf(err error) ErrorCategory {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Category
	}
	return ""
}

// IsClientError reports whether the caller caused the failure.
func IsClientError(err error) bool { return categoryOf(err) == CategoryClient }

// IsExternalError reports whether a platform or the network caused the
// failure.
func IsExternalError(err error) bool { return categoryOf(err) == CategoryExternal }

// ErrorResponse is the JSON envelope returned to clients.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// WriteJSON writes data with the request ID header set.
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes err in the envelope. Plain errors become opaque
// internal errors so nothing from inside the process leaks to clients.
func WriteError(w http.ResponseWriter, requestID string, err error) {
	appErr, ok := err.(*AppError)
	if !ok {
		appErr = InternalError("an unexpected error occurred").WithCause(err)
	}

	WriteJSON(w, requestID, appErr.HTTPStatus, ErrorResponse{
		Error: ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: requestID,
			Details:   appErr.Details,
		},
	})
}

package errors

import (
	"context"

	"github.com/google/uuid"
)

// contextKey keeps our context values collision-free.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	jobIDKey     contextKey = "job_id"
)

// GenerateRequestID mints a fresh request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithRequestID tags the context with the request it belongs to.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request ID, or "" when the context has none.
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithJobID tags the context with the download job owning this flow.
// The logger picks it up so every line of a job's lifecycle carries its ID.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// GetJobID returns the job ID, or "" when the context has none.
func GetJobID(ctx context.Context) string {
	return stringValue(ctx, jobIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

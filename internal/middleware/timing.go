package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/streamgrab/backend/internal/logger"
)

// slowRequestThreshold marks requests worth a warning log.
const slowRequestThreshold = 500 * time.Millisecond

// Timing returns a middleware that adds Server-Timing headers and
// warns about slow requests. The header carries time to first byte,
// measured when the handler starts writing.
func Timing(next http.Handler) http.Handler {
	log := logger.Default().WithComponent("timing")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &timedResponseWriter{
			ResponseWriter: w,
			start:          start,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		if duration := time.Since(start); duration > slowRequestThreshold {
			log.Warn(r.Context(), "slow request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": duration.Milliseconds(),
			})
		}
	})
}

// timedResponseWriter injects the Server-Timing header just before the
// response status line goes out; headers written later are dropped by
// net/http.
type timedResponseWriter struct {
	http.ResponseWriter
	start       time.Time
	statusCode  int
	wroteHeader bool
}

func (w *timedResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.statusCode = code
		w.Header().Set("Server-Timing", formatServerTiming(time.Since(w.start)))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timedResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func formatServerTiming(d time.Duration) string {
	ms := float64(d.Nanoseconds()) / 1e6
	return "ttfb;dur=" + strconv.FormatFloat(ms, 'f', 2, 64)
}

package api

import (
	"net/http"

	"github.com/streamgrab/backend/internal/health"
	"github.com/streamgrab/backend/internal/logger"
	"github.com/streamgrab/backend/internal/metrics"
	"github.com/streamgrab/backend/internal/middleware"
	"github.com/streamgrab/backend/internal/stream"
	"github.com/streamgrab/backend/internal/websocket"
)

// Router wires the bridge's HTTP surface.
type Router struct {
	handler http.Handler
}

// NewRouter assembles the route table and middleware chain.
func NewRouter(media *MediaHandlers, files *stream.Handler, ws *websocket.Handler, healthHandler *health.Handler, m *metrics.Metrics) *Router {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.HealthHandler)
	mux.HandleFunc("GET /metrics", m.Handler())

	mux.HandleFunc("POST /api/v1/extract", media.Extract)
	mux.HandleFunc("POST /api/v1/downloads", media.CreateDownload)
	mux.HandleFunc("GET /api/v1/downloads", media.ListDownloads)
	mux.HandleFunc("GET /api/v1/extractors", media.ListExtractors)
	mux.HandleFunc("GET /api/v1/files/{job_id}", files.ServeFile)

	chained := middleware.Chain(mux,
		middleware.RequestID,
		logger.RecoveryMiddleware,
		logger.LoggingMiddleware,
		metrics.MetricsMiddleware(m),
		middleware.Timing,
		middleware.Gzip,
		middleware.ETag,
	)

	// WebSocket upgrades need the raw response writer; the wrapping
	// middlewares would hide the Hijacker it relies on.
	outer := http.NewServeMux()
	outer.HandleFunc("GET /ws", ws.ServeWS)
	outer.Handle("/", chained)

	return &Router{handler: outer}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

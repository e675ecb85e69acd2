// Package health reports whether the bridge can serve downloads. The
// desktop shell polls /health to decide when the backend is up and
// whether to surface a degraded-mode banner.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Status grades a component or the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// worse returns the lower of two statuses. Unhealthy beats degraded
// beats healthy.
func worse(a, b Status) Status {
	if a == StatusUnhealthy || b == StatusUnhealthy {
		return StatusUnhealthy
	}
	if a == StatusDegraded || b == StatusDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// ComponentHealth is one component's grade.
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

func grade(status Status, msg string, start time.Time) ComponentHealth {
	return ComponentHealth{
		Status:   status,
		Message:  msg,
		Duration: time.Since(start).String(),
	}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker grades the pieces a download actually needs: the transcoder
// binary, a writable output directory, and optionally the redirect
// cache.
type Checker struct {
	ffmpegPath   string
	outputDir    string
	cachePing    func(ctx context.Context) error
	version      string
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker.
type CheckerConfig struct {
	FFmpegPath string
	OutputDir  string
	// CachePing is nil when no redirect cache is configured; the cache
	// component is then omitted from deep checks entirely.
	CachePing func(ctx context.Context) error
	Version   string
	Timeout   time.Duration
}

// NewChecker creates a health checker.
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		ffmpegPath:   cfg.FFmpegPath,
		outputDir:    cfg.OutputDir,
		cachePing:    cfg.CachePing,
		version:      cfg.Version,
		checkTimeout: timeout,
	}
}

// Check reports liveness only: the process is up.
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck grades every component in parallel and folds the results
// into an overall status.
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	type namedCheck struct {
		name string
		run  func(context.Context) ComponentHealth
	}
	checks := []namedCheck{
		{"ffmpeg", c.CheckFFmpeg},
		{"output_dir", c.CheckOutputDir},
	}
	if c.cachePing != nil {
		checks = append(checks, namedCheck{"cache", c.CheckCache})
	}

	type outcome struct {
		name   string
		health ComponentHealth
	}
	results := make(chan outcome, len(checks))
	for _, check := range checks {
		go func(nc namedCheck) {
			results <- outcome{name: nc.name, health: nc.run(ctx)}
		}(check)
	}

	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth, len(checks)),
	}
	for range checks {
		out := <-results
		response.Components[out.name] = out.health
		response.Status = worse(response.Status, out.health.Status)
	}
	return response
}

// CheckFFmpeg checks that the ffmpeg binary is resolvable. A missing
// binary degrades the service rather than failing it: plain downloads
// still work, only conversion and playlist remuxing do not.
func (c *Checker) CheckFFmpeg(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.ffmpegPath == "" {
		return grade(StatusDegraded, "ffmpeg not configured", start)
	}
	if _, err := exec.LookPath(c.ffmpegPath); err != nil {
		return grade(StatusDegraded, "ffmpeg not found", start)
	}
	return grade(StatusHealthy, "", start)
}

// CheckOutputDir checks that the output directory exists and is
// writable by creating and removing a probe file.
func (c *Checker) CheckOutputDir(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.outputDir == "" {
		return grade(StatusUnhealthy, "output directory not configured", start)
	}
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return grade(StatusUnhealthy, "output directory not creatable", start)
	}

	probe := filepath.Join(c.outputDir, ".writecheck")
	f, err := os.Create(probe)
	if err != nil {
		return grade(StatusUnhealthy, "output directory not writable", start)
	}
	f.Close()
	os.Remove(probe)

	return grade(StatusHealthy, "", start)
}

// CheckCache checks redirect cache connectivity. The cache is an
// optimization, so an unreachable cache only degrades the service.
func (c *Checker) CheckCache(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.cachePing(ctx); err != nil {
		return grade(StatusDegraded, "cache ping failed", start)
	}
	return grade(StatusHealthy, "", start)
}

// Handler serves the health endpoints.
type Handler struct {
	checker *Checker
}

// NewHandler creates a health handler.
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler reports whether the process is up.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, h.checker.Check(r.Context()))
}

// ReadinessHandler reports whether the bridge can actually serve
// downloads right now. Degraded still accepts traffic.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, h.checker.DeepCheck(r.Context()))
}

// HealthHandler handles the /health endpoint; ?deep=true runs the
// component checks.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

func writeHealth(w http.ResponseWriter, response *HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// Package metrics keeps the bridge's request and job counters in
// process memory and serves them in the Prometheus text exposition
// format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// routeKey identifies one endpoint and method pair after ID
// normalization.
type routeKey struct {
	endpoint string
	method   string
}

// Metrics is an in-process registry. All methods are safe for
// concurrent use.
type Metrics struct {
	mu sync.Mutex

	requests  map[routeKey]uint64
	durations map[routeKey]*histogram
	// errors counts responses per status class (400, 500) per route.
	errors map[routeKey]map[int]uint64

	gauges   map[string]float64
	counters map[string]uint64

	wsConnections int64
	activeJobs    int64

	startTime time.Time
}

// New creates an empty registry.
func New() *Metrics {
	return &Metrics{
		requests:  make(map[routeKey]uint64),
		durations: make(map[routeKey]*histogram),
		errors:    make(map[routeKey]map[int]uint64),
		gauges:    make(map[string]float64),
		counters:  make(map[string]uint64),
		startTime: time.Now(),
	}
}

var defaultMetrics = New()

// Default returns the process-wide registry.
func Default() *Metrics {
	return defaultMetrics
}

// latencyBuckets are the histogram bounds in seconds, 5ms to 10s.
var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram stores per-bucket counts; the exporter accumulates them
// into the cumulative rows the text format wants. Callers hold the
// registry lock.
type histogram struct {
	count uint64
	sum   float64
	under []uint64
}

func newHistogram() *histogram {
	return &histogram{under: make([]uint64, len(latencyBuckets)+1)}
}

func (h *histogram) observe(v float64) {
	h.count++
	h.sum += v
	for i, bound := range latencyBuckets {
		if v <= bound {
			h.under[i]++
			return
		}
	}
	h.under[len(latencyBuckets)]++
}

// RecordRequest adds one served request to the route's series.
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := routeKey{endpoint: normalizeEndpoint(path), method: method}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[key]++

	h := m.durations[key]
	if h == nil {
		h = newHistogram()
		m.durations[key] = h
	}
	h.observe(duration.Seconds())

	if statusCode >= 400 {
		classes := m.errors[key]
		if classes == nil {
			classes = make(map[int]uint64)
			m.errors[key] = classes
		}
		classes[statusCode/100*100]++
	}
}

// normalizeEndpoint folds ID path segments so every file request lands
// on one series instead of one per job.
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if looksLikeID(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func looksLikeID(s string) bool {
	if s == "" {
		return false
	}
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		return true
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IncWSConnections adds one connected event feed client.
func (m *Metrics) IncWSConnections() {
	atomic.AddInt64(&m.wsConnections, 1)
}

// DecWSConnections removes one connected event feed client.
func (m *Metrics) DecWSConnections() {
	atomic.AddInt64(&m.wsConnections, -1)
}

// SetWSConnections sets the connected client count outright.
func (m *Metrics) SetWSConnections(count int64) {
	atomic.StoreInt64(&m.wsConnections, count)
}

// SetActiveJobs sets the live download job count.
func (m *Metrics) SetActiveJobs(count int64) {
	atomic.StoreInt64(&m.activeJobs, count)
}

// SetGauge sets a named gauge.
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	m.gauges[name] = value
	m.mu.Unlock()
}

// IncCounter adds one to a named counter.
func (m *Metrics) IncCounter(name string) {
	m.AddCounter(name, 1)
}

// AddCounter adds delta to a named counter. Byte totals go through
// here rather than one increment per chunk.
func (m *Metrics) AddCounter(name string, delta uint64) {
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		header := func(name, kind, help string) {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
		}

		header("sg_uptime_seconds", "gauge", "Time since the bridge started")
		fmt.Fprintf(&sb, "sg_uptime_seconds %f\n\n", time.Since(m.startTime).Seconds())

		header("sg_websocket_connections_active", "gauge", "Connected event feed clients")
		fmt.Fprintf(&sb, "sg_websocket_connections_active %d\n\n", atomic.LoadInt64(&m.wsConnections))

		header("sg_active_jobs", "gauge", "Live download jobs")
		fmt.Fprintf(&sb, "sg_active_jobs %d\n\n", atomic.LoadInt64(&m.activeJobs))

		m.mu.Lock()
		defer m.mu.Unlock()

		routes := make([]routeKey, 0, len(m.requests))
		for key := range m.requests {
			routes = append(routes, key)
		}
		sort.Slice(routes, func(i, j int) bool {
			if routes[i].endpoint != routes[j].endpoint {
				return routes[i].endpoint < routes[j].endpoint
			}
			return routes[i].method < routes[j].method
		})

		if len(routes) > 0 {
			header("sg_http_requests_total", "counter", "HTTP requests served")
			for _, key := range routes {
				fmt.Fprintf(&sb, "sg_http_requests_total{endpoint=%q,method=%q} %d\n",
					key.endpoint, key.method, m.requests[key])
			}
			sb.WriteString("\n")

			header("sg_http_request_duration_seconds", "histogram", "HTTP request latency")
			for _, key := range routes {
				h := m.durations[key]
				if h == nil {
					continue
				}
				var cum uint64
				for i, bound := range latencyBuckets {
					cum += h.under[i]
					fmt.Fprintf(&sb, "sg_http_request_duration_seconds_bucket{endpoint=%q,method=%q,le=\"%g\"} %d\n",
						key.endpoint, key.method, bound, cum)
				}
				fmt.Fprintf(&sb, "sg_http_request_duration_seconds_bucket{endpoint=%q,method=%q,le=\"+Inf\"} %d\n",
					key.endpoint, key.method, h.count)
				fmt.Fprintf(&sb, "sg_http_request_duration_seconds_sum{endpoint=%q,method=%q} %f\n",
					key.endpoint, key.method, h.sum)
				fmt.Fprintf(&sb, "sg_http_request_duration_seconds_count{endpoint=%q,method=%q} %d\n",
					key.endpoint, key.method, h.count)
			}
			sb.WriteString("\n")
		}

		if len(m.errors) > 0 {
			header("sg_http_errors_total", "counter", "HTTP errors by status class")
			for _, key := range routes {
				classes := m.errors[key]
				if len(classes) == 0 {
					continue
				}
				classKeys := make([]int, 0, len(classes))
				for class := range classes {
					classKeys = append(classKeys, class)
				}
				sort.Ints(classKeys)
				for _, class := range classKeys {
					fmt.Fprintf(&sb, "sg_http_errors_total{endpoint=%q,method=%q,status_class=\"%dxx\"} %d\n",
						key.endpoint, key.method, class/100, classes[class])
				}
			}
			sb.WriteString("\n")
		}

		if len(m.gauges) > 0 {
			header("sg_gauge", "gauge", "Named gauge values")
			names := make([]string, 0, len(m.gauges))
			for name := range m.gauges {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(&sb, "sg_gauge{name=%q} %f\n", name, m.gauges[name])
			}
			sb.WriteString("\n")
		}

		if len(m.counters) > 0 {
			header("sg_counter", "counter", "Named counter values")
			names := make([]string, 0, len(m.counters))
			for name := range m.counters {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(&sb, "sg_counter{name=%q} %d\n", name, m.counters[name])
			}
		}

		w.Write([]byte(sb.String()))
	}
}

// MetricsMiddleware records one series entry per response.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			cw := &codeWriter{ResponseWriter: w, code: http.StatusOK}

			next.ServeHTTP(cw, r)

			m.RecordRequest(r.Method, r.URL.Path, cw.code, time.Since(start))
		})
	}
}

type codeWriter struct {
	http.ResponseWriter
	code int
}

func (w *codeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Package downloader is the byte-moving layer: it streams a source URL
// to a file on disk with header injection, linear-backoff retries, and
// per-chunk progress reporting.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/logger"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// Progress is one observation of an in-flight download, reported on
// every chunk boundary.
type Progress struct {
	BytesDownloaded int64
	// TotalBytes is 0 when the server sent no Content-Length.
	TotalBytes     int64
	BytesPerSecond float64
}

// ProgressFunc receives progress observations. It runs on the download
// goroutine; keep it fast.
type ProgressFunc func(Progress)

// Options tune a single download call. Zero values fall back to the
// engine's defaults.
type Options struct {
	// Headers are merged over the engine's injected defaults; on
	// conflict the caller's value wins.
	Headers map[string]string

	// Timeout bounds connection setup through response headers for
	// each attempt. It never covers the body copy, which may stream
	// far longer.
	Timeout time.Duration

	// MaxRetries is the total number of attempts.
	MaxRetries int
}

// Engine performs streaming downloads. Safe for concurrent use.
type Engine struct {
	client     *http.Client
	userAgent  string
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	log        *logger.Logger
}

// NewEngine creates a download engine. The timeout bounds each
// attempt's pre-body phase; baseDelay scales the linear retry backoff.
func NewEngine(userAgent string, timeout time.Duration, maxRetries int, baseDelay time.Duration) *Engine {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Engine{
		// No client-level timeout: it would cut off long body streams.
		// The transport bounds every pre-body phase instead.
		client:     &http.Client{Transport: transport},
		userAgent:  userAgent,
		timeout:    timeout,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		log:        logger.Default().WithComponent("downloader"),
	}
}

// refererRules pairs source host suffixes with the Referer/Origin the
// platform's delivery edge expects. Caller-supplied headers override
// these.
var refererRules = []struct {
	hostSuffix string
	referer    string
	origin     string
}{
	{"googlevideo.com", "https://www.youtube.com/", "https://www.youtube.com"},
	{"youtube.com", "https://www.youtube.com/", "https://www.youtube.com"},
	{"ytimg.com", "https://www.youtube.com/", "https://www.youtube.com"},
	{"tiktokcdn.com", "https://www.tiktok.com/", "https://www.tiktok.com"},
	{"tiktokcdn-us.com", "https://www.tiktok.com/", "https://www.tiktok.com"},
	{"tiktokv.com", "https://www.tiktok.com/", "https://www.tiktok.com"},
	{"tiktok.com", "https://www.tiktok.com/", "https://www.tiktok.com"},
}

// injectedHeaders builds the engine's default header set for a source
// host.
func (e *Engine) injectedHeaders(host string) map[string]string {
	headers := map[string]string{
		"User-Agent": e.userAgent,
		"Accept":     "*/*",
	}
	host = strings.ToLower(host)
	for _, rule := range refererRules {
		if host == rule.hostSuffix || strings.HasSuffix(host, "."+rule.hostSuffix) {
			headers["Referer"] = rule.referer
			headers["Origin"] = rule.origin
			break
		}
	}
	return headers
}

// requestHeaders merges caller headers over the injected defaults.
func (e *Engine) requestHeaders(host string, callerHeaders map[string]string) map[string]string {
	headers := e.injectedHeaders(host)
	for k, v := range callerHeaders {
		headers[k] = v
	}
	return headers
}

// DownloadFile streams sourceURL to destPath, creating the destination
// directory if needed. onProgress may be nil. Returns the final path
// on success; on terminal failure returns a DownloadFailed error
// carrying the attempt count and last cause, with no partial file left
// behind.
func (e *Engine) DownloadFile(ctx context.Context, sourceURL, destPath string, onProgress ProgressFunc, opts Options) (string, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return "", apperrors.DownloadFailed(0, fmt.Errorf("invalid source URL: %w", err))
	}

	if dir := filepath.Dir(destPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", apperrors.DownloadFailed(0, fmt.Errorf("create destination directory: %w", err))
		}
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.maxRetries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	headers := e.requestHeaders(parsed.Hostname(), opts.Headers)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := e.attempt(ctx, sourceURL, destPath, headers, timeout, onProgress)
		if err == nil {
			e.log.Info(ctx, "download completed", map[string]interface{}{
				"url":     sourceURL,
				"path":    destPath,
				"attempt": attempt,
			})
			return destPath, nil
		}
		lastErr = err

		e.log.Warn(ctx, "download attempt failed", map[string]interface{}{
			"url":     sourceURL,
			"attempt": attempt,
			"error":   err.Error(),
		})

		if ctx.Err() != nil {
			return "", apperrors.DownloadFailed(attempt, ctx.Err())
		}
		if attempt == maxRetries {
			return "", apperrors.DownloadFailed(attempt, lastErr)
		}

		// Linear backoff: baseDelay scaled by the attempt number.
		delay := e.baseDelay * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return "", apperrors.DownloadFailed(attempt, ctx.Err())
		case <-time.After(delay):
		}
	}
	return "", apperrors.DownloadFailed(maxRetries, lastErr)
}

// attempt performs one full fetch. It cleans up the partial file on
// every failure path so a terminal failure never leaves a truncated
// artifact.
func (e *Engine) attempt(ctx context.Context, sourceURL, destPath string, headers map[string]string, timeout time.Duration, onProgress ProgressFunc) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	// The fuse covers connection setup through response headers. Once
	// headers arrive it is defused and the body may stream for as long
	// as it needs, bounded only by the caller's context.
	fuse := time.AfterFunc(timeout, cancel)
	resp, err := e.client.Do(req)
	fuse.Stop()
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return err
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	writer := io.Writer(file)
	if onProgress != nil {
		writer = io.MultiWriter(file, newProgressWriter(total, onProgress))
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		file.Close()
		os.Remove(destPath)
		return fmt.Errorf("stream copy failed: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}

// progressWriter reports byte counts and an instantaneous rate on each
// write, riding the copy via io.MultiWriter.
type progressWriter struct {
	total      int64
	downloaded int64
	lastTime   time.Time
	lastBytes  int64
	rate       float64
	onProgress ProgressFunc
}

func newProgressWriter(total int64, onProgress ProgressFunc) *progressWriter {
	return &progressWriter{
		total:      total,
		lastTime:   time.Now(),
		onProgress: onProgress,
	}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.downloaded += int64(n)

	now := time.Now()
	if elapsed := now.Sub(w.lastTime); elapsed > 0 {
		w.rate = float64(w.downloaded-w.lastBytes) / elapsed.Seconds()
		w.lastTime = now
		w.lastBytes = w.downloaded
	}

	w.onProgress(Progress{
		BytesDownloaded: w.downloaded,
		TotalBytes:      w.total,
		BytesPerSecond:  w.rate,
	})
	return n, nil
}

package downloader

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"time"
)

// FileInfo is the result of a header-only probe.
type FileInfo struct {
	// Size is 0 when the server sent no Content-Length.
	Size        int64
	ContentType string
	// Filename is the server's Content-Disposition suggestion, if any.
	Filename     string
	AcceptRanges bool
}

// GetFileInfo issues a HEAD request and parses the shape of the
// resource: size, content type, and suggested filename. For callers
// that need metadata, not bytes.
func (e *Engine) GetFileInfo(ctx context.Context, rawURL string, headers map[string]string) (*FileInfo, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range e.requestHeaders(parsed.Hostname(), headers) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	info := &FileInfo{
		AcceptRanges: resp.Header.Get("Accept-Ranges") == "bytes",
	}
	if resp.ContentLength > 0 {
		info.Size = resp.ContentLength
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			info.ContentType = mediaType
		} else {
			info.ContentType = ct
		}
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			info.Filename = params["filename"]
		}
	}

	e.log.Debug(ctx, "probe completed", map[string]interface{}{
		"url":         rawURL,
		"size":        info.Size,
		"type":        info.ContentType,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return info, nil
}

package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/streamgrab/backend/internal/errors"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = apperrors.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/extractors", nil))

	if seen == "" {
		t.Error("request ID was not injected into the context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header = %q, context value = %q", got, seen)
	}
}

func TestRequestID_PassesThroughCallerID(t *testing.T) {
	handler := RequestID(okHandler("ok"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extractors", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "caller-id" {
		t.Errorf("response header = %q, want %q", got, "caller-id")
	}
}

func TestChain_OrdersOutsideIn(t *testing.T) {
	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(okHandler("ok"), tag("first"), tag("second"), tag("third"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := "first,second,third"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("execution order = %s, want %s", got, want)
	}
}

func TestETag_SetsHeaderAndHonorsIfNoneMatch(t *testing.T) {
	handler := ETag(okHandler(`{"extractors":["youtube"]}`))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/extractors", nil))

	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("ETag header not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extractors", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotModified {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotModified)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 response carried a body of %d bytes", rec.Body.Len())
	}
}

func TestETag_SkipsFileServing(t *testing.T) {
	handler := ETag(okHandler("binary"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/job-1", nil))

	if got := rec.Header().Get("ETag"); got != "" {
		t.Errorf("ETag = %q, want unset on file paths", got)
	}
}

func TestGzip_CompressesWhenAccepted(t *testing.T) {
	handler := Gzip(okHandler(strings.Repeat("extractor ", 50)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extractors", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}

	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("reading gzip body: %v", err)
	}
	defer gz.Close()
	body, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompressing body: %v", err)
	}
	if !strings.HasPrefix(string(body), "extractor ") {
		t.Errorf("unexpected decompressed body: %q", body[:20])
	}
}

func TestGzip_SkipsWithoutAcceptEncoding(t *testing.T) {
	handler := Gzip(okHandler("plain"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/extractors", nil))

	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want unset", got)
	}
	if rec.Body.String() != "plain" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "plain")
	}
}

func TestGzip_SkipsFileServing(t *testing.T) {
	handler := Gzip(okHandler("media bytes"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/job-1", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want unset on file paths", got)
	}
}

func TestTiming_SetsServerTimingHeader(t *testing.T) {
	handler := Timing(okHandler("ok"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/extractors", nil))

	got := rec.Header().Get("Server-Timing")
	if !strings.HasPrefix(got, "ttfb;dur=") {
		t.Errorf("Server-Timing = %q, want ttfb;dur= prefix", got)
	}
}

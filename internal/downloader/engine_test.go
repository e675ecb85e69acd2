package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	apperrors "github.com/streamgrab/backend/internal/errors"
)

func testEngine() *Engine {
	return NewEngine("test-agent", 2*time.Second, 3, time.Millisecond)
}

func TestEngine_DownloadFile(t *testing.T) {
	payload := strings.Repeat("streamgrab test payload ", 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", got, "test-agent")
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write([]byte(payload))
	}))
	defer server.Close()

	var observations []Progress
	destPath := filepath.Join(t.TempDir(), "out.mp4")

	got, err := testEngine().DownloadFile(context.Background(), server.URL+"/v.mp4", destPath,
		func(p Progress) { observations = append(observations, p) }, Options{})
	if err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if got != destPath {
		t.Errorf("DownloadFile() = %q, want %q", got, destPath)
	}

	data, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != payload {
		t.Errorf("downloaded %d bytes, want %d", len(data), len(payload))
	}

	if len(observations) == 0 {
		t.Fatal("no progress observations reported")
	}
	last := observations[len(observations)-1]
	if last.BytesDownloaded != int64(len(payload)) {
		t.Errorf("final progress bytes = %d, want %d", last.BytesDownloaded, len(payload))
	}
	if last.TotalBytes != int64(len(payload)) {
		t.Errorf("final progress total = %d, want %d", last.TotalBytes, len(payload))
	}
}

func TestEngine_RetryThenSucceed(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "out.bin")
	_, err := testEngine().DownloadFile(context.Background(), server.URL, destPath, nil, Options{})
	if err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("server saw %d attempts, want 3", attempts)
	}

	data, _ := os.ReadFile(destPath)
	if string(data) != "finally" {
		t.Errorf("downloaded content = %q, want %q", data, "finally")
	}
}

func TestEngine_TerminalFailure(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "out.bin")
	_, err := testEngine().DownloadFile(context.Background(), server.URL, destPath, nil, Options{MaxRetries: 3})
	if err == nil {
		t.Fatal("DownloadFile() should fail when every attempt fails")
	}
	if !apperrors.HasCode(err, apperrors.CodeDownloadFailed) {
		t.Errorf("error code = %v, want %v", err, apperrors.CodeDownloadFailed)
	}
	if got := apperrors.Attempts(err); got != 3 {
		t.Errorf("Attempts(err) = %d, want 3", got)
	}
	if attempts != 3 {
		t.Errorf("server saw %d attempts, want 3", attempts)
	}
	if _, statErr := os.Stat(destPath); !os.IsNotExist(statErr) {
		t.Error("partial file left behind after terminal failure")
	}
}

func TestEngine_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	destPath := filepath.Join(t.TempDir(), "out.bin")
	_, err := testEngine().DownloadFile(ctx, server.URL, destPath, nil, Options{})
	if err == nil {
		t.Fatal("DownloadFile() should fail under a canceled context")
	}
	if !apperrors.HasCode(err, apperrors.CodeDownloadFailed) {
		t.Errorf("error code = %v, want %v", err, apperrors.CodeDownloadFailed)
	}
}

func TestEngine_CallerHeadersOverrideInjected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "caller-agent" {
			t.Errorf("User-Agent = %q, want caller override %q", got, "caller-agent")
		}
		if got := r.Header.Get("Referer"); got != "https://caller.example/" {
			t.Errorf("Referer = %q, want caller value", got)
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "out.bin")
	_, err := testEngine().DownloadFile(context.Background(), server.URL, destPath, nil, Options{
		Headers: map[string]string{
			"User-Agent": "caller-agent",
			"Referer":    "https://caller.example/",
		},
	})
	if err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
}

func TestEngine_InjectedHeaders(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name        string
		host        string
		wantReferer string
	}{
		{"video delivery host", "r4---sn-4g5edn6z.googlevideo.com", "https://www.youtube.com/"},
		{"platform host", "www.youtube.com", "https://www.youtube.com/"},
		{"short-form CDN", "v16-webapp.tiktokcdn.com", "https://www.tiktok.com/"},
		{"short-form US CDN", "v19.tiktokcdn-us.com", "https://www.tiktok.com/"},
		{"short-form API host", "api16-normal.tiktokv.com", "https://www.tiktok.com/"},
		{"plain host", "cdn.example.com", ""},
		{"suffix lookalike", "nottiktok.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := e.injectedHeaders(tt.host)
			if headers["User-Agent"] != "test-agent" {
				t.Errorf("User-Agent = %q, want %q", headers["User-Agent"], "test-agent")
			}
			if headers["Referer"] != tt.wantReferer {
				t.Errorf("Referer = %q, want %q", headers["Referer"], tt.wantReferer)
			}
		})
	}
}

func TestEngine_CreatesDestinationDirectory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nested"))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "a", "b", "c", "out.bin")
	if _, err := testEngine().DownloadFile(context.Background(), server.URL, destPath, nil, Options{}); err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if _, err := os.Stat(destPath); err != nil {
		t.Errorf("downloaded file missing: %v", err)
	}
}

func TestEngine_GetFileInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("probe method = %q, want HEAD", r.Method)
		}
		w.Header().Set("Content-Length", "75000000")
		w.Header().Set("Content-Type", "video/mp4; charset=binary")
		w.Header().Set("Content-Disposition", `attachment; filename="My Clip.mp4"`)
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	info, err := testEngine().GetFileInfo(context.Background(), server.URL+"/clip.mp4", nil)
	if err != nil {
		t.Fatalf("GetFileInfo() error = %v", err)
	}
	if info.Size != 75000000 {
		t.Errorf("Size = %d, want %d", info.Size, 75000000)
	}
	if info.ContentType != "video/mp4" {
		t.Errorf("ContentType = %q, want %q", info.ContentType, "video/mp4")
	}
	if info.Filename != "My Clip.mp4" {
		t.Errorf("Filename = %q, want %q", info.Filename, "My Clip.mp4")
	}
	if !info.AcceptRanges {
		t.Error("AcceptRanges = false, want true")
	}
}

func TestEngine_GetFileInfo_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if _, err := testEngine().GetFileInfo(context.Background(), server.URL, nil); err == nil {
		t.Fatal("GetFileInfo() should fail on a 404")
	}
}

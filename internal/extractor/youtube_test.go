package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/identity"
	"github.com/streamgrab/backend/internal/media"
)

func TestYouTube_Test(t *testing.T) {
	y := NewYouTube(nil, nil)

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{
			name: "standard watch URL",
			url:  "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			want: true,
		},
		{
			name: "watch URL without www",
			url:  "https://youtube.com/watch?v=dQw4w9WgXcQ",
			want: true,
		},
		{
			name: "mobile watch URL",
			url:  "https://m.youtube.com/watch?v=dQw4w9WgXcQ",
			want: true,
		},
		{
			name: "short URL",
			url:  "https://youtu.be/dQw4w9WgXcQ",
			want: true,
		},
		{
			name: "short URL with timestamp",
			url:  "https://youtu.be/dQw4w9WgXcQ?t=42",
			want: true,
		},
		{
			name: "shorts URL",
			url:  "https://www.youtube.com/shorts/dQw4w9WgXcQ",
			want: true,
		},
		{
			name: "embed URL",
			url:  "https://www.youtube.com/embed/dQw4w9WgXcQ",
			want: true,
		},
		{
			name: "old embed URL",
			url:  "https://www.youtube.com/v/dQw4w9WgXcQ",
			want: true,
		},
		{
			name: "live URL",
			url:  "https://www.youtube.com/live/dQw4w9WgXcQ",
			want: true,
		},
		{
			name: "music host",
			url:  "https://music.youtube.com/watch?v=dQw4w9WgXcQ",
			want: true,
		},
		{
			name: "watch URL with extra params",
			url:  "https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PLx&index=3",
			want: true,
		},
		{
			name: "ID too short",
			url:  "https://www.youtube.com/watch?v=abc",
			want: false,
		},
		{
			name: "ID with illegal characters",
			url:  "https://www.youtube.com/watch?v=dQw4w9WgXc!",
			want: false,
		},
		{
			name: "channel page",
			url:  "https://www.youtube.com/@somechannel",
			want: false,
		},
		{
			name: "unrelated host",
			url:  "https://example.com/watch?v=dQw4w9WgXcQ",
			want: false,
		},
		{
			name: "lookalike host",
			url:  "https://notyoutube.com/watch?v=dQw4w9WgXcQ",
			want: false,
		},
		{
			name: "empty string",
			url:  "",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := y.Test(tt.url); got != tt.want {
				t.Errorf("Test(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

// playerFixture builds a minimal player API response body.
func playerFixture(status, reason string, formats, adaptive []map[string]interface{}) []byte {
	body := map[string]interface{}{
		"playabilityStatus": map[string]interface{}{
			"status": status,
			"reason": reason,
		},
		"videoDetails": map[string]interface{}{
			"videoId":          "dQw4w9WgXcQ",
			"title":            "Test Video",
			"author":           "Test Channel",
			"lengthSeconds":    "212",
			"shortDescription": "A video for tests.",
			"thumbnail": map[string]interface{}{
				"thumbnails": []map[string]interface{}{
					{"url": "https://img.example.com/small.jpg", "width": 120, "height": 90},
					{"url": "https://img.example.com/large.jpg", "width": 1280, "height": 720},
				},
			},
		},
		"streamingData": map[string]interface{}{
			"formats":         formats,
			"adaptiveFormats": adaptive,
		},
	}
	data, _ := json.Marshal(body)
	return data
}

func TestYouTube_Extract_ProfileFallback(t *testing.T) {
	var clientNames []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			VideoID string `json:"videoId"`
			Context struct {
				Client map[string]interface{} `json:"client"`
			} `json:"context"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		name, _ := payload.Context.Client["clientName"].(string)
		clientNames = append(clientNames, name)

		w.Header().Set("Content-Type", "application/json")
		if name == "WEB" {
			// Cipher-protected only; the extractor must move on.
			w.Write(playerFixture("OK", "", []map[string]interface{}{
				{"itag": 18, "signatureCipher": "s=abc&url=xyz", "mimeType": "video/mp4"},
			}, nil))
			return
		}
		w.Write(playerFixture("OK", "",
			[]map[string]interface{}{
				{
					"itag":          18,
					"url":           "https://cdn.example.com/muxed.mp4",
					"mimeType":      `video/mp4; codecs="avc1.42001E, mp4a.40.2"`,
					"quality":       "medium",
					"qualityLabel":  "360p",
					"width":         640,
					"height":        360,
					"contentLength": "3456789",
				},
			},
			[]map[string]interface{}{
				{
					"itag":          137,
					"url":           "https://cdn.example.com/1080.mp4",
					"mimeType":      `video/mp4; codecs="avc1.640028"`,
					"qualityLabel":  "1080p",
					"width":         1920,
					"height":        1080,
					"fps":           30,
					"contentLength": "98765432",
				},
				{
					"itag":          140,
					"url":           "https://cdn.example.com/audio.m4a",
					"mimeType":      `audio/mp4; codecs="mp4a.40.2"`,
					"audioQuality":  "AUDIO_QUALITY_MEDIUM",
					"bitrate":       130000,
					"contentLength": "1234567",
				},
			},
		))
	}))
	defer server.Close()

	y := NewYouTube(server.Client(), identity.NewProvider())
	y.apiBase = server.URL

	result, err := y.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(clientNames) != 2 || clientNames[0] != "WEB" || clientNames[1] != "ANDROID" {
		t.Errorf("profiles tried = %v, want [WEB ANDROID]", clientNames)
	}

	if result.Title != "Test Video" {
		t.Errorf("result title = %q, want %q", result.Title, "Test Video")
	}
	if result.Duration != 212 {
		t.Errorf("result duration = %d, want %d", result.Duration, 212)
	}
	if result.Thumbnail != "https://img.example.com/large.jpg" {
		t.Errorf("result thumbnail = %q, want the largest entry", result.Thumbnail)
	}
	if len(result.Streams) != 3 {
		t.Fatalf("Extract() returned %d streams, want 3", len(result.Streams))
	}

	muxed := result.Streams[0]
	if !muxed.HasVideo || !muxed.HasAudio {
		t.Errorf("muxed stream flags = (video=%v, audio=%v), want both true", muxed.HasVideo, muxed.HasAudio)
	}
	if muxed.Quality != media.Quality360p {
		t.Errorf("muxed stream quality = %q, want %q", muxed.Quality, media.Quality360p)
	}
	if muxed.Size != 3456789 {
		t.Errorf("muxed stream size = %d, want %d", muxed.Size, 3456789)
	}
	if muxed.Container != "mp4" {
		t.Errorf("muxed stream container = %q, want %q", muxed.Container, "mp4")
	}

	video := result.Streams[1]
	if video.Quality != media.Quality1080p {
		t.Errorf("video stream quality = %q, want %q", video.Quality, media.Quality1080p)
	}
	if video.HasAudio {
		t.Error("adaptive video stream should not be flagged as carrying audio")
	}
	if video.FPS != 30 || video.Width != 1920 || video.Height != 1080 {
		t.Errorf("video stream dims = %dx%d@%d, want 1920x1080@30", video.Width, video.Height, video.FPS)
	}

	audio := result.Streams[2]
	if !audio.IsAudioOnly {
		t.Error("adaptive audio stream should be flagged audio-only")
	}
	if audio.Quality != media.QualityAudioMedium {
		t.Errorf("audio stream quality = %q, want %q", audio.Quality, media.QualityAudioMedium)
	}
}

func TestYouTube_Extract_AllProfilesBlocked(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		w.Write(playerFixture("LOGIN_REQUIRED", "Sign in to confirm your age", nil, nil))
	}))
	defer server.Close()

	y := NewYouTube(server.Client(), identity.NewProvider())
	y.apiBase = server.URL

	_, err := y.Extract(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err == nil {
		t.Fatal("Extract() should fail when every profile is blocked")
	}
	if !apperrors.HasCode(err, apperrors.CodeExtractionFailed) {
		t.Errorf("Extract() error code = %v, want %v", err, apperrors.CodeExtractionFailed)
	}
	if want := len(identity.NewProvider().Profiles()); requests != want {
		t.Errorf("requests made = %d, want %d (one per profile)", requests, want)
	}
}

func TestYouTube_Extract_RequestShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("request method = %q, want POST", r.Method)
		}
		if got := r.URL.Query().Get("prettyPrint"); got != "false" {
			t.Errorf("prettyPrint = %q, want %q", got, "false")
		}
		if r.URL.Query().Get("key") == "" {
			t.Error("key query parameter missing")
		}
		if got := r.Header.Get("X-YouTube-Client-Name"); got != "1" {
			t.Errorf("X-YouTube-Client-Name = %q, want %q (web profile)", got, "1")
		}
		if r.Header.Get("X-YouTube-Client-Version") == "" {
			t.Error("X-YouTube-Client-Version header missing")
		}

		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if payload["videoId"] != "dQw4w9WgXcQ" {
			t.Errorf("videoId = %v, want %q", payload["videoId"], "dQw4w9WgXcQ")
		}
		if payload["contentCheckOk"] != true {
			t.Error("contentCheckOk missing from payload")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(playerFixture("OK", "", []map[string]interface{}{
			{"itag": 18, "url": "https://cdn.example.com/v.mp4", "mimeType": "video/mp4", "qualityLabel": "360p"},
		}, nil))
	}))
	defer server.Close()

	y := NewYouTube(server.Client(), identity.NewProvider())
	y.apiBase = server.URL

	if _, err := y.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ"); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
}

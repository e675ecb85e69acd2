package extractor

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/streamgrab/backend/internal/downloader"
	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/media"
)

// Prober is the slice of the download engine the generic extractor
// needs: a header-only probe, no body fetch.
type Prober interface {
	GetFileInfo(ctx context.Context, rawURL string, headers map[string]string) (*downloader.FileInfo, error)
}

var videoExtensions = map[string]bool{
	"mp4":  true,
	"webm": true,
	"mkv":  true,
	"mov":  true,
	"avi":  true,
	"flv":  true,
	"ts":   true,
	"3gp":  true,
}

var audioExtensions = map[string]bool{
	"mp3":  true,
	"m4a":  true,
	"aac":  true,
	"wav":  true,
	"ogg":  true,
	"opus": true,
	"flac": true,
}

var playlistExtensions = map[string]bool{
	"m3u8": true,
	"m3u":  true,
}

// Generic handles URLs that point straight at a media file or an HLS
// playlist. It registers last, behind the platform extractors.
type Generic struct {
	client *http.Client
	probe  Prober
}

// NewGeneric creates the direct-file extractor.
func NewGeneric(client *http.Client, probe Prober) *Generic {
	if client == nil {
		client = http.DefaultClient
	}
	return &Generic{client: client, probe: probe}
}

// Name returns the extractor identifier
func (g *Generic) Name() string { return "generic" }

// Test accepts URLs whose path ends in a known media or playlist
// extension.
func (g *Generic) Test(rawURL string) bool {
	ext := urlExtension(rawURL)
	return videoExtensions[ext] || audioExtensions[ext] || playlistExtensions[ext]
}

// Extract probes the file's headers and synthesizes a single stream
// descriptor; playlist URLs are expanded into their variants instead.
func (g *Generic) Extract(ctx context.Context, rawURL string) (*media.ExtractResult, error) {
	ext := urlExtension(rawURL)
	if playlistExtensions[ext] {
		return g.extractPlaylist(ctx, rawURL)
	}

	info, err := g.probe.GetFileInfo(ctx, rawURL, nil)
	if err != nil {
		return nil, apperrors.ExtractionFailed(g.Name(), "metadata probe failed: "+err.Error())
	}

	audio := audioExtensions[ext]
	stream := media.StreamDescriptor{
		SourceURL:   rawURL,
		Container:   ext,
		Size:        info.Size,
		HasVideo:    !audio,
		HasAudio:    true,
		IsAudioOnly: audio,
	}
	if audio {
		// A directly linked audio file is the only variant there is;
		// rank it as the platform's best audio.
		stream.Quality = media.QualityAudioHigh
	} else {
		stream.Quality = qualityForSize(info.Size)
	}

	title := info.Filename
	if title == "" {
		title = fileTitle(rawURL)
	} else {
		title = strings.TrimSuffix(title, path.Ext(title))
	}

	return &media.ExtractResult{
		Title:     title,
		Streams:   []media.StreamDescriptor{stream},
		SourceURL: rawURL,
		Extractor: g.Name(),
	}, nil
}

// qualityForSize buckets a byte size onto the ladder. The size is a
// proxy for resolution, not a measurement.
func qualityForSize(size int64) media.Quality {
	const mb = 1024 * 1024
	switch {
	case size > 100*mb:
		return media.Quality1080p
	case size > 50*mb:
		return media.Quality720p
	case size > 20*mb:
		return media.Quality480p
	default:
		return media.Quality360p
	}
}

func urlExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
}

// fileTitle derives a human title from the URL's final path segment.
func fileTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	base := path.Base(u.Path)
	base = strings.TrimSuffix(base, path.Ext(base))
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	if base == "" || base == "." || base == "/" {
		return u.Hostname()
	}
	return base
}

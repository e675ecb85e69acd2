package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/identity"
	"github.com/streamgrab/backend/internal/logger"
	"github.com/streamgrab/backend/internal/media"
)

const youtubePlayerBase = "https://www.youtube.com"

// YouTube extracts streams by calling the platform's internal player
// API under each simulated client identity in preference order,
// stopping at the first profile that returns playable streams. Streams
// whose URL requires signature decryption are skipped.
type YouTube struct {
	client *http.Client
	ids    *identity.Provider
	log    *logger.Logger

	// apiBase is swapped for a test server URL in tests.
	apiBase string

	// videoIDPattern matches video IDs (11 characters, alphanumeric with - and _)
	videoIDPattern *regexp.Regexp
}

// NewYouTube creates the long-form video extractor.
func NewYouTube(client *http.Client, ids *identity.Provider) *YouTube {
	if client == nil {
		client = http.DefaultClient
	}
	if ids == nil {
		ids = identity.NewProvider()
	}
	return &YouTube{
		client:         client,
		ids:            ids,
		log:            logger.Default().WithComponent("extractor.youtube"),
		apiBase:        youtubePlayerBase,
		videoIDPattern: regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`),
	}
}

// Name returns the extractor identifier
func (y *YouTube) Name() string { return "youtube" }

// Test accepts URLs on the platform's hosts from which a well-formed
// video ID can be read.
func (y *YouTube) Test(rawURL string) bool {
	return y.videoID(rawURL) != ""
}

// videoID extracts and validates the video ID, or returns "".
func (y *YouTube) videoID(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	if parsed.Scheme != "" && parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}

	host := strings.ToLower(parsed.Host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		// Short URL format: youtu.be/VIDEO_ID
		id = strings.TrimPrefix(parsed.Path, "/")
	case "youtube.com", "music.youtube.com":
		id = idFromWatchPath(parsed)
	default:
		return ""
	}

	// Trim trailing path segments or stray query fragments
	if idx := strings.Index(id, "/"); idx != -1 {
		id = id[:idx]
	}
	if idx := strings.Index(id, "?"); idx != -1 {
		id = id[:idx]
	}

	if !y.videoIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// idFromWatchPath extracts the raw video ID from the URL shapes the
// platform serves.
func idFromWatchPath(parsed *url.URL) string {
	path := parsed.Path
	query := parsed.Query()

	switch {
	case strings.HasPrefix(path, "/watch"):
		// Standard watch URL: /watch?v=VIDEO_ID
		return query.Get("v")
	case strings.HasPrefix(path, "/shorts/"):
		return strings.TrimPrefix(path, "/shorts/")
	case strings.HasPrefix(path, "/embed/"):
		return strings.TrimPrefix(path, "/embed/")
	case strings.HasPrefix(path, "/v/"):
		// Old embed format: /v/VIDEO_ID
		return strings.TrimPrefix(path, "/v/")
	case strings.HasPrefix(path, "/live/"):
		return strings.TrimPrefix(path, "/live/")
	}
	return ""
}

// Extract calls the player API under each client profile in order and
// returns the first populated result.
func (y *YouTube) Extract(ctx context.Context, rawURL string) (*media.ExtractResult, error) {
	id := y.videoID(rawURL)
	if id == "" {
		return nil, apperrors.ExtractionFailed(y.Name(), "could not extract video ID from URL")
	}

	var lastReason string
	for _, profile := range y.ids.Profiles() {
		resp, err := y.playerRequest(ctx, profile, id)
		if err != nil {
			lastReason = fmt.Sprintf("%s: %v", profile.Name, err)
			y.log.Debug(ctx, "player request failed", map[string]interface{}{
				"profile": profile.Name,
				"video":   id,
				"error":   err.Error(),
			})
			continue
		}

		streams := playableStreams(resp)
		if len(streams) == 0 {
			lastReason = fmt.Sprintf("%s: no directly fetchable streams", profile.Name)
			y.log.Debug(ctx, "profile returned no usable streams", map[string]interface{}{
				"profile": profile.Name,
				"video":   id,
			})
			continue
		}

		y.log.Info(ctx, "extraction succeeded", map[string]interface{}{
			"profile": profile.Name,
			"video":   id,
			"streams": len(streams),
		})
		return y.buildResult(rawURL, resp, streams), nil
	}

	reason := "all client profiles failed"
	if lastReason != "" {
		reason += ": " + lastReason
	}
	return nil, apperrors.ExtractionFailed(y.Name(), reason)
}

// playerResponse is the subset of the player API response we read.
type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		VideoID          string `json:"videoId"`
		Title            string `json:"title"`
		Author           string `json:"author"`
		LengthSeconds    string `json:"lengthSeconds"`
		ShortDescription string `json:"shortDescription"`
		Thumbnail        struct {
			Thumbnails []struct {
				URL    string `json:"url"`
				Width  int    `json:"width"`
				Height int    `json:"height"`
			} `json:"thumbnails"`
		} `json:"thumbnail"`
	} `json:"videoDetails"`
	StreamingData struct {
		Formats         []playerFormat `json:"formats"`
		AdaptiveFormats []playerFormat `json:"adaptiveFormats"`
	} `json:"streamingData"`
}

type playerFormat struct {
	Itag            int    `json:"itag"`
	URL             string `json:"url"`
	MimeType        string `json:"mimeType"`
	Bitrate         int    `json:"bitrate"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	ContentLength   string `json:"contentLength"`
	Quality         string `json:"quality"`
	QualityLabel    string `json:"qualityLabel"`
	FPS             int    `json:"fps"`
	AudioQuality    string `json:"audioQuality"`
	SignatureCipher string `json:"signatureCipher"`
}

// playerRequest posts to the player endpoint under one client profile.
func (y *YouTube) playerRequest(ctx context.Context, profile identity.Profile, videoID string) (*playerResponse, error) {
	clientCtx := map[string]interface{}{
		"clientName":    profile.ClientName,
		"clientVersion": profile.ClientVersion,
		"hl":            "en",
		"gl":            "US",
	}
	if profile.DeviceModel != "" {
		clientCtx["deviceModel"] = profile.DeviceModel
	}
	if profile.AndroidSDK != 0 {
		clientCtx["androidSdkVersion"] = profile.AndroidSDK
	}

	payload := map[string]interface{}{
		"videoId": videoID,
		"context": map[string]interface{}{
			"client": clientCtx,
		},
		"contentCheckOk": true,
		"racyCheckOk":    true,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := y.apiBase + "/youtubei/v1/player?key=" + url.QueryEscape(profile.APIKey) + "&prettyPrint=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", profile.UserAgent)
	req.Header.Set("X-YouTube-Client-Name", profile.ClientID)
	req.Header.Set("X-YouTube-Client-Version", profile.ClientVersion)
	req.Header.Set("Origin", youtubePlayerBase)

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("player endpoint returned %d", resp.StatusCode)
	}

	var decoded playerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("player response parse failed: %w", err)
	}

	if s := decoded.PlayabilityStatus.Status; s != "" && s != "OK" {
		if decoded.PlayabilityStatus.Reason != "" {
			return nil, fmt.Errorf("playability %s: %s", s, decoded.PlayabilityStatus.Reason)
		}
		return nil, fmt.Errorf("playability %s", s)
	}
	return &decoded, nil
}

// playableStreams converts the response's format lists into stream
// descriptors, discarding cipher-protected entries.
func playableStreams(resp *playerResponse) []media.StreamDescriptor {
	var streams []media.StreamDescriptor
	for _, f := range resp.StreamingData.Formats {
		if s, ok := formatToStream(f, true); ok {
			streams = append(streams, s)
		}
	}
	for _, f := range resp.StreamingData.AdaptiveFormats {
		if s, ok := formatToStream(f, false); ok {
			streams = append(streams, s)
		}
	}
	return streams
}

// formatToStream maps one platform format entry onto a descriptor.
// muxed marks entries from the combined list, which carry both tracks.
func formatToStream(f playerFormat, muxed bool) (media.StreamDescriptor, bool) {
	if f.URL == "" {
		// Entries without a plain URL need signature decryption, which
		// this extractor does not attempt.
		return media.StreamDescriptor{}, false
	}

	mediaType, params, err := mime.ParseMediaType(f.MimeType)
	if err != nil {
		mediaType = f.MimeType
		params = nil
	}

	container := ""
	if idx := strings.Index(mediaType, "/"); idx != -1 {
		container = mediaType[idx+1:]
	}

	hasVideo := strings.HasPrefix(mediaType, "video/")
	hasAudio := muxed || strings.HasPrefix(mediaType, "audio/") || f.AudioQuality != ""
	audioOnly := !hasVideo && hasAudio

	stream := media.StreamDescriptor{
		SourceURL:   f.URL,
		Container:   container,
		Bitrate:     f.Bitrate,
		FPS:         f.FPS,
		Width:       f.Width,
		Height:      f.Height,
		Codec:       params["codecs"],
		HasVideo:    hasVideo,
		HasAudio:    hasAudio,
		IsAudioOnly: audioOnly,
	}

	if f.ContentLength != "" {
		if size, err := strconv.ParseInt(f.ContentLength, 10, 64); err == nil {
			stream.Size = size
		}
	}

	if audioOnly {
		stream.Quality = media.ParseAudioQuality(f.AudioQuality)
	} else {
		label := f.QualityLabel
		if label == "" {
			label = f.Quality
		}
		stream.Quality = media.ParseVideoQuality(label)
	}
	return stream, true
}

func (y *YouTube) buildResult(rawURL string, resp *playerResponse, streams []media.StreamDescriptor) *media.ExtractResult {
	details := resp.VideoDetails

	duration := 0
	if details.LengthSeconds != "" {
		if secs, err := strconv.Atoi(details.LengthSeconds); err == nil {
			duration = secs
		}
	}

	// The thumbnail list is ordered smallest first; take the largest.
	thumbnail := ""
	if n := len(details.Thumbnail.Thumbnails); n > 0 {
		thumbnail = details.Thumbnail.Thumbnails[n-1].URL
	}

	title := details.Title
	if title == "" {
		title = details.VideoID
	}

	return &media.ExtractResult{
		Title:       title,
		Description: details.ShortDescription,
		Duration:    duration,
		Thumbnail:   thumbnail,
		Streams:     streams,
		SourceURL:   rawURL,
		Extractor:   y.Name(),
	}
}

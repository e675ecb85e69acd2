package media

// StreamDescriptor describes one retrievable media variant for a source.
// Descriptors are produced by extractors and treated as immutable from
// then on; nothing downstream may modify one, including its Headers map.
type StreamDescriptor struct {
	// SourceURL is the directly fetchable URL for this variant. Platform
	// extractors only emit descriptors whose URL needs no further
	// decryption or signing.
	SourceURL string `json:"source_url"`

	// Container is the file container/extension without the dot: "mp4",
	// "webm", "mp3", "m3u8".
	Container string `json:"container"`

	Quality Quality `json:"quality"`

	// Size in bytes when the platform reported one, else 0.
	Size int64 `json:"size,omitempty"`

	Bitrate int    `json:"bitrate,omitempty"`
	FPS     int    `json:"fps,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Codec   string `json:"codec,omitempty"`

	// Headers carries per-request overrides (referer, cookies) the
	// delivery edge expects for this URL. Merged over the download
	// engine's defaults; the engine's own injection loses to these.
	Headers map[string]string `json:"headers,omitempty"`

	HasVideo    bool `json:"has_video"`
	HasAudio    bool `json:"has_audio"`
	IsAudioOnly bool `json:"is_audio_only"`

	// IsDownloadVariant marks URLs the platform serves specifically for
	// saving (e.g. watermark-free download addresses) as opposed to
	// playback addresses.
	IsDownloadVariant bool `json:"is_download_variant"`
}

// SubtitleDescriptor describes one subtitle track offered by a source.
type SubtitleDescriptor struct {
	URL      string `json:"url"`
	Language string `json:"language"`
	Format   string `json:"format,omitempty"`
}

// ExtractResult is the outcome of a single extraction call. Results are
// produced fresh per call and never cached: platforms issue
// time-limited signed URLs, so a stored result goes stale.
type ExtractResult struct {
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Duration    int                  `json:"duration,omitempty"`
	Thumbnail   string               `json:"thumbnail,omitempty"`
	Streams     []StreamDescriptor   `json:"streams"`
	Subtitles   []SubtitleDescriptor `json:"subtitles,omitempty"`
	SourceURL   string               `json:"source_url"`
	Extractor   string               `json:"extractor"`
}

package media

import (
	"sort"
	"strings"
)

// Quality is a rung on the fixed quality ladder.
type Quality string

const (
	Quality2160p Quality = "2160p"
	Quality1440p Quality = "1440p"
	Quality1080p Quality = "1080p"
	Quality720p  Quality = "720p"
	Quality480p  Quality = "480p"
	Quality360p  Quality = "360p"
	Quality240p  Quality = "240p"
	Quality144p  Quality = "144p"

	QualityAudioHigh   Quality = "audio-high"
	QualityAudioMedium Quality = "audio-medium"
	QualityAudioLow    Quality = "audio-low"

	QualityUnknown Quality = "unknown"
)

// ladder lists qualities best-first. Video rungs outrank audio-only
// rungs; unknown is not on the ladder and sorts after everything.
var ladder = []Quality{
	Quality2160p,
	Quality1440p,
	Quality1080p,
	Quality720p,
	Quality480p,
	Quality360p,
	Quality240p,
	Quality144p,
	QualityAudioHigh,
	QualityAudioMedium,
	QualityAudioLow,
}

var ladderRank = func() map[Quality]int {
	m := make(map[Quality]int, len(ladder))
	for i, q := range ladder {
		m[q] = i
	}
	return m
}()

// Rank returns the ladder index of q, lower meaning better. Qualities
// off the ladder (QualityUnknown included) rank below every rung.
func Rank(q Quality) int {
	if r, ok := ladderRank[q]; ok {
		return r
	}
	return len(ladder)
}

// videoKeywords maps label substrings to rungs. Ordered so longer
// numbers match first: "1440p" must not hit the "144" check.
var videoKeywords = []struct {
	substr string
	q      Quality
}{
	{"2160", Quality2160p},
	{"4k", Quality2160p},
	{"1440", Quality1440p},
	{"2k", Quality1440p},
	{"1080", Quality1080p},
	{"720", Quality720p},
	{"480", Quality480p},
	{"360", Quality360p},
	{"240", Quality240p},
	{"144", Quality144p},
}

// ParseVideoQuality maps a platform's quality label onto the ladder by
// keyword. Handles both label styles platforms emit: resolution tags
// ("1080p60", "720p") and named tiers ("hd720", "hd2160").
func ParseVideoQuality(label string) Quality {
	l := strings.ToLower(label)
	for _, kw := range videoKeywords {
		if strings.Contains(l, kw.substr) {
			return kw.q
		}
	}
	switch {
	case strings.Contains(l, "highres"):
		return Quality2160p
	case strings.Contains(l, "large"):
		return Quality480p
	case strings.Contains(l, "medium"):
		return Quality360p
	case strings.Contains(l, "small"):
		return Quality240p
	case strings.Contains(l, "tiny"):
		return Quality144p
	}
	return QualityUnknown
}

// ParseAudioQuality maps an audio tier label ("AUDIO_QUALITY_HIGH",
// "low") onto the audio rungs.
func ParseAudioQuality(label string) Quality {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "high"):
		return QualityAudioHigh
	case strings.Contains(l, "medium"):
		return QualityAudioMedium
	case strings.Contains(l, "low"):
		return QualityAudioLow
	}
	return QualityUnknown
}

// QualityForHeight maps a pixel height onto the nearest rung at or
// below it.
func QualityForHeight(h int) Quality {
	switch {
	case h >= 2160:
		return Quality2160p
	case h >= 1440:
		return Quality1440p
	case h >= 1080:
		return Quality1080p
	case h >= 720:
		return Quality720p
	case h >= 480:
		return Quality480p
	case h >= 360:
		return Quality360p
	case h >= 240:
		return Quality240p
	case h > 0:
		return Quality144p
	}
	return QualityUnknown
}

// SortByQuality orders streams best-first by ladder rank. The sort is
// stable, so streams off the ladder keep their extractor-given order at
// the tail.
func SortByQuality(streams []StreamDescriptor) {
	sort.SliceStable(streams, func(i, j int) bool {
		return Rank(streams[i].Quality) < Rank(streams[j].Quality)
	})
}

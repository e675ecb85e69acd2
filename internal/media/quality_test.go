package media

import "testing"

func TestParseVideoQuality(t *testing.T) {
	tests := []struct {
		label string
		want  Quality
	}{
		{"2160p", Quality2160p},
		{"4K", Quality2160p},
		{"hd2160", Quality2160p},
		{"highres", Quality2160p},
		{"1440p60", Quality1440p},
		{"2k", Quality1440p},
		{"1080p", Quality1080p},
		{"1080p60 HDR", Quality1080p},
		{"hd720", Quality720p},
		{"720p", Quality720p},
		{"480p", Quality480p},
		{"large", Quality480p},
		{"360p", Quality360p},
		{"medium", Quality360p},
		{"240p", Quality240p},
		{"small", Quality240p},
		{"144p", Quality144p},
		{"tiny", Quality144p},
		{"", QualityUnknown},
		{"premium", QualityUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := ParseVideoQuality(tt.label); got != tt.want {
				t.Errorf("ParseVideoQuality(%q) = %v, want %v", tt.label, got, tt.want)
			}
		})
	}
}

func TestParseAudioQuality(t *testing.T) {
	tests := []struct {
		label string
		want  Quality
	}{
		{"AUDIO_QUALITY_HIGH", QualityAudioHigh},
		{"AUDIO_QUALITY_MEDIUM", QualityAudioMedium},
		{"AUDIO_QUALITY_LOW", QualityAudioLow},
		{"high", QualityAudioHigh},
		{"low", QualityAudioLow},
		{"", QualityUnknown},
		{"lossless?", QualityUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := ParseAudioQuality(tt.label); got != tt.want {
				t.Errorf("ParseAudioQuality(%q) = %v, want %v", tt.label, got, tt.want)
			}
		})
	}
}

func TestRankOrdering(t *testing.T) {
	ordered := []Quality{
		Quality2160p, Quality1440p, Quality1080p, Quality720p,
		Quality480p, Quality360p, Quality240p, Quality144p,
		QualityAudioHigh, QualityAudioMedium, QualityAudioLow,
	}

	for i := 1; i < len(ordered); i++ {
		if Rank(ordered[i-1]) >= Rank(ordered[i]) {
			t.Errorf("Rank(%v) = %d, want better than Rank(%v) = %d",
				ordered[i-1], Rank(ordered[i-1]), ordered[i], Rank(ordered[i]))
		}
	}

	if Rank(QualityUnknown) <= Rank(QualityAudioLow) {
		t.Errorf("Rank(unknown) = %d, want worse than every ladder rung", Rank(QualityUnknown))
	}
}

func TestQualityForHeight(t *testing.T) {
	tests := []struct {
		height int
		want   Quality
	}{
		{2160, Quality2160p},
		{1440, Quality1440p},
		{1080, Quality1080p},
		{720, Quality720p},
		{608, Quality480p},
		{480, Quality480p},
		{360, Quality360p},
		{240, Quality240p},
		{140, Quality144p},
		{0, QualityUnknown},
	}

	for _, tt := range tests {
		if got := QualityForHeight(tt.height); got != tt.want {
			t.Errorf("QualityForHeight(%d) = %v, want %v", tt.height, got, tt.want)
		}
	}
}

func TestSortByQuality(t *testing.T) {
	streams := []StreamDescriptor{
		{SourceURL: "a", Quality: QualityUnknown},
		{SourceURL: "b", Quality: Quality720p},
		{SourceURL: "c", Quality: QualityUnknown},
		{SourceURL: "d", Quality: Quality2160p},
		{SourceURL: "e", Quality: QualityAudioHigh},
		{SourceURL: "f", Quality: Quality720p},
	}

	SortByQuality(streams)

	wantOrder := []string{"d", "b", "f", "e", "a", "c"}
	for i, want := range wantOrder {
		if streams[i].SourceURL != want {
			t.Errorf("streams[%d].SourceURL = %q, want %q (full order: %+v)",
				i, streams[i].SourceURL, want, urls(streams))
		}
	}
}

func urls(streams []StreamDescriptor) []string {
	out := make([]string, len(streams))
	for i, s := range streams {
		out[i] = s.SourceURL
	}
	return out
}

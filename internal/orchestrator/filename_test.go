package orchestrator

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{
			name:  "spaces and punctuation",
			title: "Hello World!",
			want:  "Hello_World",
		},
		{
			name:  "accents transliterated",
			title: "Café düo - tournée",
			want:  "Cafe_duo_tournee",
		},
		{
			name:  "runs collapse to one underscore",
			title: "Multiple   spaces &&& symbols",
			want:  "Multiple_spaces_symbols",
		},
		{
			name:  "leading and trailing trimmed",
			title: "  [Official Video]  ",
			want:  "Official_Video",
		},
		{
			name:  "digits kept",
			title: "Top 10 Clips of 2024",
			want:  "Top_10_Clips_of_2024",
		},
		{
			name:  "only symbols",
			title: "!!!???",
			want:  "download",
		},
		{
			name:  "empty title",
			title: "",
			want:  "download",
		},
		{
			name:  "non-latin script",
			title: "Привет",
			want:  "download",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.title); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename_CapsLength(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := SanitizeFilename(long)
	if len(got) != maxFilenameStem {
		t.Errorf("SanitizeFilename() length = %d, want %d", len(got), maxFilenameStem)
	}

	// A cap landing on an underscore must not leave one dangling.
	title := strings.Repeat("a", maxFilenameStem-1) + " tail"
	got = SanitizeFilename(title)
	if strings.HasSuffix(got, "_") {
		t.Errorf("SanitizeFilename() = %q, want no trailing underscore", got)
	}
}

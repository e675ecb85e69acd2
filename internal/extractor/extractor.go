// Package extractor turns page and share URLs into directly
// downloadable stream descriptors. Each platform gets one Extractor;
// the Registry dispatches a URL to the first extractor that claims it.
package extractor

import (
	"context"

	"github.com/streamgrab/backend/internal/media"
)

// Extractor is the capability set a platform integration provides.
type Extractor interface {
	// Name returns the extractor's stable identifier ("youtube",
	// "tiktok", "generic").
	Name() string

	// Test reports whether this extractor recognizes the URL. It must
	// be cheap and purely syntactic: no network.
	Test(rawURL string) bool

	// Extract resolves the URL into metadata plus one or more stream
	// descriptors. Called only for URLs Test accepted.
	Extract(ctx context.Context, rawURL string) (*media.ExtractResult, error)
}

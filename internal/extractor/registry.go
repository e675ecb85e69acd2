package extractor

import (
	"context"
	"net/http"
	"sync"

	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/identity"
	"github.com/streamgrab/backend/internal/media"
)

// Registry manages extractors in registration order
type Registry struct {
	mu         sync.RWMutex
	extractors []Extractor
}

// NewRegistry creates an empty extractor registry
func NewRegistry() *Registry {
	return &Registry{
		extractors: make([]Extractor, 0),
	}
}

// Register appends an extractor. Order matters: dispatch tries
// extractors in registration order and the first Test match wins, so
// platform extractors go in before the generic fallback.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, e)
}

// Find returns the first registered extractor that recognizes the URL.
func (r *Registry) Find(rawURL string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.extractors {
		if e.Test(rawURL) {
			return e, true
		}
	}
	return nil, false
}

// Extract dispatches the URL to the first matching extractor.
func (r *Registry) Extract(ctx context.Context, rawURL string) (*media.ExtractResult, error) {
	e, ok := r.Find(rawURL)
	if !ok {
		return nil, apperrors.NoExtractorFound(rawURL)
	}
	return e.Extract(ctx, rawURL)
}

// Names lists registered extractor names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.extractors))
	for _, e := range r.extractors {
		names = append(names, e.Name())
	}
	return names
}

// DefaultRegistry creates a registry with all built-in extractors. The
// generic extractor registers last so platform extractors take
// precedence on URLs both would accept. cache may be nil.
func DefaultRegistry(client *http.Client, ids *identity.Provider, probe Prober, cache RedirectCache) *Registry {
	r := NewRegistry()
	r.Register(NewYouTube(client, ids))
	r.Register(NewTikTok(client, ids, cache))
	r.Register(NewGeneric(client, probe))
	return r
}

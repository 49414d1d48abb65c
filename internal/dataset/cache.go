package dataset

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CachingProvider wraps a Provider with a short TTL cache so concurrent jobs
// reading the same project do not re-parse the input on every submission.
// Invalidation is time-based only; the input files are externally managed.
type CachingProvider struct {
	inner Provider
	ttl   time.Duration
	log   zerolog.Logger

	mu       sync.Mutex
	cached   *Dataset
	loadedAt time.Time
}

// NewCachingProvider wraps the given provider with a TTL cache.
func NewCachingProvider(inner Provider, ttl time.Duration, log zerolog.Logger) *CachingProvider {
	return &CachingProvider{
		inner: inner,
		ttl:   ttl,
		log:   log.With().Str("component", "dataset_cache").Logger(),
	}
}

// Load returns the cached dataset when fresh, otherwise reloads.
func (p *CachingProvider) Load() (*Dataset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Since(p.loadedAt) < p.ttl {
		return p.cached, nil
	}

	ds, err := p.inner.Load()
	if err != nil {
		// Serve the stale copy if we have one; a transient read failure
		// should not take down in-flight job submissions.
		if p.cached != nil {
			p.log.Warn().Err(err).Msg("Dataset reload failed, serving stale cache")
			return p.cached, nil
		}
		return nil, err
	}

	p.cached = ds
	p.loadedAt = time.Now()
	return ds, nil
}

// Invalidate drops the cached dataset so the next Load re-reads from disk.
func (p *CachingProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

package memory

import (
	"context"
	"fmt"
	"time"
)

// Config holds the tunables for the write and retrieval pipelines.
// The zero value is not usable; start from DefaultConfig.
type Config struct {
	// ChunkSize is the maximum chunk length in characters. Turns longer
	// than this are split into overlapping chunks.
	// Default: 1000.
	ChunkSize int

	// ChunkOverlapFraction is the overlap between adjacent chunks as a
	// fraction of ChunkSize, in [0, 0.5). The overlap carries word
	// continuity across chunk boundaries.
	// Default: 0.15.
	ChunkOverlapFraction float64

	// RetrievalK is how many snippets Retrieve returns at most.
	// Default: 10.
	RetrievalK int

	// OverFetchFactor is how many times RetrievalK candidates the store
	// is asked for, so post-filtering (as-of, threshold, dedup) still
	// leaves enough. Default: 3.
	OverFetchFactor int

	// MinSimilarity rejects candidates scoring below it [0.0-1.0].
	// Local embedders score lower than hosted ones; 0.3 works for
	// all-MiniLM class models.
	// Default: 0.3.
	MinSimilarity float32

	// GlobalScope widens retrieval to every session. Default is
	// same-session only.
	GlobalScope bool

	// StitchChunks keeps every chunk of a matching turn instead of only
	// the highest-scoring one. Default: false (dedup to one per turn).
	StitchChunks bool

	// CallTimeout bounds each remote call (embedder, store). Zero means
	// no deadline beyond the caller's context.
	// Default: 30s.
	CallTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:            1000,
		ChunkOverlapFraction: 0.15,
		RetrievalK:           10,
		OverFetchFactor:      3,
		MinSimilarity:        0.3,
		CallTimeout:          30 * time.Second,
	}
}

// Validate reports malformed configuration. This is the only fatal error
// class in the memory subsystem: callers should refuse to start on it.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("ChunkSize must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlapFraction < 0 || c.ChunkOverlapFraction >= 0.5 {
		return fmt.Errorf("ChunkOverlapFraction must be in [0, 0.5), got %g", c.ChunkOverlapFraction)
	}
	if c.RetrievalK <= 0 {
		return fmt.Errorf("RetrievalK must be positive, got %d", c.RetrievalK)
	}
	if c.OverFetchFactor < 1 {
		return fmt.Errorf("OverFetchFactor must be at least 1, got %d", c.OverFetchFactor)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("MinSimilarity must be in [0, 1], got %g", c.MinSimilarity)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("CallTimeout must not be negative, got %s", c.CallTimeout)
	}
	return nil
}

// overlap returns the chunk overlap in characters.
func (c *Config) overlap() int {
	return int(float64(c.ChunkSize) * c.ChunkOverlapFraction)
}

// callCtx derives a context bounded by CallTimeout, used around every
// remote call so a hung embedder or store cannot stall the caller.
func (c *Config) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.CallTimeout)
}

package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// SearchOptions refine a retrieval beyond the basic contract.
type SearchOptions struct {
	// SessionID scopes the search; empty falls back to the configured
	// scope (global only when Config.GlobalScope is set).
	SessionID string

	// K is the maximum number of snippets to return; 0 uses the
	// configured RetrievalK.
	K int

	// AsOf excludes records stamped after it (exclusive upper bound).
	// Zero disables the upper bound. This is what keeps replayed
	// histories from leaking the future into a past query.
	AsOf time.Time

	// Since excludes records stamped before it (inclusive lower bound).
	// Zero means no lower bound.
	Since time.Time
}

// Retriever answers "what do I already know about this?" by embedding a
// query and ranking the store's nearest records. It must share its
// Embedder with the Writer that populated the store.
type Retriever struct {
	store    Store
	embedder Embedder
	cfg      *Config
}

// NewRetriever creates a retriever. A nil config gets the defaults.
func NewRetriever(store Store, embedder Embedder, cfg *Config) *Retriever {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Retriever{store: store, embedder: embedder, cfg: cfg}
}

// Retrieve returns the k most relevant records for the query within the
// session, ignoring anything stamped after asOf.
func (r *Retriever) Retrieve(ctx context.Context, query, sessionID string, k int, asOf time.Time) ([]ScoredRecord, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	return r.Search(ctx, query, SearchOptions{SessionID: sessionID, K: k, AsOf: asOf})
}

// Search runs the full retrieval pipeline: embed the query, over-fetch
// candidates, drop future and out-of-range records, drop weak matches,
// keep the best chunk per turn, rank, truncate.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) ([]ScoredRecord, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}

	k := opts.K
	if k <= 0 {
		k = r.cfg.RetrievalK
	}

	embedCtx, cancel := r.cfg.callCtx(ctx)
	vec, err := r.embedder.Embed(embedCtx, query)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrEmbedding, err)
	}

	scope := Scope{SessionID: opts.SessionID}
	if opts.SessionID == "" && !r.cfg.GlobalScope {
		return nil, fmt.Errorf("session-scoped retrieval requires a session ID (set GlobalScope to search across sessions)")
	}

	queryCtx, cancel := r.cfg.callCtx(ctx)
	candidates, err := r.store.Query(queryCtx, vec, scope, k*r.cfg.OverFetchFactor)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreQuery, err)
	}

	results := r.filter(candidates, opts)
	results = r.dedup(results)
	rank(results)

	if len(results) > k {
		results = results[:k]
	}
	log.Printf("[MEMORY] retrieved %d/%d candidates for query %q", len(results), len(candidates), truncateLog(query, 50))
	return results, nil
}

// filter applies the time window and similarity threshold.
func (r *Retriever) filter(candidates []ScoredRecord, opts SearchOptions) []ScoredRecord {
	kept := candidates[:0:0]
	for _, c := range candidates {
		if !opts.AsOf.IsZero() && c.Record.Timestamp.After(opts.AsOf) {
			continue // future relative to the query; never leak it
		}
		if !opts.Since.IsZero() && c.Record.Timestamp.Before(opts.Since) {
			continue
		}
		if c.Score < r.cfg.MinSimilarity {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// dedup keeps only the highest-scoring chunk per (session, turn) pair,
// unless chunk stitching is enabled.
func (r *Retriever) dedup(results []ScoredRecord) []ScoredRecord {
	if r.cfg.StitchChunks {
		return results
	}
	type key struct{ session, turn string }
	best := make(map[key]ScoredRecord, len(results))
	order := make([]key, 0, len(results))
	for _, res := range results {
		k := key{res.Record.SessionID, res.Record.TurnID}
		cur, seen := best[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || res.Score > cur.Score {
			best[k] = res
		}
	}
	out := make([]ScoredRecord, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// rank sorts by descending similarity, breaking ties with the more
// recent timestamp first. Stable so equal records keep input order.
func rank(results []ScoredRecord) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.Timestamp.After(results[j].Record.Timestamp)
	})
}

// truncateLog shortens text for log lines.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

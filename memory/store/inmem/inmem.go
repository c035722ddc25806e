// Package inmem provides a brute-force in-process Store for development
// and tests. It scans every record and ranks by cosine similarity, which
// is fine for the record counts a single conversation produces.
package inmem

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/engramdev/engram/memory"
)

// Store keeps records in memory, grouped by session. Safe for concurrent
// use. Nothing survives the process; use the chromem store for that.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]memory.Record
	seq      int // insertion counter, breaks timestamp ties
	order    map[string]int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string][]memory.Record),
		order:    make(map[string]int),
	}
}

// Insert stores a copy of the record, assigning an ID when missing.
func (s *Store) Insert(_ context.Context, rec memory.Record) (string, error) {
	if len(rec.Embedding) == 0 {
		return "", fmt.Errorf("record has no embedding")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.SessionID] = append(s.sessions[rec.SessionID], rec)
	s.seq++
	s.order[rec.ID] = s.seq
	return rec.ID, nil
}

// Query ranks records in scope by cosine similarity to the embedding and
// returns the top K. Records within a session keep a total order: equal
// timestamps fall back to insertion order.
func (s *Store) Query(_ context.Context, embedding []float32, scope memory.Scope, topK int) ([]memory.ScoredRecord, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []memory.ScoredRecord
	for sessionID, recs := range s.sessions {
		if scope.SessionID != "" && scope.SessionID != sessionID {
			continue
		}
		for _, rec := range recs {
			if len(rec.Embedding) != len(embedding) {
				return nil, fmt.Errorf("dimension mismatch: record %s has %d, query has %d",
					rec.ID, len(rec.Embedding), len(embedding))
			}
			scored = append(scored, memory.ScoredRecord{
				Record: rec,
				Score:  cosine(embedding, rec.Embedding),
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		ti, tj := scored[i].Record.Timestamp, scored[j].Record.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return s.order[scored[i].Record.ID] < s.order[scored[j].Record.ID]
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Get fetches a record by ID.
func (s *Store) Get(_ context.Context, scope memory.Scope, id string) (memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sessionID, recs := range s.sessions {
		if scope.SessionID != "" && scope.SessionID != sessionID {
			continue
		}
		for _, rec := range recs {
			if rec.ID == id {
				return rec, nil
			}
		}
	}
	return memory.Record{}, fmt.Errorf("record %s not found", id)
}

// Delete removes a record by ID.
func (s *Store) Delete(_ context.Context, scope memory.Scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sessionID, recs := range s.sessions {
		if scope.SessionID != "" && scope.SessionID != sessionID {
			continue
		}
		for i, rec := range recs {
			if rec.ID == id {
				s.sessions[sessionID] = append(recs[:i], recs[i+1:]...)
				delete(s.order, id)
				return nil
			}
		}
	}
	return fmt.Errorf("record %s not found", id)
}

// Len reports how many records are stored across all sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, recs := range s.sessions {
		n += len(recs)
	}
	return n
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// cosine returns the cosine similarity of two equal-length vectors.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ memory.Store = (*Store)(nil)

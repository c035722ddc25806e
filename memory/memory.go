package memory

import (
	"context"
	"time"

	"github.com/engramdev/engram/core"
)

// Record is the persisted unit of memory: one chunk of one turn together
// with its embedding and provenance. Once Insert succeeds the store owns
// the record; the writer keeps no reference.
type Record struct {
	// ID uniquely identifies the record in the store.
	ID string

	// Embedding is the chunk's vector. Its length always matches the
	// embedder's fixed output size.
	Embedding []float32

	// Text is the chunk text (the whole turn when it fit in one chunk).
	Text string

	// Role is the role of the originating turn.
	Role core.Role

	// Timestamp is the originating turn's timestamp. All chunks of one
	// turn share it; ties between records are broken by insertion order.
	Timestamp time.Time

	// SessionID scopes the record to one conversation.
	SessionID string

	// TurnID identifies the originating turn; chunks of the same turn
	// share it.
	TurnID string

	// ChunkIndex is the chunk's position within the original turn.
	ChunkIndex int

	// Importance is an optional 1-10 rating of the memory (0 = unrated).
	Importance int

	// Metadata carries free-form string metadata.
	Metadata map[string]string
}

// ScoredRecord pairs a record with its similarity to a query. A slice of
// these is a retrieval result: ephemeral, ranked, never persisted.
type ScoredRecord struct {
	Record

	// Score is the similarity to the query, higher is more similar
	// (cosine similarity for the provided stores).
	Score float32
}

// Scope selects which records a query may see.
type Scope struct {
	// SessionID restricts the query to one session. Empty means global:
	// records from every session are candidates.
	SessionID string
}

// ScopeSession scopes a query to a single conversation.
func ScopeSession(sessionID string) Scope { return Scope{SessionID: sessionID} }

// ScopeGlobal allows records from every session.
func ScopeGlobal() Scope { return Scope{} }

// Embedder converts text into a fixed-length vector. Implementations:
// openai (API), onnx (local model, build tag "onnx"), mock (tests),
// cache (ristretto wrapper around any of them).
type Embedder interface {
	// Embed converts a single text to its embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed embedding vector size.
	Dimensions() int
}

// Store is the durable, namespaced vector storage backend. It is expected
// to provide its own concurrency control; this package never locks around
// it. Implementations: store/chromem (embedded vector database),
// store/inmem (brute-force, dev/tests).
type Store interface {
	// Insert persists a record and returns its ID.
	Insert(ctx context.Context, rec Record) (string, error)

	// Query returns up to topK records most similar to the embedding,
	// highest similarity first, restricted to the scope.
	Query(ctx context.Context, embedding []float32, scope Scope, topK int) ([]ScoredRecord, error)

	// Get fetches a record by ID. Not every backend supports it.
	Get(ctx context.Context, scope Scope, id string) (Record, error)

	// Delete removes a record permanently. Not every backend supports it.
	Delete(ctx context.Context, scope Scope, id string) error

	// Close releases backend resources.
	Close() error
}

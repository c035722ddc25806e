// Package chromem implements the memory.Store interface on top of
// chromem-go, a pure-Go embedded vector database. Each session gets its
// own collection, so same-session queries never scan other
// conversations; global-scope operations fan out across every
// collection.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/engramdev/engram/core"
	"github.com/engramdev/engram/memory"
)

// Metadata keys on stored documents. The timestamp is stored as a
// microsecond integer because the backing index only range-compares
// numbers, never strings.
const (
	metaRole       = "role"
	metaSession    = "session"
	metaTurn       = "turn_id"
	metaChunkIndex = "chunk_index"
	metaTimeMicros = "time_us"
	metaImportance = "importance"
)

// globalCollection holds records written without a session ID.
const globalCollection = "global"

// Store is a chromem-go backed memory.Store.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// New creates a store that lives only as long as the process.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// NewPersistent creates a store backed by an on-disk chromem database at
// path, creating the directory when absent.
func NewPersistent(path string) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open persistent db: %w", err)
	}
	return &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collectionName maps a session ID to its collection.
func collectionName(sessionID string) string {
	if sessionID == "" {
		return globalCollection
	}
	return "session_" + sessionID
}

// getOrCreateCollection returns the collection for a session, creating
// it on first use.
func (s *Store) getOrCreateCollection(sessionID string) (*chromem.Collection, error) {
	name := collectionName(sessionID)

	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	// No embedding func: callers always provide vectors. Default cosine
	// distance.
	col, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %s: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// scopeCollections resolves the existing collections a scope covers: one
// for a session scope, every collection (in name order, for stable
// iteration) for the global scope. Unlike getOrCreateCollection it never
// creates anything, so reads cannot litter the database with empty
// collections.
func (s *Store) scopeCollections(scope memory.Scope) []*chromem.Collection {
	if scope.SessionID != "" {
		if col := s.db.GetCollection(collectionName(scope.SessionID), nil); col != nil {
			return []*chromem.Collection{col}
		}
		return nil
	}

	all := s.db.ListCollections()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]*chromem.Collection, 0, len(names))
	for _, name := range names {
		cols = append(cols, all[name])
	}
	return cols
}

// Insert persists a record as one chromem document.
func (s *Store) Insert(ctx context.Context, rec memory.Record) (string, error) {
	if len(rec.Embedding) == 0 {
		return "", fmt.Errorf("record has no embedding")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	col, err := s.getOrCreateCollection(rec.SessionID)
	if err != nil {
		return "", err
	}

	metadata := map[string]string{
		metaRole:       string(rec.Role),
		metaSession:    rec.SessionID,
		metaTurn:       rec.TurnID,
		metaChunkIndex: strconv.Itoa(rec.ChunkIndex),
		metaTimeMicros: strconv.FormatInt(rec.Timestamp.UnixMicro(), 10),
		metaImportance: strconv.Itoa(rec.Importance),
	}
	for k, v := range rec.Metadata {
		metadata[k] = v
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Embedding,
		Metadata:  metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("add document: %w", err)
	}
	return rec.ID, nil
}

// Query returns the topK nearest records in scope, highest similarity
// first. Global-scope queries search every collection and merge the
// per-collection results by score.
func (s *Store) Query(ctx context.Context, embedding []float32, scope memory.Scope, topK int) ([]memory.ScoredRecord, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	var scored []memory.ScoredRecord
	for _, col := range s.scopeCollections(scope) {
		// chromem rejects nResults larger than the collection.
		n := topK
		if count := col.Count(); count < n {
			n = count
		}
		if n == 0 {
			continue
		}

		results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("query embedding: %w", err)
		}
		for i, res := range results {
			rec, err := toRecord(res.ID, res.Content, res.Embedding, res.Metadata)
			if err != nil {
				log.Printf("[CHROMEM] skipping result #%d: %v", i+1, err)
				continue
			}
			scored = append(scored, memory.ScoredRecord{Record: rec, Score: res.Similarity})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Get fetches a record by ID. The global scope checks every collection.
func (s *Store) Get(ctx context.Context, scope memory.Scope, id string) (memory.Record, error) {
	for _, col := range s.scopeCollections(scope) {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		return toRecord(doc.ID, doc.Content, doc.Embedding, doc.Metadata)
	}
	return memory.Record{}, fmt.Errorf("record %s not found", id)
}

// Delete removes a record by ID. chromem silently ignores unknown IDs,
// so existence is checked first to keep the not-found contract.
func (s *Store) Delete(ctx context.Context, scope memory.Scope, id string) error {
	for _, col := range s.scopeCollections(scope) {
		if _, err := col.GetByID(ctx, id); err != nil {
			continue
		}
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		return nil
	}
	return fmt.Errorf("record %s not found", id)
}

// Close releases nothing: chromem persists on write.
func (s *Store) Close() error { return nil }

// toRecord rebuilds a memory.Record from stored document fields.
func toRecord(id, content string, embedding []float32, metadata map[string]string) (memory.Record, error) {
	micros, err := strconv.ParseInt(metadata[metaTimeMicros], 10, 64)
	if err != nil {
		return memory.Record{}, fmt.Errorf("bad %s metadata on %s: %w", metaTimeMicros, id, err)
	}
	chunkIndex, _ := strconv.Atoi(metadata[metaChunkIndex])
	importance, _ := strconv.Atoi(metadata[metaImportance])

	extra := make(map[string]string)
	for k, v := range metadata {
		switch k {
		case metaRole, metaSession, metaTurn, metaChunkIndex, metaTimeMicros, metaImportance:
		default:
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		extra = nil
	}

	return memory.Record{
		ID:         id,
		Embedding:  embedding,
		Text:       content,
		Role:       core.Role(metadata[metaRole]),
		Timestamp:  time.UnixMicro(micros).UTC(),
		SessionID:  metadata[metaSession],
		TurnID:     metadata[metaTurn],
		ChunkIndex: chunkIndex,
		Importance: importance,
		Metadata:   extra,
	}, nil
}

var _ memory.Store = (*Store)(nil)

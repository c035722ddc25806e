package memory

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/engramdev/engram/core"
)

// ImportanceFunc optionally rates a memory text 1-10 before it is stored.
// A nil func (or an error from it) leaves the record unrated; rating is
// never worth failing a write over.
type ImportanceFunc func(ctx context.Context, text string) (int, error)

// Writer turns completed turns into store records: it chunks the text,
// embeds each chunk, and inserts one record per chunk. The writer holds
// no state besides its collaborators; it is safe for concurrent use.
type Writer struct {
	store      Store
	embedder   Embedder
	cfg        *Config
	chunker    *Chunker
	importance ImportanceFunc
}

// NewWriter creates a writer. A nil config gets the defaults.
func NewWriter(store Store, embedder Embedder, cfg *Config) *Writer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Writer{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		chunker:  NewChunker(cfg.ChunkSize, cfg.overlap()),
	}
}

// WithImportance sets an optional importance rater applied to each turn
// before chunking. Returns the writer for chaining.
func (w *Writer) WithImportance(fn ImportanceFunc) *Writer {
	w.importance = fn
	return w
}

// Record persists one turn. Long turns become several overlapping chunk
// records sharing the turn's ID and timestamp, with sequential chunk
// indices. Returns the IDs of all records written.
//
// If every chunk fails the error wraps the first failure. If only some
// fail, the error is a *PartialWriteError naming which chunk indices
// succeeded, so the caller can retry the missing ones via RecordChunks
// without re-embedding what is already durable.
func (w *Writer) Record(ctx context.Context, turn core.Turn) ([]string, error) {
	if err := turn.Validate(); err != nil {
		return nil, err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	return w.RecordChunks(ctx, turn, w.chunker.Split(turn.Text))
}

// RecordChunks persists specific chunks of a turn. It is the retry path
// for partial writes: pass the chunks named by PartialWriteError.Failed.
func (w *Writer) RecordChunks(ctx context.Context, turn core.Turn, chunks []Chunk) ([]string, error) {
	importance := w.rate(ctx, turn.Text)

	ids := make([]string, 0, len(chunks))
	succeeded := make([]int, 0, len(chunks))
	failed := make(map[int]error)

	for _, chunk := range chunks {
		id, err := w.writeChunk(ctx, turn, chunk, importance)
		if err != nil {
			failed[chunk.Index] = err
			continue
		}
		ids = append(ids, id)
		succeeded = append(succeeded, chunk.Index)
	}

	switch {
	case len(failed) == 0:
		return ids, nil
	case len(succeeded) == 0:
		// Whole-turn failure: surface the first chunk's cause directly.
		return nil, failed[firstKey(failed)]
	default:
		return ids, &PartialWriteError{Succeeded: succeeded, Failed: failed}
	}
}

// writeChunk embeds one chunk and inserts its record.
func (w *Writer) writeChunk(ctx context.Context, turn core.Turn, chunk Chunk, importance int) (string, error) {
	embedCtx, cancel := w.cfg.callCtx(ctx)
	vec, err := w.embedder.Embed(embedCtx, chunk.Text)
	cancel()
	if err != nil {
		return "", fmt.Errorf("%w: chunk %d: %v", ErrEmbedding, chunk.Index, err)
	}

	rec := Record{
		ID:         uuid.NewString(),
		Embedding:  vec,
		Text:       chunk.Text,
		Role:       turn.Role,
		Timestamp:  turn.Timestamp,
		SessionID:  turn.SessionID,
		TurnID:     turn.ID,
		ChunkIndex: chunk.Index,
		Importance: importance,
	}

	insertCtx, cancel := w.cfg.callCtx(ctx)
	id, err := w.store.Insert(insertCtx, rec)
	cancel()
	if err != nil {
		return "", fmt.Errorf("%w: chunk %d: %v", ErrStoreWrite, chunk.Index, err)
	}
	return id, nil
}

// rate asks the importance func for a rating, tolerating absence and
// failure.
func (w *Writer) rate(ctx context.Context, text string) int {
	if w.importance == nil {
		return 0
	}
	rating, err := w.importance(ctx, text)
	if err != nil {
		log.Printf("[MEMORY] importance rating failed, storing unrated: %v", err)
		return 0
	}
	if rating < 1 || rating > 10 {
		return 0
	}
	return rating
}

func firstKey(m map[int]error) int {
	min := -1
	for k := range m {
		if min == -1 || k < min {
			min = k
		}
	}
	return min
}

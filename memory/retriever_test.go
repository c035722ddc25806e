package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/engramdev/engram/core"
	"github.com/engramdev/engram/memory"
	"github.com/engramdev/engram/memory/embedder/mock"
	"github.com/engramdev/engram/memory/store/inmem"
)

// seed inserts one record for text, embedding it with the given embedder.
func seed(t *testing.T, store memory.Store, embedder memory.Embedder, text, sessionID, turnID string, chunkIndex int, ts time.Time) string {
	t.Helper()
	vec, err := embedder.Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("embedding seed text: %v", err)
	}
	id, err := store.Insert(context.Background(), memory.Record{
		Embedding:  vec,
		Text:       text,
		Role:       core.RoleUser,
		Timestamp:  ts,
		SessionID:  sessionID,
		TurnID:     turnID,
		ChunkIndex: chunkIndex,
	})
	if err != nil {
		t.Fatalf("inserting seed record: %v", err)
	}
	return id
}

func TestRetrieverFindsExactMatch(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	embedder := mock.New(64)

	now := time.Now().UTC()
	seed(t, store, embedder, "my favorite color is teal", "s1", "t1", 0, now)
	seed(t, store, embedder, "the meeting is on tuesday", "s1", "t2", 0, now)
	seed(t, store, embedder, "pi is roughly 3.14159", "s1", "t3", 0, now)

	cfg := memory.DefaultConfig()
	cfg.MinSimilarity = 0.99 // only the identical text survives
	retriever := memory.NewRetriever(store, embedder, cfg)

	results, err := retriever.Search(ctx, "my favorite color is teal", memory.SearchOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Text != "my favorite color is teal" {
		t.Errorf("unexpected result %q", results[0].Text)
	}
	if results[0].Score < 0.99 {
		t.Errorf("identical text should score ~1, got %f", results[0].Score)
	}
}

func TestRetrieverAsOfExcludesFuture(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	embedder := mock.New(64)

	base := time.Now().UTC()
	seed(t, store, embedder, "weather report", "s1", "t1", 0, base)
	seed(t, store, embedder, "weather report", "s1", "t2", 0, base.Add(time.Hour))

	cfg := memory.DefaultConfig()
	cfg.MinSimilarity = 0
	retriever := memory.NewRetriever(store, embedder, cfg)

	results, err := retriever.Search(ctx, "weather report", memory.SearchOptions{
		SessionID: "s1",
		AsOf:      base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the past record, got %d results", len(results))
	}
	if results[0].TurnID != "t1" {
		t.Errorf("expected turn t1, got %q", results[0].TurnID)
	}
}

func TestRetrieverSinceExcludesOld(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	embedder := mock.New(64)

	base := time.Now().UTC()
	seed(t, store, embedder, "weather report", "s1", "t1", 0, base)
	seed(t, store, embedder, "weather report", "s1", "t2", 0, base.Add(time.Hour))

	cfg := memory.DefaultConfig()
	cfg.MinSimilarity = 0
	retriever := memory.NewRetriever(store, embedder, cfg)

	results, err := retriever.Search(ctx, "weather report", memory.SearchOptions{
		SessionID: "s1",
		Since:     base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].TurnID != "t2" {
		t.Fatalf("expected only turn t2, got %+v", results)
	}
}

func TestRetrieverDedupKeepsBestChunkPerTurn(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	embedder := mock.New(64)

	now := time.Now().UTC()
	seed(t, store, embedder, "chunk about gardening", "s1", "t1", 0, now)
	seed(t, store, embedder, "gardening tips for spring", "s1", "t1", 1, now)

	cfg := memory.DefaultConfig()
	cfg.MinSimilarity = -1 // keep even anti-correlated candidates
	retriever := memory.NewRetriever(store, embedder, cfg)

	results, err := retriever.Search(ctx, "gardening tips for spring", memory.SearchOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected chunks of one turn deduped to 1 result, got %d", len(results))
	}
	if results[0].Text != "gardening tips for spring" {
		t.Errorf("dedup kept the weaker chunk: %q", results[0].Text)
	}

	cfg.StitchChunks = true
	stitched, err := retriever.Search(ctx, "gardening tips for spring", memory.SearchOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(stitched) != 2 {
		t.Fatalf("expected both chunks with stitching on, got %d", len(stitched))
	}
}

func TestRetrieverTruncatesToK(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	embedder := mock.New(64)

	now := time.Now().UTC()
	for i, turn := range []string{"t1", "t2", "t3", "t4"} {
		seed(t, store, embedder, "same note", "s1", turn, 0, now.Add(time.Duration(i)*time.Second))
	}

	cfg := memory.DefaultConfig()
	cfg.MinSimilarity = 0
	retriever := memory.NewRetriever(store, embedder, cfg)

	results, err := retriever.Search(ctx, "same note", memory.SearchOptions{SessionID: "s1", K: 2})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results for K=2, got %d", len(results))
	}
	// Equal scores rank the more recent record first.
	if !results[0].Timestamp.After(results[1].Timestamp) {
		t.Error("expected recency ordering among equal scores")
	}
}

func TestRetrieverSessionIsolation(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	embedder := mock.New(64)

	now := time.Now().UTC()
	seed(t, store, embedder, "secret from another session", "other", "t1", 0, now)

	cfg := memory.DefaultConfig()
	cfg.MinSimilarity = 0
	retriever := memory.NewRetriever(store, embedder, cfg)

	results, err := retriever.Search(ctx, "secret from another session", memory.SearchOptions{SessionID: "mine"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no cross-session results, got %d", len(results))
	}
}

func TestRetrieverRequiresSessionUnlessGlobal(t *testing.T) {
	store := inmem.New()
	embedder := mock.New(64)

	retriever := memory.NewRetriever(store, embedder, nil)
	if _, err := retriever.Search(context.Background(), "anything", memory.SearchOptions{}); err == nil {
		t.Error("expected error for empty session without global scope")
	}

	cfg := memory.DefaultConfig()
	cfg.GlobalScope = true
	global := memory.NewRetriever(store, embedder, cfg)
	if _, err := global.Search(context.Background(), "anything", memory.SearchOptions{}); err != nil {
		t.Errorf("global scope should allow empty session: %v", err)
	}
}

func TestRetrieverInputValidation(t *testing.T) {
	retriever := memory.NewRetriever(inmem.New(), mock.New(64), nil)

	if _, err := retriever.Search(context.Background(), "   ", memory.SearchOptions{SessionID: "s"}); err == nil {
		t.Error("expected error for blank query")
	}
	if _, err := retriever.Retrieve(context.Background(), "query", "s", 0, time.Time{}); err == nil {
		t.Error("expected error for non-positive k")
	}
}

func TestRetrieverStoreFailure(t *testing.T) {
	store := &failQueryStore{}
	retriever := memory.NewRetriever(store, mock.New(64), nil)

	_, err := retriever.Search(context.Background(), "query", memory.SearchOptions{SessionID: "s"})
	if !errors.Is(err, memory.ErrStoreQuery) {
		t.Fatalf("expected ErrStoreQuery, got %v", err)
	}
}

func TestRetrieverEmbedderFailure(t *testing.T) {
	embedder := &stubEmbedder{dims: 4, failOn: func(string) error { return errors.New("down") }}
	retriever := memory.NewRetriever(inmem.New(), embedder, nil)

	_, err := retriever.Search(context.Background(), "query", memory.SearchOptions{SessionID: "s"})
	if !errors.Is(err, memory.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

// failQueryStore accepts writes but fails every similarity query.
type failQueryStore struct {
	fakeStore
}

func (f *failQueryStore) Query(_ context.Context, _ []float32, _ memory.Scope, _ int) ([]memory.ScoredRecord, error) {
	return nil, errors.New("index offline")
}

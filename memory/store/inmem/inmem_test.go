package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/engramdev/engram/core"
	"github.com/engramdev/engram/memory"
	"github.com/engramdev/engram/memory/store/inmem"
)

func record(text, sessionID string, embedding []float32) memory.Record {
	return memory.Record{
		Embedding: embedding,
		Text:      text,
		Role:      core.RoleUser,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		TurnID:    "turn-" + text,
	}
}

func TestInsertAssignsID(t *testing.T) {
	store := inmem.New()
	id, err := store.Insert(context.Background(), record("hello", "s1", []float32{1, 0}))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id == "" {
		t.Error("expected a generated record ID")
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 record, got %d", store.Len())
	}
}

func TestInsertRequiresEmbedding(t *testing.T) {
	store := inmem.New()
	if _, err := store.Insert(context.Background(), record("hello", "s1", nil)); err == nil {
		t.Error("expected error for record without embedding")
	}
}

func TestQueryRanksByCosine(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	for _, rec := range []memory.Record{
		record("orthogonal", "s1", []float32{0, 1}),
		record("identical", "s1", []float32{1, 0}),
		record("diagonal", "s1", []float32{1, 1}),
	} {
		if _, err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	results, err := store.Query(ctx, []float32{1, 0}, memory.ScopeSession("s1"), 3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	wantOrder := []string{"identical", "diagonal", "orthogonal"}
	for i, want := range wantOrder {
		if results[i].Text != want {
			t.Errorf("position %d: expected %q, got %q", i, want, results[i].Text)
		}
	}
	if results[0].Score < 0.999 {
		t.Errorf("identical vector should score 1, got %f", results[0].Score)
	}
}

func TestQueryTopKClamp(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	for i := 0; i < 5; i++ {
		if _, err := store.Insert(ctx, record(string(rune('a'+i)), "s1", []float32{1, 0})); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	results, err := store.Query(ctx, []float32{1, 0}, memory.ScopeSession("s1"), 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected topK to clamp to 2, got %d", len(results))
	}

	if _, err := store.Query(ctx, []float32{1, 0}, memory.ScopeSession("s1"), 0); err == nil {
		t.Error("expected error for non-positive topK")
	}
}

func TestQueryScopeIsolation(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	if _, err := store.Insert(ctx, record("mine", "s1", []float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Insert(ctx, record("theirs", "s2", []float32{1, 0})); err != nil {
		t.Fatal(err)
	}

	scoped, err := store.Query(ctx, []float32{1, 0}, memory.ScopeSession("s1"), 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Text != "mine" {
		t.Fatalf("session scope leaked: %+v", scoped)
	}

	global, err := store.Query(ctx, []float32{1, 0}, memory.ScopeGlobal(), 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(global) != 2 {
		t.Errorf("global scope should see both sessions, got %d", len(global))
	}
}

func TestQueryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	if _, err := store.Insert(ctx, record("hello", "s1", []float32{1, 0, 0})); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Query(ctx, []float32{1, 0}, memory.ScopeSession("s1"), 1); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestGetAndDelete(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	id, err := store.Insert(ctx, record("keep me", "s1", []float32{1, 0}))
	if err != nil {
		t.Fatal(err)
	}

	rec, err := store.Get(ctx, memory.ScopeGlobal(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Text != "keep me" {
		t.Errorf("unexpected record %q", rec.Text)
	}

	if _, err := store.Get(ctx, memory.ScopeSession("other"), id); err == nil {
		t.Error("Get should honor session scope")
	}

	if err := store.Delete(ctx, memory.ScopeSession("s1"), id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, memory.ScopeGlobal(), id); err == nil {
		t.Error("expected record gone after delete")
	}
	if err := store.Delete(ctx, memory.ScopeGlobal(), id); err == nil {
		t.Error("expected error deleting a missing record")
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d records", store.Len())
	}
}

func TestEqualScoresRankNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	old := record("old", "s1", []float32{1, 0})
	old.Timestamp = time.Now().UTC().Add(-time.Hour)
	fresh := record("fresh", "s1", []float32{1, 0})

	if _, err := store.Insert(ctx, old); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Insert(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	results, err := store.Query(ctx, []float32{1, 0}, memory.ScopeSession("s1"), 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if results[0].Text != "fresh" || results[1].Text != "old" {
		t.Errorf("expected newest first on ties, got %q then %q", results[0].Text, results[1].Text)
	}
}

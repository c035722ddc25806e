package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/engramdev/engram/chat"
	"github.com/engramdev/engram/memory"
	"github.com/engramdev/engram/memory/embedder/mock"
	"github.com/engramdev/engram/memory/store/inmem"
	"github.com/engramdev/engram/prompt"
)

// fakeModel replies with a fixed string and remembers the bundles it saw.
type fakeModel struct {
	reply   string
	err     error
	bundles []*prompt.Bundle
}

func (m *fakeModel) Generate(_ context.Context, bundle *prompt.Bundle) (string, error) {
	m.bundles = append(m.bundles, bundle)
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

// brokenQueryStore accepts writes but fails retrieval.
type brokenQueryStore struct {
	*inmem.Store
}

func (b *brokenQueryStore) Query(_ context.Context, _ []float32, _ memory.Scope, _ int) ([]memory.ScoredRecord, error) {
	return nil, errors.New("index offline")
}

func newTestLoop(t *testing.T, model chat.Model, store memory.Store) *chat.Loop {
	t.Helper()
	embedder := mock.New(64)
	writer := memory.NewWriter(store, embedder, nil)
	retriever := memory.NewRetriever(store, embedder, nil)
	assembler := prompt.NewAssembler(0, nil)
	return chat.NewLoop("session1", model, writer, retriever, assembler, nil, nil)
}

func TestLoopTurnRecordsBothSides(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	model := &fakeModel{reply: "nice to meet you"}
	loop := newTestLoop(t, model, store)

	reply, err := loop.Turn(ctx, "hello, I'm Ada")
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if reply != "nice to meet you" {
		t.Errorf("unexpected reply %q", reply)
	}
	if loop.State() != chat.StateAwaitingInput {
		t.Errorf("expected loop back at awaiting_input, got %v", loop.State())
	}
	if store.Len() != 2 {
		t.Errorf("expected user and assistant turns recorded, got %d records", store.Len())
	}
}

func TestLoopFeedsMemoriesAndHistoryToModel(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	model := &fakeModel{reply: "noted"}
	loop := newTestLoop(t, model, store)

	if _, err := loop.Turn(ctx, "my favorite color is teal"); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	// Repeating the exact text guarantees a retrieval hit with the
	// deterministic embedder.
	if _, err := loop.Turn(ctx, "my favorite color is teal"); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	if len(model.bundles) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(model.bundles))
	}
	second := model.bundles[1]

	found := false
	for _, s := range second.Snippets {
		if s.Text == "I said: my favorite color is teal" {
			found = true
		}
	}
	if !found {
		t.Errorf("second turn should retrieve the first exchange, got %+v", second.Snippets)
	}
	if len(second.Recent) != 2 {
		t.Errorf("expected the first exchange in the recent window, got %d turns", len(second.Recent))
	}
	if second.Input != "my favorite color is teal" {
		t.Errorf("unexpected input %q", second.Input)
	}
}

func TestLoopRetrievalFailureStillResponds(t *testing.T) {
	ctx := context.Background()
	store := &brokenQueryStore{Store: inmem.New()}
	model := &fakeModel{reply: "still here"}
	loop := newTestLoop(t, model, store)

	reply, err := loop.Turn(ctx, "hello")
	if err != nil {
		t.Fatalf("retrieval failure must not fail the turn: %v", err)
	}
	if reply != "still here" {
		t.Errorf("unexpected reply %q", reply)
	}
	if len(model.bundles) != 1 {
		t.Fatalf("model should still be called, got %d calls", len(model.bundles))
	}
	if len(model.bundles[0].Snippets) != 0 {
		t.Error("expected an empty memory section after retrieval failure")
	}
	// Recording still works: only Query is broken.
	if store.Len() != 2 {
		t.Errorf("expected the exchange recorded, got %d records", store.Len())
	}
}

func TestLoopModelFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	model := &fakeModel{err: errors.New("overloaded")}
	loop := newTestLoop(t, model, store)

	_, err := loop.Turn(ctx, "hello")
	if !errors.Is(err, chat.ErrModelCall) {
		t.Fatalf("expected ErrModelCall, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("failed exchange must not be recorded, got %d records", store.Len())
	}
	if loop.State() != chat.StateAwaitingInput {
		t.Errorf("loop should await input after a model failure, got %v", loop.State())
	}

	// The session survives: the next turn works once the model recovers.
	model.err = nil
	model.reply = "back online"
	if _, err := loop.Turn(ctx, "hello again"); err != nil {
		t.Fatalf("recovered turn failed: %v", err)
	}
}

func TestLoopEmptyInputCloses(t *testing.T) {
	ctx := context.Background()
	model := &fakeModel{reply: "unused"}
	loop := newTestLoop(t, model, inmem.New())

	if _, err := loop.Turn(ctx, "   "); !errors.Is(err, chat.ErrClosed) {
		t.Fatalf("expected ErrClosed for blank input, got %v", err)
	}
	if loop.State() != chat.StateClosed {
		t.Errorf("expected closed state, got %v", loop.State())
	}
	if _, err := loop.Turn(ctx, "anything"); !errors.Is(err, chat.ErrClosed) {
		t.Errorf("closed loop must reject further turns, got %v", err)
	}
	if len(model.bundles) != 0 {
		t.Error("model must not be called on a closed loop")
	}
}

func TestStateString(t *testing.T) {
	states := map[chat.State]string{
		chat.StateIdle:               "idle",
		chat.StateAwaitingInput:      "awaiting_input",
		chat.StateRetrieving:         "retrieving",
		chat.StateAssembling:         "assembling",
		chat.StateGeneratingResponse: "generating_response",
		chat.StateRecording:          "recording",
		chat.StateClosed:             "closed",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
	if got := chat.State(99).String(); !strings.Contains(got, "unknown") {
		t.Errorf("unexpected string for invalid state: %q", got)
	}
}

package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/engramdev/engram/core"
	"github.com/engramdev/engram/memory"
	"github.com/engramdev/engram/prompt"
)

// Config holds the loop tunables.
type Config struct {
	// HistoryWindow is how many recent turns the assembler sees.
	// Default: 20.
	HistoryWindow int

	// ModelTimeout bounds each model call. Default: 60s.
	ModelTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		HistoryWindow: 20,
		ModelTimeout:  60 * time.Second,
	}
}

// Loop runs one conversation session through its state cycle. A loop
// serves a single session strictly sequentially: each phase depends on
// the previous one, so Turn must not be called concurrently. Separate
// sessions get separate loops and run independently.
type Loop struct {
	sessionID string
	model     Model
	writer    *memory.Writer
	retriever *memory.Retriever
	assembler *prompt.Assembler
	history   History
	cfg       *Config
	state     State
}

// NewLoop wires a conversation loop for one session. A nil config gets
// the defaults; a nil history gets an in-process buffer.
func NewLoop(sessionID string, model Model, writer *memory.Writer, retriever *memory.Retriever, assembler *prompt.Assembler, history History, cfg *Config) *Loop {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if history == nil {
		history = NewMemoryHistory()
	}
	return &Loop{
		sessionID: sessionID,
		model:     model,
		writer:    writer,
		retriever: retriever,
		assembler: assembler,
		history:   history,
		cfg:       cfg,
		state:     StateAwaitingInput,
	}
}

// SessionID returns the session this loop serves.
func (l *Loop) SessionID() string { return l.sessionID }

// State reports the loop's current phase.
func (l *Loop) State() State { return l.state }

// Close ends the conversation. Further Turn calls fail with ErrClosed.
func (l *Loop) Close() { l.state = StateClosed }

// Turn runs one full cycle for the given user input and returns the
// assistant's reply.
//
// Failure policy, in phase order: a retrieval failure means "no memory
// this turn" and the cycle continues; a model failure aborts the turn
// with ErrModelCall and nothing is recorded; recording failures are
// logged and the reply is still returned, since memory durability is
// best-effort relative to conversation continuity.
func (l *Loop) Turn(ctx context.Context, input string) (string, error) {
	if l.state == StateClosed {
		return "", ErrClosed
	}
	if strings.TrimSpace(input) == "" {
		l.Close()
		return "", ErrClosed
	}
	userTurn := core.NewTurn(core.RoleUser, input, l.sessionID)

	// Retrieving: degrade to no memory on any failure.
	l.state = StateRetrieving
	retrieved, err := l.retriever.Search(ctx, input, memory.SearchOptions{
		SessionID: l.sessionID,
		AsOf:      userTurn.Timestamp,
	})
	if err != nil {
		log.Printf("[CHAT] retrieval failed, continuing without memories: %v", err)
		retrieved = nil
	}

	recent, err := l.history.Recent(ctx, l.sessionID, l.cfg.HistoryWindow)
	if err != nil {
		log.Printf("[CHAT] history load failed, continuing without recent turns: %v", err)
		recent = nil
	}

	// Assembling.
	l.state = StateAssembling
	bundle := l.assembler.Assemble(recent, retrieved, input)

	// GeneratingResponse: the only failure the user sees. A failed
	// exchange leaves no memory trace.
	l.state = StateGeneratingResponse
	modelCtx := ctx
	if l.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		modelCtx, cancel = context.WithTimeout(ctx, l.cfg.ModelTimeout)
		defer cancel()
	}
	reply, err := l.model.Generate(modelCtx, bundle)
	if err != nil {
		l.state = StateAwaitingInput
		return "", fmt.Errorf("%w: %v", ErrModelCall, err)
	}
	assistantTurn := core.NewTurn(core.RoleAssistant, reply, l.sessionID)

	// Recording: the two writes are independent, issued concurrently
	// and joined before the loop returns to awaiting input.
	l.state = StateRecording
	l.record(ctx, userTurn, assistantTurn)

	if err := l.history.Append(ctx, l.sessionID, userTurn, assistantTurn); err != nil {
		log.Printf("[CHAT] history append failed: %v", err)
	}

	l.state = StateAwaitingInput
	return reply, nil
}

// record writes both turns of the exchange into long-term memory,
// best-effort.
func (l *Loop) record(ctx context.Context, turns ...core.Turn) {
	g, gctx := errgroup.WithContext(ctx)
	for _, turn := range turns {
		turn := turn
		g.Go(func() error {
			if _, err := l.writer.Record(gctx, turn); err != nil {
				log.Printf("[CHAT] recording %s turn failed (memory will have a gap): %v", turn.Role, err)
			}
			return nil // never blocks the loop
		})
	}
	g.Wait()
}

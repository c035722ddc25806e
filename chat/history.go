package chat

import (
	"context"
	"sync"

	"github.com/engramdev/engram/core"
)

// History is the short-term conversation buffer: the recent turns kept
// verbatim, as opposed to the fuzzy long-term recall the retriever
// provides.
type History interface {
	// Append adds turns to a session's buffer, oldest first.
	Append(ctx context.Context, sessionID string, turns ...core.Turn) error

	// Recent returns up to n of the session's latest turns in
	// chronological order.
	Recent(ctx context.Context, sessionID string, n int) ([]core.Turn, error)
}

// MemoryHistory keeps buffers in process memory. Safe for concurrent
// use.
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[string][]core.Turn
}

// NewMemoryHistory creates an empty in-process history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{sessions: make(map[string][]core.Turn)}
}

func (h *MemoryHistory) Append(_ context.Context, sessionID string, turns ...core.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = append(h.sessions[sessionID], turns...)
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, sessionID string, n int) ([]core.Turn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	buf := h.sessions[sessionID]
	if n <= 0 || n > len(buf) {
		n = len(buf)
	}
	out := make([]core.Turn, n)
	copy(out, buf[len(buf)-n:])
	return out, nil
}

var _ History = (*MemoryHistory)(nil)

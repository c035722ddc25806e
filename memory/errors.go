package memory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Failure kinds. Callers classify with errors.Is; the concrete cause is
// wrapped underneath.
var (
	// ErrEmbedding reports that the embedder was unreachable or rejected
	// the input. A timeout on the embedder call maps here too.
	ErrEmbedding = errors.New("embedding failure")

	// ErrStoreWrite reports that the store rejected an insertion.
	ErrStoreWrite = errors.New("store write failure")

	// ErrStoreQuery reports that a similarity query failed. Non-fatal to
	// the conversation: the loop proceeds with no memory this turn.
	ErrStoreQuery = errors.New("store query failure")
)

// PartialWriteError reports a turn whose chunks were only partially
// written: some chunk inserts succeeded, at least one failed. The caller
// can retry just the failed chunk indices instead of re-embedding the
// whole turn.
type PartialWriteError struct {
	// Succeeded holds the chunk indices that were durably inserted,
	// ascending.
	Succeeded []int

	// Failed maps each failed chunk index to its cause.
	Failed map[int]error
}

func (e *PartialWriteError) Error() string {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("chunk %d: %v", i, e.Failed[i]))
	}
	return fmt.Sprintf("partial write: %d/%d chunks written (%s)",
		len(e.Succeeded), len(e.Succeeded)+len(e.Failed), strings.Join(parts, "; "))
}

// FailedIndices returns the failed chunk indices in ascending order.
func (e *PartialWriteError) FailedIndices() []int {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Is lets errors.Is match the underlying failure kinds: a partial write
// is an ErrEmbedding or ErrStoreWrite if any failed chunk is.
func (e *PartialWriteError) Is(target error) bool {
	for _, err := range e.Failed {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

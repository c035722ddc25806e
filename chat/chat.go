// Package chat drives the turn-by-turn conversation cycle: receive
// input, retrieve memories, assemble a bounded context, call the
// language model, record the exchange back into memory.
package chat

import (
	"context"
	"errors"

	"github.com/engramdev/engram/prompt"
)

// Model is the external language model capability: it turns an
// assembled context bundle into a response. Implementations:
// model/anthropic (Claude Messages API), in-test fakes.
type Model interface {
	Generate(ctx context.Context, bundle *prompt.Bundle) (string, error)
}

// ErrModelCall reports that the language model could not respond this
// turn. This is the only memory-adjacent failure the end user sees: the
// turn is not recorded and the loop returns to awaiting input.
var ErrModelCall = errors.New("model call failure")

// ErrClosed reports an operation on a loop that has already exited.
var ErrClosed = errors.New("conversation closed")

// State is the conversation loop's position in its cycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingInput
	StateRetrieving
	StateAssembling
	StateGeneratingResponse
	StateRecording
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateRetrieving:
		return "retrieving"
	case StateAssembling:
		return "assembling"
	case StateGeneratingResponse:
		return "generating_response"
	case StateRecording:
		return "recording"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

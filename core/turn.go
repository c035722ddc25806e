// Package core defines the shared conversation vocabulary used by the
// memory, prompt, and chat packages: turns, roles, and session identity.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the two conversation roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a conversation. Turns are immutable once created:
// every field is set at construction and never mutated afterwards.
type Turn struct {
	// ID uniquely identifies the turn. All chunks written for one turn
	// share this ID, which is what retrieval dedup keys on.
	ID string

	// Role is who spoke: user or assistant.
	Role Role

	// Text is the verbatim turn content.
	Text string

	// Timestamp is when the turn happened, microsecond resolution, UTC.
	Timestamp time.Time

	// SessionID groups turns belonging to one continuous conversation.
	SessionID string
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role Role, text, sessionID string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		SessionID: sessionID,
	}
}

// Validate checks the writer's input constraints: non-empty text and a
// recognized role.
func (t Turn) Validate() error {
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("turn text is empty")
	}
	if !t.Role.Valid() {
		return fmt.Errorf("turn role %q is not user or assistant", t.Role)
	}
	return nil
}

// Transcript renders the turn the way memories read back in a prompt,
// mirroring the "I said: ..." framing of recorded exchanges.
func (t Turn) Transcript() string {
	if t.Role == RoleUser {
		return "I said: " + t.Text
	}
	return "Assistant said: " + t.Text
}

// NewSessionID returns a fresh conversation session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

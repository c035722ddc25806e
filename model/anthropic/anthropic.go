// Package anthropic adapts the Anthropic Messages API to the chat model
// interface. Retrieved memories are delivered as a system preamble and the
// recent window as alternating user/assistant messages, so the model sees
// the same ordering the prompt renders.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/engramdev/engram/chat"
	"github.com/engramdev/engram/core"
	"github.com/engramdev/engram/prompt"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "claude-sonnet-4-20250514"

	// DefaultMaxTokens caps response length when Config.MaxTokens is zero.
	DefaultMaxTokens = 1024
)

// Config holds the Anthropic client settings.
type Config struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string

	// Model names the model to call. Empty uses DefaultModel.
	Model string

	// MaxTokens is the maximum response tokens. Zero uses DefaultMaxTokens.
	MaxTokens int64

	// SystemPrompt is prepended before retrieved memories in the system
	// block. Empty means no fixed persona.
	SystemPrompt string
}

// Model calls the Anthropic Messages API.
type Model struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	system    string
}

var _ chat.Model = (*Model)(nil)

// New creates a model from the config.
func New(cfg Config) *Model {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Model{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     model,
		maxTokens: maxTokens,
		system:    cfg.SystemPrompt,
	}
}

// Generate sends the bundle to the API and returns the text of the reply.
func (m *Model) Generate(ctx context.Context, bundle *prompt.Bundle) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: m.maxTokens,
		Messages:  m.messages(bundle),
	}
	if system := m.systemBlock(bundle); system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic response contained no text blocks")
	}
	return text.String(), nil
}

// systemBlock joins the persona prompt with the retrieved memories.
func (m *Model) systemBlock(bundle *prompt.Bundle) string {
	var b strings.Builder
	if m.system != "" {
		b.WriteString(m.system)
	}
	if len(bundle.Snippets) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Relevant memories from earlier in this conversation:\n")
		for _, s := range bundle.Snippets {
			b.WriteString("- ")
			b.WriteString(s.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// messages converts the recent window plus the current input into API
// messages. Assistant turns map to assistant messages, everything else
// to user messages.
func (m *Model) messages(bundle *prompt.Bundle) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(bundle.Recent)+1)
	for _, turn := range bundle.Recent {
		block := anthropic.NewTextBlock(turn.Text)
		if turn.Role == core.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(bundle.Input)))
	return msgs
}

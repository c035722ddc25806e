// Package prompt assembles the bounded context bundle sent to the
// language model: retrieved memory snippets, then the recent short-term
// window, then the new input, trimmed deterministically to a budget.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/engramdev/engram/core"
	"github.com/engramdev/engram/memory"
)

// DefaultBudget is the prompt size cap in counter units. The default
// counter counts characters, so this is 2048 characters.
const DefaultBudget = 2048

// Snippet is one retrieved memory placed into a bundle.
type Snippet struct {
	// Text is the rendered memory line, transcript-framed by role.
	Text string

	// Score is the retrieval similarity, kept for trimming order.
	Score float32
}

// Bundle is the per-turn context structure handed to the model and then
// discarded. Sections are ordered distant-first: memories, then the
// recent window, then the current input, mirroring how attention favors
// the end of the prompt.
type Bundle struct {
	Snippets []Snippet
	Recent   []core.Turn
	Input    string
}

// Render serializes the bundle into the canonical prompt text. The
// budget is enforced against exactly this serialization.
func (b *Bundle) Render() string {
	var sb strings.Builder
	if len(b.Snippets) > 0 {
		sb.WriteString("Relevant memories from earlier in this conversation:\n")
		for _, s := range b.Snippets {
			sb.WriteString("- ")
			sb.WriteString(s.Text)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if len(b.Recent) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, t := range b.Recent {
			sb.WriteString(string(t.Role))
			sb.WriteString(": ")
			sb.WriteString(t.Text)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(b.Input)
	return sb.String()
}

// Assembler builds bundles under a size budget. Assembly is pure: the
// same inputs always produce the same bundle.
type Assembler struct {
	budget  int
	counter Counter
}

// NewAssembler creates an assembler. A non-positive budget gets
// DefaultBudget; a nil counter counts characters.
func NewAssembler(budget int, counter Counter) *Assembler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if counter == nil {
		counter = CharCounter{}
	}
	return &Assembler{budget: budget, counter: counter}
}

// Budget returns the configured budget.
func (a *Assembler) Budget() int { return a.budget }

// Assemble merges retrieved snippets with the recent window and the new
// input. When the rendered bundle exceeds the budget it trims greedily:
// lowest-similarity snippets go first (earlier-added first on ties),
// then the oldest recent turns. The input is never dropped or truncated.
//
// Assemble panics when the input alone cannot fit the budget: that is a
// configuration error (budget smaller than a single message), not a
// runtime condition the caller can handle.
func (a *Assembler) Assemble(recent []core.Turn, retrieved []memory.ScoredRecord, input string) *Bundle {
	bundle := &Bundle{
		Snippets: snippetize(retrieved),
		Recent:   append([]core.Turn(nil), recent...),
		Input:    input,
	}

	// Victim order among snippets: ascending score, earlier-added first
	// within a tie. Precomputed once so trimming is a pop.
	victims := make([]int, len(bundle.Snippets))
	for i := range victims {
		victims[i] = i
	}
	sort.SliceStable(victims, func(i, j int) bool {
		return bundle.Snippets[victims[i]].Score < bundle.Snippets[victims[j]].Score
	})

	dropped := make(map[int]bool)
	for a.counter.Count(bundle.Render()) > a.budget {
		switch {
		case len(dropped) < len(victims):
			dropped[victims[len(dropped)]] = true
			bundle.Snippets = keep(snippetize(retrieved), dropped)
		case len(bundle.Recent) > 0:
			bundle.Recent = bundle.Recent[1:] // oldest first
		default:
			panic(fmt.Sprintf(
				"prompt budget violation: input of size %d cannot fit budget %d",
				a.counter.Count(bundle.Input), a.budget))
		}
	}
	return bundle
}

// snippetize renders retrieval results as transcript-framed lines.
func snippetize(retrieved []memory.ScoredRecord) []Snippet {
	snippets := make([]Snippet, 0, len(retrieved))
	for _, r := range retrieved {
		snippets = append(snippets, Snippet{
			Text:  transcript(r.Record),
			Score: r.Score,
		})
	}
	return snippets
}

// keep filters snippets by original position, preserving order.
func keep(snippets []Snippet, dropped map[int]bool) []Snippet {
	out := snippets[:0]
	for i, s := range snippets {
		if !dropped[i] {
			out = append(out, s)
		}
	}
	return out
}

// transcript frames a record's text by speaker, the way the recorded
// exchanges read ("I said: ..." / "Assistant said: ...").
func transcript(rec memory.Record) string {
	switch rec.Role {
	case core.RoleUser:
		return "I said: " + rec.Text
	case core.RoleAssistant:
		return "Assistant said: " + rec.Text
	default:
		return rec.Text
	}
}

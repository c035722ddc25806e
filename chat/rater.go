package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/engramdev/engram/memory"
	"github.com/engramdev/engram/prompt"
)

// ratingPrompt asks for a bare 1-10 importance rating of a memory.
const ratingPrompt = "On the scale of 1 to 10, where 1 is purely unimportant " +
	"(e.g., saying hello) and 10 is extremely important and useful (e.g., saving mankind), " +
	"rate the likely importance of the following piece of memory (delimited by ```). " +
	"Just give me the numeric rating and nothing else.\nMemory: ```%s```\nRating: <number>"

// Rater scores how important a memory is by asking the language model.
// Ratings are advisory metadata: a rating failure never fails a write.
type Rater struct {
	model Model
}

// NewRater creates a rater over the given model.
func NewRater(model Model) *Rater {
	return &Rater{model: model}
}

// Rate returns the model's 1-10 importance rating for the text.
func (r *Rater) Rate(ctx context.Context, text string) (int, error) {
	reply, err := r.model.Generate(ctx, &prompt.Bundle{
		Input: fmt.Sprintf(ratingPrompt, text),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: rating: %v", ErrModelCall, err)
	}
	rating, err := parseRating(reply)
	if err != nil {
		return 0, fmt.Errorf("rating: %w", err)
	}
	return rating, nil
}

// ImportanceFunc adapts the rater to the writer's hook.
func (r *Rater) ImportanceFunc() memory.ImportanceFunc {
	return r.Rate
}

// parseRating extracts the first integer in [1, 10] from a model reply,
// tolerating surrounding prose.
func parseRating(reply string) (int, error) {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r < '0' || r > '9'
	})
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		if n >= 1 && n <= 10 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("no 1-10 rating in model reply %q", reply)
}

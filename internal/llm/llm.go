// Package llm wraps the abstractive summarization backends behind one interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Summarizer produces an abstractive summary of at most maxLength words.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxLength int) (string, error)
}

const systemPrompt = "You are a concise assistant that summarizes operational documents for a transit authority. " +
	"Keep facts, names, dates and amounts. Do not add information that is not in the document."

func userPrompt(text string, maxLength int) string {
	return fmt.Sprintf("Summarize the following document in at most %d words. Reply with the summary only.\n\n%s", maxLength, text)
}

// cleanResponse strips code fences and surrounding whitespace some models add.
func cleanResponse(content string) (string, error) {
	out := strings.TrimSpace(content)
	out = strings.TrimPrefix(out, "```text")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

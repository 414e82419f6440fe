package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"plain", "  Track maintenance scheduled.  ", "Track maintenance scheduled.", nil},
		{"fenced", "```\nBudget approved.\n```", "Budget approved.", nil},
		{"fenced with language", "```text\nAudit passed.```", "Audit passed.", nil},
		{"empty", "   ", "", ErrEmptyResponse},
		{"empty fence", "``````", "", ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanResponse(tt.in)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserPromptCarriesLimitAndText(t *testing.T) {
	p := userPrompt("Signal failure at Aluva.", 42)
	assert.Contains(t, p, "at most 42 words")
	assert.True(t, strings.HasSuffix(p, "Signal failure at Aluva."))
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient("", "")
	assert.Error(t, err)
}

func TestNewLangChainClientRequiresEndpoint(t *testing.T) {
	_, err := NewLangChainClient("", "", "llama3")
	assert.Error(t, err)
}

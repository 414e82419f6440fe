package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient talks to any OpenAI-compatible endpoint (Ollama, vLLM, LM Studio) through langchaingo.
type LangChainClient struct {
	client llms.Model
	logger *slog.Logger
}

var _ Summarizer = (*LangChainClient)(nil)

// NewLangChainClient connects to baseURL. Local services ignore the token, so "none" is sent when apiKey is empty.
func NewLangChainClient(baseURL, apiKey, model string) (*LangChainClient, error) {
	if baseURL == "" || model == "" {
		return nil, fmt.Errorf("langchain: base url and model required")
	}
	if apiKey == "" {
		apiKey = "none"
	}
	client, err := lcopenai.New(
		lcopenai.WithBaseURL(baseURL),
		lcopenai.WithToken(apiKey),
		lcopenai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return &LangChainClient{
		client: client,
		logger: slog.Default().With("component", "langchain-summarizer"),
	}, nil
}

func (c *LangChainClient) Summarize(ctx context.Context, text string, maxLength int) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultChatTimeout)
	defer cancel()

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt(text, maxLength)),
	}
	resp, err := c.client.GenerateContent(reqCtx, content, llms.WithTemperature(defaultChatTemperature))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) < 1 {
		c.logger.Debug("no choices returned from model")
		return "", ErrEmptyResponse
	}
	return cleanResponse(resp.Choices[0].Content)
}

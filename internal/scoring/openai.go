package scoring

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIScorer judges answers through an OpenAI-compatible chat-completion
// endpoint. Azure OpenAI and self-hosted gateways work by pointing BaseURL
// at them.
type OpenAIScorer struct {
	client *openai.Client
	model  string
}

// NewOpenAIScorer builds a scorer. baseURL may be empty for the public API.
func NewOpenAIScorer(apiKey, baseURL, model string) (*OpenAIScorer, error) {
	if apiKey == "" {
		return nil, errors.New("scoring api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIScorer{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Score implements [Scorer].
func (s *OpenAIScorer) Score(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("scoring completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

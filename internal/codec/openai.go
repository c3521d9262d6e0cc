package codec

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// #region openai
// OpenAIClient calls any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client. An empty baseURL uses the OpenAI default.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Generate returns the content of the first completion choice.
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", Normalize(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", Normalize(errors.New("chat completion: no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// #endregion openai

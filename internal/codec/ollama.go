package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultOllamaURL is the local Ollama endpoint.
const DefaultOllamaURL = "http://localhost:11434"

// #region ollama
// OllamaClient talks to the native Ollama chat API with streaming disabled.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// NewOllamaClient creates a client. An empty baseURL uses DefaultOllamaURL; a nil
// httpClient uses http.DefaultClient. Deadlines come from the call context.
func NewOllamaClient(baseURL, model string, httpClient *http.Client) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
	}
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string { return c.model }

// Generate posts the conversation to /api/chat and returns the assistant message content.
func (c *OllamaClient) Generate(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(ollamaRequest{Model: c.model, Messages: messages, Stream: false})
	if err != nil {
		return "", Normalize(fmt.Errorf("marshal ollama request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", Normalize(fmt.Errorf("build ollama request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Normalize(fmt.Errorf("ollama chat: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", Normalize(fmt.Errorf("ollama chat: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Normalize(fmt.Errorf("decode ollama response: %w", err))
	}
	if out.Error != "" {
		return "", Normalize(fmt.Errorf("ollama chat: %s", out.Error))
	}
	return out.Message.Content, nil
}

// #endregion ollama

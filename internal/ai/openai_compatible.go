package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ClientConfig holds API settings for an OpenAI-compatible endpoint serving
// both chat completions and embeddings.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Dimension      int
	EmbedTimeout   time.Duration
	GenTimeout     time.Duration
}

// OpenAICompatibleClient implements Embedder and Generator against any
// OpenAI-compatible HTTP API.
type OpenAICompatibleClient struct {
	cfg        ClientConfig
	httpClient *http.Client
}

func NewOpenAICompatibleClient(cfg ClientConfig) *OpenAICompatibleClient {
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.GenTimeout <= 0 {
		cfg.GenTimeout = 60 * time.Second
	}
	return &OpenAICompatibleClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *OpenAICompatibleClient) Dimension() int {
	return c.cfg.Dimension
}

func (c *OpenAICompatibleClient) ModelName() string {
	return c.cfg.Model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate calls the chat completions endpoint. Transport failures, timeouts
// and upstream 5xx responses are wrapped in ErrUnavailable.
func (c *OpenAICompatibleClient) Generate(ctx context.Context, prompt, system string, maxTokens int, temperature float64) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	reqBody := map[string]interface{}{
		"model":       c.cfg.Model,
		"messages":    messages,
		"temperature": temperature,
		"stream":      false,
	}
	if maxTokens > 0 {
		reqBody["max_tokens"] = maxTokens
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal llm request failed: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.GenTimeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llm response failed: %v: %w", err, ErrUnavailable)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("llm response status %d: %s: %w", resp.StatusCode, string(raw), ErrUnavailable)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

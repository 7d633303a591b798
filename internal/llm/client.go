package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ingestor-io/ingestor/internal/config"
	"github.com/ingestor-io/ingestor/internal/fetch"
)

const (
	defaultEndpoint  = "https://api.openai.com/v1/chat/completions"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 2048
	defaultTimeout   = 60 * time.Second
)

type (
	// Client calls an OpenAI-compatible chat completion endpoint through the
	// shared fetch client, inheriting its retry and timeout policy.
	Client struct {
		fetcher  fetcher
		endpoint string
		apiKey   string
		model    string
		maxTok   int
		logger   *slog.Logger
	}

	// fetcher is the subset of fetch.Client the llm client needs.
	fetcher interface {
		Do(ctx context.Context, req *fetch.Request) (*fetch.Response, error)
	}

	chatRequest struct {
		Model          string        `json:"model"`
		Messages       []chatMessage `json:"messages"`
		MaxTokens      int           `json:"max_tokens,omitempty"`
		ResponseFormat *respFormat   `json:"response_format,omitempty"`
	}

	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	respFormat struct {
		Type string `json:"type"`
	}

	chatResponse struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
)

var _ Completer = (*Client)(nil)

// FromEnv builds a client from LLM_* environment variables. Returns nil when
// LLM_API_KEY is unset; callers treat a nil client as "no model available".
func FromEnv(logger *slog.Logger) *Client {
	apiKey := config.GetEnvStr("LLM_API_KEY", "")
	if apiKey == "" {
		return nil
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		fetcher: fetch.NewClient(fetch.Config{
			MaxConcurrency: 2,
			MaxRetries:     2,
			Timeout:        config.GetEnvDuration("LLM_TIMEOUT", defaultTimeout),
		}, logger),
		endpoint: config.GetEnvStr("LLM_API_URL", defaultEndpoint),
		apiKey:   apiKey,
		model:    config.GetEnvStr("LLM_MODEL", defaultModel),
		maxTok:   config.GetEnvInt("LLM_MAX_TOKENS", defaultMaxTokens),
		logger:   logger,
	}
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c == nil || c.apiKey == "" {
		return "", ErrNotConfigured
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}

	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload := chatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTok,
	}

	if req.JSONMode {
		payload.ResponseFormat = &respFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	resp, err := c.fetcher.Do(ctx, &fetch.Request{
		URL:    c.endpoint,
		Method: http.MethodPost,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.apiKey,
			"Content-Type":  "application/json",
		},
		Body:       body,
		ResourceID: "llm:" + c.model,
	})
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", fmt.Errorf("parse completion response: %w", err)
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}

	return parsed.Choices[0].Message.Content, nil
}

// Package genai talks to an OpenAI-compatible chat completions endpoint with JSON schema
// constrained output.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"intakeline/internal/config"
	"intakeline/internal/engine"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements engine.Generator.
type Client struct {
	Endpoint string
	APIKey   string
	HTTP     HTTPClient
	Limiter  *rate.Limiter
}

// New builds a client from the generation config. A zero requests_per_second disables limiting.
func New(cfg config.Generation, client HTTPClient) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Client{Endpoint: normalizeOpenAIEndpoint(cfg.BaseURL), APIKey: cfg.APIKey(), HTTP: client}
	if cfg.RequestsPerSecond > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation backend returned %d: %s", e.Status, e.Body)
}

func (c *Client) StructuredGenerate(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	format := responseFormat{Type: "json_object"}
	if len(req.Schema) > 0 {
		format = responseFormat{Type: "json_schema", JSONSchema: &jsonSchemaFormat{Name: req.Name, Schema: req.Schema}}
	}
	body, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		ResponseFormat: format,
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var cc chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cc); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, fmt.Errorf("no choices")
	}
	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	if cc.Choices[0].FinishReason == "length" {
		return nil, fmt.Errorf("completion truncated at max_tokens")
	}
	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("invalid JSON from model")
	}
	return json.RawMessage(content), nil
}

func normalizeOpenAIEndpoint(base string) string {
	endpoint := strings.TrimRight(strings.TrimSpace(base), "/")
	if endpoint == "" {
		endpoint = "https://api.openai.com"
	}
	switch {
	case strings.HasSuffix(endpoint, "/chat/completions"):
		return endpoint
	case strings.HasSuffix(endpoint, "/v1"):
		return endpoint + "/chat/completions"
	default:
		return endpoint + "/v1/chat/completions"
	}
}

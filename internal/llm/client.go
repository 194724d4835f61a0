package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls an OpenAI-compatible chat completions endpoint. Both the
// hosted OpenAI API and a local Ollama server (which exposes the same
// /v1/chat/completions surface) are supported through provider selection.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Options configures a Client.
type Options struct {
	Provider string // "openai" or "ollama"
	BaseURL  string // Overrides the provider default when set.
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewClient creates a chat completions client for the configured provider.
func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		switch opts.Provider {
		case "ollama":
			baseURL = "http://localhost:11434/v1"
		default:
			baseURL = "https://api.openai.com/v1"
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Invoke sends one completion request and classifies failures.
func (c *Client) Invoke(ctx context.Context, spec PromptSpec) (StructuredResponse, error) {
	msgs := make([]chatMessage, 0, 2)
	if spec.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: spec.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: spec.Prompt})

	req := chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
	}
	if spec.JSONMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return StructuredResponse{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return StructuredResponse{}, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return StructuredResponse{}, ctx.Err()
		}
		// Connection-level failures are treated as transient.
		return StructuredResponse{}, &Error{Message: err.Error(), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return StructuredResponse{}, &Error{
			Status:    resp.StatusCode,
			Message:   string(msg),
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return StructuredResponse{}, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return StructuredResponse{}, &Error{Message: "empty completion", Retryable: true}
	}

	return StructuredResponse{
		Content:    result.Choices[0].Message.Content,
		Model:      result.Model,
		TokensUsed: result.Usage.TotalTokens,
	}, nil
}

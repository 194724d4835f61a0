// Package llm provides the language-model invocation collaborator.
//
// The workflow engine never constructs prompts; stage adapters build
// PromptSpecs and pass them through the Invoker contract. Failures carry
// an explicit retryability classification the engine's retry policy
// depends on.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// PromptSpec is a stage-specific request, opaque to the engine.
type PromptSpec struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	JSONMode    bool    `json:"json_mode"`
}

// StructuredResponse is a successful model completion.
type StructuredResponse struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
}

// Decode unmarshals the response content (JSON mode) into v.
func (r StructuredResponse) Decode(v any) error {
	if err := json.Unmarshal([]byte(r.Content), v); err != nil {
		return fmt.Errorf("llm: decode structured response: %w", err)
	}
	return nil
}

// Invoker is the collaborator contract for model invocation.
type Invoker interface {
	Invoke(ctx context.Context, spec PromptSpec) (StructuredResponse, error)
}

// Error is a classified invocation failure.
type Error struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: status %d: %s", e.Status, e.Message)
	}
	return "llm: " + e.Message
}

// IsRetryable reports whether the failure is transient: rate limits,
// server errors, network timeouts, and context deadline expiry. Caller
// cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Retryable
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}

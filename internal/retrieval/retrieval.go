// Package retrieval provides the medical literature search collaborator.
//
// Queries are embedded locally and matched against a Qdrant collection of
// indexed literature. The orchestrator only sees the Searcher contract;
// failures carry a retryability classification for the engine's policy.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/aegismed/caseflow/internal/model"
)

// Searcher is the collaborator contract for evidence lookup.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]model.Evidence, error)
	Healthy(ctx context.Context) error
}

// Error is a classified retrieval failure.
type Error struct {
	Message   string
	Retryable bool
}

func (e *Error) Error() string { return "retrieval: " + e.Message }

// IsRetryable reports whether a retrieval failure is transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Retryable
	}
	return false
}

// Service composes an embedder and a vector index into a Searcher.
type Service struct {
	embedder Embedder
	index    *QdrantIndex
}

// NewService creates a retrieval service. Returns an error if either
// dependency is missing; callers pass nil collaborators through their own
// wiring instead.
func NewService(embedder Embedder, index *QdrantIndex) (*Service, error) {
	if embedder == nil || index == nil {
		return nil, fmt.Errorf("retrieval: embedder and index are required")
	}
	return &Service{embedder: embedder, index: index}, nil
}

// Search embeds the query and returns matching evidence ranked by score.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]model.Evidence, error) {
	if limit <= 0 {
		limit = 5
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("embed query: %v", err), Retryable: true}
	}
	return s.index.Search(ctx, vec, limit)
}

// Healthy probes the underlying index.
func (s *Service) Healthy(ctx context.Context) error {
	return s.index.Healthy(ctx)
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegismed/caseflow/internal/model"
)

func newTestClient(url string) *Client {
	return NewClient(Options{BaseURL: url, APIKey: "test-key", Model: "test-model"})
}

func TestClient_InvokeSuccess(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": `{"ok": true}`}},
			},
			"usage": map[string]int{"total_tokens": 42},
		})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Invoke(context.Background(), PromptSpec{
		System:      "be terse",
		Prompt:      "hello",
		Temperature: 0.1,
		JSONMode:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok": true}`, resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 42, resp.TokensUsed)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "hello", captured.Messages[1].Content)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)

	var decoded struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, resp.Decode(&decoded))
	assert.True(t, decoded.OK)
}

func TestClient_InvokeStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Invoke(context.Background(), PromptSpec{Prompt: "hi"})
			require.Error(t, err)

			var lerr *Error
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tt.status, lerr.Status)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestClient_InvokeEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Invoke(context.Background(), PromptSpec{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestClient_InvokeCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background connection
		// read; otherwise a client disconnect is never detected and
		// r.Context() is never canceled, deadlocking srv.Close.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(srv.URL).Invoke(ctx, PromptSpec{Prompt: "hi"})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestClient_ProviderDefaults(t *testing.T) {
	assert.Equal(t, "http://localhost:11434/v1", NewClient(Options{Provider: "ollama"}).baseURL)
	assert.Equal(t, "https://api.openai.com/v1", NewClient(Options{Provider: "openai"}).baseURL)
	assert.Equal(t, "http://example.test/v1", NewClient(Options{Provider: "ollama", BaseURL: "http://example.test/v1"}).baseURL)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&Error{Status: 429, Retryable: true}))
	assert.False(t, IsRetryable(&Error{Status: 400}))
	assert.False(t, IsRetryable(errors.New("opaque failure")))
}

func TestStructuredResponse_DecodeMalformed(t *testing.T) {
	err := StructuredResponse{Content: "not json"}.Decode(&struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode structured response")
}

func TestNoop_ContentSatisfiesEveryStageSchema(t *testing.T) {
	resp, err := Noop{}.Invoke(context.Background(), PromptSpec{Prompt: "anything"})
	require.NoError(t, err)
	assert.Equal(t, "noop", resp.Model)

	var diagnosis model.DiagnosisResult
	require.NoError(t, resp.Decode(&diagnosis))
	require.Len(t, diagnosis.Diagnoses, 1)
	assert.Equal(t, "R69", diagnosis.Diagnoses[0].ICD10Code)
	assert.Equal(t, float32(0.2), diagnosis.Diagnoses[0].Confidence)

	var plan model.TreatmentPlan
	require.NoError(t, resp.Decode(&plan))
	assert.Empty(t, plan.Medications)
	assert.NotEmpty(t, plan.NonPharmacological)

	var review model.SafetyReview
	require.NoError(t, resp.Decode(&review))
	assert.True(t, review.Compliant())
	assert.Equal(t, model.RecommendApproveWithCaveats, review.Recommendation)
}

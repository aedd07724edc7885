package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskgraph/internal/config"
	"taskgraph/internal/domain"
)

func newTestExtractor(t *testing.T, handler http.HandlerFunc) *OpenAIExtractor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIExtractor(config.Config{
		OpenAIAPIKey:       "test-key",
		OpenAIBaseURL:      srv.URL,
		OpenAIModelExtract: "test-model",
		ExtractTimeout:     5 * time.Second,
	})
}

func chatReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

func TestExtractSendsRequestAndParsesTasks(t *testing.T) {
	extractor := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model          string            `json:"model"`
			ResponseFormat map[string]string `json:"response_format"`
			Messages       []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, "test-model", body.Model)
		assert.Equal(t, "json_object", body.ResponseFormat["type"])
		if assert.Len(t, body.Messages, 2) {
			assert.Equal(t, "Alice will draft the plan.", body.Messages[1].Content)
		}

		chatReply(w, `{"tasks":[{"id":"draft","description":"Draft the plan","priority":"high","dependencies":[]},{"id":"review","priority":"low","dependencies":["draft"]}]}`)
	})

	tasks, err := extractor.Extract(context.Background(), "Alice will draft the plan.")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "draft", tasks[0]["id"])
	assert.Equal(t, "high", tasks[0]["priority"])
	assert.Equal(t, []any{"draft"}, tasks[1]["dependencies"])
}

func TestExtractWrapsAPIErrors(t *testing.T) {
	extractor := newTestExtractor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	})

	_, err := extractor.Extract(context.Background(), "anything")
	var providerErr *domain.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestExtractRejectsUnusableReply(t *testing.T) {
	extractor := newTestExtractor(t, func(w http.ResponseWriter, _ *http.Request) {
		chatReply(w, "I could not find any tasks.")
	})

	_, err := extractor.Extract(context.Background(), "anything")
	var providerErr *domain.ProviderError
	require.True(t, errors.As(err, &providerErr))
}

func TestExtractRequiresAPIKey(t *testing.T) {
	extractor := NewOpenAIExtractor(config.Config{OpenAIBaseURL: "http://127.0.0.1:1"})

	_, err := extractor.Extract(context.Background(), "anything")
	var providerErr *domain.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Contains(t, err.Error(), "api key")
}

func TestExtractHonoursContextCancellation(t *testing.T) {
	release := make(chan struct{})
	extractor := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := extractor.Extract(ctx, "anything")
	var providerErr *domain.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseTaskEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{name: "object envelope", content: `{"tasks":[{"id":"a","priority":"low"}]}`, want: 1},
		{name: "bare array", content: `[{"id":"a"},{"id":"b"}]`, want: 2},
		{name: "fenced", content: "```json\n{\"tasks\":[]}\n```", want: 0},
		{name: "missing tasks", content: `{"items":[]}`, wantErr: true},
		{name: "not json", content: `tasks: none`, wantErr: true},
		{name: "scalar", content: `42`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := ParseTaskEnvelope(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, tasks, tt.want)
		})
	}
}

func TestParseTaskEnvelopeKeepsNonObjectsAsNil(t *testing.T) {
	tasks, err := ParseTaskEnvelope(`{"tasks":[{"id":"a"},"oops",null]}`)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.NotNil(t, tasks[0])
	assert.Nil(t, tasks[1])
	assert.Nil(t, tasks[2])
}

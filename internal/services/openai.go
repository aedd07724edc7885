package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"taskgraph/internal/config"
	"taskgraph/internal/domain"
)

const (
	chatCompletionsPath = "/chat/completions"
	defaultTimeout      = 60 * time.Second
	maxErrorBody        = 4 << 10
)

var extractSystemPrompt = `You extract action items from meeting transcripts.
Reply with a single JSON object of the form
{"tasks":[{"id":"short-kebab-id","description":"what must be done","priority":"low|medium|high","dependencies":["id of a task that must finish first"]}]}.
Ids must be unique. Priority must be exactly one of low, medium, high. Use an empty dependencies list when a task depends on nothing. Do not add commentary.`

// OpenAIExtractor turns a transcript into raw task records with the chat
// completions API. Every failure is returned as *domain.ProviderError.
type OpenAIExtractor struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOpenAIExtractor(cfg config.Config) *OpenAIExtractor {
	timeout := cfg.ExtractTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenAIExtractor{
		apiKey:  cfg.OpenAIAPIKey,
		baseURL: strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		model:   cfg.OpenAIModelExtract,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *OpenAIExtractor) Extract(ctx context.Context, transcript string) ([]domain.RawTask, error) {
	if err := s.ensureAPIKey(); err != nil {
		return nil, &domain.ProviderError{Err: err}
	}

	payload := map[string]any{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "system", "content": extractSystemPrompt},
			{"role": "user", "content": transcript},
		},
		"temperature":     0,
		"response_format": map[string]string{"type": "json_object"},
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, &domain.ProviderError{Err: fmt.Errorf("encode extraction payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+chatCompletionsPath, buf)
	if err != nil {
		return nil, &domain.ProviderError{Err: fmt.Errorf("create extraction request: %w", err)}
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Err: fmt.Errorf("openai request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &domain.ProviderError{Err: decodeAPIError(resp)}
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &domain.ProviderError{Err: fmt.Errorf("decode extraction response: %w", err)}
	}

	if len(response.Choices) == 0 {
		return nil, &domain.ProviderError{Err: errors.New("no extraction returned")}
	}

	tasks, err := ParseTaskEnvelope(response.Choices[0].Message.Content)
	if err != nil {
		return nil, &domain.ProviderError{Err: err}
	}
	return tasks, nil
}

// ParseTaskEnvelope decodes the model's reply. It accepts {"tasks":[...]} or
// a bare array. Elements that are not objects come back as nil records so the
// validator reports them by index.
func ParseTaskEnvelope(content string) ([]domain.RawTask, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("model reply is not JSON: %w", err)
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["tasks"].([]any)
		if !ok {
			return nil, errors.New(`model reply has no "tasks" array`)
		}
		items = list
	default:
		return nil, fmt.Errorf("model reply has unexpected shape %T", doc)
	}

	tasks := make([]domain.RawTask, len(items))
	for i, item := range items {
		if obj, ok := item.(map[string]any); ok {
			tasks[i] = obj
		}
	}
	return tasks, nil
}

func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("openai api error: status %d type %s message %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	}

	return fmt.Errorf("openai api error: status %d body %s", resp.StatusCode, string(body))
}

func (s *OpenAIExtractor) ensureAPIKey() error {
	if strings.TrimSpace(s.apiKey) == "" {
		return errors.New("openai api key is not configured")
	}
	return nil
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// StatusError is a non-2xx response from a model endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string   { return fmt.Sprintf("model endpoint returned %d: %s", e.Code, e.Body) }
func (e *StatusError) StatusCode() int { return e.Code }

// TierModel configures the model that serves one tier.
type TierModel struct {
	Name        string
	Temperature float64
	MaxTokens   int
}

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Light   TierModel
	Heavy   TierModel
}

// OpenAIClient implements Client against /chat/completions.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *openai.Client
}

// NewOpenAIClient builds a client; an empty API key falls back to OPENAI_API_KEY.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAIClient{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, tier Tier, prompt, schema string) (string, int64, error) {
	if c.cfg.APIKey == "" {
		return "", 0, fmt.Errorf("openai api key not configured")
	}
	m := c.cfg.Light
	if tier == TierHeavy {
		m = c.cfg.Heavy
	}
	if m.Name == "" {
		return "", 0, fmt.Errorf("no model configured for tier %s", tier)
	}

	req := openai.ChatCompletionRequest{
		Model:       m.Name,
		Temperature: float32(m.Temperature),
		MaxTokens:   m.MaxTokens,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
	}
	if strings.TrimSpace(schema) != "" {
		req.Messages = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Respond with a single JSON object matching this schema:\n" + schema,
		}}, req.Messages...)
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", 0, statusError(err)
	}
	tokens := int64(resp.Usage.TotalTokens)
	if tokens == 0 {
		tokens = int64(resp.Usage.PromptTokens + resp.Usage.CompletionTokens)
	}
	if len(resp.Choices) == 0 {
		return "", tokens, fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, tokens, nil
}

// statusError turns the SDK's HTTP failures into a StatusError so recovery
// classification sees the status code. Transport errors pass through.
func statusError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &StatusError{Code: reqErr.HTTPStatusCode, Body: body}
	}
	return fmt.Errorf("chat completion: %w", err)
}

// DecodeJSON extracts the first JSON object from a model payload into out.
// Models occasionally wrap JSON in prose or code fences.
func DecodeJSON(payload string, out any) error {
	s := strings.TrimSpace(payload)
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j >= 0 && j < len(s)-1 {
		s = s[:j+1]
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}

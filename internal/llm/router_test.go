package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/sentinel/internal/recovery"
	openai "github.com/sashabaranov/go-openai"
)

type recordingClient struct {
	tiers []Tier
}

func (r *recordingClient) Complete(ctx context.Context, tier Tier, prompt, schema string) (string, int64, error) {
	r.tiers = append(r.tiers, tier)
	return "{}", 7, nil
}

func TestRouteByPurpose(t *testing.T) {
	r := NewRouter(nil, 0)
	if r.Route(PurposePlan, 10) != TierLight || r.Route(PurposeSearch, 10) != TierLight {
		t.Fatalf("plan and search should be light")
	}
	if r.Route(PurposeCritique, 10) != TierHeavy || r.Route(PurposeSynthesize, 10) != TierHeavy {
		t.Fatalf("critique and synthesize should be heavy")
	}
}

func TestLengthOverrideOnlyEscalates(t *testing.T) {
	r := NewRouter(nil, 0)
	if got := r.Route(PurposePlan, DefaultLengthThreshold); got != TierLight {
		t.Fatalf("input at threshold stays light, got %s", got)
	}
	if got := r.Route(PurposePlan, DefaultLengthThreshold+1); got != TierHeavy {
		t.Fatalf("input above threshold must be heavy, got %s", got)
	}
	if got := r.Route(PurposeSynthesize, 1); got != TierHeavy {
		t.Fatalf("short synthesize input must not downgrade, got %s", got)
	}
}

func TestCompleteCountsInputOnly(t *testing.T) {
	rc := &recordingClient{}
	r := NewRouter(rc, 100)
	c, err := r.Complete(context.Background(), Request{Purpose: PurposeSearch, Instructions: strings.Repeat("x", 500), Input: "short"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Tier != TierLight || c.Tokens != 7 {
		t.Fatalf("unexpected completion %+v", c)
	}
	if _, err := r.Complete(context.Background(), Request{Purpose: PurposeSearch, Input: strings.Repeat("界", 101)}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if rc.tiers[1] != TierHeavy {
		t.Fatalf("multi-byte input above threshold should escalate")
	}
}

func TestOpenAIClientTokensAndStatus(t *testing.T) {
	var formats []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		format := ""
		if req.ResponseFormat != nil {
			format = string(req.ResponseFormat.Type)
		}
		formats = append(formats, format)
		w.Header().Set("Content-Type", "application/json")
		switch req.Model {
		case "limited":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
			return
		case "gated":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"access denied"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": `{"ok":true}`}}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "k", Light: TierModel{Name: "mini"}, Heavy: TierModel{Name: "limited"}})
	payload, tokens, err := c.Complete(context.Background(), TierLight, "hi", `{"type":"object"}`)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if tokens != 15 || !strings.Contains(payload, "ok") {
		t.Fatalf("unexpected payload=%q tokens=%d", payload, tokens)
	}
	_, _, err = c.Complete(context.Background(), TierHeavy, "hi", "")
	if err == nil {
		t.Fatalf("expected status error")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests || se.Body != "slow down" {
		t.Fatalf("expected 429 StatusError, got %v", err)
	}
	if k := recovery.Classify("model", err).Kind; k != recovery.KindRateLimited {
		t.Fatalf("429 should classify as rate-limited, got %s", k)
	}
	if len(formats) != 2 || formats[0] != string(openai.ChatCompletionResponseFormatTypeJSONObject) || formats[1] != "" {
		t.Fatalf("response formats = %v", formats)
	}

	gated := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Light: TierModel{Name: "gated"}})
	_, _, err = gated.Complete(context.Background(), TierLight, "hi", "")
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
	if k := recovery.Classify("model", err).Kind; k != recovery.KindBlocked {
		t.Fatalf("403 should classify as blocked, got %s", k)
	}
}

func TestDecodeJSONStripsFences(t *testing.T) {
	var out struct {
		Subtasks []string `json:"subtasks"`
	}
	if err := DecodeJSON("```json\n{\"subtasks\":[\"a\",\"b\"]}\n```", &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if len(out.Subtasks) != 2 {
		t.Fatalf("unexpected %+v", out)
	}
}

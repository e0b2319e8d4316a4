package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"github.com/mohammad-safakhou/sentinel/internal/llm"
)

// Label is the sentiment of one text.
type Label struct {
	Key      string  `json:"key"`
	Polarity string  `json:"polarity"`
	Score    float64 `json:"score"`
}

const sentimentSchema = `{"type":"object","properties":{"labels":{"type":"array","items":{"type":"object","properties":{
"key":{"type":"string"},"polarity":{"enum":["positive","negative","neutral"]},"score":{"type":"number"}},"required":["key","polarity"]}}},"required":["labels"]}`

var (
	positiveTerms = []string{"good", "great", "growth", "success", "record", "praise", "win", "strong", "好评", "利好", "增长", "成功", "支持"}
	negativeTerms = []string{"bad", "fail", "loss", "scandal", "recall", "crash", "weak", "lawsuit", "差评", "利空", "下跌", "失败", "投诉", "翻车"}
)

// Sentiment labels the polarity of item texts with the light model tier,
// or with a small lexicon when no model is configured.
type Sentiment struct {
	router *llm.Router
}

// NewSentiment builds the capability. router may be nil.
func NewSentiment(router *llm.Router) *Sentiment { return &Sentiment{router: router} }

func (s *Sentiment) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:          "sentiment",
		Version:       "1.0.0",
		Description:   "Labels texts as positive, negative or neutral.",
		InputSchema:   capability.ObjectSchema(map[string]string{"keys": "array", "texts": "array"}, "keys", "texts"),
		ResourceClass: "model",
	}
}

// Execute returns []Label as Output.Data.
func (s *Sentiment) Execute(ctx context.Context, args capability.Arguments) (capability.Output, error) {
	keys := rawStrings(args["keys"])
	texts := rawStrings(args["texts"])
	if len(keys) != len(texts) {
		return capability.Output{}, fmt.Errorf("keys and texts differ in length: %d != %d", len(keys), len(texts))
	}
	var labels []Label
	var tokens int64
	if s.router == nil {
		labels = lexicon(keys, texts)
	} else {
		var b strings.Builder
		for i := range keys {
			fmt.Fprintf(&b, "%s\t%s\n", keys[i], strings.ReplaceAll(texts[i], "\n", " "))
		}
		comp, err := s.router.Complete(ctx, llm.Request{
			Purpose:      llm.PurposeClassify,
			Instructions: "Classify the sentiment of each line (key<TAB>text). Answer with one label per key.",
			Input:        b.String(),
			Schema:       sentimentSchema,
		})
		tokens = comp.Tokens
		if err != nil {
			return capability.Output{Tokens: tokens}, err
		}
		var p struct {
			Labels []Label `json:"labels"`
		}
		if err := llm.DecodeJSON(comp.Payload, &p); err != nil {
			labels = lexicon(keys, texts)
		} else {
			labels = p.Labels
		}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return capability.Output{}, err
	}
	return capability.Output{Data: data, Tokens: tokens}, nil
}

func lexicon(keys, texts []string) []Label {
	out := make([]Label, 0, len(keys))
	for i, k := range keys {
		lower := strings.ToLower(texts[i])
		score := 0.0
		for _, t := range positiveTerms {
			score += float64(strings.Count(lower, t))
		}
		for _, t := range negativeTerms {
			score -= float64(strings.Count(lower, t))
		}
		pol := "neutral"
		switch {
		case score > 0:
			pol = "positive"
		case score < 0:
			pol = "negative"
		}
		out = append(out, Label{Key: k, Polarity: pol, Score: score})
	}
	return out
}

// rawStrings keeps blank entries so keys and texts stay aligned.
func rawStrings(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, it := range vv {
			s, _ := it.(string)
			out = append(out, s)
		}
		return out
	}
	return nil
}

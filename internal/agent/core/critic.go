package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"github.com/mohammad-safakhou/sentinel/internal/llm"
)

// PlatformPriors holds the base reliability of each source platform.
type PlatformPriors map[string]float64

// DefaultPriors returns the stock reliability table; "default" covers the rest.
func DefaultPriors() PlatformPriors {
	return PlatformPriors{
		"zhihu":       0.7,
		"wechat":      0.6,
		"xiaohongshu": 0.5,
		"douyin":      0.4,
		"news":        0.8,
		"web":         0.6,
		"memory":      0.6,
		"default":     0.5,
	}
}

// Prior scores an item from source reliability, engagement and content length.
func (p PlatformPriors) Prior(it capability.Item) float64 {
	base, ok := p[strings.ToLower(it.Platform)]
	if !ok {
		base, ok = p["default"]
		if !ok {
			base = 0.5
		}
	}
	switch {
	case it.Engagement > 1000:
		base += 0.1
	case it.Engagement > 100:
		base += 0.05
	}
	if len([]rune(strings.TrimSpace(it.Content))) < 50 {
		base -= 0.1
	}
	return clamp01(base)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const critiqueSchema = `{
  "type": "object",
  "properties": {
    "scores": {"type": "array", "items": {"type": "object", "properties": {
      "key": {"type": "string"}, "score": {"type": "number", "minimum": 0, "maximum": 1}
    }, "required": ["key", "score"]}},
    "contradictions": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["scores"]
}`

const critiqueInstructions = `Rate the credibility of each item from 0 to 1. Consider source reliability, internal
consistency, specificity and whether items contradict one another. List any contradictions
between items as short notes. ITEMS:`

type critiquePayload struct {
	Scores []struct {
		Key   string  `json:"key"`
		Score float64 `json:"score"`
	} `json:"scores"`
	Contradictions []string `json:"contradictions"`
}

type promptItem struct {
	Key      string  `json:"key"`
	Platform string  `json:"platform,omitempty"`
	Title    string  `json:"title,omitempty"`
	Content  string  `json:"content,omitempty"`
	Prior    float64 `json:"prior"`
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}

// Critique scores every collected item. The final score averages the source
// prior with the model's score; items the model skips keep their prior.
// Contradictions are reported in the observation only.
func (x *StepExecutor) Critique(ctx context.Context, r *run) error {
	start := time.Now()
	items := r.task.itemsSnapshot()
	if len(items) == 0 {
		r.emit(ctx, "Nothing to critique", "critique", "0 items", 0, time.Since(start))
		return nil
	}

	priors := make(map[string]float64, len(items))
	listing := make([]promptItem, 0, len(items))
	for _, it := range items {
		priors[it.Key()] = x.cfg.Priors.Prior(it)
		listing = append(listing, promptItem{Key: it.Key(), Platform: it.Platform, Title: truncate(it.Title, 120), Content: truncate(it.Content, 400), Prior: priors[it.Key()]})
	}

	var notes []string
	var tokens int64
	notes = append(notes, x.sentimentNotes(ctx, r, items)...)

	scores := make(map[string]float64, len(items))
	for k, v := range priors {
		scores[k] = v
	}
	if x.router != nil {
		comp, err := x.complete(ctx, r, llm.Request{
			Purpose:      llm.PurposeCritique,
			Instructions: critiqueInstructions,
			Input:        marshalCompact(listing),
			Schema:       critiqueSchema,
		})
		tokens = comp.Tokens
		if err != nil {
			return err
		}
		var p critiquePayload
		if err := llm.DecodeJSON(comp.Payload, &p); err != nil {
			x.logger.Printf("warn: task %s: %v", r.task.ID(), err)
			notes = append(notes, "model scores unreadable, using source priors")
		} else {
			for _, s := range p.Scores {
				if prior, ok := priors[s.Key]; ok {
					scores[s.Key] = clamp01((prior + clamp01(s.Score)) / 2)
				}
			}
			notes = append(notes, p.Contradictions...)
		}
	}
	r.task.setScores(scores)

	var sum float64
	for _, v := range scores {
		sum += v
	}
	obs := fmt.Sprintf("scored %d items, mean credibility %.2f", len(scores), sum/float64(len(scores)))
	if len(notes) > 0 {
		obs += "; contradictions: " + strings.Join(notes, "; ")
	}
	r.emit(ctx, "Assessing credibility of collected items", "critique", obs, tokens, time.Since(start))
	return nil
}

type sentimentLabel struct {
	Key      string  `json:"key"`
	Polarity string  `json:"polarity"`
	Score    float64 `json:"score"`
}

// sentimentNotes flags keywords whose items disagree in polarity. It is
// advisory: a failed call is noted and never retried.
func (x *StepExecutor) sentimentNotes(ctx context.Context, r *run, items []capability.Item) []string {
	if x.invoker == nil || !x.invoker.Registry().Has(CapSentiment) {
		return nil
	}
	if err := r.checkCancel(ctx); err != nil {
		return nil
	}
	keys := make([]string, 0, len(items))
	texts := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key())
		texts = append(texts, truncate(it.Text(), 400))
	}
	res, err := x.invoker.Invoke(ctx, CapSentiment, capability.Arguments{"keys": keys, "texts": texts})
	r.addTokens(CapSentiment, res.Tokens)
	if err != nil {
		x.logger.Printf("warn: task %s: sentiment: %v", r.task.ID(), err)
		return []string{"sentiment unavailable"}
	}
	var labels []sentimentLabel
	if err := json.Unmarshal(res.Output.Data, &labels); err != nil {
		return nil
	}
	return contradictionNotes(items, labels)
}

// contradictionNotes groups items by shared keyword and reports groups with
// both positive and negative members.
func contradictionNotes(items []capability.Item, labels []sentimentLabel) []string {
	polarity := make(map[string]string, len(labels))
	for _, l := range labels {
		polarity[l.Key] = strings.ToLower(l.Polarity)
	}
	type tally struct{ pos, neg int }
	groups := map[string]*tally{}
	var order []string
	for _, it := range items {
		pol := polarity[it.Key()]
		if pol != "positive" && pol != "negative" {
			continue
		}
		for _, kw := range it.Keywords {
			k := NormalizeKeyword(kw)
			if k == "" {
				continue
			}
			g, ok := groups[k]
			if !ok {
				g = &tally{}
				groups[k] = g
				order = append(order, k)
			}
			if pol == "positive" {
				g.pos++
			} else {
				g.neg++
			}
		}
	}
	var notes []string
	for _, k := range order {
		if g := groups[k]; g.pos > 0 && g.neg > 0 {
			notes = append(notes, fmt.Sprintf("conflicting sentiment on %q (%d positive, %d negative)", k, g.pos, g.neg))
		}
	}
	return notes
}

const synthesizeInstructions = `Write a concise intelligence brief that answers the command below using only the
listed items. Cite item keys in brackets. Note uncertainty where credibility is low.`

// Synthesize writes the result summary over items at or above the
// credibility threshold.
func (x *StepExecutor) Synthesize(ctx context.Context, r *run) error {
	start := time.Now()
	scores := r.task.scoresSnapshot()
	var credible []capability.Item
	for _, it := range r.task.itemsSnapshot() {
		if scores[it.Key()] >= x.cfg.MinCredibility {
			credible = append(credible, it)
		}
	}
	sortByScore(credible, scores)

	var summary string
	var tokens int64
	switch {
	case len(credible) == 0:
		summary = fmt.Sprintf("No credible intelligence found for %q (%d items collected, none at or above %.2f credibility).",
			r.task.command, r.task.itemCount(), x.cfg.MinCredibility)
	case x.router == nil:
		summary = digest(r.task.command, credible, scores)
	default:
		listing := make([]promptItem, 0, len(credible))
		for _, it := range credible {
			listing = append(listing, promptItem{Key: it.Key(), Platform: it.Platform, Title: truncate(it.Title, 160), Content: truncate(it.Content, 800), Prior: scores[it.Key()]})
		}
		comp, err := x.complete(ctx, r, llm.Request{
			Purpose:      llm.PurposeSynthesize,
			Instructions: synthesizeInstructions + "\nCOMMAND: " + r.task.command + "\nITEMS:",
			Input:        marshalCompact(listing),
		})
		tokens = comp.Tokens
		if err != nil {
			return err
		}
		summary = strings.TrimSpace(comp.Payload)
	}
	r.task.setResult(summary)
	r.emit(ctx, "Synthesizing final result", "synthesize", fmt.Sprintf("summary over %d credible items", len(credible)), tokens, time.Since(start))
	return nil
}

// digest is the model-free summary: the top items by credibility.
func digest(command string, items []capability.Item, scores map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d credible items for %q:\n", len(items), command)
	for i, it := range items {
		if i == 10 {
			fmt.Fprintf(&b, "… and %d more\n", len(items)-i)
			break
		}
		title := it.Title
		if title == "" {
			title = truncate(it.Content, 80)
		}
		fmt.Fprintf(&b, "- [%s] %s (%.2f)\n", it.Key(), title, scores[it.Key()])
	}
	return strings.TrimSpace(b.String())
}

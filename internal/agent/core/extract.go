package core

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"github.com/mohammad-safakhou/sentinel/internal/llm"
)

// KeywordExtractor proposes follow-up keywords from search results.
type KeywordExtractor interface {
	Extract(ctx context.Context, query string, items []capability.Item) (keywords []string, tokens int64, err error)
}

var (
	hashtagRe   = regexp.MustCompile(`#([\p{L}\p{N}_]{2,30})#?`)
	quotedRe    = regexp.MustCompile(`[“"「《]([^”"」》]{2,30})[”"」》]`)
	titleCaseRe = regexp.MustCompile(`\b([A-Z][\p{L}\p{N}]+(?:\s+[A-Z][\p{L}\p{N}]+){0,3})\b`)
)

// HeuristicExtractor picks hashtags, quoted phrases, capitalised phrases and
// known entities that recur across items. It spends no tokens.
type HeuristicExtractor struct {
	// MinItems is how many distinct items must mention a candidate; zero means 2.
	MinItems int
	// Known entities are accepted from a single mention.
	Known []string
	// Max caps the result; zero means 5.
	Max int
}

// Extract implements KeywordExtractor.
func (h HeuristicExtractor) Extract(_ context.Context, query string, items []capability.Item) ([]string, int64, error) {
	minItems := h.MinItems
	if minItems <= 0 {
		minItems = 2
	}
	max := h.Max
	if max <= 0 {
		max = 5
	}
	qnorm := NormalizeKeyword(query)
	counts := map[string]int{}
	display := map[string]string{}
	known := map[string]bool{}
	for _, k := range h.Known {
		known[NormalizeKeyword(k)] = true
	}

	for _, it := range items {
		text := it.Text()
		lower := strings.ToLower(text)
		inItem := map[string]string{}
		add := func(c string) {
			c = strings.TrimSpace(c)
			n := NormalizeKeyword(c)
			if n == "" || len([]rune(n)) < 2 || strings.Contains(qnorm, n) {
				return
			}
			if _, stop := stopwords[n]; stop {
				return
			}
			inItem[n] = c
		}
		for _, m := range hashtagRe.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
		for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
		for _, m := range titleCaseRe.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
		for _, k := range h.Known {
			if strings.Contains(lower, NormalizeKeyword(k)) {
				add(k)
			}
		}
		for _, kw := range it.Keywords {
			add(kw)
		}
		for n, c := range inItem {
			counts[n]++
			if _, ok := display[n]; !ok {
				display[n] = c
			}
		}
	}

	type cand struct {
		norm  string
		count int
	}
	var cands []cand
	for n, c := range counts {
		if c >= minItems || known[n] {
			cands = append(cands, cand{n, c})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].count != cands[j].count {
			return cands[i].count > cands[j].count
		}
		return cands[i].norm < cands[j].norm
	})
	out := make([]string, 0, max)
	for _, c := range cands {
		if len(out) == max {
			break
		}
		out = append(out, display[c.norm])
	}
	return out, 0, nil
}

const keywordSchema = `{"type":"object","properties":{"keywords":{"type":"array","items":{"type":"string"}}},"required":["keywords"]}`

// ModelExtractor asks the light tier for follow-up keywords and falls back to
// the heuristic when the model fails.
type ModelExtractor struct {
	Router   *llm.Router
	Fallback HeuristicExtractor
	Max      int
}

// Extract implements KeywordExtractor.
func (m ModelExtractor) Extract(ctx context.Context, query string, items []capability.Item) ([]string, int64, error) {
	if m.Router == nil {
		return m.Fallback.Extract(ctx, query, items)
	}
	max := m.Max
	if max <= 0 {
		max = 5
	}
	var b strings.Builder
	for i, it := range items {
		if i == 20 {
			break
		}
		b.WriteString("- ")
		b.WriteString(truncate(it.Text(), 300))
		b.WriteString("\n")
	}
	comp, err := m.Router.Complete(ctx, llm.Request{
		Purpose:      llm.PurposeSearch,
		Instructions: "List up to 5 new entities, events or phrases worth a follow-up search. Exclude the original query: " + query,
		Input:        b.String(),
		Schema:       keywordSchema,
	})
	if err != nil {
		kws, _, _ := m.Fallback.Extract(ctx, query, items)
		return kws, comp.Tokens, err
	}
	var p struct {
		Keywords []string `json:"keywords"`
	}
	if err := llm.DecodeJSON(comp.Payload, &p); err != nil {
		kws, _, _ := m.Fallback.Extract(ctx, query, items)
		return kws, comp.Tokens, err
	}
	qnorm := NormalizeKeyword(query)
	out := make([]string, 0, max)
	for _, k := range p.Keywords {
		if n := NormalizeKeyword(k); n != "" && n != qnorm && len(out) < max {
			out = append(out, k)
		}
	}
	return out, comp.Tokens, nil
}

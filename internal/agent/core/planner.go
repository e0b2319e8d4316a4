package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/mohammad-safakhou/sentinel/internal/llm"
)

const planSchema = `{
  "type": "object",
  "properties": {
    "subtasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "kind": {"enum": ["search", "scrape", "memory"]},
          "query": {"type": "string"},
          "description": {"type": "string"},
          "platforms": {"type": "array", "items": {"type": "string"}},
          "urls": {"type": "array", "items": {"type": "string"}},
          "since": {"type": "string", "format": "date-time"},
          "until": {"type": "string", "format": "date-time"}
        },
        "required": ["kind", "query"]
      }
    }
  },
  "required": ["subtasks"]
}`

func planInstructions(platforms []string, maxSubTasks int) string {
	return fmt.Sprintf(`You plan intelligence-gathering work. Decompose the command into 2 to %d ordered sub-tasks.
Kinds: "search" queries platforms for fresh content, "scrape" fetches full detail for known URLs,
"memory" queries previously collected intelligence.
Known platforms: %s. Use concise search queries. Today is %s.
COMMAND:`, maxSubTasks, platformLabel(platforms), time.Now().UTC().Format("2006-01-02"))
}

// Plan decomposes the task's command. A model that cannot be reached or
// returns malformed output yields the keyword plan; a well-formed answer with
// no sub-tasks is a PlanningError.
func (x *StepExecutor) Plan(ctx context.Context, r *run) ([]SubTask, error) {
	start := time.Now()
	command := r.task.command
	platforms := r.opts.Platforms
	if len(platforms) == 0 {
		platforms = x.cfg.DefaultPlatforms
	}

	var (
		subtasks []SubTask
		tokens   int64
		note     string
	)
	if x.router == nil {
		subtasks = x.keywordPlan(command, platforms)
		note = "no planning model configured, using keyword plan"
	} else {
		comp, err := x.complete(ctx, r, llm.Request{
			Purpose:      llm.PurposePlan,
			Instructions: planInstructions(platforms, x.cfg.MaxSubTasks),
			Input:        command,
			Schema:       planSchema,
		})
		tokens = comp.Tokens
		var ce *CancellationError
		switch {
		case errors.As(err, &ce):
			return nil, err
		case err != nil:
			if r.task.Phase() == PhaseRecovering {
				if terr := r.transition(ctx, PhasePlanning, "Planning model unavailable, falling back to keyword plan", err.Error()); terr != nil {
					return nil, terr
				}
			}
			subtasks = x.keywordPlan(command, platforms)
			note = "model unavailable, using keyword plan"
		default:
			parsed, perr := parsePlan(comp.Payload)
			if perr != nil {
				x.logger.Printf("warn: task %s: %v", r.task.ID(), perr)
				subtasks = x.keywordPlan(command, platforms)
				note = "unparseable plan, using keyword plan"
			} else if len(parsed) == 0 {
				return nil, &PlanningError{Reason: "model returned zero sub-tasks"}
			} else {
				subtasks = parsed
			}
		}
	}

	if len(subtasks) > x.cfg.MaxSubTasks {
		subtasks = subtasks[:x.cfg.MaxSubTasks]
	}
	for i := range subtasks {
		subtasks[i].ID = fmt.Sprintf("st-%d", i+1)
		if subtasks[i].Kind == SubTaskSearch && len(subtasks[i].Platforms) == 0 {
			subtasks[i].Platforms = platforms
		}
	}
	r.task.setSubTasks(subtasks)

	queries := make([]string, 0, len(subtasks))
	for _, st := range subtasks {
		queries = append(queries, fmt.Sprintf("%s:%s", st.Kind, st.Query))
	}
	obs := fmt.Sprintf("%d sub-tasks: %s", len(subtasks), strings.Join(queries, "; "))
	if note != "" {
		obs += " (" + note + ")"
	}
	r.emit(ctx, fmt.Sprintf("Decomposing command %q", command), "plan", obs, tokens, time.Since(start))
	return subtasks, nil
}

type planPayload struct {
	SubTasks []planEntry `json:"subtasks"`
	Tasks    []planEntry `json:"tasks"`
}

type planEntry struct {
	Kind        string   `json:"kind"`
	Type        string   `json:"type"`
	Query       string   `json:"query"`
	Description string   `json:"description"`
	Platforms   []string `json:"platforms"`
	URLs        []string `json:"urls"`
	Since       string   `json:"since"`
	Until       string   `json:"until"`
	Limit       int      `json:"limit"`
	Params      struct {
		Query     string   `json:"query"`
		Keywords  []string `json:"keywords"`
		Platforms []string `json:"platforms"`
	} `json:"params"`
}

// parsePlan decodes a plan payload. Entries of unknown kind, or without the
// data their kind needs, are dropped.
func parsePlan(payload string) ([]SubTask, error) {
	var p planPayload
	if err := llm.DecodeJSON(payload, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	entries := p.SubTasks
	if len(entries) == 0 {
		entries = p.Tasks
	}
	out := make([]SubTask, 0, len(entries))
	for _, e := range entries {
		kind := e.Kind
		if kind == "" {
			kind = e.Type
		}
		query := strings.TrimSpace(e.Query)
		if query == "" {
			query = strings.TrimSpace(e.Params.Query)
		}
		if query == "" && len(e.Params.Keywords) > 0 {
			query = strings.Join(e.Params.Keywords, " ")
		}
		platforms := e.Platforms
		if len(platforms) == 0 {
			platforms = e.Params.Platforms
		}
		st := SubTask{Query: query, Description: e.Description, Platforms: platforms, URLs: e.URLs, Limit: e.Limit}
		switch strings.ToLower(kind) {
		case "search", "research", "platform_search":
			st.Kind = SubTaskSearch
		case "scrape", "fetch", "fetch_detail":
			st.Kind = SubTaskScrape
		case "memory", "memory_search", "timeline", "timeline_query":
			st.Kind = SubTaskMemory
		default:
			continue
		}
		if st.Kind == SubTaskScrape && len(st.URLs) == 0 {
			continue
		}
		if st.Kind != SubTaskScrape && st.Query == "" {
			continue
		}
		st.Since = parseTime(e.Since)
		st.Until = parseTime(e.Until)
		out = append(out, st)
	}
	return out, nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// keywordPlan is the plan used when no model plan is available. Stored
// intelligence is consulted too when the timeline capability is registered.
func (x *StepExecutor) keywordPlan(command string, platforms []string) []SubTask {
	memory := x.invoker != nil && x.invoker.Registry().Has(CapTimelineQuery)
	return fallbackPlan(command, platforms, x.cfg.MaxSubTasks, memory)
}

// fallbackPlan searches the command's key terms on each platform. With
// memory set, a plan of fewer than two searches is topped up with a query
// against stored intelligence.
func fallbackPlan(command string, platforms []string, limit int, memory bool) []SubTask {
	query := strings.Join(extractTerms(command, 5), " ")
	if query == "" {
		query = strings.TrimSpace(command)
	}
	out := make([]SubTask, 0, len(platforms)+1)
	if len(platforms) == 0 {
		out = append(out, SubTask{Kind: SubTaskSearch, Query: query, Description: "keyword search"})
	}
	for _, p := range platforms {
		if len(out) == limit {
			break
		}
		out = append(out, SubTask{Kind: SubTaskSearch, Query: query, Platforms: []string{p}, Description: "keyword search on " + p})
	}
	if memory && len(out) < 2 && len(out) < limit {
		out = append(out, SubTask{Kind: SubTaskMemory, Query: query, Description: "stored intelligence"})
	}
	return out
}

var termSplit = regexp.MustCompile(`[\s,.;:!?，。；：！？、"'()\[\]]+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "on": {}, "for": {},
	"about": {}, "with": {}, "what": {}, "how": {}, "is": {}, "are": {}, "be": {}, "me": {}, "my": {},
	"monitor": {}, "track": {}, "find": {}, "search": {}, "analyze": {}, "analyse": {}, "latest": {},
	"news": {}, "please": {}, "show": {}, "tell": {}, "any": {}, "all": {}, "from": {}, "at": {},
	"的": {}, "了": {}, "是": {}, "在": {}, "和": {}, "与": {}, "关于": {}, "监控": {}, "分析": {}, "最新": {},
}

// extractTerms returns up to max distinct non-stopword terms in order of appearance.
func extractTerms(text string, max int) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, w := range termSplit.Split(text, -1) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if w == "" {
			continue
		}
		lw := strings.ToLower(w)
		if _, stop := stopwords[lw]; stop {
			continue
		}
		if len([]rune(lw)) < 2 {
			continue
		}
		if _, dup := seen[lw]; dup {
			continue
		}
		seen[lw] = struct{}{}
		out = append(out, w)
		if len(out) == max {
			break
		}
	}
	return out
}

// marshalCompact renders v for prompts, ignoring errors on plain data.
func marshalCompact(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

package tools

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"github.com/mohammad-safakhou/sentinel/internal/knowledge"
)

// TimelineQuery serves previously collected intelligence from the
// knowledge index.
type TimelineQuery struct {
	index *knowledge.Index
}

// NewTimelineQuery builds the capability over index.
func NewTimelineQuery(index *knowledge.Index) *TimelineQuery { return &TimelineQuery{index: index} }

func (t *TimelineQuery) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        "timeline_query",
		Version:     "1.0.0",
		Description: "Queries stored intelligence from earlier tasks, newest first.",
		InputSchema: capability.ObjectSchema(map[string]string{
			"query": "string", "platforms": "array", "since": "string", "until": "string", "limit": "integer",
		}, "query"),
		ResourceClass: "knowledge",
	}
}

func (t *TimelineQuery) Execute(ctx context.Context, args capability.Arguments) (capability.Output, error) {
	if err := args.Require("query"); err != nil {
		return capability.Output{}, err
	}
	hits, err := t.index.Search(ctx, knowledge.Query{
		Text:      args.String("query"),
		Platforms: args.Strings("platforms"),
		Since:     args.Time("since"),
		Until:     args.Time("until"),
		Limit:     args.Int("limit", 20),
	})
	if err != nil {
		return capability.Output{}, fmt.Errorf("timeline: %w", err)
	}
	out := capability.Output{Items: make([]capability.Item, 0, len(hits))}
	for _, h := range hits {
		it := h.Item
		if it.Metadata == nil {
			it.Metadata = map[string]interface{}{}
		}
		it.Metadata["stored_credibility"] = h.Credibility
		out.Items = append(out.Items, it)
	}
	return out, nil
}

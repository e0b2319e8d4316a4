package core

import (
	"strings"
	"testing"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
)

func TestPriorAdjustsForEngagementAndLength(t *testing.T) {
	p := DefaultPriors()
	long := strings.Repeat("detail ", 20)
	cases := []struct {
		item capability.Item
		want float64
	}{
		{capability.Item{Platform: "news", Content: long}, 0.8},
		{capability.Item{Platform: "news", Content: long, Engagement: 5000}, 0.9},
		{capability.Item{Platform: "douyin", Content: "short"}, 0.3},
		{capability.Item{Platform: "unknown", Content: long, Engagement: 200}, 0.55},
	}
	for _, tc := range cases {
		if got := p.Prior(tc.item); got < tc.want-1e-9 || got > tc.want+1e-9 {
			t.Errorf("%s/%d: got %v want %v", tc.item.Platform, tc.item.Engagement, got, tc.want)
		}
	}
}

func TestContradictionNotes(t *testing.T) {
	items := []capability.Item{
		{Source: "a", ID: "1", Keywords: []string{"Recall"}},
		{Source: "a", ID: "2", Keywords: []string{"recall", "price"}},
		{Source: "a", ID: "3", Keywords: []string{"price"}},
	}
	labels := []sentimentLabel{
		{Key: "a:1", Polarity: "positive"},
		{Key: "a:2", Polarity: "Negative"},
		{Key: "a:3", Polarity: "neutral"},
	}
	notes := contradictionNotes(items, labels)
	if len(notes) != 1 || !strings.Contains(notes[0], `"recall"`) {
		t.Fatalf("notes = %v", notes)
	}
}

func TestDigestCapsListing(t *testing.T) {
	var items []capability.Item
	scores := map[string]float64{}
	for i := 0; i < 12; i++ {
		it := capability.Item{Source: "s", ID: string(rune('a' + i)), Title: "t"}
		items = append(items, it)
		scores[it.Key()] = 0.5
	}
	out := digest("cmd", items, scores)
	if !strings.Contains(out, "12 credible items") || !strings.Contains(out, "and 2 more") {
		t.Fatalf("digest = %s", out)
	}
}

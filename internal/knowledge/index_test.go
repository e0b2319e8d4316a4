package knowledge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
)

func at(s string) *time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return &t
}

func seed(t *testing.T, x *Index) {
	t.Helper()
	items := []capability.Item{
		{Source: "zhihu", ID: "1", Platform: "zhihu", Title: "Battery recall expands", Content: "the recall now covers older models", PublishedAt: at("2024-03-01T00:00:00Z")},
		{Source: "news", ID: "2", Platform: "news", Title: "Recall costs weigh on margins", Content: "analysts expect a hit", PublishedAt: at("2024-04-01T00:00:00Z")},
		{Source: "wechat", ID: "3", Platform: "wechat", Title: "Undated recall rumor", Content: "unverified"},
		{Source: "news", ID: "4", Platform: "news", Title: "New stadium opens", Content: "sports", PublishedAt: at("2024-04-02T00:00:00Z")},
	}
	scores := map[string]float64{"zhihu:1": 0.7, "news:2": 0.8, "wechat:3": 0.5, "news:4": 0.9}
	if err := x.Index(context.Background(), items, scores); err != nil {
		t.Fatalf("Index: %v", err)
	}
}

func TestSearchTextAndTimeRange(t *testing.T) {
	x, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer x.Close()
	seed(t, x)

	hits, err := x.Search(context.Background(), Query{Text: "recall", Since: *at("2024-03-15T00:00:00Z")})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	keys := map[string]bool{}
	for _, h := range hits {
		keys[h.Item.Key()] = true
	}
	if len(hits) != 2 || !keys["news:2"] || !keys["wechat:3"] {
		t.Fatalf("unexpected hits %+v", keys)
	}
	if hits[0].Item.Key() != "news:2" || hits[0].Credibility != 0.8 {
		t.Fatalf("dated item should sort first with its credibility: %+v", hits[0])
	}
}

func TestSearchByPlatform(t *testing.T) {
	x, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer x.Close()
	seed(t, x)

	hits, err := x.Search(context.Background(), Query{Platforms: []string{"NEWS"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].Item.Key() != "news:4" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if n, _ := x.Count(); n != 4 {
		t.Fatalf("count = %d", n)
	}
}

func TestOpenOnDiskReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.bleve")
	x, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seed(t, x)
	if err := x.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	x, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer x.Close()
	if n, _ := x.Count(); n != 4 {
		t.Fatalf("count after reopen = %d", n)
	}
}

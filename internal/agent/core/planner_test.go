package core

import "testing"

func TestParsePlanAliasesAndFiltering(t *testing.T) {
	payload := "Here you go:\n```json\n" + `{"tasks":[
		{"type":"research","params":{"query":"acme layoffs","platforms":["wechat"]}},
		{"kind":"fetch","urls":["https://example.com/a"]},
		{"kind":"scrape"},
		{"kind":"timeline_query","query":"acme","since":"2024-01-01"},
		{"kind":"dance","query":"x"}
	]}` + "\n```"
	got, err := parsePlan(payload)
	if err != nil {
		t.Fatalf("parsePlan: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 sub-tasks, got %+v", got)
	}
	if got[0].Kind != SubTaskSearch || got[0].Query != "acme layoffs" || got[0].Platforms[0] != "wechat" {
		t.Fatalf("search entry: %+v", got[0])
	}
	if got[1].Kind != SubTaskScrape || len(got[1].URLs) != 1 {
		t.Fatalf("scrape entry: %+v", got[1])
	}
	if got[2].Kind != SubTaskMemory || got[2].Since == nil || got[2].Since.Year() != 2024 {
		t.Fatalf("memory entry: %+v", got[2])
	}
}

func TestParsePlanRejectsGarbage(t *testing.T) {
	if _, err := parsePlan("not json at all"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFallbackPlan(t *testing.T) {
	got := fallbackPlan("Please monitor the latest news about Tesla recall", []string{"zhihu", "wechat", "douyin"}, 2, true)
	if len(got) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(got))
	}
	if got[0].Query != "Tesla recall" || got[1].Platforms[0] != "wechat" || got[1].Kind != SubTaskSearch {
		t.Fatalf("unexpected plan %+v", got)
	}
	if one := fallbackPlan("x", nil, 5, false); len(one) != 1 || one[0].Query != "x" {
		t.Fatalf("no-platform plan %+v", one)
	}
}

func TestFallbackPlanToppedUpWithMemory(t *testing.T) {
	got := fallbackPlan("Track Acme robotics", []string{"zhihu"}, 5, true)
	if len(got) != 2 {
		t.Fatalf("expected search plus memory, got %+v", got)
	}
	if got[0].Kind != SubTaskSearch || got[0].Platforms[0] != "zhihu" {
		t.Fatalf("search entry: %+v", got[0])
	}
	if got[1].Kind != SubTaskMemory || got[1].Query != "Acme robotics" {
		t.Fatalf("memory entry: %+v", got[1])
	}
	if none := fallbackPlan("Track Acme robotics", nil, 5, true); len(none) != 2 || none[1].Kind != SubTaskMemory {
		t.Fatalf("no-platform plan %+v", none)
	}
	if capped := fallbackPlan("Track Acme", []string{"zhihu"}, 1, true); len(capped) != 1 {
		t.Fatalf("limit not honoured: %+v", capped)
	}
}

func TestExtractTermsSkipsStopwords(t *testing.T) {
	got := extractTerms("分析 关于 比亚迪 的 最新 动态, BYD BYD", 5)
	if len(got) != 3 || got[0] != "比亚迪" || got[2] != "BYD" {
		t.Fatalf("terms = %v", got)
	}
}

package config

import "testing"

func TestSourcesNormalize(t *testing.T) {
	cfg := SourcesConfig{
		Engine:    " Brave ",
		Priors:    map[string]float64{" Zhihu ": 2, "douyin": -1, "": 0.5, "news": 0.8},
		Rates:     map[string]float64{"Platform:Zhihu": 0.5, "bad": 0},
		Endpoints: map[string]ProviderConfig{"Douyin": {Endpoint: "http://crawler"}},
		Resources: []ResourceConfig{{Proxy: "http://p1"}, {ID: "named", Score: 0.3}},
	}

	norm := cfg.Normalize()
	if norm.Engine != "brave" {
		t.Fatalf("expected engine brave, got %q", norm.Engine)
	}
	if len(norm.Priors) != 3 {
		t.Fatalf("expected 3 prior entries, got %d", len(norm.Priors))
	}
	if norm.Priors["zhihu"] != 1 {
		t.Fatalf("expected zhihu prior to clamp to 1, got %.2f", norm.Priors["zhihu"])
	}
	if norm.Priors["douyin"] != 0 {
		t.Fatalf("expected douyin prior to clamp to 0, got %.2f", norm.Priors["douyin"])
	}
	if len(norm.Rates) != 1 || norm.Rates["platform:zhihu"] != 0.5 {
		t.Fatalf("unexpected rates: %#v", norm.Rates)
	}
	if _, ok := norm.Endpoints["douyin"]; !ok {
		t.Fatalf("expected endpoint key to be lowercased: %#v", norm.Endpoints)
	}
	if norm.DefaultRate != 1 || norm.Burst != 1 {
		t.Fatalf("expected rate defaults, got %.2f/%d", norm.DefaultRate, norm.Burst)
	}
	if norm.Resources[0].ID != "res-1" || norm.Resources[0].Score != 1 {
		t.Fatalf("unexpected resource defaults: %#v", norm.Resources[0])
	}
	if norm.Resources[1].ID != "named" || norm.Resources[1].Score != 0.3 {
		t.Fatalf("resource overwritten: %#v", norm.Resources[1])
	}
}

func TestSourcesValidate(t *testing.T) {
	cfg := SourcesConfig{Engine: "serper"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	bad := SourcesConfig{Engine: "bing"}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected validation error for engine")
	}

	missing := SourcesConfig{Engine: "serper", Endpoints: map[string]ProviderConfig{"douyin": {}}}
	if err := missing.Validate(); err == nil {
		t.Fatalf("expected validation error for endpoint")
	}
}

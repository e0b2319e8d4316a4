package config

import "testing"

func TestFetchPolicyNormalize(t *testing.T) {
	cfg := FetchPolicyConfig{
		Allow:    []string{"Example.com", "https://news.example.com/path", " "},
		Disallow: []string{"www.Bad.com", "BAD.com"},
	}

	norm := cfg.Normalize()
	if len(norm.Allow) != 2 || norm.Allow[0] != "example.com" || norm.Allow[1] != "news.example.com" {
		t.Fatalf("unexpected allow list: %#v", norm.Allow)
	}
	if len(norm.Disallow) != 1 || norm.Disallow[0] != "bad.com" {
		t.Fatalf("unexpected disallow list: %#v", norm.Disallow)
	}
}

func TestFetchPolicyValidate(t *testing.T) {
	valid := FetchPolicyConfig{Allow: []string{"example.com"}, Disallow: []string{"blocked.com"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	conflict := FetchPolicyConfig{Allow: []string{"example.com"}, Disallow: []string{"www.example.com"}}
	if err := conflict.Validate(); err == nil {
		t.Fatalf("expected conflict validation error")
	}
}

func TestFetchPolicyPermits(t *testing.T) {
	open := FetchPolicyConfig{Disallow: []string{"bad.com"}}.Normalize()
	cases := map[string]bool{
		"https://example.org/a":     true,
		"https://bad.com/x":         false,
		"https://cdn.bad.com/x":     false,
		"https://notbad.com/x":      true,
		"http://www.bad.com:8080/x": false,
		"::not a url":               true,
	}
	for raw, want := range cases {
		if got := open.Permits(raw); got != want {
			t.Fatalf("Permits(%q) = %v, want %v", raw, got, want)
		}
	}

	strict := FetchPolicyConfig{Allow: []string{"example.com"}}.Normalize()
	if !strict.Permits("https://news.example.com/a") {
		t.Fatalf("expected subdomain of allowed host to pass")
	}
	if strict.Permits("https://other.org/a") {
		t.Fatalf("expected host outside allow list to be refused")
	}
}

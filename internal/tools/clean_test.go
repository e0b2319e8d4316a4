package tools

import "testing"

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "defaults https and cleans path",
			in:   "Example.com/news/../tech/latest",
			want: "https://example.com/tech/latest",
		},
		{
			name: "removes default port and tracking params",
			in:   "http://news.example.com:80/article?id=123&utm_source=rss#section",
			want: "http://news.example.com/article?id=123",
		},
		{
			name: "sorts query parameters and preserves trailing slash",
			in:   "https://example.com/path/?b=2&a=1&fbclid=xyz",
			want: "https://example.com/path/?a=1&b=2",
		},
		{
			name: "handles schemeless url with double slash",
			in:   "//blog.example.com/post/42?utm_medium=email",
			want: "https://blog.example.com/post/42",
		},
		{
			name: "normalises repeated slashes",
			in:   "https://example.com//a//b///c",
			want: "https://example.com/a/b/c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := canonicalURL(tt.in)
			if err != nil {
				t.Fatalf("canonicalURL() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("canonicalURL() got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := canonicalURL("  "); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestItemIDIgnoresTracking(t *testing.T) {
	a := itemID("https://www.zhihu.com/question/1?utm_source=wechat#answer")
	b := itemID("https://WWW.zhihu.com/question/1")
	if a != b {
		t.Fatalf("expected same id, got %s and %s", a, b)
	}
}

func TestPlainTextStripsMarkup(t *testing.T) {
	got := plainText(`<p>Hello <strong>world</strong><script>alert('x')</script> &amp; more</p>`)
	if want := "Hello world & more"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := plainText("  no markup  "); got != "no markup" {
		t.Fatalf("unexpected %q", got)
	}
}

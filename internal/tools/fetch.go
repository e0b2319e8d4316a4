package tools

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/sentinel/internal/capability"
)

// DefaultMaxChars caps extracted article text.
const DefaultMaxChars = 20000

// Page is one fetched and extracted document.
type Page struct {
	URL      string
	Title    string
	Byline   string
	SiteName string
	Excerpt  string
	Text     string
	HTMLHash string
}

// Fetcher retrieves the raw HTML of a URL.
type Fetcher interface {
	FetchHTML(ctx context.Context, class, rawURL string) (string, error)
}

// HTTPFetcher fetches with a plain HTTP GET.
type HTTPFetcher struct {
	Client *HTTPClient
}

func (f HTTPFetcher) FetchHTML(ctx context.Context, class, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	body, err := f.Client.Do(ctx, class, req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ChromeFetcher renders the page in headless Chrome, for sites that build
// their content with JavaScript.
type ChromeFetcher struct {
	UserAgent string
}

func (f ChromeFetcher) FetchHTML(ctx context.Context, _ string, rawURL string) (string, error) {
	ua := f.UserAgent
	if ua == "" {
		ua = "SentinelAgent/1.0"
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(ua),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	if looksLikeChallenge([]byte(html)) {
		return "", fmt.Errorf("challenge: verification page served for %s", rawURL)
	}
	return html, nil
}

// Extract runs readability over html.
func Extract(html, rawURL string, maxChars int) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return Page{}, fmt.Errorf("extract %s: %w", u.Host, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	sum := sha1.Sum([]byte(html))
	return Page{
		URL:      rawURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		SiteName: article.SiteName,
		Excerpt:  article.Excerpt,
		Text:     text,
		HTMLHash: hex.EncodeToString(sum[:]),
	}, nil
}

// PlatformForHost returns the platform a URL belongs to, or "web".
func PlatformForHost(host string) string {
	host = strings.ToLower(host)
	for platform, site := range PlatformSites {
		if host == site || strings.HasSuffix(host, "."+site) {
			return platform
		}
	}
	return "web"
}

// URLPolicy decides whether a URL may be fetched.
type URLPolicy interface {
	Permits(rawURL string) bool
}

// FetchDetail fetches full content for known URLs.
type FetchDetail struct {
	fetcher  Fetcher
	maxChars int
	policy   URLPolicy
	logger   *log.Logger
}

// NewFetchDetail builds the capability.
func NewFetchDetail(fetcher Fetcher, maxChars int, logger *log.Logger) *FetchDetail {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[FETCH] ", log.LstdFlags)
	}
	return &FetchDetail{fetcher: fetcher, maxChars: maxChars, logger: logger}
}

// WithPolicy restricts fetching to URLs the policy permits.
func (f *FetchDetail) WithPolicy(p URLPolicy) *FetchDetail {
	f.policy = p
	return f
}

func (f *FetchDetail) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:          "fetch_detail",
		Version:       "1.0.0",
		Description:   "Fetches and extracts the full text of known URLs.",
		InputSchema:   capability.ObjectSchema(map[string]string{"urls": "array"}, "urls"),
		ResourceClass: "fetch",
		SideEffects:   []string{"network"},
	}
}

// ResourceClass is keyed by the host of the first URL.
func (f *FetchDetail) ResourceClass(args capability.Arguments) string {
	urls := args.Strings("urls")
	if len(urls) == 0 {
		return ""
	}
	u, err := url.Parse(urls[0])
	if err != nil || u.Host == "" {
		return ""
	}
	return "fetch:" + PlatformForHost(u.Host)
}

// Execute fetches each URL in turn. It fails only when every permitted URL
// fails; URLs refused by the policy are skipped.
func (f *FetchDetail) Execute(ctx context.Context, args capability.Arguments) (capability.Output, error) {
	urls := args.Strings("urls")
	if len(urls) == 0 {
		return capability.Output{}, fmt.Errorf("missing required argument %q", "urls")
	}
	class := f.ResourceClass(args)
	var out capability.Output
	var firstErr error
	for _, raw := range urls {
		if err := ctx.Err(); err != nil {
			return capability.Output{}, err
		}
		if f.policy != nil && !f.policy.Permits(raw) {
			f.logger.Printf("skip %s: disallowed by fetch policy", raw)
			continue
		}
		html, err := f.fetcher.FetchHTML(ctx, class, raw)
		if err == nil {
			var page Page
			page, err = Extract(html, raw, f.maxChars)
			if err == nil {
				out.Items = append(out.Items, pageItem(page))
				continue
			}
		}
		f.logger.Printf("warn: fetch %s: %v", raw, err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if len(out.Items) == 0 && firstErr != nil {
		return capability.Output{}, firstErr
	}
	return out, nil
}

func pageItem(p Page) capability.Item {
	host := ""
	if u, err := url.Parse(p.URL); err == nil {
		host = u.Host
	}
	platform := PlatformForHost(host)
	now := time.Now().UTC()
	return capability.Item{
		Source:   platform,
		ID:       itemID(p.URL),
		Platform: platform,
		Title:    p.Title,
		URL:      p.URL,
		Content:  p.Text,
		Author:   p.Byline,
		Metadata: map[string]interface{}{"site_name": p.SiteName, "html_hash": p.HTMLHash, "fetched_at": now.Format(time.RFC3339)},
	}
}


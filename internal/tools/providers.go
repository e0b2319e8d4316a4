package tools

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
)

// PlatformSites maps social platforms to the domains a web search engine can
// be restricted to.
var PlatformSites = map[string]string{
	"zhihu":       "zhihu.com",
	"wechat":      "mp.weixin.qq.com",
	"xiaohongshu": "xiaohongshu.com",
	"douyin":      "douyin.com",
	"weibo":       "weibo.com",
}

// itemID derives a stable id from the canonical form of link.
func itemID(link string) string {
	if c, err := canonicalURL(link); err == nil {
		link = c
	}
	sum := sha1.Sum([]byte(link))
	return hex.EncodeToString(sum[:8])
}

func siteQuery(text, site string) string {
	if site == "" {
		return text
	}
	return text + " site:" + site
}

// recencyBucket picks the coarsest window that still covers since.
func recencyBucket(since time.Time, now time.Time) string {
	if since.IsZero() {
		return ""
	}
	switch age := now.Sub(since); {
	case age <= 24*time.Hour:
		return "d"
	case age <= 7*24*time.Hour:
		return "w"
	case age <= 31*24*time.Hour:
		return "m"
	case age <= 366*24*time.Hour:
		return "y"
	}
	return ""
}

func parseLoose(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// SerperProvider queries Google through serper.dev, optionally restricted
// to one site.
type SerperProvider struct {
	Client   *HTTPClient
	APIKey   string
	Endpoint string
	Platform string
	Site     string
	now      func() time.Time
}

func (s SerperProvider) Search(ctx context.Context, q Query) (Hits, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = "https://google.serper.dev/search"
	}
	payload := map[string]any{"q": siteQuery(q.Text, s.Site), "num": q.Limit}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	if b := recencyBucket(q.Since, now()); b != "" {
		payload["tbs"] = "qdr:" + b
	}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
		RelatedSearches []struct {
			Query string `json:"query"`
		} `json:"relatedSearches"`
	}
	headers := map[string]string{"X-API-KEY": s.APIKey}
	if err := s.Client.DoJSON(ctx, "platform:"+s.Platform, http.MethodPost, endpoint, headers, payload, &raw); err != nil {
		return Hits{}, err
	}
	var out Hits
	for i, r := range raw.Organic {
		if q.Limit > 0 && i >= q.Limit {
			break
		}
		out.Items = append(out.Items, capability.Item{
			Source: s.Platform, ID: itemID(r.Link), Platform: s.Platform,
			Title: plainText(r.Title), URL: r.Link, Content: plainText(r.Snippet), PublishedAt: parseLoose(r.Date),
		})
	}
	for _, r := range raw.RelatedSearches {
		out.Related = append(out.Related, r.Query)
	}
	return out, nil
}

// BraveProvider queries the Brave web search API.
type BraveProvider struct {
	Client   *HTTPClient
	APIKey   string
	Endpoint string
	Platform string
	Site     string
	now      func() time.Time
}

func (b BraveProvider) Search(ctx context.Context, q Query) (Hits, error) {
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	params := url.Values{}
	params.Set("q", siteQuery(q.Text, b.Site))
	if q.Limit > 0 {
		params.Set("count", strconv.Itoa(min(q.Limit, 20)))
	}
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	if bucket := recencyBucket(q.Since, now()); bucket != "" {
		params.Set("freshness", "p"+bucket)
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				PageAge     string `json:"page_age"`
			} `json:"results"`
		} `json:"web"`
		Query struct {
			Altered string `json:"altered"`
		} `json:"query"`
	}
	headers := map[string]string{"X-Subscription-Token": b.APIKey}
	if err := b.Client.DoJSON(ctx, "platform:"+b.Platform, http.MethodGet, endpoint+"?"+params.Encode(), headers, nil, &raw); err != nil {
		return Hits{}, err
	}
	var out Hits
	for _, r := range raw.Web.Results {
		out.Items = append(out.Items, capability.Item{
			Source: b.Platform, ID: itemID(r.URL), Platform: b.Platform,
			Title: plainText(r.Title), URL: r.URL, Content: plainText(r.Description), PublishedAt: parseLoose(r.PageAge),
		})
	}
	if raw.Query.Altered != "" {
		out.Related = append(out.Related, raw.Query.Altered)
	}
	return out, nil
}

// NewsAPIProvider queries newsapi.org's everything endpoint.
type NewsAPIProvider struct {
	Client   *HTTPClient
	APIKey   string
	Endpoint string
}

func (n NewsAPIProvider) Search(ctx context.Context, q Query) (Hits, error) {
	endpoint := n.Endpoint
	if endpoint == "" {
		endpoint = "https://newsapi.org/v2/everything"
	}
	params := url.Values{}
	params.Set("q", q.Text)
	params.Set("sortBy", "publishedAt")
	if q.Limit > 0 {
		params.Set("pageSize", strconv.Itoa(min(q.Limit, 100)))
	}
	if !q.Since.IsZero() {
		params.Set("from", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		params.Set("to", q.Until.UTC().Format(time.RFC3339))
	}
	var raw struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
			Author      string `json:"author"`
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
			PublishedAt string `json:"publishedAt"`
			Content     string `json:"content"`
		} `json:"articles"`
	}
	headers := map[string]string{"X-Api-Key": n.APIKey}
	if err := n.Client.DoJSON(ctx, "platform:news", http.MethodGet, endpoint+"?"+params.Encode(), headers, nil, &raw); err != nil {
		return Hits{}, err
	}
	if raw.Status == "error" {
		return Hits{}, fmt.Errorf("newsapi: %s", raw.Message)
	}
	var out Hits
	for _, a := range raw.Articles {
		content := a.Content
		if content == "" {
			content = a.Description
		}
		out.Items = append(out.Items, capability.Item{
			Source: "news", ID: itemID(a.URL), Platform: "news", Title: plainText(a.Title), URL: a.URL,
			Content: plainText(content), Author: a.Author, PublishedAt: parseLoose(a.PublishedAt),
			Metadata: map[string]interface{}{"outlet": a.Source.Name},
		})
	}
	return out, nil
}

// EndpointProvider calls a platform crawler service that already speaks the
// item format: POST {query, limit, since, until} -> {items, keywords}.
type EndpointProvider struct {
	Client   *HTTPClient
	Endpoint string
	APIKey   string
	Platform string
}

func (e EndpointProvider) Search(ctx context.Context, q Query) (Hits, error) {
	body := map[string]any{"query": q.Text, "limit": q.Limit, "platform": e.Platform}
	if !q.Since.IsZero() {
		body["since"] = q.Since.UTC().Format(time.RFC3339)
	}
	if !q.Until.IsZero() {
		body["until"] = q.Until.UTC().Format(time.RFC3339)
	}
	var raw struct {
		Items    []capability.Item `json:"items"`
		Keywords []string          `json:"keywords"`
	}
	var headers map[string]string
	if e.APIKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + e.APIKey}
	}
	if err := e.Client.DoJSON(ctx, "platform:"+e.Platform, http.MethodPost, e.Endpoint, headers, body, &raw); err != nil {
		return Hits{}, err
	}
	for i := range raw.Items {
		if raw.Items[i].Source == "" {
			raw.Items[i].Source = e.Platform
		}
		if raw.Items[i].ID == "" {
			raw.Items[i].ID = itemID(raw.Items[i].URL + raw.Items[i].Title)
		}
	}
	return Hits{Items: raw.Items, Related: raw.Keywords}, nil
}

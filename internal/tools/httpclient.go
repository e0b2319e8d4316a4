// Package tools implements the capabilities the agent dispatches to.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/resource"
)

// StatusError carries a non-2xx upstream response so the recovery layer can
// classify it by status code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Code, e.Body)
}

// StatusCode reports the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

var challengeMarkers = []string{"captcha", "verify you are human", "安全验证", "请完成验证"}

// HTTPClient performs single-attempt requests. Retries belong to the recovery
// policy, so the client never loops. When a pool is set, requests go through
// the current resource of their class.
type HTTPClient struct {
	timeout time.Duration
	pool    resource.Pool

	mu         sync.Mutex
	transports map[string]*http.Client
}

// NewHTTPClient creates a client. pool may be nil.
func NewHTTPClient(timeout time.Duration, pool resource.Pool) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{timeout: timeout, pool: pool, transports: make(map[string]*http.Client)}
}

func (c *HTTPClient) clientFor(proxy *url.URL) *http.Client {
	key := ""
	if proxy != nil {
		key = proxy.String()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.transports[key]; ok {
		return cl
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		tr.Proxy = http.ProxyURL(proxy)
	}
	cl := &http.Client{Timeout: c.timeout, Transport: tr}
	c.transports[key] = cl
	return cl
}

// Do sends req under class and returns the body of a 2xx response.
func (c *HTTPClient) Do(ctx context.Context, class string, req *http.Request) ([]byte, error) {
	var proxy *url.URL
	if c.pool != nil {
		res, err := c.pool.Current(ctx, class)
		if err == nil {
			if proxy, err = res.ProxyURL(); err != nil {
				return nil, fmt.Errorf("resource %s: %w", res.ID, err)
			}
			if res.Cookie != "" {
				req.Header.Set("Cookie", res.Cookie)
			}
			if res.UserAgent != "" {
				req.Header.Set("User-Agent", res.UserAgent)
			}
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "SentinelAgent/1.0")
	}
	resp, err := c.clientFor(proxy).Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet(body)}
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "html") && looksLikeChallenge(body) {
		return nil, fmt.Errorf("challenge: verification page served for %s", req.URL.Host)
	}
	return body, nil
}

// DoJSON sends body as JSON and decodes the response into out.
func (c *HTTPClient) DoJSON(ctx context.Context, class, method, endpoint string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	raw, err := c.Do(ctx, class, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Host, err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

func looksLikeChallenge(body []byte) bool {
	head := body
	if len(head) > 16<<10 {
		head = head[:16<<10]
	}
	lower := strings.ToLower(string(head))
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

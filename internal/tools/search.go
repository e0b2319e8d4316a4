package tools

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"golang.org/x/sync/errgroup"
)

// Query is what a provider is asked for.
type Query struct {
	Text  string
	Limit int
	Since time.Time
	Until time.Time
}

// Hits is one provider's answer. Related carries follow-up phrases the
// upstream suggested.
type Hits struct {
	Items   []capability.Item
	Related []string
}

// Provider searches one platform.
type Provider interface {
	Search(ctx context.Context, q Query) (Hits, error)
}

// PlatformSearch fans a query out to the providers of the requested
// platforms and merges their items.
type PlatformSearch struct {
	providers map[string]Provider
	defaults  []string
	limiter   capability.RateLimiter
	logger    *log.Logger
}

// NewPlatformSearch builds the capability. defaults are searched when a call
// names no platform. limiter, when set, paces per-platform calls of
// multi-platform searches; single-platform calls are paced by the invoker.
func NewPlatformSearch(providers map[string]Provider, defaults []string, limiter capability.RateLimiter, logger *log.Logger) *PlatformSearch {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	if len(defaults) == 0 {
		for name := range providers {
			defaults = append(defaults, name)
		}
		sort.Strings(defaults)
	}
	return &PlatformSearch{providers: providers, defaults: defaults, limiter: limiter, logger: logger}
}

func (s *PlatformSearch) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        "platform_search",
		Version:     "1.0.0",
		Description: "Searches social and news platforms for recent content matching a query.",
		InputSchema: capability.ObjectSchema(map[string]string{
			"query": "string", "platforms": "array", "limit": "integer", "since": "string", "until": "string",
		}, "query"),
		ResourceClass: "platform:multi",
		SideEffects:   []string{"network"},
	}
}

// Platforms lists the platforms with a configured provider.
func (s *PlatformSearch) Platforms() []string {
	out := make([]string, 0, len(s.providers))
	for name := range s.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResourceClass is per platform for single-platform calls.
func (s *PlatformSearch) ResourceClass(args capability.Arguments) string {
	if ps := s.platforms(args); len(ps) == 1 {
		return "platform:" + ps[0]
	}
	return ""
}

func (s *PlatformSearch) platforms(args capability.Arguments) []string {
	ps := args.Strings("platforms")
	if len(ps) == 0 {
		ps = s.defaults
	}
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, strings.ToLower(p))
	}
	return out
}

// Execute searches every requested platform concurrently. It fails only when
// every platform fails; partial failures are logged.
func (s *PlatformSearch) Execute(ctx context.Context, args capability.Arguments) (capability.Output, error) {
	if err := args.Require("query"); err != nil {
		return capability.Output{}, err
	}
	q := Query{Text: args.String("query"), Limit: args.Int("limit", 20), Since: args.Time("since"), Until: args.Time("until")}
	platforms := s.platforms(args)
	if len(platforms) == 0 {
		return capability.Output{}, fmt.Errorf("no search platforms configured")
	}

	results := make([]Hits, len(platforms))
	errs := make([]error, len(platforms))
	var g errgroup.Group
	g.SetLimit(4)
	for i, name := range platforms {
		i, name := i, name
		p, ok := s.providers[name]
		if !ok {
			errs[i] = fmt.Errorf("no provider for platform %q", name)
			continue
		}
		g.Go(func() error {
			if s.limiter != nil && len(platforms) > 1 {
				if err := s.limiter.Acquire(ctx, "platform:"+name); err != nil {
					errs[i] = err
					return nil
				}
			}
			hits, err := p.Search(ctx, q)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
				return nil
			}
			for j := range hits.Items {
				if hits.Items[j].Platform == "" {
					hits.Items[j].Platform = name
				}
			}
			results[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	var out capability.Output
	var firstErr error
	failed := 0
	seen := map[string]bool{}
	for i := range platforms {
		if errs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = errs[i]
			}
			s.logger.Printf("warn: %v", errs[i])
			continue
		}
		out.Items = append(out.Items, results[i].Items...)
		for _, r := range results[i].Related {
			k := strings.ToLower(strings.TrimSpace(r))
			if k != "" && !seen[k] {
				seen[k] = true
				out.Keywords = append(out.Keywords, r)
			}
		}
	}
	if failed == len(platforms) {
		return capability.Output{}, firstErr
	}
	return out, nil
}

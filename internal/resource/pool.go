package resource

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"sync"
)

// ErrPoolEmpty is returned when a class has no resources.
var ErrPoolEmpty = errors.New("resource pool empty")

// Resource is one proxy/credential pairing used for outbound requests.
type Resource struct {
	ID        string  `json:"id"`
	Proxy     string  `json:"proxy,omitempty"`
	Cookie    string  `json:"cookie,omitempty"`
	UserAgent string  `json:"user_agent,omitempty"`
	Score     float64 `json:"score"`
}

// ProxyURL parses the proxy address; nil means a direct connection.
func (r Resource) ProxyURL() (*url.URL, error) {
	if r.Proxy == "" {
		return nil, nil
	}
	return url.Parse(r.Proxy)
}

// Pool hands out the best-scored resource for a class and demotes it when a
// caller asks for a substitution.
type Pool interface {
	Current(ctx context.Context, class string) (Resource, error)
	Rotate(ctx context.Context, class string) error
}

// rotationPenalty is subtracted from a resource's score on each rotation.
const rotationPenalty = 1.0

// StaticPool is an in-memory pool. Every class draws from the same set of
// resources but keeps its own scores.
type StaticPool struct {
	mu        sync.Mutex
	resources []Resource
	scores    map[string]map[string]float64
}

// NewStaticPool creates a pool over resources.
func NewStaticPool(resources []Resource) *StaticPool {
	return &StaticPool{resources: append([]Resource(nil), resources...), scores: make(map[string]map[string]float64)}
}

func (p *StaticPool) classScores(class string) map[string]float64 {
	s, ok := p.scores[class]
	if !ok {
		s = make(map[string]float64, len(p.resources))
		for _, r := range p.resources {
			s[r.ID] = r.Score
		}
		p.scores[class] = s
	}
	return s
}

func (p *StaticPool) best(class string) (Resource, error) {
	if len(p.resources) == 0 {
		return Resource{}, ErrPoolEmpty
	}
	scores := p.classScores(class)
	ranked := append([]Resource(nil), p.resources...)
	sort.SliceStable(ranked, func(i, j int) bool { return scores[ranked[i].ID] > scores[ranked[j].ID] })
	r := ranked[0]
	r.Score = scores[r.ID]
	return r, nil
}

// Current returns the highest scored resource for class.
func (p *StaticPool) Current(_ context.Context, class string) (Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.best(class)
}

// Rotate demotes the current resource so the next best takes over.
func (p *StaticPool) Rotate(_ context.Context, class string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, err := p.best(class)
	if err != nil {
		return err
	}
	p.classScores(class)[cur.ID] -= rotationPenalty
	return nil
}

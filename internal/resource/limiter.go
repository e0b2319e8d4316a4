// Package resource holds the collaborators that own shared external
// resources: per-class rate limits and the proxy/credential pool. The core
// only sees them through capability.RateLimiter and capability.Substituter.
package resource

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// DefaultRates are permits per second by platform. Platforms not listed use
// DefaultRate.
func DefaultRates() map[string]float64 {
	return map[string]float64{
		"zhihu":  0.5,
		"wechat": 0.33,
	}
}

// DefaultRate applies to classes without an explicit rate.
const DefaultRate = 1.0

// rateFor resolves a class such as "platform:zhihu" against rates, trying the
// full class first and then the part after the colon.
func rateFor(rates map[string]float64, def float64, class string) float64 {
	if r, ok := rates[class]; ok && r > 0 {
		return r
	}
	if i := strings.LastIndex(class, ":"); i >= 0 {
		if r, ok := rates[class[i+1:]]; ok && r > 0 {
			return r
		}
	}
	return def
}

// LocalLimiter is an in-process token bucket per resource class.
type LocalLimiter struct {
	mu       sync.Mutex
	rates    map[string]float64
	def      float64
	burst    int
	limiters map[string]*rate.Limiter
}

// NewLocalLimiter creates a limiter. def <= 0 uses DefaultRate; burst <= 0 means 1.
func NewLocalLimiter(rates map[string]float64, def float64, burst int) *LocalLimiter {
	if def <= 0 {
		def = DefaultRate
	}
	if burst <= 0 {
		burst = 1
	}
	if rates == nil {
		rates = DefaultRates()
	}
	return &LocalLimiter{rates: rates, def: def, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Acquire blocks until a permit for class is available or ctx ends.
func (l *LocalLimiter) Acquire(ctx context.Context, class string) error {
	return l.limiter(class).Wait(ctx)
}

func (l *LocalLimiter) limiter(class string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[class]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rateFor(l.rates, l.def, class)), l.burst)
		l.limiters[class] = lim
	}
	return lim
}

package recovery

import "time"

// Action is the verdict returned by the recovery policy.
type Action string

const (
	RetrySame             Action = "retry-same"
	RetryWithSubstitution Action = "retry-with-substitution"
	Abort                 Action = "abort"
)

// Verdict tells the step executor what to do after a failed attempt.
type Verdict struct {
	Action Action
	Delay  time.Duration
	// Alert is set when an operator must be notified alongside the retry.
	Alert bool
}

// Retry reports whether the verdict allows another attempt.
func (v Verdict) Retry() bool { return v.Action != Abort }

// Rule describes the recovery for one error kind.
type Rule struct {
	Action      Action
	MaxAttempts int
	Backoff     bool
	Alert       bool
}

// DefaultRules returns the stock taxonomy table.
func DefaultRules() map[Kind]Rule {
	return map[Kind]Rule{
		KindRateLimited: {Action: RetrySame, MaxAttempts: 3, Backoff: true},
		KindTimeout:     {Action: RetrySame, MaxAttempts: 3},
		KindBlocked:     {Action: RetryWithSubstitution, MaxAttempts: 2},
		KindChallenge:   {Action: RetryWithSubstitution, MaxAttempts: 2, Alert: true},
		KindNetwork:     {Action: RetrySame, MaxAttempts: 3, Backoff: true},
	}
}

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Policy selects a recovery verdict from an error kind and attempt count.
// It holds no mutable state and is safe for concurrent use.
type Policy struct {
	rules     map[Kind]Rule
	baseDelay time.Duration
	maxDelay  time.Duration
}

// PolicyOption customises a Policy.
type PolicyOption func(*Policy)

// WithBackoff overrides the exponential backoff base and ceiling. A zero base
// disables sleeping between retries.
func WithBackoff(base, max time.Duration) PolicyOption {
	return func(p *Policy) {
		p.baseDelay = base
		p.maxDelay = max
	}
}

// WithRule replaces the rule for one kind.
func WithRule(kind Kind, rule Rule) PolicyOption {
	return func(p *Policy) { p.rules[kind] = rule }
}

// NewPolicy returns a policy seeded with DefaultRules.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{rules: DefaultRules(), baseDelay: DefaultBaseDelay, maxDelay: DefaultMaxDelay}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	return p
}

// Decide returns the verdict after the attempt-th consecutive failure of the
// given kind (attempt starts at 1). The result depends only on its inputs.
func (p *Policy) Decide(kind Kind, attempt int) Verdict {
	if kind == KindUnclassified {
		kind = KindBlocked
	}
	rule, ok := p.rules[kind]
	if !ok || attempt >= rule.MaxAttempts {
		return Verdict{Action: Abort}
	}
	v := Verdict{Action: rule.Action, Alert: rule.Alert}
	if rule.Backoff {
		v.Delay = p.backoff(attempt)
	}
	return v
}

// MaxAttempts returns the attempt cap for kind, zero for terminal kinds.
func (p *Policy) MaxAttempts(kind Kind) int {
	if kind == KindUnclassified {
		kind = KindBlocked
	}
	return p.rules[kind].MaxAttempts
}

func (p *Policy) backoff(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	d := p.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.maxDelay {
			return p.maxDelay
		}
	}
	return d
}

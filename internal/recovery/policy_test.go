package recovery

import (
	"testing"
	"time"
)

func TestDecideFollowsTaxonomyCaps(t *testing.T) {
	p := NewPolicy(WithBackoff(0, 0))
	cases := []struct {
		kind    Kind
		attempt int
		want    Action
	}{
		{KindRateLimited, 1, RetrySame},
		{KindRateLimited, 2, RetrySame},
		{KindRateLimited, 3, Abort},
		{KindTimeout, 2, RetrySame},
		{KindTimeout, 3, Abort},
		{KindBlocked, 1, RetryWithSubstitution},
		{KindBlocked, 2, Abort},
		{KindChallenge, 1, RetryWithSubstitution},
		{KindChallenge, 2, Abort},
		{KindNetwork, 2, RetrySame},
		{KindNetwork, 3, Abort},
		{KindUnclassified, 1, RetryWithSubstitution},
		{KindUnclassified, 2, Abort},
		{KindCancelled, 1, Abort},
		{KindPlanning, 1, Abort},
	}
	for _, tc := range cases {
		got := p.Decide(tc.kind, tc.attempt)
		if got.Action != tc.want {
			t.Fatalf("Decide(%s, %d) = %s, want %s", tc.kind, tc.attempt, got.Action, tc.want)
		}
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	p := NewPolicy()
	for _, kind := range []Kind{KindRateLimited, KindTimeout, KindBlocked, KindChallenge, KindNetwork, KindUnclassified} {
		for attempt := 1; attempt <= 4; attempt++ {
			first := p.Decide(kind, attempt)
			for i := 0; i < 10; i++ {
				if again := p.Decide(kind, attempt); again != first {
					t.Fatalf("verdict for %s/%d changed: %+v vs %+v", kind, attempt, first, again)
				}
			}
		}
	}
}

func TestChallengeRaisesAlert(t *testing.T) {
	v := NewPolicy().Decide(KindChallenge, 1)
	if !v.Alert {
		t.Fatalf("expected alert on challenge substitution")
	}
	if v := NewPolicy().Decide(KindBlocked, 1); v.Alert {
		t.Fatalf("blocked should not alert")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := NewPolicy(WithBackoff(time.Second, 3*time.Second), WithRule(KindRateLimited, Rule{Action: RetrySame, MaxAttempts: 10, Backoff: true}))
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, w := range want {
		if got := p.Decide(KindRateLimited, i+1).Delay; got != w {
			t.Fatalf("attempt %d delay = %s, want %s", i+1, got, w)
		}
	}
	if d := p.Decide(KindTimeout, 1).Delay; d != 0 {
		t.Fatalf("timeout retries are immediate, got %s", d)
	}
}

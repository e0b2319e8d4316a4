package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"status 429", statusErr(429), KindRateLimited},
		{"status 403", statusErr(403), KindBlocked},
		{"status 504", statusErr(504), KindTimeout},
		{"status 503", statusErr(503), KindNetwork},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"cancelled", context.Canceled, KindCancelled},
		{"captcha page", errors.New("403: please complete the captcha"), KindChallenge},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, KindNetwork},
		{"rate message", errors.New("upstream said: Too Many Requests"), KindRateLimited},
		{"access denied", errors.New("Access Denied"), KindBlocked},
		{"connection reset", errors.New("read: connection reset by peer"), KindNetwork},
		{"other", errors.New("something odd"), KindUnclassified},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify("op", tc.err)
			if got.Kind != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got.Kind, tc.want)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("classified error should wrap the original")
			}
		})
	}
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	orig := New(KindChallenge, "search", errors.New("slider"))
	wrapped := fmt.Errorf("outer: %w", orig)
	if got := Classify("other", wrapped); got != orig {
		t.Fatalf("expected existing classification to be reused")
	}
	if KindOf(wrapped) != KindChallenge {
		t.Fatalf("KindOf lost the kind")
	}
	if Classify("x", nil) != nil {
		t.Fatalf("nil error must classify to nil")
	}
}

package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Kind is the classified category of a tool or model fault.
type Kind string

const (
	KindRateLimited  Kind = "rate-limited"
	KindTimeout      Kind = "timeout"
	KindBlocked      Kind = "blocked"
	KindChallenge    Kind = "challenge"
	KindNetwork      Kind = "network"
	KindUnclassified Kind = "unclassified"

	// Terminal kinds. They never come out of Classify for tool faults but share
	// the taxonomy so a failed task can report them uniformly.
	KindCancelled Kind = "cancelled"
	KindPlanning  Kind = "planning"
)

// ClassifiedError is a fault mapped into the taxonomy.
type ClassifiedError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// New builds a ClassifiedError with an explicit kind.
func New(kind Kind, op string, err error) *ClassifiedError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &ClassifiedError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindUnclassified when err carries none.
func KindOf(err error) Kind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnclassified
}

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

var (
	challengeMarkers = []string{"captcha", "verification required", "verify you are human", "challenge", "安全验证"}
	rateMarkers      = []string{"rate limit", "ratelimit", "too many requests", "429", "quota exceeded"}
	timeoutMarkers   = []string{"timeout", "timed out", "deadline exceeded"}
	blockedMarkers   = []string{"403", "forbidden", "access denied", "blocked", "banned", "unauthorized"}
	networkMarkers   = []string{"connection", "network", "dns", "no such host", "eof", "reset by peer", "broken pipe", "unreachable"}
)

// Classify maps an arbitrary error into the taxonomy. Errors that are already
// classified are returned unchanged. A nil error yields nil.
func Classify(op string, err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return &ClassifiedError{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) Kind {
	msg := strings.ToLower(err.Error())
	// Verification pages are frequently served with 403, so they win over status.
	if containsAny(msg, challengeMarkers) {
		return KindChallenge
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		switch code := sc.StatusCode(); {
		case code == 429:
			return KindRateLimited
		case code == 401 || code == 403 || code == 451:
			return KindBlocked
		case code == 408 || code == 504:
			return KindTimeout
		case code >= 500:
			return KindNetwork
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindNetwork
	}
	switch {
	case containsAny(msg, rateMarkers):
		return KindRateLimited
	case containsAny(msg, timeoutMarkers):
		return KindTimeout
	case containsAny(msg, blockedMarkers):
		return KindBlocked
	case containsAny(msg, networkMarkers):
		return KindNetwork
	}
	return KindUnclassified
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

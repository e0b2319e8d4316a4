package core

import "strings"

// KeywordQueue is an ordered queue with set semantics: a keyword that was ever
// queued or marked seen is never queued again. Comparison is case-insensitive
// with whitespace collapsed.
type KeywordQueue struct {
	pending []string
	seen    map[string]struct{}
}

// NewKeywordQueue returns an empty queue.
func NewKeywordQueue() *KeywordQueue {
	return &KeywordQueue{seen: make(map[string]struct{})}
}

// NormalizeKeyword is the identity used for deduplication.
func NormalizeKeyword(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Push enqueues kw unless it is blank or already known.
func (q *KeywordQueue) Push(kw string) bool {
	norm := NormalizeKeyword(kw)
	if norm == "" {
		return false
	}
	if _, ok := q.seen[norm]; ok {
		return false
	}
	q.seen[norm] = struct{}{}
	q.pending = append(q.pending, strings.Join(strings.Fields(kw), " "))
	return true
}

// MarkSeen records kw as known without queueing it.
func (q *KeywordQueue) MarkSeen(kw string) {
	if norm := NormalizeKeyword(kw); norm != "" {
		q.seen[norm] = struct{}{}
	}
}

// Seen reports whether kw was queued or marked before.
func (q *KeywordQueue) Seen(kw string) bool {
	_, ok := q.seen[NormalizeKeyword(kw)]
	return ok
}

// Pop dequeues the oldest keyword.
func (q *KeywordQueue) Pop() (string, bool) {
	if len(q.pending) == 0 {
		return "", false
	}
	kw := q.pending[0]
	q.pending = q.pending[1:]
	return kw, true
}

// Len returns the number of queued keywords.
func (q *KeywordQueue) Len() int { return len(q.pending) }

// Pending returns a copy of the queued keywords in order.
func (q *KeywordQueue) Pending() []string {
	return append([]string(nil), q.pending...)
}

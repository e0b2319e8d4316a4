package capability

import (
	"context"
	"errors"
	"testing"
)

type stubCap struct {
	name string
	out  Output
	err  error
	fn   func(ctx context.Context, args Arguments) (Output, error)
}

func (s *stubCap) Describe() Descriptor {
	return Descriptor{Name: s.name, Version: "v1", Description: "stub", InputSchema: ObjectSchema(map[string]string{"query": "string"}, "query")}
}

func (s *stubCap) Execute(ctx context.Context, args Arguments) (Output, error) {
	if s.fn != nil {
		return s.fn(ctx, args)
	}
	return s.out, s.err
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg, err := NewRegistry(&stubCap{name: "platform_search"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.Register(&stubCap{name: "platform_search"}); !errors.Is(err, ErrDuplicateCapability) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := reg.Get("missing"); !errors.Is(err, ErrCapabilityMissing) {
		t.Fatalf("expected missing error, got %v", err)
	}
}

func TestDescriptorsSortedWithChecksum(t *testing.T) {
	reg, err := NewRegistry(&stubCap{name: "timeline_query"}, &stubCap{name: "fetch_detail"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cards := reg.Descriptors()
	if len(cards) != 2 || cards[0].Name != "fetch_detail" || cards[1].Name != "timeline_query" {
		t.Fatalf("unexpected order: %+v", cards)
	}
	for _, c := range cards {
		if len(c.Checksum) != 64 {
			t.Fatalf("expected sha256 checksum on %s", c.Name)
		}
	}
	a, _ := ComputeChecksum((&stubCap{name: "x"}).Describe())
	b, _ := ComputeChecksum((&stubCap{name: "x"}).Describe())
	if a != b {
		t.Fatalf("checksum must be deterministic")
	}
}

func TestArguments(t *testing.T) {
	args := Arguments{"platforms": []interface{}{"zhihu", " ", "wechat"}, "limit": float64(20), "csv": "a, b", "since": "2024-01-02T03:04:05Z"}
	if got := args.Strings("platforms"); len(got) != 2 || got[1] != "wechat" {
		t.Fatalf("Strings = %v", got)
	}
	if got := args.Strings("csv"); len(got) != 2 || got[1] != "b" {
		t.Fatalf("Strings csv = %v", got)
	}
	if args.Int("limit", 5) != 20 || args.Int("absent", 5) != 5 {
		t.Fatalf("Int mismatch")
	}
	if args.Time("since").Year() != 2024 || !args.Time("until").IsZero() {
		t.Fatalf("Time mismatch")
	}
	if err := args.Require("limit", "query"); err == nil {
		t.Fatalf("expected missing query")
	}
}

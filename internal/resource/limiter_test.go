package resource

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateForResolvesPlatformSuffix(t *testing.T) {
	rates := DefaultRates()
	cases := map[string]float64{
		"platform:zhihu":  0.5,
		"wechat":          0.33,
		"platform:douyin": 1,
		"fetch:example":   1,
	}
	for class, want := range cases {
		if got := rateFor(rates, DefaultRate, class); got != want {
			t.Errorf("%s: got %v want %v", class, got, want)
		}
	}
}

func TestLocalLimiterSpacesPermits(t *testing.T) {
	l := NewLocalLimiter(map[string]float64{"fast": 20}, 1, 1)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, "platform:fast"); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("permits not spaced: %s", elapsed)
	}
}

func TestLocalLimiterHonoursContext(t *testing.T) {
	l := NewLocalLimiter(map[string]float64{"slow": 0.01}, 1, 1)
	if err := l.Acquire(context.Background(), "slow"); err != nil {
		t.Fatalf("first permit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, "slow"); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestStaticPoolRotatesPerClass(t *testing.T) {
	p := NewStaticPool([]Resource{
		{ID: "a", Proxy: "http://10.0.0.1:8080", Score: 2},
		{ID: "b", Proxy: "http://10.0.0.2:8080", Score: 1.5},
	})
	ctx := context.Background()
	cur, err := p.Current(ctx, "platform:zhihu")
	if err != nil || cur.ID != "a" {
		t.Fatalf("current = %+v %v", cur, err)
	}
	if err := p.Rotate(ctx, "platform:zhihu"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if cur, _ = p.Current(ctx, "platform:zhihu"); cur.ID != "b" {
		t.Fatalf("expected b after rotation, got %s", cur.ID)
	}
	if cur, _ = p.Current(ctx, "platform:wechat"); cur.ID != "a" {
		t.Fatalf("other classes keep their own scores, got %s", cur.ID)
	}
	u, err := cur.ProxyURL()
	if err != nil || u.Host != "10.0.0.1:8080" {
		t.Fatalf("proxy url = %v %v", u, err)
	}
}

func TestEmptyPool(t *testing.T) {
	p := NewStaticPool(nil)
	if _, err := p.Current(context.Background(), "x"); !errors.Is(err, ErrPoolEmpty) {
		t.Fatalf("expected ErrPoolEmpty, got %v", err)
	}
}

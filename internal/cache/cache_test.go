package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

type result struct {
	Keys []string `json:"keys"`
}

func setupTestCache(t *testing.T) (*ResultCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewResultCache(client, time.Minute), mr
}

func TestGetOrComputeCachesResult(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()
	calls := 0
	fn := func() (any, error) {
		calls++
		return result{Keys: []string{"photo", "video"}}, nil
	}
	var a, b result
	if err := c.GetOrCompute(ctx, Key("fp1", "rank"), &a, fn); err != nil {
		t.Fatal(err)
	}
	if err := c.GetOrCompute(ctx, Key("fp1", "rank"), &b, fn); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || len(b.Keys) != 2 || b.Keys[1] != "video" {
		t.Fatalf("calls=%d result=%+v", calls, b)
	}
	if ttl := mr.TTL("postpulse:fp1:rank"); ttl != time.Minute {
		t.Fatalf("ttl %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if err := c.GetOrCompute(ctx, Key("fp1", "rank"), &b, fn); err != nil || calls != 2 {
		t.Fatalf("expired entry not recomputed: %v calls=%d", err, calls)
	}
}

func TestGetOrComputeDegradesWhenRedisDown(t *testing.T) {
	c, mr := setupTestCache(t)
	mr.Close()
	var out result
	err := c.GetOrCompute(context.Background(), Key("fp", "q"), &out, func() (any, error) {
		return result{Keys: []string{"x"}}, nil
	})
	if err != nil || len(out.Keys) != 1 {
		t.Fatalf("expected computed result, got %+v %v", out, err)
	}
}

func TestGetOrComputeReturnsComputeError(t *testing.T) {
	c, _ := setupTestCache(t)
	boom := errors.New("boom")
	var out result
	if err := c.GetOrCompute(context.Background(), "k", &out, func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestNilCacheComputes(t *testing.T) {
	var c *ResultCache = NewResultCache(nil, 0)
	var out result
	if err := c.GetOrCompute(context.Background(), "k", &out, func() (any, error) { return result{Keys: []string{"a"}}, nil }); err != nil || out.Keys[0] != "a" {
		t.Fatalf("nil cache: %+v %v", out, err)
	}
	if err := c.Invalidate(context.Background(), "fp"); err != nil {
		t.Fatal(err)
	}
}

func TestInvalidate(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()
	for _, q := range []string{"rank", "hashtags"} {
		var out result
		_ = c.GetOrCompute(ctx, Key("old", q), &out, func() (any, error) { return result{}, nil })
	}
	var keep result
	_ = c.GetOrCompute(ctx, Key("new", "rank"), &keep, func() (any, error) { return result{}, nil })
	if err := c.Invalidate(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("postpulse:old:rank") || mr.Exists("postpulse:old:hashtags") || !mr.Exists("postpulse:new:rank") {
		t.Fatalf("keys after invalidate: %v", mr.Keys())
	}
}

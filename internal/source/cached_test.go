package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/cache/keys"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/cache/redisstore"
)

type countingFetcher struct {
	calls atomic.Int32
	body  []byte
	err   error
}

func (f *countingFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	return f.body, f.err
}

func newStore(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestCached_HitAfterMiss(t *testing.T) {
	rc, mr := newStore(t)
	inner := &countingFetcher{body: []byte("payload")}
	c := NewCached(inner, rc, time.Minute, time.Second, nil)

	const u = "https://example.org/a.geojson"
	for i := 0; i < 3; i++ {
		b, err := c.Fetch(context.Background(), u)
		if err != nil || string(b) != "payload" {
			t.Fatalf("Fetch #%d: %q %v", i, b, err)
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Fatalf("inner calls=%d want 1", n)
	}
	if !mr.Exists(keys.SourceKey(u)) {
		t.Fatalf("payload not stored")
	}

	if err := c.Invalidate(context.Background(), u); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := c.Fetch(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	if n := inner.calls.Load(); n != 2 {
		t.Fatalf("inner calls after invalidate=%d want 2", n)
	}
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	rc, mr := newStore(t)
	inner := &countingFetcher{err: errors.New("boom")}
	c := NewCached(inner, rc, time.Minute, time.Second, nil)

	if _, err := c.Fetch(context.Background(), "/x.tif"); err == nil {
		t.Fatalf("expected error")
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("failed fetch was cached: %v", mr.Keys())
	}
}

func TestCached_StoreDownFallsThrough(t *testing.T) {
	rc, mr := newStore(t)
	inner := &countingFetcher{body: []byte("ok")}
	c := NewCached(inner, rc, time.Minute, 100*time.Millisecond, nil)
	mr.Close()

	b, err := c.Fetch(context.Background(), "/x.tif")
	if err != nil || string(b) != "ok" {
		t.Fatalf("want fallthrough, got %q %v", b, err)
	}
}

func TestCached_Clear(t *testing.T) {
	rc, mr := newStore(t)
	c := NewCached(&countingFetcher{body: []byte("x")}, rc, time.Minute, time.Second, nil)
	_, _ = c.Fetch(context.Background(), "/a.tif")
	_, _ = c.Fetch(context.Background(), "https://example.org/b.tif")
	_ = mr.Set("unrelated", "1")

	n, err := c.Clear(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Clear n=%d err=%v", n, err)
	}
	if !mr.Exists("unrelated") {
		t.Fatalf("unrelated key removed")
	}
}

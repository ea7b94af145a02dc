package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheExpiration(t *testing.T) {
	c := New[string](8, 20*time.Millisecond)
	c.Set("k", "v")

	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be evicted, len=%d", c.Len())
	}
}

func TestCacheCapacityEviction(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	// 触碰 a，使 b 成为最久未使用
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected lru entry b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("recently used entry a should survive")
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
}

func TestCacheFetchDedup(t *testing.T) {
	c := New[string](8, time.Minute)

	var calls int32
	fn := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return "fetched", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Fetch(context.Background(), "user:1", fn)
			if err != nil {
				t.Error(err)
				return
			}
			if v != "fetched" {
				t.Errorf("v = %q", v)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("fetch fn called %d times, want 1", n)
	}
}

func TestCacheFetchError(t *testing.T) {
	c := New[string](8, time.Minute)

	wantErr := errors.New("upstream down")
	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}

	// 失败不缓存
	if _, ok := c.Get("k"); ok {
		t.Fatal("error result must not be cached")
	}
}

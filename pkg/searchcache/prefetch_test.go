package searchcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefetch_StoresResults(t *testing.T) {
	cache := New()
	defer cache.Close()

	ctx := context.Background()
	var mu sync.Mutex
	var fetched []string

	cache.Set(ctx, "search:cached", "already here")

	cache.Prefetch(ctx, []string{"search:cached", "search:a", "search:b"}, func(ctx context.Context, key string) (any, error) {
		mu.Lock()
		fetched = append(fetched, key)
		mu.Unlock()
		return "result for " + key, nil
	})

	sort.Strings(fetched)
	assert.Equal(t, []string{"search:a", "search:b"}, fetched)

	value, ok := cache.Get(ctx, "search:a")
	require.True(t, ok)
	assert.Equal(t, "result for search:a", value)
	assert.Equal(t, int64(2), cache.Stats().PrefetchSuccess)
}

func TestPrefetch_FailuresAreSkipped(t *testing.T) {
	cache := New()
	defer cache.Close()

	ctx := context.Background()
	fetch := func(ctx context.Context, key string) (any, error) {
		switch key {
		case "bad":
			return nil, errors.New("upstream 503")
		case "boom":
			panic("fetch exploded")
		default:
			return key, nil
		}
	}

	assert.NotPanics(t, func() {
		cache.Prefetch(ctx, []string{"ok", "bad", "boom"}, fetch)
	})

	assert.True(t, cache.Contains("ok"))
	assert.False(t, cache.Contains("bad"))
	assert.False(t, cache.Contains("boom"))

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.PrefetchSuccess)
	assert.Equal(t, int64(2), stats.PrefetchFailures)

	cache.mu.Lock()
	assert.Empty(t, cache.inflight)
	cache.mu.Unlock()
}

func TestPrefetch_DeduplicatesInFlight(t *testing.T) {
	cache := New()
	defer cache.Close()

	ctx := context.Background()
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	fetch := func(ctx context.Context, key string) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "v", nil
	}

	done := make(chan struct{})
	go func() {
		cache.Prefetch(ctx, []string{"k"}, fetch)
		close(done)
	}()

	<-started
	// 第二次调用看到键正在预取中，立即返回
	cache.Prefetch(ctx, []string{"k", "k"}, fetch)
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("prefetch did not settle")
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, cache.Contains("k"))
}

func TestPrefetch_DuplicateKeysInOneCall(t *testing.T) {
	cache := New()
	defer cache.Close()

	var calls int32
	cache.Prefetch(context.Background(), []string{"k", "k", "k"}, func(ctx context.Context, key string) (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return 1, nil
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPrefetch_RunsConcurrently(t *testing.T) {
	cache := New()
	defer cache.Close()

	keys := []string{"a", "b", "c", "d", "e"}
	start := time.Now()
	cache.Prefetch(context.Background(), keys, func(ctx context.Context, key string) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return key, nil
	})

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, len(keys), cache.Len())
}

func TestPrefetch_Disabled(t *testing.T) {
	cache := New(WithPrefetch(false))
	defer cache.Close()

	var calls int32
	cache.Prefetch(context.Background(), []string{"a"}, func(ctx context.Context, key string) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})

	assert.Equal(t, int32(0), calls)
	assert.Equal(t, 0, cache.Len())
}

func TestPrefetch_RefetchesExpiredKeys(t *testing.T) {
	clock := newFakeClock()
	cache := New(WithTTL(time.Minute))
	cache.now = clock.Now
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "k", "old")
	clock.Advance(2 * time.Minute)

	cache.Prefetch(ctx, []string{"k"}, func(ctx context.Context, key string) (any, error) {
		return "new", nil
	})

	value, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "new", value)
}

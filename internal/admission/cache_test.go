package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingLoader(value interface{}, calls *atomic.Int64) Loader {
	return func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestCache_GetOrLoadPopulates(t *testing.T) {
	c := NewCache()
	var calls atomic.Int64

	v, err := c.GetOrLoad(context.Background(), "projects:all", []string{"projects"}, countingLoader("v1", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int64(1), calls.Load())

	// Hit path: same value, no second load.
	v, err = c.GetOrLoad(context.Background(), "projects:all", []string{"projects"}, countingLoader("v2", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int64(1), calls.Load())

	got, ok := c.Get("projects:all")
	assert.True(t, ok)
	assert.Equal(t, "v1", got)
}

func TestCache_AtMostOneConcurrentLoad(t *testing.T) {
	const k = 32

	c := NewCache()
	var calls atomic.Int64
	release := make(chan struct{})
	loader := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	values := make(chan interface{}, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "projects:all", []string{"projects"}, loader)
			assert.NoError(t, err)
			values <- v
		}()
	}

	// Give every caller a chance to join the in-flight load, then let the
	// single loader finish.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(values)

	assert.Equal(t, int64(1), calls.Load(), "loader must run exactly once")
	for v := range values {
		assert.Equal(t, "shared", v)
	}
}

func TestCache_GroupInvalidation(t *testing.T) {
	c := NewCache()
	var projectLoads, contactLoads atomic.Int64

	keys := []struct {
		key    string
		groups []string
		loads  *atomic.Int64
	}{
		{key: "projects:all", groups: []string{"projects"}, loads: &projectLoads},
		{key: "project:42", groups: []string{"projects"}, loads: &projectLoads},
		{key: "projects:page:3", groups: []string{"projects"}, loads: &projectLoads},
		{key: "contacts:stats", groups: []string{"contacts"}, loads: &contactLoads},
	}
	for _, k := range keys {
		_, err := c.GetOrLoad(context.Background(), k.key, k.groups, countingLoader(k.key, k.loads))
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), projectLoads.Load())
	require.Equal(t, int64(1), contactLoads.Load())

	n := c.Invalidate("projects")
	assert.Equal(t, 3, n)

	// Every projects-tagged key reloads regardless of key shape; the
	// contacts entry is untouched.
	for _, k := range keys {
		_, err := c.GetOrLoad(context.Background(), k.key, k.groups, countingLoader(k.key, k.loads))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(6), projectLoads.Load())
	assert.Equal(t, int64(1), contactLoads.Load())
}

func TestCache_InvalidateUnknownGroup(t *testing.T) {
	c := NewCache()
	assert.Equal(t, 0, c.Invalidate("nothing"))
}

func TestCache_Clear(t *testing.T) {
	c := NewCache()
	var calls atomic.Int64

	_, err := c.GetOrLoad(context.Background(), "a", []string{"g1"}, countingLoader("a", &calls))
	require.NoError(t, err)
	_, err = c.GetOrLoad(context.Background(), "b", []string{"g2"}, countingLoader("b", &calls))
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_LoadFailureNotCached(t *testing.T) {
	c := NewCache()
	wantErr := errors.New("query failed")
	var calls atomic.Int64
	failing := true
	loader := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		if failing {
			return nil, wantErr
		}
		return "ok", nil
	}

	_, err := c.GetOrLoad(context.Background(), "projects:all", []string{"projects"}, loader)
	assert.ErrorIs(t, err, wantErr)

	// The failed load left the key a miss, so the next call retries.
	failing = false
	v, err := c.GetOrLoad(context.Background(), "projects:all", []string{"projects"}, loader)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCache_LoadFailureSharedByWaiters(t *testing.T) {
	const k = 8

	c := NewCache()
	wantErr := errors.New("query failed")
	release := make(chan struct{})
	var calls atomic.Int64
	loader := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		<-release
		return nil, wantErr
	}

	var wg sync.WaitGroup
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrLoad(context.Background(), "projects:all", []string{"projects"}, loader)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	assert.Equal(t, int64(1), calls.Load())
	for err := range errs {
		assert.ErrorIs(t, err, wantErr)
	}
}

func TestCache_LoaderTimeout(t *testing.T) {
	c := NewCache(WithLoadTimeout(30 * time.Millisecond))
	loader := func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := c.GetOrLoad(context.Background(), "slow", nil, loader)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok := c.Get("slow")
	assert.False(t, ok, "timed-out load must not be cached")
}

func TestCache_CallerDeadlineUnblocksWait(t *testing.T) {
	c := NewCache()
	release := make(chan struct{})
	defer close(release)
	loader := func(ctx context.Context) (interface{}, error) {
		<-release
		return "late", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.GetOrLoad(ctx, "slow", nil, loader)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second,
		"an expired caller must stop waiting on the shared load")
}

func TestCache_InvalidationBeatsInFlightLoad(t *testing.T) {
	c := NewCache()
	release := make(chan struct{})
	var calls atomic.Int64
	loader := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		<-release
		return "stale", nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := c.GetOrLoad(context.Background(), "projects:all", []string{"projects"}, loader)
		assert.NoError(t, err)
		assert.Equal(t, "stale", v)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Invalidate("projects")
	close(release)
	<-done

	// The load that started before the invalidation may serve its caller,
	// but it must not repopulate the cache.
	_, ok := c.Get("projects:all")
	assert.False(t, ok)
}

func TestCache_MaxAge(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewCache(WithMaxAge(time.Minute), WithCacheClock(clock))
	var calls atomic.Int64

	_, err := c.GetOrLoad(context.Background(), "projects:all", []string{"projects"}, countingLoader("v", &calls))
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, ok := c.Get("projects:all")
	assert.True(t, ok)

	now = now.Add(31 * time.Second)
	_, ok = c.Get("projects:all")
	assert.False(t, ok, "entries past max age read as misses")
}

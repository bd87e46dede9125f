package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

func TestFrontierFIFO(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	require.True(t, f.Enqueue(crawler.Target{URL: "a"}))
	require.True(t, f.Enqueue(crawler.Target{URL: "b"}))
	assert.Equal(t, 2, f.Len())

	ctx := context.Background()
	first, err := f.Dequeue(ctx)
	require.NoError(t, err)
	second, err := f.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.URL)
	assert.Equal(t, "b", second.URL)
}

func TestFrontierDrainsWhenWorkFinishes(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	require.True(t, f.Enqueue(crawler.Target{URL: "seed"}))
	ctx := context.Background()

	seed, err := f.Dequeue(ctx)
	require.NoError(t, err)

	// A target discovered while the seed is in flight keeps the frontier open.
	require.True(t, f.Enqueue(crawler.Target{URL: "child", Depth: seed.Depth + 1}))
	f.Done()

	child, err := f.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, child.Depth)
	f.Done()

	_, err = f.Dequeue(ctx)
	require.ErrorIs(t, err, errFrontierDrained)
	assert.False(t, f.Enqueue(crawler.Target{URL: "late"}))
}

func TestFrontierWakesBlockedWorkers(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	require.True(t, f.Enqueue(crawler.Target{URL: "seed"}))
	seed, err := f.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "seed", seed.URL)

	const workers = 4
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []string
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tgt, err := f.Dequeue(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				got = append(got, tgt.URL)
				mu.Unlock()
				f.Done()
			}
		}()
	}

	for _, u := range []string{"a", "b", "c", "d", "e"} {
		require.True(t, f.Enqueue(crawler.Target{URL: u}))
	}
	f.Done()
	wg.Wait()
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, got)
}

func TestFrontierDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	require.True(t, f.Enqueue(crawler.Target{URL: "seed"}))
	_, err := f.Dequeue(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFrontierClose(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	require.True(t, f.Enqueue(crawler.Target{URL: "a"}))
	f.Close()
	f.Close()
	assert.Equal(t, 0, f.Len())
	_, err := f.Dequeue(context.Background())
	require.ErrorIs(t, err, errFrontierDrained)
}

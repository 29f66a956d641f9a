package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolGrowShrink(t *testing.T) {
	p := NewPool(2)
	assert.Equal(t, 2, p.Size())

	size, err := p.Grow(3)
	require.NoError(t, err)
	assert.Equal(t, 5, size)

	size, err = p.Shrink(4)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	_, err = p.Shrink(1)
	assert.Error(t, err)
	assert.Equal(t, 1, p.Size())

	_, err = p.Grow(0)
	assert.Error(t, err)
	_, err = p.Shrink(-1)
	assert.Error(t, err)
}

func TestPoolMinimumSize(t *testing.T) {
	p := NewPool(0)
	assert.Equal(t, 1, p.Size())
}

func TestPoolLimitsConcurrency(t *testing.T) {
	p := NewPool(2)

	var mu sync.Mutex
	running, peak := 0, 0

	task := func(context.Context) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			_ = p.Run(context.Background(), id, task)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 0, p.ActiveCount())
}

func TestPoolActiveListing(t *testing.T) {
	p := NewPool(2)

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = p.Run(context.Background(), "t-1", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.Equal(t, []string{"t-1"}, p.Active())
	assert.Equal(t, 1, p.ActiveCount())

	close(release)
	assert.Eventually(t, func() bool { return p.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPoolRunHonorsContextWhileWaiting(t *testing.T) {
	p := NewPool(1)

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Run(context.Background(), "t-1", func(context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(ctx, "t-2", func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()

	// Cancelling the submission must unblock it; nothing else wakes the
	// pool while t-1 runs.
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("waiter did not observe cancellation")
	}

	// Freeing the slot afterwards must not resurrect the cancelled task.
	close(block)
	assert.Eventually(t, func() bool { return p.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, ran.Load())
}

func TestPoolRunCancelledSubmissionNeverRuns(t *testing.T) {
	p := NewPool(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := p.Run(ctx, "t-1", func(context.Context) error {
		ran = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
	assert.Equal(t, 0, p.ActiveCount())
}

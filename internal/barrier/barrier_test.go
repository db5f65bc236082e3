package barrier

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPositiveCount(t *testing.T) {
	assert.Panics(t, func() { New(0, time.Second) })
	assert.Panics(t, func() { New(-1, time.Second) })
}

func TestAwait_FullGroupPasses(t *testing.T) {
	const n = 8
	b := New(n, 5*time.Second)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Await(context.Background()); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, failures.Load())
}

func TestAwait_IsCyclic(t *testing.T) {
	const n = 4
	const rounds = 3
	b := New(n, 5*time.Second)

	var wg sync.WaitGroup
	var completed atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if err := b.Await(context.Background()); err != nil {
					return
				}
				completed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(n*rounds), completed.Load())
}

func TestAwait_TimeoutIsDistinguishable(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	err := b.Await(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBarrierTimeout)
}

func TestAwait_ContextCancellation(t *testing.T) {
	b := New(2, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Await(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Await did not return after cancellation")
	}
}

func TestAwait_BlocksUntilLastParticipant(t *testing.T) {
	const n = 3
	b := New(n, 5*time.Second)

	var passed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n-1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, b.Await(context.Background()))
			passed.Add(1)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, passed.Load(), "no participant may pass before the group is complete")

	require.NoError(t, b.Await(context.Background()))
	wg.Wait()
	assert.Equal(t, int32(n-1), passed.Load())
}

// Package barrier provides a reusable two-phase rendezvous for fixed-size
// worker groups: all participants first signal arrival, then all signal
// departure, so no participant can lap the group between rounds.
package barrier

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBarrierTimeout is returned when a participant waits longer than the
// configured timeout for the rest of the group.
var ErrBarrierTimeout = errors.New("barrier: timed out waiting for participants")

// Barrier synchronizes exactly N participants. It is cyclic: once a full
// rendezvous completes the barrier is ready for the next round.
type Barrier struct {
	n       int
	timeout time.Duration

	mu      sync.Mutex
	arrived int
	leaving int
	gen     int
	release chan struct{}
	depart  chan struct{}
}

// New returns a barrier for n participants with the given wait timeout;
// a zero timeout waits forever.
func New(n int, timeout time.Duration) *Barrier {
	if n <= 0 {
		panic("barrier: participant count must be positive")
	}
	return &Barrier{
		n:       n,
		timeout: timeout,
		release: make(chan struct{}),
		depart:  make(chan struct{}),
	}
}

// Await performs one full rendezvous: the arrival phase completes when all
// N participants have entered, the departure phase when all have left. It
// returns ErrBarrierTimeout on timeout and the context error on
// cancellation, never deadlocking either way.
func (b *Barrier) Await(ctx context.Context) error {
	if err := b.phase(ctx, &b.arrived, &b.release); err != nil {
		return err
	}
	return b.phase(ctx, &b.leaving, &b.depart)
}

func (b *Barrier) phase(ctx context.Context, counter *int, gate *chan struct{}) error {
	b.mu.Lock()
	*counter++
	if *counter == b.n {
		*counter = 0
		close(*gate)
		*gate = make(chan struct{})
		b.mu.Unlock()
		return nil
	}
	wait := *gate
	b.mu.Unlock()

	var timeout <-chan time.Time
	if b.timeout > 0 {
		t := time.NewTimer(b.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-wait:
		return nil
	case <-timeout:
		return ErrBarrierTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

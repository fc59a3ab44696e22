// SPDX-License-Identifier: MIT

package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitUpToCapacity(t *testing.T) {
	g := NewGate(2)

	p1, err := g.TryAdmit(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	p2, err := g.TryAdmit(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)

	_, err = g.TryAdmit(context.Background(), 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))

	c := g.Counters()
	assert.Equal(t, int64(2), c.TotalAdmitted)
	assert.Equal(t, int64(2), c.CurrentActive)

	p1.Release()
	p2.Release()
	assert.Equal(t, int64(0), g.Counters().CurrentActive)
}

func TestTimeoutHasNoSideEffects(t *testing.T) {
	g := NewGate(1)
	p, err := g.TryAdmit(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)

	before := g.Counters()
	_, err = g.TryAdmit(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, before, g.Counters(), "a timed out admission must not move counters")

	p.Release()
}

func TestAdmitAfterRelease(t *testing.T) {
	g := NewGate(1)
	p, err := g.TryAdmit(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p2, err := g.TryAdmit(context.Background(), 2*time.Second)
		assert.NoError(t, err)
		if p2 != nil {
			p2.Release()
		}
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("waiting admission never proceeded after release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := NewGate(1)
	p, err := g.TryAdmit(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)

	p.Release()
	p.Release()
	p.Release()

	c := g.Counters()
	assert.Equal(t, int64(0), c.CurrentActive, "double release must not drive the counter negative")

	// The single freed permit is usable again.
	p2, err := g.TryAdmit(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	p2.Release()
}

func TestCancelledCallerIsNotATimeout(t *testing.T) {
	g := NewGate(1)
	p, err := g.TryAdmit(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = g.TryAdmit(ctx, 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCapacityInvariantUnderChurn(t *testing.T) {
	const maxConns = 8
	g := NewGate(maxConns)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p, err := g.TryAdmit(context.Background(), 500*time.Millisecond)
				if err != nil {
					continue
				}
				active := g.Counters().CurrentActive
				assert.LessOrEqual(t, active, int64(maxConns))
				assert.GreaterOrEqual(t, active, int64(0))
				p.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), g.Counters().CurrentActive)
}

package event

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAutoResetConsumesSignal(t *testing.T) {
	e := NewAuto()
	require.Equal(t, AutoReset, e.Mode())
	require.False(t, e.IsSignaled())

	e.Signal()
	require.True(t, e.IsSignaled())
	require.True(t, e.WaitTimeout(time.Second))
	require.False(t, e.IsSignaled())

	start := time.Now()
	assert.False(t, e.WaitTimeout(30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAutoResetSignalsDoNotAccumulate(t *testing.T) {
	e := NewAuto()
	e.Signal()
	e.Signal()

	require.True(t, e.WaitTimeout(0))
	require.False(t, e.WaitTimeout(0))
}

func TestAutoResetWakesBlockedWaiter(t *testing.T) {
	e := NewAuto()
	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	e.Signal()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
	assert.False(t, e.IsSignaled())
}

func TestAutoResetReleasesOneWaiterPerSignal(t *testing.T) {
	e := NewAuto()
	var released atomic.Int32

	for i := 0; i < 3; i++ {
		go func() {
			if e.WaitTimeout(200 * time.Millisecond) {
				released.Add(1)
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	e.Signal()
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int32(1), released.Load())
}

func TestManualResetReleasesEveryWaiter(t *testing.T) {
	e := NewManual()
	e.Signal()

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			if !e.WaitTimeout(time.Second) {
				return context.DeadlineExceeded
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.True(t, e.IsSignaled())

	e.Reset()
	assert.False(t, e.IsSignaled())
	assert.False(t, e.WaitTimeout(20*time.Millisecond))
}

func TestWaitContext(t *testing.T) {
	e := NewAuto()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.WaitContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	e.Signal()
	require.NoError(t, e.WaitContext(context.Background()))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "auto-reset", AutoReset.String())
	assert.Equal(t, "manual-reset", ManualReset.String())
	assert.Equal(t, "unknown", Mode(9).String())
}

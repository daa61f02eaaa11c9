/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package dispatch

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting string

func (g greeting) Message() string { return "hello " + string(g) }

// goroutineID identifies the calling goroutine from its stack header.
func goroutineID() string {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	// "goroutine 123 [running]:"
	for i := len("goroutine "); i < len(buf); i++ {
		if buf[i] == ' ' {
			return string(buf[len("goroutine "):i])
		}
	}
	return ""
}

func newBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	b, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestCallbacksRunOnForegroundLoop(t *testing.T) {
	b := newBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	loopID := make(chan string, 1)
	var workerID, callbackID string

	// queued first, so the loop reports its goroutine before the callback runs
	b.post(func() { loopID <- goroutineID() })

	task := Submit(b, "greet", func(ctx context.Context) (greeting, error) {
		workerID = goroutineID()
		return "ada", nil
	})
	task.OnComplete(func(o Outcome[greeting]) {
		callbackID = goroutineID()
		assert.True(t, o.OK())
		assert.Equal(t, "hello ada", o.Message())
		cancel()
	})

	err := b.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	id := <-loopID
	assert.Equal(t, id, callbackID)
	assert.NotEqual(t, workerID, callbackID)
}

func TestConcurrentOperations(t *testing.T) {
	b := newBridge(t)

	const n = 20
	release := make(chan struct{})
	var started int32
	tasks := make([]*Task[int], 0, n)
	for i := 0; i < n; i++ {
		i := i
		tasks = append(tasks, Submit(b, "square", func(ctx context.Context) (int, error) {
			atomic.AddInt32(&started, 1)
			<-release
			return i * i, nil
		}))
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&started) == n }, 5*time.Second, time.Millisecond,
		"an unbounded pool runs every operation at once")
	close(release)

	for i, task := range tasks {
		v, err := task.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i*i, v)
	}
}

func TestOutcomeDeliveredOnce(t *testing.T) {
	b := newBridge(t)

	task := Submit(b, "fail", func(ctx context.Context) (int, error) {
		return 0, errors.New("remote unavailable")
	})
	_, err := task.Wait(context.Background())
	require.EqualError(t, err, "remote unavailable")

	var calls int
	task.OnComplete(func(o Outcome[int]) {
		calls++
		assert.Equal(t, "remote unavailable", o.Message())
	})

	assert.Equal(t, 1, b.RunPending())
	assert.Equal(t, 0, b.RunPending())
	assert.Equal(t, 1, calls)
}

func TestPanicBecomesFailedOutcome(t *testing.T) {
	b := newBridge(t)

	task := Submit(b, "explode", func(ctx context.Context) (string, error) {
		panic("boom")
	})
	_, err := task.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestOperationContextIgnoresCancellation(t *testing.T) {
	b := newBridge(t)

	task := Submit(b, "ctx", func(ctx context.Context) (bool, error) {
		_, hasDeadline := ctx.Deadline()
		return ctx.Done() == nil && !hasDeadline, nil
	})
	uncancellable, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, uncancellable)
}

func TestWaitHonoursCallerContext(t *testing.T) {
	b := newBridge(t)
	release := make(chan struct{})
	task := Submit(b, "slow", func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	v, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSubmitAfterClose(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	b.Close()

	_, err = Submit(b, "late", func(ctx context.Context) (int, error) { return 1, nil }).Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubmitRacingClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		b, err := New(WithPoolSize(4))
		require.NoError(t, err)

		const n = 64
		var ran atomic.Int32
		tasks := make([]*Task[int], n)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				tasks[i] = Submit(b, "race", func(ctx context.Context) (int, error) {
					ran.Add(1)
					return i, nil
				})
			}(i)
		}

		close(start)
		b.Close()
		ranAtClose := ran.Load()
		wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		accepted := int32(0)
		for i, task := range tasks {
			v, err := task.Wait(ctx)
			require.NoError(t, ctx.Err(), "task %d never completed", i)
			if errors.Is(err, ErrClosed) {
				continue
			}
			// any other error means the task reached a released pool
			require.NoError(t, err)
			assert.Equal(t, i, v)
			accepted++
		}
		cancel()
		assert.Equal(t, accepted, ranAtClose, "Close returned before accepted operations finished")
	}
}

func TestSingleForegroundLoop(t *testing.T) {
	b := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Run(ctx)
	}()

	require.Eventually(t, func() bool { return b.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, b.Run(ctx), ErrAlreadyRunning)

	cancel()
	wg.Wait()
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := newBridge(t, WithRegisterer(reg))

	_, _ = Submit(b, "create", func(ctx context.Context) (int, error) { return 1, nil }).Wait(context.Background())
	_, _ = Submit(b, "create", func(ctx context.Context) (int, error) { return 0, errors.New("x") }).Wait(context.Background())

	// metrics are recorded before the task completes
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.operations.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.operations.WithLabelValues("create", "error")))

	// a second bridge on the same registry shares the collectors
	other := newBridge(t, WithRegisterer(reg))
	assert.Same(t, b.metrics.operations, other.metrics.operations)
}

/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is the handle of one submitted operation.
type Task[T any] struct {
	name   string
	bridge *Bridge
	done   chan struct{}

	mu        sync.Mutex
	completed bool
	outcome   Outcome[T]
	callbacks []func(Outcome[T])
}

// Submit schedules fn on the bridge's pool. fn receives a context that carries
// no cancellation: once started, an operation runs to completion or failure.
func Submit[T any](b *Bridge, name string, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := &Task[T]{
		name:   name,
		bridge: b,
		done:   make(chan struct{}),
	}

	if !b.acquire() {
		t.complete(Outcome[T]{Err: ErrClosed})
		return t
	}

	err := b.pool.Submit(func() {
		defer b.inflight.Done()
		t.complete(t.execute(fn))
	})
	if err != nil {
		b.inflight.Done()
		b.logger.Error("failed to submit operation", zap.String("operation", name), zap.Error(err))
		t.complete(Outcome[T]{Err: fmt.Errorf("dispatch %s: %w", name, err)})
	}
	return t
}

func (t *Task[T]) execute(fn func(ctx context.Context) (T, error)) (out Outcome[T]) {
	start := time.Now()
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			out = Outcome[T]{Err: fmt.Errorf("%s panicked: %v", t.name, r)}
			t.bridge.logger.Error("operation panicked", zap.String("operation", t.name), zap.Any("panic", r))
		}
		t.bridge.observe(t.name, status, time.Since(start))
	}()

	value, err := fn(context.WithoutCancel(context.Background()))
	if err != nil {
		status = "error"
		t.bridge.logger.Debug("operation failed", zap.String("operation", t.name), zap.Error(err))
	}
	return Outcome[T]{Value: value, Err: err}
}

func (t *Task[T]) complete(out Outcome[T]) {
	t.mu.Lock()
	t.outcome = out
	t.completed = true
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb := cb
		t.bridge.post(func() { cb(out) })
	}
	close(t.done)
}

// Name returns the operation name given to Submit
func (t *Task[T]) Name() string {
	return t.name
}

// OnComplete registers cb to receive the outcome on the foreground loop.
// Registering after completion queues cb immediately.
func (t *Task[T]) OnComplete(cb func(Outcome[T])) *Task[T] {
	t.mu.Lock()
	if !t.completed {
		t.callbacks = append(t.callbacks, cb)
		t.mu.Unlock()
		return t
	}
	out := t.outcome
	t.mu.Unlock()

	t.bridge.post(func() { cb(out) })
	return t
}

// Done is closed when the operation has finished. Callbacks registered
// before completion are queued on the bridge by then.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the operation finishes or ctx is done. Cancelling ctx
// stops the wait, not the operation.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.outcome.Value, t.outcome.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

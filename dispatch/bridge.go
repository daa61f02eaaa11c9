/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// ErrClosed is the outcome of tasks submitted after Close.
	ErrClosed = errors.New("dispatch: bridge closed")
	// ErrAlreadyRunning is returned by Run when another Run is active.
	ErrAlreadyRunning = errors.New("dispatch: foreground loop already running")
)

// Bridge runs operations on a background worker pool and hands their outcomes
// to a single foreground loop.
type Bridge struct {
	pool    *ants.Pool
	logger  *zap.Logger
	metrics *metrics

	mu     sync.Mutex
	queue  []func()
	notify chan struct{}

	// lifecycle orders inflight.Add against Close.
	lifecycle sync.Mutex
	closed    bool
	inflight  sync.WaitGroup
	running   atomic.Bool
}

// Options configures a Bridge
type Options struct {
	// PoolSize caps concurrent operations; zero or less means unbounded.
	PoolSize int
	Logger   *zap.Logger
	// Registerer receives the operation metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Option mutates Options
type Option func(*Options)

// WithPoolSize bounds the number of concurrently running operations
func WithPoolSize(n int) Option {
	return func(o *Options) {
		o.PoolSize = n
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithRegisterer registers the operation metrics on r
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = r
	}
}

// New creates a Bridge with its worker pool.
func New(opts ...Option) (*Bridge, error) {
	settings := Options{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&settings)
	}

	b := &Bridge{
		logger: settings.Logger,
		notify: make(chan struct{}, 1),
	}

	m, err := newMetrics(settings.Registerer)
	if err != nil {
		return nil, err
	}
	b.metrics = m

	size := settings.PoolSize
	if size <= 0 {
		size = -1
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		b.logger.Error("worker panic escaped task recovery", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, err
	}
	b.pool = pool
	return b, nil
}

// post queues fn for the foreground loop. It never blocks.
func (b *Bridge) post(fn func()) {
	b.mu.Lock()
	b.queue = append(b.queue, fn)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bridge) drain() []func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.queue
	b.queue = nil
	return pending
}

// Run is the foreground loop. It executes queued completion callbacks one at
// a time on the calling goroutine until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.running.Store(false)

	for {
		for _, fn := range b.drain() {
			b.deliver(fn)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.notify:
		}
	}
}

// RunPending executes the callbacks queued so far and returns how many ran.
func (b *Bridge) RunPending() int {
	pending := b.drain()
	for _, fn := range pending {
		b.deliver(fn)
	}
	return len(pending)
}

func (b *Bridge) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("completion callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// Close waits for in-flight operations and releases the pool. Callbacks of
// finished tasks stay queued until Run or RunPending executes them.
func (b *Bridge) Close() {
	b.lifecycle.Lock()
	if b.closed {
		b.lifecycle.Unlock()
		return
	}
	b.closed = true
	b.lifecycle.Unlock()

	b.inflight.Wait()
	b.pool.Release()
}

// acquire registers an operation with inflight unless the bridge is closed.
func (b *Bridge) acquire() bool {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.closed {
		return false
	}
	b.inflight.Add(1)
	return true
}

// Running returns the number of operations currently executing
func (b *Bridge) Running() int {
	return b.pool.Running()
}

func (b *Bridge) observe(name, status string, elapsed time.Duration) {
	b.metrics.operations.WithLabelValues(name, status).Inc()
	b.metrics.duration.WithLabelValues(name).Observe(elapsed.Seconds())
}

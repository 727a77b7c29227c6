// Package uithread provides the goroutine that owns every view. Work reaches it
// through Post and runs one function at a time, in posting order.
package uithread

import (
	"sync"
	"time"
)

const defaultDrainTimeout = 250 * time.Millisecond

// Loop is a FIFO work queue drained by a single goroutine. Post never blocks.
type Loop struct {
	mu    sync.Mutex
	queue []func()

	wakeup       chan struct{}
	quit         chan struct{}
	done         chan struct{}
	exec         func(func())
	drainTimeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
}

// Option configures a Loop.
type Option func(*Loop)

// WithExecutor runs each drained batch through exec instead of calling it
// directly on the loop goroutine. exec must preserve call order; tview's
// Application.QueueUpdateDraw does.
func WithExecutor(exec func(func())) Option {
	return func(l *Loop) { l.exec = exec }
}

// WithDrainTimeout bounds how long Stop waits for queued work.
func WithDrainTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.drainTimeout = d
		}
	}
}

// New creates a stopped loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		wakeup:       make(chan struct{}, 1),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		exec:         func(fn func()) { fn() },
		drainTimeout: defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the owning goroutine. Calling it again has no effect.
func (l *Loop) Start() {
	l.startOnce.Do(func() { go l.run() })
}

// Post queues fn to run on the owning goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}

// Flush waits until everything posted before the call has run.
// It reports false if that took longer than timeout.
func (l *Loop) Flush(timeout time.Duration) bool {
	ran := make(chan struct{})
	l.Post(func() { close(ran) })
	select {
	case <-ran:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stop drains pending work, bounded by the drain timeout, and ends the loop.
// Stop is idempotent.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.Start()
		select {
		case <-l.done:
		case <-time.After(l.drainTimeout):
		}
	})
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.wakeup:
			l.runPending()
		case <-l.quit:
			l.runPending()
			return
		}
	}
}

func (l *Loop) runPending() {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		l.exec(func() {
			for _, fn := range batch {
				fn()
			}
		})
	}
}

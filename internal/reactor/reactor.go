// Package reactor runs all server state changes on one goroutine.
//
// Event sources (socket readers, the X connection, the config watcher) block
// on their own goroutines and hand work to the loop with Post or Call. The
// loop runs one function at a time, so anything it touches needs no locks and
// cross-connection operations are atomic with respect to each other.
package reactor

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("reactor stopped")

// Source is a blocking producer of work for the loop.
type Source interface {
	Name() string
	Run(ctx context.Context, loop *Loop) error
}

type task struct {
	fn   func()
	done chan struct{}
}

// Loop is a single-goroutine executor.
type Loop struct {
	tasks   chan task
	stopped chan struct{}
	once    sync.Once
	logger  *slog.Logger
	onPanic func(value any, stack []byte)
}

// New returns a loop with the given queue depth.
func New(queue int, logger *slog.Logger) *Loop {
	if queue <= 0 {
		queue = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tasks:   make(chan task, queue),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// OnPanic installs fn to be told about tasks that panicked. The loop keeps
// running either way. Set it before Run.
func (l *Loop) OnPanic(fn func(value any, stack []byte)) {
	l.onPanic = fn
}

// Run executes posted functions until ctx is cancelled. Tasks still queued
// at that point are dropped and their callers see ErrStopped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.stopped) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-l.tasks:
			l.exec(t)
		}
	}
}

func (l *Loop) exec(t task) {
	defer func() {
		if t.done != nil {
			close(t.done)
		}
		if r := recover(); r != nil {
			stack := debug.Stack()
			l.logger.Error("panic in reactor task", "panic", r)
			if l.onPanic != nil {
				l.onPanic(r, stack)
			}
		}
	}()
	t.fn()
}

// Post queues fn without waiting. It returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.tasks <- task{fn: fn}:
		return true
	case <-l.stopped:
		return false
	}
}

// Call queues fn and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case l.tasks <- task{fn: fn, done: done}:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stopped is closed when Run returns.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

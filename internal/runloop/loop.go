// Package runloop provides a single-goroutine execution context. Tasks posted
// to a Loop run one at a time, in order, on the goroutine that called Run.
package runloop

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Do when the loop no longer accepts work.
var ErrClosed = errors.New("runloop: closed")

// Loop is a FIFO task queue drained by a single goroutine.
type Loop struct {
	name   string
	logger *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	done chan struct{}
}

// New creates a Loop. It does nothing until Run is called.
func New(name string, logger *zap.Logger) *Loop {
	l := &Loop{
		name:   name,
		logger: logger,
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Name returns the loop's label.
func (l *Loop) Name() string { return l.name }

// Post queues fn for execution. It returns false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// Do posts fn and waits for it to finish. Calling Do from a task running on
// the same loop deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled or Close is called. Tasks still
// queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	stop := context.AfterFunc(ctx, l.Close)
	defer stop()

	l.logger.Debug("run loop started", zap.String("loop", l.name))
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			dropped := len(l.queue)
			l.queue = nil
			l.mu.Unlock()
			l.logger.Debug("run loop stopped",
				zap.String("loop", l.name),
				zap.Int("dropped", dropped),
			)
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.runTask(task)
	}
}

// Close stops accepting work and wakes Run so it can return.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.cond.Broadcast()
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("run loop task panicked",
				zap.String("loop", l.name),
				zap.Any("panic", r),
			)
		}
	}()
	task()
}

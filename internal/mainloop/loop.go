// Package mainloop provides the single execution context on which the bridge
// mutates lifecycle state, runs provider continuations and emits events.
//
// Tasks run one at a time, in the order they were posted, on one goroutine.
// Posting never blocks and never drops a task, so SDK callbacks may post from
// any goroutine, including from inside a running task.
package mainloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Workiva/go-datastructures/queue"
	"go.uber.org/zap"
)

// ErrStopped is returned when posting to a loop that has been stopped.
var ErrStopped = errors.New("main loop stopped")

type task func()

// stopMarker is posted by Stop; tasks posted before it still run.
type stopMarker struct{}

// Loop is a serial task executor.
type Loop struct {
	name   string
	logger *zap.Logger
	tasks  *queue.Queue

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	executed atomic.Int64
	panics   atomic.Int64
}

// New creates a loop. Call Start before posting tasks that must run.
func New(name string, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		name:   name,
		logger: logger.Named("mainloop").With(zap.String("loop", name)),
		tasks:  queue.New(64),
		done:   make(chan struct{}),
	}
}

// Start launches the loop goroutine. Subsequent calls are no-ops.
func (l *Loop) Start() {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run()
	l.logger.Debug("Main loop started")
}

// Post enqueues fn. It returns ErrStopped once the loop is stopping.
func (l *Loop) Post(fn func()) error {
	if err := l.tasks.Put(task(fn)); err != nil {
		return ErrStopped
	}
	return nil
}

// Call posts fn and waits until it has run.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if err := l.Post(func() {
		defer close(ran)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-ran:
		return nil
	case <-l.done:
		// The loop may have run fn just before exiting.
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop runs every task posted before the call, then stops the loop. Tasks
// posted afterwards are dropped.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		if !l.started.Load() {
			l.tasks.Dispose()
			close(l.done)
			return
		}
		if err := l.tasks.Put(stopMarker{}); err != nil {
			l.logger.Warn("Main loop already disposed", zap.Error(err))
		}
	})

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		l.logger.Warn("Main loop stop timed out", zap.Int64("pending", l.tasks.Len()))
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int64 {
	return l.tasks.Len()
}

// Executed returns the number of tasks run so far.
func (l *Loop) Executed() int64 {
	return l.executed.Load()
}

// Panics returns the number of tasks that panicked.
func (l *Loop) Panics() int64 {
	return l.panics.Load()
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		items, err := l.tasks.Get(1)
		if err != nil {
			l.logger.Debug("Main loop queue disposed", zap.Error(err))
			return
		}
		for _, item := range items {
			switch it := item.(type) {
			case task:
				l.exec(it)
			case stopMarker:
				if dropped := l.tasks.Dispose(); len(dropped) > 0 {
					l.logger.Warn("Main loop stopped with pending tasks", zap.Int("dropped", len(dropped)))
				}
				l.logger.Debug("Main loop stopped", zap.Int64("executed", l.executed.Load()))
				return
			}
		}
	}
}

func (l *Loop) exec(t task) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("Task panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	l.executed.Add(1)
	t()
}

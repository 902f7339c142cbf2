// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"container/heap"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// task is a unit of work queued on a MessageLoop.
type task struct {
	fn       func() error
	deadline time.Time
	seq      uint64
	done     chan error // nil for posted tasks
}

// taskQueue orders tasks by deadline, then by post order.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].seq < q[j].seq
	}
	return q[i].deadline.Before(q[j].deadline)
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x any)   { *q = append(*q, x.(*task)) }
func (q *taskQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return t
}

// MessageLoop owns one OS thread. Every engine call and every engine
// callback runs on it, in post order; delayed tasks with equal deadlines
// run in post order as well.
type MessageLoop struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	queue   taskQueue
	seq     uint64
	stopped bool

	wake chan struct{}
	done chan struct{}

	tid       atomic.Int64 // OS thread of the loop goroutine
	taskCount atomic.Uint64
}

// LoopOption configures a MessageLoop.
type LoopOption func(*MessageLoop)

// WithLoopName names the loop in log records.
func WithLoopName(name string) LoopOption {
	return func(l *MessageLoop) { l.name = name }
}

// WithLoopLogger sets the loop logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *MessageLoop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewMessageLoop starts a loop and returns once its thread is running.
func NewMessageLoop(opts ...LoopOption) *MessageLoop {
	l := &MessageLoop{
		name:   "script",
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	return l
}

// PostTask queues fn to run on the loop.
func (l *MessageLoop) PostTask(fn func()) {
	l.PostDelayedTask(fn, 0)
}

// PostDelayedTask queues fn to run on the loop after d.
func (l *MessageLoop) PostDelayedTask(fn func(), d time.Duration) {
	l.enqueue(&task{
		fn:       func() error { fn(); return nil },
		deadline: time.Now().Add(max(d, 0)),
	})
}

// Run executes fn on the loop and waits for it. A panic in fn is returned as
// an error. Called from the loop itself, fn runs inline.
func (l *MessageLoop) Run(fn func() error) error {
	if l.OnLoop() {
		return l.execute(&task{fn: fn})
	}
	t := &task{fn: fn, deadline: time.Now(), done: make(chan error, 1)}
	if !l.enqueue(t) {
		return ErrLoopStopped
	}
	return <-t.done
}

// OnLoop reports whether the caller runs on the loop goroutine.
func (l *MessageLoop) OnLoop() bool {
	select {
	case <-l.done:
		return false
	default:
	}
	return threadID() == l.tid.Load()
}

// Pending returns the number of queued tasks.
func (l *MessageLoop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// TaskCount returns the number of tasks executed so far.
func (l *MessageLoop) TaskCount() uint64 {
	return l.taskCount.Load()
}

// Stop ends the loop. Queued tasks are dropped; callers blocked in Run get
// ErrLoopStopped. Stop waits for the loop to exit unless called from it.
func (l *MessageLoop) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		l.signal()
	}
	l.mu.Unlock()
	if !l.OnLoop() {
		<-l.done
	}
}

// Done is closed when the loop has exited.
func (l *MessageLoop) Done() <-chan struct{} { return l.done }

func (l *MessageLoop) enqueue(t *task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		l.logger.Debug("Dropping task posted to stopped loop", "loop", l.name)
		return false
	}
	l.seq++
	t.seq = l.seq
	heap.Push(&l.queue, t)
	if l.queue[0] == t {
		l.signal()
	}
	return true
}

func (l *MessageLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *MessageLoop) run(ready chan<- struct{}) {
	runtime.LockOSThread()
	l.tid.Store(threadID())
	close(ready)
	defer close(l.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	for {
		l.mu.Lock()
		if l.stopped {
			pending := l.queue
			l.queue = nil
			l.mu.Unlock()
			for _, t := range pending {
				if t.done != nil {
					t.done <- ErrLoopStopped
				}
			}
			return
		}
		var next *task
		wait := time.Duration(-1)
		if len(l.queue) > 0 {
			if d := time.Until(l.queue[0].deadline); d <= 0 {
				next = heap.Pop(&l.queue).(*task)
			} else {
				wait = d
			}
		}
		l.mu.Unlock()

		if next != nil {
			err := l.execute(next)
			if next.done != nil {
				next.done <- err
			}
			continue
		}
		if wait < 0 {
			<-l.wake
			continue
		}
		timer.Reset(wait)
		select {
		case <-l.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (l *MessageLoop) execute(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s loop: %v", l.name, r)
			l.logger.Error("Panic recovered in loop task", "loop", l.name, "error", r)
		}
		l.taskCount.Add(1)
	}()
	return t.fn()
}

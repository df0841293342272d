// Package queue is the bounded-concurrency worker queue the sync
// engine submits its outbound work to, plus a periodic
// scheduler for its 10-second sweep. Tasks are run by a fixed pool of
// workers draining one channel buffered to 4096 tasks; a task that runs past its
// timeout is abandoned (its goroutine keeps running to completion, but
// the worker moves on) rather than retried.
package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/xendarboh/chatnode/internal/syncutil"

	logging "gopkg.in/op/go-logging.v1"
)

// DefaultWorkers is the worker pool size used when not overridden by
// configuration.
const DefaultWorkers = 10

// taskTimeout bounds how long a single task's Run may take before the
// worker gives up waiting on it and moves to the next task.
const taskTimeout = 30 * time.Second

// Task is one unit of work submitted to the queue.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(ctx context.Context) error

// Run calls f.
func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Queue is a task channel, buffered to 4096 tasks, drained by a fixed
// pool of workers. The buffer is bounded: while it is full, Enqueue
// blocks until a worker takes a task or the queue is halted.
type Queue struct {
	syncutil.Worker

	tasks   chan Task
	workers int
	log     *logging.Logger

	depth int64 // atomic: tasks submitted but not yet finished
}

// New constructs a Queue with the given worker count (DefaultWorkers
// if workers <= 0) and starts its workers.
func New(workers int, log *logging.Logger) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	q := &Queue{
		tasks:   make(chan Task, 4096),
		workers: workers,
		log:     log,
	}
	for i := 0; i < workers; i++ {
		q.Go(q.workerLoop)
	}
	return q
}

// Enqueue submits t for execution by the next free worker. It never
// blocks on task completion, only on the channel accepting the send.
func (q *Queue) Enqueue(t Task) {
	atomic.AddInt64(&q.depth, 1)
	select {
	case q.tasks <- t:
	case <-q.HaltCh():
	}
}

// Depth reports the number of tasks submitted but not yet finished
// running, for metrics.
func (q *Queue) Depth() int64 {
	return atomic.LoadInt64(&q.depth)
}

// Stop halts every worker and waits for in-flight tasks to either
// finish or hit their timeout.
func (q *Queue) Stop() {
	q.Halt()
	q.Wait()
}

func (q *Queue) workerLoop() {
	for {
		select {
		case <-q.HaltCh():
			return
		case t := <-q.tasks:
			q.runOne(t)
		}
	}
}

func (q *Queue) runOne(t Task) {
	defer atomic.AddInt64(&q.depth, -1)

	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && q.log != nil {
			q.log.Warningf("queue: task failed: %s", err)
		}
	case <-ctx.Done():
		if q.log != nil {
			q.log.Warningf("queue: task timed out after %s", taskTimeout)
		}
	}
}

// Scheduler runs fn once per interval, forever, never overlapping two
// runs of fn: a run that takes longer than interval simply delays the
// next tick rather than starting concurrently.
type Scheduler struct {
	syncutil.Worker

	interval time.Duration
	fn       func(ctx context.Context) error
	log      *logging.Logger
}

// NewScheduler constructs a Scheduler that calls fn roughly every
// interval once Run is called.
func NewScheduler(interval time.Duration, fn func(ctx context.Context) error, log *logging.Logger) *Scheduler {
	return &Scheduler{interval: interval, fn: fn, log: log}
}

// Run starts the scheduler's background loop.
func (s *Scheduler) Run() {
	s.Go(s.loop)
}

// Stop halts the loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.Halt()
	s.Wait()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.HaltCh():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	if err := s.fn(ctx); err != nil && s.log != nil {
		s.log.Warningf("queue: periodic task failed: %s", err)
	}
}

// Package applyqueue provides a single-lane ordered task executor. The write
// coordinator on the leader side pushes forwarded writes through one lane so
// application order always matches arrival order.
package applyqueue

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work applied in submission order
type Task struct {
	ID string
	Fn func() error
}

// Queue executes tasks one at a time, strictly in submission order
type Queue struct {
	name      string
	tasks     chan Task
	queueSize int
	logger    *zap.Logger
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopChan  chan struct{}

	submitted uint64
	completed uint64
	failed    uint64
	rejected  uint64
}

// New creates an apply queue with the given capacity and starts its lane
func New(name string, queueSize int, logger *zap.Logger) *Queue {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		name:      name,
		tasks:     make(chan Task, queueSize),
		queueSize: queueSize,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}

	q.wg.Add(1)
	go q.run()

	return q
}

// run is the single lane; one goroutine so ordering is total
func (q *Queue) run() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopChan:
			return
		case task := <-q.tasks:
			q.execute(task)
		}
	}
}

// execute runs one task with panic recovery
func (q *Queue) execute(task Task) {
	start := time.Now()
	err := q.safeExecute(task)
	duration := time.Since(start)

	if err != nil {
		atomic.AddUint64(&q.failed, 1)
		q.logger.Error("Apply task failed",
			zap.String("queue", q.name),
			zap.String("task_id", task.ID),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		atomic.AddUint64(&q.completed, 1)
		q.logger.Debug("Apply task completed",
			zap.String("queue", q.name),
			zap.String("task_id", task.ID),
			zap.Duration("duration", duration))
	}
}

// safeExecute runs a task, converting panics to errors
func (q *Queue) safeExecute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("apply task panicked: %v", r)
			q.logger.Error("Apply task panic recovered",
				zap.String("queue", q.name),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	return task.Fn()
}

// Submit enqueues a task without blocking
// Returns an error if the queue is full or stopped
func (q *Queue) Submit(task Task) error {
	select {
	case <-q.stopChan:
		atomic.AddUint64(&q.rejected, 1)
		return fmt.Errorf("apply queue '%s' is stopped", q.name)
	default:
	}

	select {
	case q.tasks <- task:
		atomic.AddUint64(&q.submitted, 1)
		return nil
	default:
		atomic.AddUint64(&q.rejected, 1)
		return fmt.Errorf("apply queue '%s' is full", q.name)
	}
}

// Stop halts the lane, waiting up to timeout for the in-flight task.
// Tasks still queued are discarded; their requesters observe a timeout.
func (q *Queue) Stop(timeout time.Duration) error {
	var err error
	q.stopOnce.Do(func() {
		q.logger.Debug("Stopping apply queue", zap.String("queue", q.name))
		close(q.stopChan)

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("apply queue '%s' stop timeout after %v", q.name, timeout)
			q.logger.Warn("Apply queue stop timeout", zap.String("queue", q.name))
		}
	})
	return err
}

// Stats represents apply queue statistics
type Stats struct {
	Name      string
	QueueSize int
	Depth     int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
}

// Stats returns current queue statistics
func (q *Queue) Stats() Stats {
	return Stats{
		Name:      q.name,
		QueueSize: q.queueSize,
		Depth:     len(q.tasks),
		Submitted: atomic.LoadUint64(&q.submitted),
		Completed: atomic.LoadUint64(&q.completed),
		Failed:    atomic.LoadUint64(&q.failed),
		Rejected:  atomic.LoadUint64(&q.rejected),
	}
}

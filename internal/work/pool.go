// Package work provides the bounded worker pool that decouples hook ingest
// from fan-out. A burst of inbound hooks queues tasks instead of spawning a
// goroutine per event; when the queue is full, tasks are dropped and counted
// rather than growing without bound.
package work

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cordona/hookrelay/internal/monitoring"
)

// Task is a unit of work executed by a pool worker.
type Task func()

// Pool manages a fixed set of worker goroutines draining a buffered queue.
// All methods are safe for concurrent use.
type Pool struct {
	workerCount  int
	taskQueue    chan Task
	ctx          context.Context
	wg           sync.WaitGroup
	droppedTasks int64
	logger       zerolog.Logger
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(workerCount, queueSize int, logger zerolog.Logger) *Pool {
	return &Pool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		logger:      logger,
	}
}

// Start launches the workers. Must be called once before Submit; workers
// exit when the context is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.ctx.Done():
			return
		}
	}
}

// runTask executes one task with panic recovery so a bad payload cannot take
// the worker down with it.
func (p *Pool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("Worker panic recovered")
		}
	}()
	task()
	monitoring.SetWorkerQueueDepth(len(p.taskQueue))
}

// Submit enqueues a task. When the queue is full the task is dropped and the
// drop counter incremented; shedding load here keeps ingest handlers fast
// regardless of fan-out backlog.
func (p *Pool) Submit(task Task) {
	select {
	case p.taskQueue <- task:
		monitoring.SetWorkerQueueDepth(len(p.taskQueue))
	default:
		atomic.AddInt64(&p.droppedTasks, 1)
		monitoring.RecordWorkerTaskDropped()
	}
}

// Stop closes the queue and blocks until the workers drain it and exit.
func (p *Pool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// DroppedTasks returns how many tasks were shed because the queue was full.
func (p *Pool) DroppedTasks() int64 {
	return atomic.LoadInt64(&p.droppedTasks)
}

// QueueDepth returns the number of tasks currently waiting.
func (p *Pool) QueueDepth() int {
	return len(p.taskQueue)
}

// Package ingress implements C7: the HTTP webhook entry point and the
// fire-and-forget worker pool that processes each payload element as an
// independent task.
package ingress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cryptoKingdom88/chainwatch/internal/metrics"
)

// job is one unit of work submitted to the pool.
type job struct {
	id      uint64
	fn      func()
	created time.Time
}

// WorkerPool bounds the number of concurrently running payload-processing
// tasks so an ingress burst can't spawn unbounded goroutines. Submitted
// jobs never share mutable state with each other.
type WorkerPool struct {
	maxWorkers int
	queue      chan job
	counter    uint64

	shutdownOnce sync.Once
	shutdownChan chan struct{}
	wg           sync.WaitGroup

	logger *logrus.Entry
}

// NewWorkerPool creates and starts a pool of maxWorkers goroutines
// draining a queue buffered at 2x that count.
func NewWorkerPool(maxWorkers int, logger *logrus.Entry) *WorkerPool {
	p := &WorkerPool{
		maxWorkers:   maxWorkers,
		queue:        make(chan job, maxWorkers*2),
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}

	for i := 0; i < maxWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}

	logger.WithField("workers", maxWorkers).Info("ingress worker pool started")
	return p
}

// Submit enqueues fn for asynchronous processing. It returns an error if
// the queue is full rather than blocking the HTTP request that submitted
// it — the caller acks the request regardless and the task runs
// best-effort.
func (p *WorkerPool) Submit(fn func()) error {
	if fn == nil {
		return fmt.Errorf("job function cannot be nil")
	}

	id := atomic.AddUint64(&p.counter, 1)
	j := job{id: id, fn: fn, created: time.Now()}

	select {
	case p.queue <- j:
		metrics.WorkerPoolQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return fmt.Errorf("ingress worker queue is full (capacity %d)", cap(p.queue))
	}
}

func (p *WorkerPool) runWorker(id int) {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.queue:
			metrics.WorkerPoolQueueDepth.Set(float64(len(p.queue)))
			p.runJob(id, j)
		case <-p.shutdownChan:
			p.drain(id)
			return
		}
	}
}

func (p *WorkerPool) drain(id int) {
	for {
		select {
		case j := <-p.queue:
			p.runJob(id, j)
		default:
			return
		}
	}
}

// runJob executes one job, isolating its panic so a single malformed
// payload never takes down the worker or siblings in flight.
func (p *WorkerPool) runJob(workerID int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("worker", workerID).
				WithField("job_id", j.id).
				WithField("age", time.Since(j.created)).
				WithField("panic", r).
				Error("ingress job panicked")
		}
	}()
	j.fn()
}

// Shutdown signals every worker to stop and waits for in-flight and queued
// jobs to drain, up to the given context deadline.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() { close(p.shutdownChan) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("ingress worker pool drained")
		return nil
	case <-ctx.Done():
		p.logger.Warn("ingress worker pool shutdown deadline exceeded")
		return ctx.Err()
	}
}

// QueueDepth reports the number of jobs currently queued.
func (p *WorkerPool) QueueDepth() int {
	return len(p.queue)
}

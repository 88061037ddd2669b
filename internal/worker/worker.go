// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/metrics"
)

// DefaultPoolSize is the number of workers used when none is configured.
const DefaultPoolSize = 5

// Stats counts what a worker has processed.
type Stats struct {
	Dispatched int64
	Failed     int64
}

// Worker consumes queue items and hands each one to the dispatcher.
type Worker struct {
	index      int
	queue      crawler.Queue
	dispatcher crawler.Dispatcher
	logger     *zap.Logger

	dispatched atomic.Int64
	failed     atomic.Int64
}

// New constructs a Worker.
func New(index int, queue crawler.Queue, dispatcher crawler.Dispatcher, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		index:      index,
		queue:      queue,
		dispatcher: dispatcher,
		logger:     logger.With(zap.Int("worker", index)),
	}
}

// Run blocks, consuming queue items until it dequeues a shutdown marker, the
// context finishes, or the queue is closed. A failed dispatch is logged and
// the loop moves on to the next item.
func (w *Worker) Run(ctx context.Context) error {
	for {
		item, err := w.queue.Get(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("worker %d stopped: %w", w.index, ctx.Err())
			}
			return fmt.Errorf("worker %d dequeue: %w", w.index, err)
		}

		err = w.process(ctx, item)
		if errors.Is(err, crawler.ErrShutdown) {
			w.logger.Debug("shutdown received")
			return nil
		}
		if err != nil {
			w.failed.Add(1)
			w.logFailure(item, err)
		}
	}
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Dispatched: w.dispatched.Load(),
		Failed:     w.failed.Load(),
	}
}

// process dispatches one item and always acknowledges it, including the
// shutdown marker, so the queue's unfinished count reaches zero.
func (w *Worker) process(ctx context.Context, item crawler.WorkItem) (err error) {
	defer func() {
		if doneErr := w.queue.Done(); doneErr != nil {
			w.logger.Error("queue ack failed", zap.Error(doneErr))
		}
	}()
	if item.Kind() == crawler.KindShutdown {
		return crawler.ErrShutdown
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch %s panicked: %v", item.Kind(), r)
		}
	}()

	w.dispatched.Add(1)
	return w.dispatcher.Dispatch(ctx, item)
}

func (w *Worker) logFailure(item crawler.WorkItem, err error) {
	fields := []zap.Field{zap.String("kind", string(item.Kind())), zap.Error(err)}
	if resp, ok := item.(crawler.FetchedResponse); ok {
		stage := string(resp.Request.Stage)
		fields = append(fields, zap.String("url", resp.URL), zap.String("stage", stage))
		metrics.ObserveParseError(stage)
	}
	w.logger.Error("dispatch failed", fields...)
}

// Pool is a fixed set of symmetric workers sharing one queue.
type Pool struct {
	workers []*Worker
	logger  *zap.Logger

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewPool builds size workers. A non-positive size uses DefaultPoolSize.
func NewPool(size int, queue crawler.Queue, dispatcher crawler.Dispatcher, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultPoolSize
	}
	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = New(i, queue, dispatcher, logger)
	}
	return &Pool{workers: workers, logger: logger}
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(wk *Worker) {
			defer p.wg.Done()
			if err := wk.Run(ctx); err != nil {
				p.logger.Warn("worker exited", zap.Int("worker", wk.index), zap.Error(err))
				p.mu.Lock()
				p.errs = append(p.errs, err)
				p.mu.Unlock()
			}
		}(w)
	}
}

// Wait blocks until every worker has exited and returns the exit errors it
// collected. A worker stopped by its shutdown marker contributes nothing.
func (p *Pool) Wait() []error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errs...)
}

// Stats sums the counters of every worker.
func (p *Pool) Stats() Stats {
	var total Stats
	for _, w := range p.workers {
		s := w.Stats()
		total.Dispatched += s.Dispatched
		total.Failed += s.Failed
	}
	return total
}

// Package engine runs one crawl: it seeds the queue, drives the worker pool
// until the frontier is exhausted, and shuts everything down.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/dispatcher"
	"github.com/JakeFAU/searchcrawler/internal/parsers"
	"github.com/JakeFAU/searchcrawler/internal/queue/memory"
	"github.com/JakeFAU/searchcrawler/internal/sink"
	"github.com/JakeFAU/searchcrawler/internal/worker"
)

// ErrClosed is returned by Run on an engine that has already run.
var ErrClosed = errors.New("crawl engine is closed")

// ErrUnknownSearchType is returned by New for a type with no registered bundle.
var ErrUnknownSearchType = parsers.ErrUnknownSearchType

// State is the lifecycle phase of an Engine.
type State int32

// Lifecycle phases in the order they are entered.
const (
	StateIdle State = iota
	StateSeeding
	StateDraining
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeeding:
		return "seeding"
	case StateDraining:
		return "draining"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Queue is the work queue an Engine drives.
type Queue interface {
	crawler.Queue
	Close()
	Unfinished() int
}

// Config describes one crawl.
type Config struct {
	Keywords    []string
	SearchType  string
	Workers     int
	MaxDuration time.Duration
	// EntryURL overrides the bundle's search entry point.
	EntryURL    string
	EmitPartial bool
}

// Deps are the collaborators an Engine is built from. Queue, IDs and Logger
// are optional.
type Deps struct {
	Registry *parsers.Registry
	Fetcher  crawler.Fetcher
	Sink     crawler.Sink
	Queue    Queue
	IDs      crawler.IDGenerator
	Clock    crawler.Clock
	Logger   *zap.Logger
}

// Result summarizes a finished crawl.
type Result struct {
	RunID        string
	SearchType   string
	Seeded       int
	Dispatched   int64
	Failed       int64
	WorkerErrors []error
	Unfinished   int
	Drained      bool
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Engine is single-use: Run may be called once.
type Engine struct {
	cfg        Config
	searchType string
	bundle     crawler.Bundle
	fetcher    crawler.Fetcher
	sink       crawler.Sink
	queue      Queue
	ids        crawler.IDGenerator
	clock      crawler.Clock
	logger     *zap.Logger

	state atomic.Int32
}

type closer interface {
	Close()
}

// New resolves the search type and validates cfg. It performs no I/O.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Registry == nil {
		return nil, errors.New("engine requires a parser registry")
	}
	if deps.Fetcher == nil || deps.Sink == nil {
		return nil, errors.New("engine requires a fetcher and a sink")
	}
	if deps.Clock == nil {
		return nil, errors.New("engine requires a clock")
	}
	searchType := strings.ToLower(strings.TrimSpace(cfg.SearchType))
	bundle, err := deps.Registry.Lookup(searchType, parsers.Options{
		EntryURL:    cfg.EntryURL,
		EmitPartial: cfg.EmitPartial,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve search type: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = worker.DefaultPoolSize
	}
	queue := deps.Queue
	if queue == nil {
		queue = memory.NewQueue()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		searchType: searchType,
		bundle:     bundle,
		fetcher:    deps.Fetcher,
		sink:       deps.Sink,
		queue:      queue,
		ids:        deps.IDs,
		clock:      deps.Clock,
		logger:     logger.Named("engine"),
	}, nil
}

// State reports the current lifecycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Run executes the crawl and blocks until every worker has exited. When ctx
// ends before the queue drains, the queue is closed, workers are joined and
// the partial result is returned along with the context error.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateSeeding)) {
		return Result{}, ErrClosed
	}

	result := Result{SearchType: e.searchType, StartedAt: e.clock.Now()}
	if e.ids != nil {
		runID, err := e.ids.NewID()
		if err != nil {
			e.setState(StateClosed)
			return result, fmt.Errorf("new run id: %w", err)
		}
		result.RunID = runID
	}
	logger := e.logger.With(zap.String("run_id", result.RunID), zap.String("search_type", e.searchType))
	ctx = sink.WithRunID(ctx, result.RunID)
	if e.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.MaxDuration)
		defer cancel()
	}

	seeded, err := e.seed(logger)
	result.Seeded = seeded
	if err != nil {
		e.setState(StateClosed)
		return result, err
	}

	d, err := dispatcher.New(dispatcher.Deps{
		Queue:   e.queue,
		Fetcher: e.fetcher,
		Sink:    e.sink,
		Bundle:  e.bundle,
		Logger:  logger.Named("dispatcher"),
	})
	if err != nil {
		e.setState(StateClosed)
		return result, fmt.Errorf("build dispatcher: %w", err)
	}
	pool := worker.NewPool(e.cfg.Workers, e.queue, d, logger.Named("worker"))

	e.setState(StateDraining)
	logger.Info("crawl started", zap.Int("seeded", seeded), zap.Int("workers", pool.Size()))
	pool.Start(ctx)
	joinErr := e.queue.Join(ctx)

	e.setState(StateShuttingDown)
	if joinErr == nil {
		for range pool.Size() {
			if err := e.queue.Put(crawler.Shutdown{}); err != nil {
				joinErr = fmt.Errorf("enqueue shutdown: %w", err)
				break
			}
		}
	}
	if joinErr != nil {
		logger.Warn("crawl interrupted before drain", zap.Error(joinErr))
		e.queue.Close()
	}
	result.WorkerErrors = pool.Wait()

	e.setState(StateClosed)
	closeErr := e.release(context.WithoutCancel(ctx))

	stats := pool.Stats()
	result.Dispatched = stats.Dispatched
	result.Failed = stats.Failed
	result.Unfinished = e.queue.Unfinished()
	result.Drained = joinErr == nil && result.Unfinished == 0
	result.FinishedAt = e.clock.Now()

	logger.Info("crawl finished",
		zap.Bool("drained", result.Drained),
		zap.Int64("dispatched", result.Dispatched),
		zap.Int64("failed", result.Failed),
		zap.Int("worker_errors", len(result.WorkerErrors)),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, errors.Join(joinErr, closeErr)
}

// seed enqueues one search request per keyword before any worker starts.
func (e *Engine) seed(logger *zap.Logger) (int, error) {
	if len(e.cfg.Keywords) == 0 {
		logger.Warn("no keywords configured; nothing to crawl")
		return 0, nil
	}
	for i, kw := range e.cfg.Keywords {
		req := crawler.NewFetchRequest(e.bundle.EntryURL, e.bundle.SeedStage, crawler.Meta{
			"params": map[string]string{"q": kw, "type": e.searchType},
		})
		if err := e.queue.Put(req); err != nil {
			return i, fmt.Errorf("seed keyword %q: %w", kw, err)
		}
	}
	return len(e.cfg.Keywords), nil
}

func (e *Engine) release(ctx context.Context) error {
	if c, ok := e.fetcher.(closer); ok {
		c.Close()
	}
	if err := e.sink.Close(ctx); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Package dispatcher interprets work items pulled off the crawl queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/metrics"
)

// ErrParse marks a failure inside a parse stage: the stage returned an
// error, panicked, or yielded a value that may not be enqueued.
var ErrParse = errors.New("parse failed")

// Deps are the collaborators a Dispatcher acts on.
type Deps struct {
	Queue   crawler.Queue
	Fetcher crawler.Fetcher
	Sink    crawler.Sink
	Bundle  crawler.Bundle
	Logger  *zap.Logger
	// Tracer defaults to the global provider's dispatcher tracer.
	Tracer trace.Tracer
}

// Dispatcher routes each work item to its single valid action.
type Dispatcher struct {
	queue   crawler.Queue
	fetcher crawler.Fetcher
	sink    crawler.Sink
	bundle  crawler.Bundle
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a Dispatcher.
func New(deps Deps) (*Dispatcher, error) {
	if deps.Queue == nil || deps.Fetcher == nil || deps.Sink == nil {
		return nil, errors.New("dispatcher requires queue, fetcher and sink")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/JakeFAU/searchcrawler/internal/dispatcher")
	}
	return &Dispatcher{
		queue:   deps.Queue,
		fetcher: deps.Fetcher,
		sink:    deps.Sink,
		bundle:  deps.Bundle,
		logger:  logger,
		tracer:  tracer,
	}, nil
}

// Dispatch performs the action bound to item's variant. Shutdown yields
// crawler.ErrShutdown; parse failures are wrapped in ErrParse. Each call runs
// in its own span so sinks can propagate the trace context.
func (d *Dispatcher) Dispatch(ctx context.Context, item crawler.WorkItem) error {
	kind := string(item.Kind())
	metrics.ObserveWorkItem(kind)

	ctx, span := d.tracer.Start(ctx, "dispatch "+kind,
		trace.WithAttributes(attribute.String("crawler.work_item.kind", kind)))
	defer span.End()

	err := d.dispatch(ctx, item)
	if err != nil && !errors.Is(err, crawler.ErrShutdown) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, item crawler.WorkItem) error {
	switch v := item.(type) {
	case crawler.FetchRequest:
		return d.fetch(ctx, v)
	case crawler.FetchedResponse:
		return d.parse(ctx, v)
	case crawler.ExtractedItem:
		return d.store(ctx, v)
	case crawler.Shutdown:
		return crawler.ErrShutdown
	default:
		return fmt.Errorf("unhandled work item %T", item)
	}
}

func (d *Dispatcher) fetch(ctx context.Context, req crawler.FetchRequest) error {
	resp := d.fetcher.Fetch(ctx, req)
	if err := d.queue.Put(resp); err != nil {
		return fmt.Errorf("enqueue response: %w", err)
	}
	return nil
}

func (d *Dispatcher) parse(ctx context.Context, resp crawler.FetchedResponse) (err error) {
	stage := resp.Request.Stage
	fn, err := d.bundle.Resolve(stage)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParse, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: stage %q panicked: %v", ErrParse, stage, r)
		}
	}()

	produced := 0
	for elem, perr := range fn(ctx, resp) {
		if perr != nil {
			return fmt.Errorf("%w: stage %q on %s: %w", ErrParse, stage, resp.URL, perr)
		}
		switch elem.(type) {
		case crawler.FetchRequest, crawler.ExtractedItem:
		default:
			return fmt.Errorf("%w: stage %q yielded %T", ErrParse, stage, elem)
		}
		if err := d.queue.Put(elem); err != nil {
			return fmt.Errorf("enqueue %s: %w", elem.Kind(), err)
		}
		produced++
	}
	d.logger.Debug("response parsed",
		zap.String("url", resp.URL),
		zap.String("stage", string(stage)),
		zap.Int("produced", produced),
	)
	return nil
}

func (d *Dispatcher) store(ctx context.Context, item crawler.ExtractedItem) error {
	if err := d.sink.Append(ctx, item); err != nil {
		return fmt.Errorf("sink append: %w", err)
	}
	metrics.ObserveItem()
	return nil
}

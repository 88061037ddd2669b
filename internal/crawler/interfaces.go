package crawler

import (
	"context"
	"time"
)

// Queue is the shared work queue consumed by the worker pool.
type Queue interface {
	Put(item WorkItem) error
	Get(ctx context.Context) (WorkItem, error)
	Done() error
	Join(ctx context.Context) error
}

// Fetcher performs one network fetch. Failures are folded into a degenerate
// FetchedResponse instead of being returned.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) FetchedResponse
}

// Sink records finished items.
type Sink interface {
	Append(ctx context.Context, item ExtractedItem) error
	Close(ctx context.Context) error
}

// Dispatcher interprets a single work item.
type Dispatcher interface {
	Dispatch(ctx context.Context, item WorkItem) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Package sink holds helpers shared by the crawl sinks.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
)

type runIDKey struct{}

// WithRunID attaches the crawl run ID to ctx so sinks can tag stored records.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run ID attached by WithRunID, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Multi fans each item out to every sink in order.
type Multi []crawler.Sink

// NewMulti drops nil sinks and returns the remainder.
func NewMulti(sinks ...crawler.Sink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Append hands item to every sink. A failing sink does not stop the others.
func (m Multi) Append(ctx context.Context, item crawler.ExtractedItem) error {
	var errs []error
	for i, s := range m {
		if err := s.Append(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m Multi) Close(ctx context.Context) error {
	var errs []error
	for i, s := range m {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

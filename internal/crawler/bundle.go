package crawler

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// Stage identifies a parse function inside a Bundle. Stages are plain strings
// so a FetchRequest stays serializable.
type Stage string

// ErrUnknownStage is returned when a request names a stage its bundle lacks.
var ErrUnknownStage = errors.New("unknown parse stage")

// ParseFunc extracts follow-up requests and items from a response. The
// sequence is consumed lazily; a non-nil error ends it as a parse failure.
type ParseFunc func(ctx context.Context, resp FetchedResponse) iter.Seq2[WorkItem, error]

// Bundle groups the parse stages for one search type.
type Bundle struct {
	Name      string
	EntryURL  string
	SeedStage Stage
	Stages    map[Stage]ParseFunc
}

// Resolve looks up the parse function bound to stage.
func (b Bundle) Resolve(stage Stage) (ParseFunc, error) {
	fn, ok := b.Stages[stage]
	if !ok || fn == nil {
		return nil, fmt.Errorf("%w %q in bundle %q", ErrUnknownStage, stage, b.Name)
	}
	return fn, nil
}

// Validate checks that the bundle can seed a crawl.
func (b Bundle) Validate() error {
	if b.EntryURL == "" {
		return fmt.Errorf("bundle %q: entry url is required", b.Name)
	}
	if _, err := b.Resolve(b.SeedStage); err != nil {
		return fmt.Errorf("bundle %q: seed stage: %w", b.Name, err)
	}
	return nil
}

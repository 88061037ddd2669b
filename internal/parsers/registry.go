// Package parsers maps search types to their parse bundles.
package parsers

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/parsers/github"
)

// Search types understood by the crawler.
const (
	TypeRepositories = "repositories"
	TypeWikis        = "wikis"
	TypeIssues       = "issues"
)

// ErrUnknownSearchType is returned for a type with no registered bundle.
var ErrUnknownSearchType = errors.New("unknown search type")

// Options are passed to every bundle factory.
type Options struct {
	EntryURL    string
	EmitPartial bool
}

// Factory builds a bundle for one search type.
type Factory func(Options) crawler.Bundle

// Registry holds bundle factories keyed by lower-cased search type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns a registry with every bundle shipped in this module.
func Default() *Registry {
	r := NewRegistry()
	r.Register(TypeRepositories, func(opts Options) crawler.Bundle {
		return github.NewBundle(github.Options{EntryURL: opts.EntryURL, EmitPartial: opts.EmitPartial})
	})
	return r
}

// Register binds name to factory, replacing any earlier binding.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = factory
}

// Lookup builds the bundle registered for name. Matching ignores case and
// surrounding whitespace.
func (r *Registry) Lookup(name string, opts Options) (crawler.Bundle, error) {
	r.mu.RLock()
	factory, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return crawler.Bundle{}, fmt.Errorf("%w %q (registered: %s)",
			ErrUnknownSearchType, name, strings.Join(r.Names(), ", "))
	}
	bundle := factory(opts)
	if err := bundle.Validate(); err != nil {
		return crawler.Bundle{}, fmt.Errorf("search type %q: %w", name, err)
	}
	return bundle, nil
}

// Names lists registered search types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Package memory keeps crawl results in process.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
)

// Buffer stores appended items in arrival order.
type Buffer struct {
	mu    sync.RWMutex
	items []crawler.ExtractedItem
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append records item.
func (b *Buffer) Append(_ context.Context, item crawler.ExtractedItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, item)
	return nil
}

// Close is a no-op; records stay readable afterwards.
func (b *Buffer) Close(context.Context) error {
	return nil
}

// Len reports how many items have been appended.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Items returns a copy of the stored items.
func (b *Buffer) Items() []crawler.ExtractedItem {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]crawler.ExtractedItem, len(b.items))
	copy(out, b.items)
	return out
}

// Records returns the serialized form of every item in drain order.
func (b *Buffer) Records() []crawler.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]crawler.Record, 0, len(b.items))
	for _, item := range b.items {
		out = append(out, item.Serialize())
	}
	return out
}

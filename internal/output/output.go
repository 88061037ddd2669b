// Package output writes the records collected by a crawl.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
)

// ContentType of the written document.
const ContentType = "application/json"

// BlobStore persists a named object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Encode renders records as an indented JSON array. A nil slice encodes as [].
func Encode(records []crawler.Record) ([]byte, error) {
	if records == nil {
		records = []crawler.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return append(data, '\n'), nil
}

// Write encodes records onto w.
func Write(w io.Writer, records []crawler.Record) error {
	data, err := Encode(records)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

// Save encodes records and stores them at path.
func Save(ctx context.Context, store BlobStore, path string, records []crawler.Record) (string, error) {
	if store == nil {
		return "", errors.New("blob store is required")
	}
	data, err := Encode(records)
	if err != nil {
		return "", err
	}
	uri, err := store.PutObject(ctx, path, ContentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store records: %w", err)
	}
	return uri, nil
}

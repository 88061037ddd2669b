// Package memory keeps output documents in process. It is the output.BlobStore
// used by tests that assert on written documents without touching disk or GCS.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Object is one stored document.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore stores objects in a map and returns memory:// URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewBlobStore creates an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject stores the content read from r under path.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = Object{ContentType: contentType, Data: data}
	return "memory://" + path, nil
}

// Object returns a copy of the object stored under path.
func (s *BlobStore) Object(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return Object{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, true
}

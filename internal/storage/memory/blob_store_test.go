package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "runs/r1.json", "application/json", bytes.NewReader([]byte("[]")))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://runs/r1.json" {
		t.Fatalf("unexpected uri %s", uri)
	}

	obj, ok := store.Object("runs/r1.json")
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if obj.ContentType != "application/json" {
		t.Fatalf("unexpected content type %q", obj.ContentType)
	}
	obj.Data[0] = '{'
	again, _ := store.Object("runs/r1.json")
	if string(again.Data) != "[]" {
		t.Fatalf("expected stored copy to be immutable, got %q", again.Data)
	}
}

func TestBlobStoreMissingObject(t *testing.T) {
	t.Parallel()

	if _, ok := NewBlobStore().Object("nope"); ok {
		t.Fatal("expected missing object")
	}
}

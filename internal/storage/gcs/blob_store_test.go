package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestPutObjectUploadsToBucket(t *testing.T) {
	t.Parallel()

	var (
		gotName string
		gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/results-bucket/o")
		gotName = r.URL.Query().Get("name")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		gotBody = string(body)
		fmt.Fprintf(w, `{"name": %q, "bucket": "results-bucket"}`, gotName)
	}))
	defer srv.Close()

	store, err := Dial(context.Background(), Config{Bucket: "results-bucket", Prefix: "/crawls/"},
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	uri, err := store.PutObject(context.Background(), "run-1.json", "application/json", bytes.NewReader([]byte(`[]`)))
	require.NoError(t, err)
	require.Equal(t, "gs://results-bucket/crawls/run-1.json", uri)
	require.Equal(t, "crawls/run-1.json", gotName)
	require.Contains(t, gotBody, "[]")
}

func TestPutObjectReportsServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"code": 403, "message": "forbidden"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	store, err := Dial(context.Background(), Config{Bucket: "results-bucket"},
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "run.json", "", bytes.NewReader([]byte(`[]`)))
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	store, err := Dial(context.Background(), Config{Bucket: "b"}, option.WithoutAuthentication())
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)

	_, err = Dial(context.Background(), Config{}, option.WithoutAuthentication())
	require.ErrorContains(t, err, "bucket name is required")
}

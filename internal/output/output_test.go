package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/storage/memory"
)

func TestWriteKeepsRecordOrder(t *testing.T) {
	t.Parallel()

	records := []crawler.Record{
		{URL: "https://github.com/b/b", Extra: map[string]any{"owner": "acme"}},
		{URL: "https://github.com/a/a"},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, records))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, "https://github.com/b/b", decoded[0]["url"])
	require.Equal(t, map[string]any{"owner": "acme"}, decoded[0]["extra"])
	require.Nil(t, decoded[1]["extra"])
	require.Contains(t, decoded[1], "extra")
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	data, err := Encode(nil)
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(data))
}

func TestSaveStoresDocument(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	uri, err := Save(context.Background(), store, "runs/r1.json", []crawler.Record{{URL: "https://example.test"}})
	require.NoError(t, err)
	require.Equal(t, "memory://runs/r1.json", uri)

	obj, ok := store.Object("runs/r1.json")
	require.True(t, ok)
	require.Equal(t, ContentType, obj.ContentType)
	require.JSONEq(t, `[{"url":"https://example.test","extra":null}]`, string(obj.Data))
}

func TestSaveErrors(t *testing.T) {
	t.Parallel()

	_, err := Save(context.Background(), nil, "x", nil)
	require.Error(t, err)

	_, err = Save(context.Background(), failingStore{}, "x", nil)
	require.EqualError(t, err, "store records: bucket missing")
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket missing")
}

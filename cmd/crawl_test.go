package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/searchcrawler/internal/config"
	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/output"
	"github.com/JakeFAU/searchcrawler/internal/parsers"
	"github.com/JakeFAU/searchcrawler/internal/storage/memory"
)

const stubSearchHTML = `<html><body><div data-testid="results-list">
  <div class="search-title"><a href="/user1/repo1">user1/repo1</a></div>
  <div class="search-title"><a href="/user2/repo2">user2/repo2</a></div>
</div></body></html>`

const stubDetailHTML = `<html><body>
  <a data-hovercard-type="organization">%s</a>
  <div class="Layout-sidebar"><h2>Languages</h2><ul class="list-style-none">
    <li><a><span class="color-fg-default text-bold mr-1">Go</span><span>100.0%%</span></a></li>
  </ul></div>
</body></html>`

func newSearchStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			http.Error(w, "missing q", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(stubSearchHTML))
	})
	for _, owner := range []string{"user1", "user2"} {
		mux.HandleFunc("/"+owner+"/", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = fmt.Fprintf(w, stubDetailHTML, owner)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, entryURL string) config.Config {
	t.Helper()
	v := config.New()
	v.Set("crawler.keywords", []string{"golang"})
	v.Set("crawler.entry_url", entryURL)
	v.Set("logging.development", false)
	v.Set("logging.level", "error")
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestRunCrawlWritesRecordsToStdout(t *testing.T) {
	t.Parallel()

	srv := newSearchStub(t)
	var out bytes.Buffer
	require.NoError(t, runCrawl(context.Background(), testConfig(t, srv.URL+"/search"), &out))

	var records []crawler.Record
	require.NoError(t, json.Unmarshal(out.Bytes(), &records))
	require.Len(t, records, 2)

	owners := make(map[string]any, len(records))
	for _, rec := range records {
		owners[rec.URL] = rec.Extra["owner"]
	}
	require.Equal(t, map[string]any{
		srv.URL + "/user1/repo1": "user1",
		srv.URL + "/user2/repo2": "user2",
	}, owners)
}

func TestRunCrawlUnknownSearchType(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1/search")
	cfg.Crawler.SearchType = "wikis"
	// A configured Pub/Sub sink must not be dialed before the type is checked.
	cfg.Sink.PubSub.ProjectID = "no-such-project"
	cfg.Sink.PubSub.Topic = "items"

	var out bytes.Buffer
	err := runCrawl(context.Background(), cfg, &out)
	require.ErrorIs(t, err, parsers.ErrUnknownSearchType)
	require.NotContains(t, err.Error(), "pubsub")
	require.Empty(t, out.String())
}

func TestRunCrawlSavesPartialResultsAfterInterrupt(t *testing.T) {
	store := &liveContextStore{BlobStore: memory.NewBlobStore()}
	original := openBlobStore
	openBlobStore = func(context.Context, config.OutputConfig) (output.BlobStore, string, func(), error) {
		return store, "items.json", func() {}, nil
	}
	t.Cleanup(func() { openBlobStore = original })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cancel()
		_, _ = w.Write([]byte(stubSearchHTML))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL+"/search")
	cfg.Output = config.OutputConfig{Backend: config.BackendGCS, Path: "items.json", GCSBucket: "b"}

	require.NoError(t, runCrawl(ctx, cfg, io.Discard))
	obj, ok := store.Object("items.json")
	require.True(t, ok)
	require.Equal(t, output.ContentType, obj.ContentType)
	require.Error(t, ctx.Err())
}

// liveContextStore fails writes on a done context, as network-backed stores do.
type liveContextStore struct {
	*memory.BlobStore
}

func (s *liveContextStore) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.BlobStore.PutObject(ctx, path, contentType, r)
}

func TestCrawlCommandWritesLocalFile(t *testing.T) {
	t.Parallel()

	srv := newSearchStub(t)
	dest := filepath.Join(t.TempDir(), "out", "items.json")

	v := config.New()
	v.Set("crawler.entry_url", srv.URL+"/search")
	v.Set("logging.level", "error")
	root := newRootCmd(v)
	root.SetArgs([]string{"crawl", "--keyword", "golang", "--type", "Repositories", "--workers", "2", "-o", dest})
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	require.NoError(t, root.ExecuteContext(context.Background()))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	var records []crawler.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)
	require.Empty(t, stdout.String())
}

func TestCrawlCommandReadsConfigFile(t *testing.T) {
	t.Parallel()

	srv := newSearchStub(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "crawler.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
crawler:
  keywords: [golang]
  entry_url: %s/search
logging:
  level: error
`, srv.URL)), 0o600))

	root := newRootCmd(config.New())
	root.SetArgs([]string{"--config", cfgPath, "crawl"})
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	require.NoError(t, root.ExecuteContext(context.Background()))

	var records []crawler.Record
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &records))
	require.Len(t, records, 2)
}

func TestWriteOutputStdoutWhenPathEmpty(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	uri, err := writeOutput(context.Background(), config.OutputConfig{Backend: config.BackendLocal}, nil, &out)
	require.NoError(t, err)
	require.Empty(t, uri)
	require.Equal(t, "[]\n", out.String())
}

package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
)

func TestBufferKeepsOrderAndCopies(t *testing.T) {
	t.Parallel()

	buf := New()
	ctx := context.Background()
	require.NoError(t, buf.Append(ctx, crawler.ExtractedItem{URL: "https://example.test/1"}))
	require.NoError(t, buf.Append(ctx, crawler.ExtractedItem{
		URL:   "https://example.test/2",
		Extra: map[string]any{"owner": "acme"},
	}))
	require.NoError(t, buf.Close(ctx))

	require.Equal(t, []crawler.Record{
		{URL: "https://example.test/1"},
		{URL: "https://example.test/2", Extra: map[string]any{"owner": "acme"}},
	}, buf.Records())

	items := buf.Items()
	items[0].URL = "modified"
	require.Equal(t, "https://example.test/1", buf.Items()[0].URL)
}

func TestBufferConcurrentAppend(t *testing.T) {
	t.Parallel()

	buf := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = buf.Append(context.Background(), crawler.ExtractedItem{URL: fmt.Sprintf("https://example.test/%d/%d", n, j)})
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 800, buf.Len())
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-feed-crawler/internal/config"
	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func feedServer(t *testing.T, published ...time.Time) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>News</title>`)
		for i, ts := range published {
			fmt.Fprintf(w, `<item><guid>item-%d</guid><title>Item %d</title><pubDate>%s</pubDate></item>`,
				i, i, ts.Format(time.RFC1123Z))
		}
		fmt.Fprint(w, `</channel></rss>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildMemoryServesProbes(t *testing.T) {
	app, err := BuildWithLogger(context.Background(), memoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRejectsBadSource(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Sources = []crawler.SourceSpec{{ID: "x", Type: crawler.SourceKindRSS}}
	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source init failed")
}

func TestCrawlEndToEndOnLocalStorage(t *testing.T) {
	now := time.Now()
	feed := feedServer(t, now.Add(-time.Minute), now.Add(-2*time.Minute), now.Add(-3*time.Minute))

	cfg := memoryConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.Local.BaseDir = t.TempDir()
	cfg.Watermark.Backend = config.BackendChunks
	cfg.Crawl.ChunkSize = 2
	cfg.Sources = []crawler.SourceSpec{
		{ID: "news", Type: crawler.SourceKindRSS, RSS: &crawler.RSSSource{URL: feed.URL}},
	}

	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	result, err := app.Dispatcher().RunNow(context.Background(), crawler.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, result.UploadedChunks)
	assert.Equal(t, 3, result.ItemsCount.RSS)

	items, err := app.ReadItems(context.Background(), result.JobTimestamp)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.GreaterOrEqual(t, items[0].AlignTimestamp, items[1].AlignTimestamp)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/watermark", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var mark struct {
		Present bool  `json:"present"`
		Value   int64 `json:"value"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&mark))
	assert.True(t, mark.Present)
	assert.Equal(t, result.NewHighWaterMark, mark.Value)

	again, err := app.Dispatcher().RunNow(context.Background(), crawler.TriggerManual)
	require.NoError(t, err)
	assert.Zero(t, again.UploadedChunks)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Server.Port = 0
	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

package rss_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/source"
	"github.com/JakeFAU/realtime-feed-crawler/internal/source/rss"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example News</title>
  <link>https://example.com</link>
  <description>news</description>
  <item>
    <title>Older</title>
    <link>https://example.com/older</link>
    <guid>older</guid>
    <pubDate>Mon, 01 Jan 2024 00:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Newest</title>
    <link>https://example.com/newest</link>
    <guid>newest</guid>
    <pubDate>Mon, 01 Jan 2024 02:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Undated</title>
    <link>https://example.com/undated</link>
  </item>
</channel>
</rss>`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feedXML)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPageParsesFeed(t *testing.T) {
	srv := newFeedServer(t)
	a, err := rss.New(crawler.RSSSource{URL: srv.URL + "/feed.xml"}, srv.Client())
	require.NoError(t, err)

	page, err := a.FetchPage(context.Background(), "", 20)
	require.NoError(t, err)
	assert.Empty(t, page.NextCursor)
	require.Len(t, page.Entries, 3)

	var first rss.Entry
	require.NoError(t, json.Unmarshal(page.Entries[0], &first))
	assert.Equal(t, "Older", first.Title)
	assert.Equal(t, "Example News", first.FeedTitle)
}

func TestFetchPageHTTPError(t *testing.T) {
	srv := newFeedServer(t)
	a, err := rss.New(crawler.RSSSource{URL: srv.URL + "/missing.xml"}, srv.Client())
	require.NoError(t, err)
	_, err = a.FetchPage(context.Background(), "", 20)

	var statusErr *crawler.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.False(t, statusErr.Retryable())
	assert.False(t, crawler.NewExponentialRetryPolicy(3).ShouldRetry(err, 0))
}

func TestNormalizeFallsBackToUpdated(t *testing.T) {
	a, err := rss.New(crawler.RSSSource{URL: "https://example.com/feed"}, nil)
	require.NoError(t, err)

	item, err := a.Normalize(json.RawMessage(`{"title":"x","updated":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1704067200000), item.AlignTimestamp)
	assert.Equal(t, crawler.SourceKindRSS, item.Type)

	_, err = a.Normalize(json.RawMessage(`{"title":"x"}`))
	assert.ErrorIs(t, err, crawler.ErrUnrecognizedEntry)
}

func TestCrawlFeedEndToEnd(t *testing.T) {
	srv := newFeedServer(t)
	a, err := rss.New(crawler.RSSSource{URL: srv.URL + "/feed.xml"}, srv.Client())
	require.NoError(t, err)
	c := source.New("news", a, source.Options{})

	// Cutoff one hour after the older item.
	end := int64(1704067200000 + 3600*1000)
	items, err := c.Crawl(context.Background(), end, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1704074400000), items[0].AlignTimestamp)
	assert.Equal(t, "news", items[0].SourceID)
}

func TestNewRequiresURL(t *testing.T) {
	_, err := rss.New(crawler.RSSSource{}, nil)
	assert.Error(t, err)
}

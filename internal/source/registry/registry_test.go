package registry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/source/registry"
)

func TestBuildPreservesOrder(t *testing.T) {
	t.Setenv("TEST_BSKY_PASSWORD", "secret")
	specs := []crawler.SourceSpec{
		{ID: "news", Type: crawler.SourceKindRSS, RSS: &crawler.RSSSource{URL: "https://example.com/feed"}},
		{ID: "home", Type: crawler.SourceKindBsky, Bsky: &crawler.BskySource{Identifier: "me", Password: "${TEST_BSKY_PASSWORD}"}},
	}
	crawlers, err := registry.Build(specs, registry.Deps{})
	require.NoError(t, err)
	require.Len(t, crawlers, 2)
	assert.Equal(t, "news", crawlers[0].ID())
	assert.Equal(t, crawler.SourceKindRSS, crawlers[0].Kind())
	assert.Equal(t, "home", crawlers[1].ID())
	assert.Equal(t, crawler.SourceKindBsky, crawlers[1].Kind())
}

func TestBuildRejectsBadSpecs(t *testing.T) {
	cases := map[string][]crawler.SourceSpec{
		"missing id":     {{Type: crawler.SourceKindRSS, RSS: &crawler.RSSSource{URL: "u"}}},
		"unknown type":   {{ID: "x", Type: "twitter"}},
		"missing block":  {{ID: "x", Type: crawler.SourceKindBsky}},
		"empty password": {{ID: "x", Type: crawler.SourceKindBsky, Bsky: &crawler.BskySource{Identifier: "me", Password: "${UNSET_BSKY_PW_FOR_TEST}"}}},
		"duplicate id": {
			{ID: "x", Type: crawler.SourceKindRSS, RSS: &crawler.RSSSource{URL: "u"}},
			{ID: "x", Type: crawler.SourceKindRSS, RSS: &crawler.RSSSource{URL: "v"}},
		},
	}
	for name, specs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := registry.Build(specs, registry.Deps{})
			assert.Error(t, err)
		})
	}
}

func TestBuildAppliesUserAgent(t *testing.T) {
	agents := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case agents <- r.UserAgent():
		default:
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title></channel></rss>`))
	}))
	defer srv.Close()

	crawlers, err := registry.Build([]crawler.SourceSpec{
		{ID: "news", Type: crawler.SourceKindRSS, RSS: &crawler.RSSSource{URL: srv.URL}},
	}, registry.Deps{HTTPClient: srv.Client(), UserAgent: "feed-test/2.0"})
	require.NoError(t, err)

	_, err = crawlers[0].Crawl(context.Background(), 0, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "feed-test/2.0", <-agents)
}

package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/metrics"
)

// Defaults applied when Options leaves a field at zero.
const (
	DefaultMaxCount = 100
	DefaultPageSize = 20
)

// Options bounds a single crawl of one source.
type Options struct {
	MaxCount int
	PageSize int
	// MaxPages caps page fetches. Zero derives ceil(MaxCount/PageSize)+2.
	MaxPages int
	Retry    crawler.RetryPolicy
	Limiter  Waiter
}

// Crawler pages backwards through one source.
type Crawler struct {
	id      string
	adapter Adapter
	opts    Options
}

// New builds a Crawler for the source identified by id.
func New(id string, adapter Adapter, opts Options) *Crawler {
	if opts.MaxCount <= 0 {
		opts.MaxCount = DefaultMaxCount
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = int(math.Ceil(float64(opts.MaxCount)/float64(opts.PageSize))) + 2
	}
	if opts.Retry == nil {
		opts.Retry = crawler.NewExponentialRetryPolicy(0)
	}
	if opts.Limiter == nil {
		opts.Limiter = noWait{}
	}
	return &Crawler{id: id, adapter: adapter, opts: opts}
}

// ID returns the configured source ID.
func (c *Crawler) ID() string { return c.id }

// Kind returns the adapter's source kind.
func (c *Crawler) Kind() crawler.SourceKind { return c.adapter.Kind() }

// Crawl authenticates, then fetches pages until MaxCount items are held, the
// oldest item seen is at or before endTimestamp, the page cap is hit, or the
// source runs dry. Only items strictly newer than endTimestamp are returned,
// newest first within each page.
func (c *Crawler) Crawl(ctx context.Context, endTimestamp int64, logger *zap.Logger) ([]crawler.CrawlItem, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("source", c.id), zap.String("type", string(c.Kind())))

	if err := c.adapter.Authenticate(ctx); err != nil {
		return nil, &crawler.SourceAuthError{SourceID: c.id, Err: err}
	}

	var (
		items   []crawler.CrawlItem
		cursor  string
		minSeen int64
		seen    bool
	)
	for page := 1; ; page++ {
		if len(items) >= c.opts.MaxCount {
			logger.Debug("max count reached", zap.Int("count", len(items)))
			break
		}
		if seen && minSeen <= endTimestamp {
			logger.Debug("reached end timestamp", zap.Int64("oldest", minSeen), zap.Int64("end", endTimestamp))
			break
		}
		if page > c.opts.MaxPages {
			logger.Warn("page cap reached before end timestamp",
				zap.Int("max_pages", c.opts.MaxPages),
				zap.Int64("oldest", minSeen),
				zap.Int64("end", endTimestamp),
			)
			break
		}

		if err := c.opts.Limiter.Wait(ctx, c.id); err != nil {
			return nil, &crawler.SourcePageFetchError{SourceID: c.id, Page: page, Err: err}
		}
		resp, err := c.fetch(ctx, cursor, page)
		if err != nil {
			return nil, &crawler.SourcePageFetchError{SourceID: c.id, Page: page, Err: err}
		}

		pageItems := c.normalize(resp, logger)
		sort.SliceStable(pageItems, func(i, j int) bool {
			return pageItems[i].AlignTimestamp > pageItems[j].AlignTimestamp
		})
		for _, item := range pageItems {
			if !seen || item.AlignTimestamp < minSeen {
				minSeen, seen = item.AlignTimestamp, true
			}
		}
		items = append(items, pageItems...)
		logger.Debug("page fetched",
			zap.Int("page", page),
			zap.Int("entries", len(resp.Entries)),
			zap.Int("items", len(pageItems)),
			zap.Int("total", len(items)),
		)

		if len(resp.Entries) == 0 || resp.NextCursor == "" {
			logger.Debug("source exhausted", zap.Int("page", page))
			break
		}
		cursor = resp.NextCursor
	}

	out := items[:0]
	for _, item := range items {
		if item.AlignTimestamp > endTimestamp {
			out = append(out, item)
		}
	}
	logger.Info("source crawl finished", zap.Int("fetched", len(items)), zap.Int("new", len(out)))
	return out, nil
}

func (c *Crawler) fetch(ctx context.Context, cursor string, page int) (Page, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.adapter.FetchPage(ctx, cursor, c.opts.PageSize)
		if err == nil {
			metrics.ObservePage(c.id, "ok")
			return resp, nil
		}
		metrics.ObservePage(c.id, "error")
		if !c.opts.Retry.ShouldRetry(err, attempt) {
			return Page{}, fmt.Errorf("attempt %d: %w", attempt+1, err)
		}
		timer := time.NewTimer(c.opts.Retry.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Page{}, fmt.Errorf("page %d retry: %w", page, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Crawler) normalize(resp Page, logger *zap.Logger) []crawler.CrawlItem {
	out := make([]crawler.CrawlItem, 0, len(resp.Entries))
	for i, raw := range resp.Entries {
		item, err := c.adapter.Normalize(raw)
		if err != nil {
			level := logger.Warn
			if !errors.Is(err, crawler.ErrUnrecognizedEntry) {
				level = logger.Error
			}
			level("dropping feed entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		item.SourceID = c.id
		out = append(out, item)
	}
	return out
}

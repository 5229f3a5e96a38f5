// Package orchestrator runs one incremental crawl: it resolves the cutoff
// from the stored high-water mark, fans out to every source, merges and
// chunks the new items, persists the chunks and advances the mark.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/metrics"
)

// Defaults applied when Config leaves a field at zero.
const (
	DefaultChunkSize        = 10
	DefaultLookback         = 4 * time.Hour
	DefaultWriteConcurrency = 4
	DefaultWatermarkKey     = "frontTimestamp"
)

// SourceCrawler is one configured feed source.
type SourceCrawler interface {
	ID() string
	Kind() crawler.SourceKind
	Crawl(ctx context.Context, endTimestamp int64, logger *zap.Logger) ([]crawler.CrawlItem, error)
}

// Config tunes a crawl run.
type Config struct {
	ChunkSize        int
	DefaultLookback  time.Duration
	RunTimeout       time.Duration
	WriteConcurrency int
	WatermarkKey     string
	KeyPrefix        string
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.DefaultLookback <= 0 {
		c.DefaultLookback = DefaultLookback
	}
	if c.WriteConcurrency <= 0 {
		c.WriteConcurrency = DefaultWriteConcurrency
	}
	if c.WatermarkKey == "" {
		c.WatermarkKey = DefaultWatermarkKey
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = crawler.DefaultChunkPrefix
	}
	return c
}

// Orchestrator coordinates crawl runs against shared stores.
type Orchestrator struct {
	blobs  crawler.BlobStore
	marks  crawler.WatermarkStore
	hasher crawler.Hasher
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New wires an Orchestrator.
func New(
	blobs crawler.BlobStore,
	marks crawler.WatermarkStore,
	hasher crawler.Hasher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		blobs:  blobs,
		marks:  marks,
		hasher: hasher,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Run describes a single invocation.
type Run struct {
	JobID     string
	Timestamp time.Time
	Sources   []SourceCrawler
	// Logger receives the run's log lines. Defaults to the orchestrator's.
	Logger *zap.Logger
}

type sourceResult struct {
	index int
	items []crawler.CrawlItem
	err   error
}

// Crawl executes one run. Source failures and timeouts are absorbed; only a
// chunk persistence failure is returned as an error, in which case the
// high-water mark is left untouched.
func (o *Orchestrator) Crawl(ctx context.Context, run Run) (crawler.CrawlResult, error) {
	logger := run.Logger
	if logger == nil {
		logger = o.logger
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = o.clock.Now()
	}
	logger = logger.With(zap.String("job_id", run.JobID))

	result := crawler.CrawlResult{
		JobID:           run.JobID,
		JobTimestamp:    run.Timestamp,
		PerSourceCounts: make(map[string]int, len(run.Sources)),
		ChunkKeys:       []string{},
	}

	end := o.resolveEnd(ctx, run.Timestamp, logger)
	result.EndTimestamp = end
	logger.Info("crawl started",
		zap.Int64("end_timestamp", end),
		zap.Int("sources", len(run.Sources)),
	)

	perSource := o.crawlSources(ctx, run.Sources, end, logger)

	var merged []crawler.CrawlItem
	for i, src := range run.Sources {
		res := perSource[i]
		if res.err != nil {
			result.FailedSources = append(result.FailedSources, src.ID())
			result.PerSourceCounts[src.ID()] = 0
			continue
		}
		result.PerSourceCounts[src.ID()] = len(res.items)
		metrics.ObserveSourceItems(src.ID(), string(src.Kind()), len(res.items))
		merged = append(merged, res.items...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].AlignTimestamp > merged[j].AlignTimestamp
	})
	items := merged[:0]
	for _, item := range merged {
		if item.AlignTimestamp > end {
			items = append(items, item)
		}
	}
	result.ItemsCount = countItems(items, logger)

	chunks := partition(items, o.cfg.ChunkSize)
	keys, err := o.writeChunks(ctx, run, chunks, logger)
	result.UploadedChunks = len(keys)
	result.ChunkKeys = keys
	if err != nil {
		logger.Error("chunk persistence failed", zap.Error(err))
		return result, err
	}

	result.NewHighWaterMark = end
	if len(items) > 0 {
		result.NewHighWaterMark = items[0].AlignTimestamp
		if err := o.marks.Set(ctx, o.cfg.WatermarkKey, result.NewHighWaterMark); err != nil {
			werr := &crawler.WatermarkWriteError{Key: o.cfg.WatermarkKey, Value: result.NewHighWaterMark, Err: err}
			logger.Warn("high-water mark write failed", zap.Error(werr))
		} else {
			metrics.SetHighWaterMark(result.NewHighWaterMark)
		}
	}

	logger.Info("crawl finished",
		zap.Int("items", result.ItemsCount.All),
		zap.Int("chunks", result.UploadedChunks),
		zap.Int64("high_water_mark", result.NewHighWaterMark),
		zap.Strings("failed_sources", result.FailedSources),
	)
	return result, nil
}

func (o *Orchestrator) resolveEnd(ctx context.Context, now time.Time, logger *zap.Logger) int64 {
	fallback := now.Add(-o.cfg.DefaultLookback).UnixMilli()
	value, ok, err := o.marks.Get(ctx, o.cfg.WatermarkKey)
	if err != nil {
		rerr := &crawler.WatermarkReadError{Key: o.cfg.WatermarkKey, Err: err}
		logger.Warn("high-water mark unavailable, using lookback window",
			zap.Error(rerr),
			zap.Duration("lookback", o.cfg.DefaultLookback),
		)
		return fallback
	}
	if !ok {
		logger.Info("no high-water mark stored, using lookback window",
			zap.Duration("lookback", o.cfg.DefaultLookback),
		)
		return fallback
	}
	return value
}

// crawlSources runs every source concurrently under the run deadline. Sources
// still running when the deadline passes count as failed.
func (o *Orchestrator) crawlSources(
	ctx context.Context,
	sources []SourceCrawler,
	end int64,
	logger *zap.Logger,
) []sourceResult {
	runCtx := ctx
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	results := make([]sourceResult, len(sources))
	pending := make(map[int]struct{}, len(sources))
	done := make(chan sourceResult, len(sources))
	for i, src := range sources {
		pending[i] = struct{}{}
		go func(i int, src SourceCrawler) {
			items, err := src.Crawl(runCtx, end, logger)
			done <- sourceResult{index: i, items: items, err: err}
		}(i, src)
	}

	for len(pending) > 0 {
		select {
		case res := <-done:
			delete(pending, res.index)
			results[res.index] = res
			if res.err != nil {
				src := sources[res.index]
				logger.Warn("source failed", zap.String("source", src.ID()), zap.Error(res.err))
				metrics.ObserveSourceFailure(src.ID(), failureReason(res.err))
			}
		case <-runCtx.Done():
			for i := range pending {
				src := sources[i]
				results[i] = sourceResult{index: i, err: fmt.Errorf("source %s: %w", src.ID(), runCtx.Err())}
				logger.Warn("source timed out", zap.String("source", src.ID()), zap.Error(runCtx.Err()))
				metrics.ObserveSourceFailure(src.ID(), "timeout")
			}
			return results
		}
	}
	return results
}

func failureReason(err error) string {
	var authErr *crawler.SourceAuthError
	var fetchErr *crawler.SourcePageFetchError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &fetchErr):
		return "fetch"
	default:
		return "error"
	}
}

func countItems(items []crawler.CrawlItem, logger *zap.Logger) crawler.ItemsCount {
	counts := crawler.ItemsCount{All: len(items)}
	for _, item := range items {
		switch item.Type {
		case crawler.SourceKindBsky:
			counts.Bsky++
		case crawler.SourceKindRSS:
			counts.RSS++
		default:
			logger.Error("item with unknown source type", zap.String("type", string(item.Type)))
		}
	}
	return counts
}

func partition(items []crawler.CrawlItem, size int) [][]crawler.CrawlItem {
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]crawler.CrawlItem, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		stop := start + size
		if stop > len(items) {
			stop = len(items)
		}
		chunks = append(chunks, items[start:stop])
	}
	return chunks
}

// writeChunks persists every chunk concurrently. All writes are attempted;
// failures are collected into one ChunkWriteError. The returned keys are the
// successfully written ones in chunk order.
func (o *Orchestrator) writeChunks(
	ctx context.Context,
	run Run,
	chunks [][]crawler.CrawlItem,
	logger *zap.Logger,
) ([]string, error) {
	keys := make([]string, len(chunks))
	written := make([]bool, len(chunks))
	var (
		mu       sync.Mutex
		failed   []string
		failures []error
	)

	var g errgroup.Group
	g.SetLimit(o.cfg.WriteConcurrency)
	for i, chunk := range chunks {
		key := crawler.ChunkKey(o.cfg.KeyPrefix, run.Timestamp, i)
		keys[i] = key
		g.Go(func() error {
			if err := o.writeChunk(ctx, run.JobID, key, chunk, len(chunks)); err != nil {
				mu.Lock()
				failed = append(failed, key)
				failures = append(failures, fmt.Errorf("%s: %w", key, err))
				mu.Unlock()
				logger.Error("chunk write failed", zap.String("key", key), zap.Error(err))
				return nil
			}
			written[i] = true
			logger.Debug("chunk written", zap.String("key", key), zap.Int("items", len(chunk)))
			return nil
		})
	}
	_ = g.Wait()

	ok := make([]string, 0, len(chunks))
	for i, key := range keys {
		if written[i] {
			ok = append(ok, key)
		}
	}
	metrics.ObserveChunks(len(ok), len(failed))
	if len(failed) > 0 {
		sort.Strings(failed)
		return ok, &crawler.ChunkWriteError{Keys: failed, Err: errors.Join(failures...)}
	}
	return ok, nil
}

// writeChunk stores one chunk. chunkCount lets watermark readers tell a
// complete job from one with missing chunks.
func (o *Orchestrator) writeChunk(ctx context.Context, jobID, key string, chunk []crawler.CrawlItem, chunkCount int) error {
	body, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	meta := map[string]string{
		crawler.MetaFrontTimestamp: strconv.FormatInt(chunk[0].AlignTimestamp, 10),
		crawler.MetaItemCount:      strconv.Itoa(len(chunk)),
		crawler.MetaChunkCount:     strconv.Itoa(chunkCount),
		crawler.MetaJobID:          jobID,
	}
	if o.hasher != nil {
		digest, err := o.hasher.Hash(body)
		if err != nil {
			return fmt.Errorf("hash chunk: %w", err)
		}
		meta[crawler.MetaSHA256] = digest
	}
	return o.blobs.PutObject(ctx, key, body, crawler.PutOptions{
		ContentType: "application/json",
		Metadata:    meta,
	})
}

// Package worker executes crawl jobs taken from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/logging"
	"github.com/JakeFAU/realtime-feed-crawler/internal/logsink"
	"github.com/JakeFAU/realtime-feed-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-feed-crawler/internal/orchestrator"
)

// Crawler runs one orchestrated crawl.
type Crawler interface {
	Crawl(ctx context.Context, run orchestrator.Run) (crawler.CrawlResult, error)
}

// Config controls Runner behavior.
type Config struct {
	// Topic receives a completion event per job. Empty disables publishing.
	Topic            string
	LogFlushInterval time.Duration
	LogCloseTimeout  time.Duration
	LogLevel         zapcore.Level
}

// CompletionEvent is the payload published when a job finishes.
type CompletionEvent struct {
	JobID            string             `json:"job_id"`
	Trigger          crawler.Trigger    `json:"trigger"`
	Status           crawler.JobStatus  `json:"status"`
	JobTimestamp     string             `json:"job_timestamp"`
	UploadedChunks   int                `json:"uploaded_chunks"`
	NewHighWaterMark int64              `json:"new_high_water_mark"`
	ItemsCount       crawler.ItemsCount `json:"items_count"`
	FailedSources    []string           `json:"failed_sources,omitempty"`
	LogKey           string             `json:"log_key"`
	Error            string             `json:"error,omitempty"`
}

// Runner executes a single job end to end.
type Runner struct {
	jobs      crawler.JobStore
	logs      crawler.BlobStore
	crawl     Crawler
	sources   []orchestrator.SourceCrawler
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewRunner wires a Runner. logs receives the per-job log object; publisher
// may be nil.
func NewRunner(
	jobs crawler.JobStore,
	logs crawler.BlobStore,
	crawl Crawler,
	sources []orchestrator.SourceCrawler,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LogCloseTimeout <= 0 {
		cfg.LogCloseTimeout = 10 * time.Second
	}
	return &Runner{
		jobs:      jobs,
		logs:      logs,
		crawl:     crawl,
		sources:   sources,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute runs the job described by item. The returned error is the crawl's
// run-level error; bookkeeping failures are logged only.
func (r *Runner) Execute(ctx context.Context, item crawler.QueueItem) (crawler.CrawlResult, error) {
	ts := item.Timestamp
	if ts.IsZero() {
		ts = r.clock.Now()
	}
	if item.Trigger == "" {
		item.Trigger = crawler.TriggerManual
	}
	logKey := crawler.LogKey(item.Trigger, ts)
	jobFields := []zap.Field{zap.String("job_id", item.JobID), zap.String("trigger", string(item.Trigger))}
	logger := r.logger.With(jobFields...)

	r.startJob(ctx, item, logKey, logger)

	sink := logsink.New(r.logs, logKey, logsink.Config{
		FlushInterval: r.cfg.LogFlushInterval,
		Logger:        r.logger.Named("logsink"),
	})
	jobLogger := logging.Tee(r.logger, sink, r.cfg.LogLevel).With(jobFields...)

	metrics.IncActiveWorkers()
	start := time.Now()
	result, runErr := r.crawl.Crawl(ctx, orchestrator.Run{
		JobID:     item.JobID,
		Timestamp: ts,
		Sources:   r.sources,
		Logger:    jobLogger,
	})
	metrics.DecActiveWorkers()

	status := crawler.JobStatusSucceeded
	if runErr != nil {
		status = crawler.JobStatusFailed
		jobLogger.Error("crawl job failed", zap.Error(runErr))
	} else {
		jobLogger.Info("crawl job succeeded",
			zap.Int("uploaded_chunks", result.UploadedChunks),
			zap.Int64("new_high_water_mark", result.NewHighWaterMark),
		)
	}
	metrics.ObserveRun(string(item.Trigger), string(status), time.Since(start))

	if err := r.jobs.FinishJob(ctx, item.JobID, &result, runErr); err != nil {
		logger.Error("finish job update failed", zap.Error(err))
	}
	r.publish(ctx, item, status, logKey, result, runErr, logger)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.LogCloseTimeout)
	defer cancel()
	if err := sink.Close(closeCtx); err != nil {
		logger.Warn("job log not fully persisted", zap.String("log_key", logKey), zap.Error(err))
	}
	return result, runErr
}

func (r *Runner) startJob(ctx context.Context, item crawler.QueueItem, logKey string, logger *zap.Logger) {
	err := r.jobs.StartJob(ctx, item.JobID, logKey)
	if errors.Is(err, crawler.ErrNotFound) {
		job := crawler.Job{ID: item.JobID, Trigger: item.Trigger, Submitted: r.clock.Now()}
		if cerr := r.jobs.CreateJob(ctx, job); cerr != nil {
			logger.Error("create job failed", zap.Error(cerr))
			return
		}
		err = r.jobs.StartJob(ctx, item.JobID, logKey)
	}
	if err != nil {
		logger.Error("start job update failed", zap.Error(err))
	}
}

func (r *Runner) publish(
	ctx context.Context,
	item crawler.QueueItem,
	status crawler.JobStatus,
	logKey string,
	result crawler.CrawlResult,
	runErr error,
	logger *zap.Logger,
) {
	if r.cfg.Topic == "" || r.publisher == nil {
		return
	}
	event := CompletionEvent{
		JobID:            item.JobID,
		Trigger:          item.Trigger,
		Status:           status,
		JobTimestamp:     crawler.FormatJobTimestamp(result.JobTimestamp),
		UploadedChunks:   result.UploadedChunks,
		NewHighWaterMark: result.NewHighWaterMark,
		ItemsCount:       result.ItemsCount,
		FailedSources:    result.FailedSources,
		LogKey:           logKey,
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
	if err != nil {
		logger.Warn("completion event publish failed", zap.Error(fmt.Errorf("publish %s: %w", r.cfg.Topic, err)))
		return
	}
	logger.Debug("completion event published", zap.String("message_id", id))
}

// Worker consumes queue items and hands them to a Runner.
type Worker struct {
	queue  crawler.Queue
	runner *Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue crawler.Queue, runner *Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: queue, runner: runner, logger: logger}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		if _, err := w.runner.Execute(ctx, item); err != nil {
			w.logger.Warn("job finished with error", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
}

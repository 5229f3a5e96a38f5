// Package dispatcher manages worker fan-out over the job queue and the
// scheduled and on-demand job triggers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/worker"
)

// ErrBusy is returned by Submit when the queue has no room.
var ErrBusy = errors.New("crawl queue is full")

// Queue is a job queue that also supports a non-blocking enqueue.
type Queue interface {
	crawler.Queue
	TryEnqueue(item crawler.QueueItem) error
}

// Dispatcher fans out queue work to a pool of workers and creates jobs.
type Dispatcher struct {
	queue   Queue
	jobs    crawler.JobStore
	runner  *worker.Runner
	workers []*worker.Worker
	ids     crawler.IDGenerator
	clock   crawler.Clock
	logger  *zap.Logger
}

// New creates a Dispatcher with n workers sharing runner.
func New(
	queue Queue,
	jobs crawler.JobStore,
	runner *worker.Runner,
	n int,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if n < 1 {
		n = 1
	}
	workers := make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, worker.New(queue, runner, logger.With(zap.Int("worker", i))))
	}
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		runner:  runner,
		workers: workers,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Schedule enqueues a cron job every interval until ctx ends. Ticks that
// find the queue full are skipped.
func (d *Dispatcher) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	d.logger.Info("crawl schedule started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			item, err := d.newJob(ctx, crawler.TriggerCron)
			if err != nil {
				d.logger.Error("scheduled job creation failed", zap.Error(err))
				continue
			}
			if err := d.queue.TryEnqueue(item); err != nil {
				d.logger.Warn("scheduled crawl skipped", zap.String("job_id", item.JobID), zap.Error(err))
				d.abandon(ctx, item, err)
				continue
			}
			d.logger.Debug("scheduled crawl enqueued", zap.String("job_id", item.JobID))
		}
	}
}

// Submit creates a job and enqueues it for asynchronous execution.
func (d *Dispatcher) Submit(ctx context.Context, trigger crawler.Trigger) (string, error) {
	item, err := d.newJob(ctx, trigger)
	if err != nil {
		return "", err
	}
	if err := d.queue.TryEnqueue(item); err != nil {
		d.abandon(ctx, item, err)
		if errors.Is(err, crawler.ErrQueueClosed) {
			return "", fmt.Errorf("queue enqueue: %w", err)
		}
		return "", ErrBusy
	}
	return item.JobID, nil
}

// RunNow creates a job and executes it on the calling goroutine.
func (d *Dispatcher) RunNow(ctx context.Context, trigger crawler.Trigger) (crawler.CrawlResult, error) {
	item, err := d.newJob(ctx, trigger)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	return d.runner.Execute(ctx, item)
}

func (d *Dispatcher) newJob(ctx context.Context, trigger crawler.Trigger) (crawler.QueueItem, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("generate job id: %w", err)
	}
	now := d.clock.Now()
	if err := d.jobs.CreateJob(ctx, crawler.Job{ID: id, Trigger: trigger, Status: crawler.JobStatusQueued, Submitted: now}); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("create job: %w", err)
	}
	return crawler.QueueItem{JobID: id, Trigger: trigger, Timestamp: now}, nil
}

func (d *Dispatcher) abandon(ctx context.Context, item crawler.QueueItem, cause error) {
	if err := d.jobs.FinishJob(ctx, item.JobID, nil, fmt.Errorf("not enqueued: %w", cause)); err != nil {
		d.logger.Error("abandon job update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

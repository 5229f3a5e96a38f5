// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/orchestrator"
	queuememory "github.com/JakeFAU/realtime-feed-crawler/internal/queue/memory"
	"github.com/JakeFAU/realtime-feed-crawler/internal/storage/memory"
	"github.com/JakeFAU/realtime-feed-crawler/internal/worker"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type countingCrawler struct {
	mu   sync.Mutex
	runs []orchestrator.Run
}

func (c *countingCrawler) Crawl(_ context.Context, run orchestrator.Run) (crawler.CrawlResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, run)
	return crawler.CrawlResult{JobID: run.JobID, JobTimestamp: run.Timestamp, UploadedChunks: 1}, nil
}

func (c *countingCrawler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

func newDispatcher(q Queue, workers int) (*Dispatcher, *memory.JobStore, *countingCrawler) {
	jobs := memory.NewJobStore()
	crawl := &countingCrawler{}
	clock := fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	runner := worker.NewRunner(jobs, memory.NewBlobStore(), crawl, nil, nil, clock, worker.Config{}, zap.NewNop())
	return New(q, jobs, runner, workers, &seqIDs{}, clock, zap.NewNop()), jobs, crawl
}

// TestDispatcherRunProcessesSubmittedJobs ensures workers pick up queued jobs
// and stop on cancel.
func TestDispatcherRunProcessesSubmittedJobs(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(4)
	dispatch, jobs, crawl := newDispatcher(q, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	id, err := dispatch.Submit(ctx, crawler.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	require.Eventually(t, func() bool {
		job, err := jobs.GetJob(context.Background(), id)
		return err == nil && job.Status == crawler.JobStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, crawl.count())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherSubmitQueueFull verifies a full queue is reported as busy and
// the job is marked failed.
func TestDispatcherSubmitQueueFull(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	dispatch, jobs, _ := newDispatcher(q, 1)
	ctx := context.Background()

	_, err := dispatch.Submit(ctx, crawler.TriggerManual)
	require.NoError(t, err)
	_, err = dispatch.Submit(ctx, crawler.TriggerManual)
	require.ErrorIs(t, err, ErrBusy)

	job, err := jobs.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorText, "queue full")
}

// TestDispatcherSubmitClosedQueue verifies closed-queue errors are wrapped.
func TestDispatcherSubmitClosedQueue(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	q.Close()
	dispatch, _, _ := newDispatcher(q, 1)

	_, err := dispatch.Submit(context.Background(), crawler.TriggerManual)
	require.ErrorIs(t, err, crawler.ErrQueueClosed)
	assert.Equal(t, "queue enqueue: queue closed", err.Error())
}

// TestDispatcherRunNowIsSynchronous checks on-demand runs complete before
// returning.
func TestDispatcherRunNowIsSynchronous(t *testing.T) {
	t.Parallel()

	dispatch, jobs, crawl := newDispatcher(queuememory.NewQueue(1), 1)
	res, err := dispatch.RunNow(context.Background(), crawler.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, 1, crawl.count())

	job, err := jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusSucceeded, job.Status)
	assert.Equal(t, crawler.TriggerManual, job.Trigger)
}

// TestDispatcherScheduleEnqueuesCronJobs checks ticks enqueue cron jobs.
func TestDispatcherScheduleEnqueuesCronJobs(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(8)
	dispatch, _, _ := newDispatcher(q, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dispatch.Schedule(ctx, 10*time.Millisecond)
	require.Eventually(t, func() bool { return q.Len() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.TriggerCron, item.Trigger)
}

// TestDispatcherScheduleDisabled returns immediately for a zero interval.
func TestDispatcherScheduleDisabled(t *testing.T) {
	t.Parallel()

	dispatch, _, _ := newDispatcher(queuememory.NewQueue(1), 1)
	done := make(chan struct{})
	go func() {
		dispatch.Schedule(context.Background(), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("schedule with zero interval should return")
	}
}

package crawler

import (
	"context"
	"time"
)

// BlobStore is the durable object store used for feed chunks and job logs.
// ListObjects returns objects ordered by key.
type BlobStore interface {
	PutObject(ctx context.Context, key string, data []byte, opts PutOptions) error
	ListObjects(ctx context.Context, opts ListOptions) ([]ObjectInfo, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// WatermarkStore persists the high-water mark between runs. Get reports
// false when no value has been stored.
type WatermarkStore interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64) error
}

// WatermarkResetter is implemented by stores that support an explicit reset.
type WatermarkResetter interface {
	Reset(ctx context.Context, key string) error
}

// JobStore persists crawl job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	StartJob(ctx context.Context, jobID string, logKey string) error
	FinishJob(ctx context.Context, jobID string, result *CrawlResult, runErr error) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for chunk integrity metadata.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Trigger   Trigger
	Timestamp time.Time
	Attempt   int
}

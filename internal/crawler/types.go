// Core types shared across subsystems.
package crawler

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceKind is the closed set of feed source types the crawler understands.
// Adding a source means adding a constant here and a case to every switch
// over SourceKind; there is no open-ended registration.
type SourceKind string

// Supported source kinds.
const (
	SourceKindBsky SourceKind = "bsky"
	SourceKindRSS  SourceKind = "rss"
)

// Validate reports whether k is one of the supported kinds.
func (k SourceKind) Validate() error {
	switch k {
	case SourceKindBsky, SourceKindRSS:
		return nil
	default:
		return fmt.Errorf("unknown source type %q", string(k))
	}
}

// CrawlItem is the normalized unit produced by every source. AlignTimestamp
// (epoch milliseconds) is the only ordering and cutoff key across sources.
type CrawlItem struct {
	SourceID       string          `json:"sourceId"`
	Type           SourceKind      `json:"type"`
	AlignTimestamp int64           `json:"alignTimestamp"`
	Payload        json.RawMessage `json:"payload"`
}

// SourceSpec configures one source. Exactly one of the per-kind blocks is
// read, selected by Type.
type SourceSpec struct {
	ID                string      `mapstructure:"id" json:"id"`
	Type              SourceKind  `mapstructure:"type" json:"type"`
	MaxCount          int         `mapstructure:"max_count" json:"max_count"`
	PageSize          int         `mapstructure:"page_size" json:"page_size"`
	MaxPages          int         `mapstructure:"max_pages" json:"max_pages"`
	PageRetries       int         `mapstructure:"page_retries" json:"page_retries"`
	RequestsPerSecond float64     `mapstructure:"requests_per_second" json:"requests_per_second"`
	Burst             int         `mapstructure:"burst" json:"burst"`
	Bsky              *BskySource `mapstructure:"bsky" json:"bsky,omitempty"`
	RSS               *RSSSource  `mapstructure:"rss" json:"rss,omitempty"`
}

// BskySource holds Bluesky account settings.
type BskySource struct {
	Service    string `mapstructure:"service" json:"service"`
	Identifier string `mapstructure:"identifier" json:"identifier"`
	Password   string `mapstructure:"password" json:"-"`
}

// RSSSource holds the feed URL for RSS/Atom/JSON feeds.
type RSSSource struct {
	URL string `mapstructure:"url" json:"url"`
}

// ItemsCount splits the merged item total by source kind.
type ItemsCount struct {
	All  int `json:"all"`
	Bsky int `json:"bsky"`
	RSS  int `json:"rss"`
}

// CrawlResult summarizes a completed crawl run.
type CrawlResult struct {
	JobID            string         `json:"job_id"`
	JobTimestamp     time.Time      `json:"job_timestamp"`
	EndTimestamp     int64          `json:"end_timestamp"`
	UploadedChunks   int            `json:"uploaded_chunks"`
	ChunkKeys        []string       `json:"chunk_keys"`
	NewHighWaterMark int64          `json:"new_high_water_mark"`
	PerSourceCounts  map[string]int `json:"per_source_counts"`
	ItemsCount       ItemsCount     `json:"items_count"`
	FailedSources    []string       `json:"failed_sources,omitempty"`
}

// Trigger identifies what started a crawl job.
type Trigger string

// Supported triggers.
const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents the metadata persisted for each crawl run.
type Job struct {
	ID        string       `json:"id"`
	Trigger   Trigger      `json:"trigger"`
	Status    JobStatus    `json:"status"`
	Submitted time.Time    `json:"submitted_at"`
	Started   *time.Time   `json:"started_at,omitempty"`
	Finished  *time.Time   `json:"finished_at,omitempty"`
	ErrorText string       `json:"error_text,omitempty"`
	LogKey    string       `json:"log_key,omitempty"`
	Result    *CrawlResult `json:"result,omitempty"`
}

// ObjectInfo describes one stored object as returned by a listing.
type ObjectInfo struct {
	Key      string            `json:"key"`
	Size     int64             `json:"size"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOptions scopes a BlobStore listing.
type ListOptions struct {
	Prefix          string
	Limit           int
	IncludeMetadata bool
}

// PutOptions carries optional object attributes.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

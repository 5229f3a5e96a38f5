package crawler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound signals that the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrQueueClosed is returned by queues once they are closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// ErrUnrecognizedEntry marks a raw feed entry whose semantic type the
// normalizer does not understand. Such entries are skipped, never fatal.
var ErrUnrecognizedEntry = errors.New("unrecognized feed entry")

// SourceAuthError is returned when a source fails to authenticate.
type SourceAuthError struct {
	SourceID string
	Err      error
}

func (e *SourceAuthError) Error() string {
	return fmt.Sprintf("source %s: authenticate: %v", e.SourceID, e.Err)
}

func (e *SourceAuthError) Unwrap() error { return e.Err }

// SourcePageFetchError is returned when a page fetch fails.
type SourcePageFetchError struct {
	SourceID string
	Page     int
	Err      error
}

func (e *SourcePageFetchError) Error() string {
	return fmt.Sprintf("source %s: fetch page %d: %v", e.SourceID, e.Page, e.Err)
}

func (e *SourcePageFetchError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-2xx response from a source endpoint.
type HTTPStatusError struct {
	Code    int
	Message string
}

func (e *HTTPStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// Retryable reports whether the status is worth another attempt: server
// errors, timeouts and rate limiting.
func (e *HTTPStatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == 408 || e.Code == 429
}

// ChunkWriteError aggregates every chunk that failed to persist during a run.
// It is the only error class that fails a crawl run.
type ChunkWriteError struct {
	Keys []string
	Err  error
}

func (e *ChunkWriteError) Error() string {
	return fmt.Sprintf("chunk persistence: %d chunk(s) failed [%s]: %v",
		len(e.Keys), strings.Join(e.Keys, ", "), e.Err)
}

func (e *ChunkWriteError) Unwrap() error { return e.Err }

// Stage names the run stage that failed, for API payloads.
func (e *ChunkWriteError) Stage() string { return "chunk_persistence" }

// WatermarkReadError wraps a failed high-water-mark read.
type WatermarkReadError struct {
	Key string
	Err error
}

func (e *WatermarkReadError) Error() string {
	return fmt.Sprintf("read watermark %q: %v", e.Key, e.Err)
}

func (e *WatermarkReadError) Unwrap() error { return e.Err }

// WatermarkWriteError wraps a failed high-water-mark write.
type WatermarkWriteError struct {
	Key   string
	Value int64
	Err   error
}

func (e *WatermarkWriteError) Error() string {
	return fmt.Sprintf("write watermark %q=%d: %v", e.Key, e.Value, e.Err)
}

func (e *WatermarkWriteError) Unwrap() error { return e.Err }

// LogFlushError wraps a failed log buffer flush.
type LogFlushError struct {
	Key   string
	Bytes int
	Err   error
}

func (e *LogFlushError) Error() string {
	return fmt.Sprintf("flush log %s (%d bytes): %v", e.Key, e.Bytes, e.Err)
}

func (e *LogFlushError) Unwrap() error { return e.Err }

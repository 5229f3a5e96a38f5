package crawler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultChunkPrefix is the shared prefix of every chunk object key.
const DefaultChunkPrefix = "feed-items-"

// Chunk metadata keys.
const (
	MetaFrontTimestamp = "frontTimestamp"
	MetaItemCount      = "itemCount"
	MetaChunkCount     = "chunkCount"
	MetaJobID          = "jobId"
	MetaSHA256         = "sha256"
)

const jobTimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatJobTimestamp renders t as the UTC ISO-8601 form used in object keys.
func FormatJobTimestamp(t time.Time) string {
	return t.UTC().Format(jobTimestampLayout)
}

// ParseJobTimestamp is the inverse of FormatJobTimestamp. RFC 3339 input is
// accepted as well so callers can pass looser timestamps.
func ParseJobTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(jobTimestampLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse job timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// JobChunkPrefix returns the key prefix shared by all chunks of one job.
func JobChunkPrefix(prefix string, jobTime time.Time) string {
	return fmt.Sprintf("%s%s-chunk", prefix, FormatJobTimestamp(jobTime))
}

// ChunkKey builds the object key for chunk index of the job at jobTime. The
// index is zero padded so lexicographic order matches chunk order.
func ChunkKey(prefix string, jobTime time.Time, index int) string {
	return fmt.Sprintf("%s%04d.json", JobChunkPrefix(prefix, jobTime), index)
}

// SplitChunkKey reverses ChunkKey, returning the job chunk prefix and the
// chunk index.
func SplitChunkKey(key string) (string, int, bool) {
	rest, ok := strings.CutSuffix(key, ".json")
	if !ok {
		return "", 0, false
	}
	i := strings.LastIndex(rest, "-chunk")
	if i < 0 {
		return "", 0, false
	}
	digits := rest[i+len("-chunk"):]
	if digits == "" {
		return "", 0, false
	}
	index, err := strconv.Atoi(digits)
	if err != nil || index < 0 {
		return "", 0, false
	}
	return rest[:i+len("-chunk")], index, true
}

// LogKey builds the object key of a job's log file.
func LogKey(trigger Trigger, jobTime time.Time) string {
	return fmt.Sprintf("%s-%s.log", trigger, FormatJobTimestamp(jobTime))
}

// MetadataValue looks up key in object metadata. Some stores canonicalize
// metadata keys, so the match falls back to case-insensitive.
func MetadataValue(meta map[string]string, key string) (string, bool) {
	if v, ok := meta[key]; ok {
		return v, true
	}
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// FrontTimestamp extracts the frontTimestamp hint from chunk metadata.
func FrontTimestamp(meta map[string]string) (int64, bool) {
	raw, ok := MetadataValue(meta, MetaFrontTimestamp)
	if !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

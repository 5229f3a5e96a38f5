// Package chunkmeta derives the high-water mark from the frontTimestamp and
// chunkCount metadata written on every chunk.
package chunkmeta

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

// WatermarkStore reads the newest frontTimestamp across all chunks under a
// prefix. Set is a no-op since each chunk write already records the hint.
type WatermarkStore struct {
	blobs  crawler.BlobStore
	prefix string
}

// New returns a WatermarkStore scanning chunks under prefix.
func New(blobs crawler.BlobStore, prefix string) (*WatermarkStore, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if prefix == "" {
		prefix = crawler.DefaultChunkPrefix
	}
	return &WatermarkStore{blobs: blobs, prefix: prefix}, nil
}

// Get returns the maximum frontTimestamp across complete jobs. A job whose
// chunks carry a chunkCount only counts once every index below it exists, so
// a run with a failed chunk never moves the mark. Chunks without a count are
// taken on their own. The key is ignored; the chunk prefix scopes the lookup.
func (s *WatermarkStore) Get(ctx context.Context, _ string) (int64, bool, error) {
	infos, err := s.blobs.ListObjects(ctx, crawler.ListOptions{Prefix: s.prefix, IncludeMetadata: true})
	if err != nil {
		return 0, false, fmt.Errorf("list chunks: %w", err)
	}

	type job struct {
		front   int64
		hasHint bool
		count   int
		present map[int]bool
	}
	jobs := make(map[string]*job)
	var (
		best  int64
		found bool
	)
	consider := func(ts int64) {
		if !found || ts > best {
			best, found = ts, true
		}
	}

	for _, info := range infos {
		ts, hasHint := crawler.FrontTimestamp(info.Metadata)
		count, hasCount := chunkCount(info.Metadata)
		prefix, index, isChunk := crawler.SplitChunkKey(info.Key)
		if !hasCount || !isChunk {
			if hasHint {
				consider(ts)
			}
			continue
		}
		j, ok := jobs[prefix]
		if !ok {
			j = &job{present: make(map[int]bool)}
			jobs[prefix] = j
		}
		j.present[index] = true
		if count > j.count {
			j.count = count
		}
		if hasHint && (!j.hasHint || ts > j.front) {
			j.front, j.hasHint = ts, true
		}
	}

	for _, j := range jobs {
		if !j.hasHint || !complete(j.present, j.count) {
			continue
		}
		consider(j.front)
	}
	return best, found, nil
}

func chunkCount(meta map[string]string) (int, bool) {
	raw, ok := crawler.MetadataValue(meta, crawler.MetaChunkCount)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func complete(present map[int]bool, count int) bool {
	for i := 0; i < count; i++ {
		if !present[i] {
			return false
		}
	}
	return true
}

// Set does nothing.
func (s *WatermarkStore) Set(context.Context, string, int64) error { return nil }

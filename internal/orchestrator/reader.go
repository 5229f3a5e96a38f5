package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

// ErrDigestMismatch marks a chunk whose body does not match its sha256.
var ErrDigestMismatch = errors.New("sha256 mismatch")

// Verifier checks a chunk body against its recorded digest.
type Verifier interface {
	Verify(data []byte, digest string) bool
}

// ReadChunks reassembles the ordered item sequence of one job by listing
// every chunk under prefix in key order and concatenating the bodies. When v
// is non-nil, chunks carrying a sha256 digest are verified.
func ReadChunks(ctx context.Context, blobs crawler.BlobStore, prefix string, v Verifier) ([]crawler.CrawlItem, error) {
	infos, err := blobs.ListObjects(ctx, crawler.ListOptions{Prefix: prefix, IncludeMetadata: v != nil})
	if err != nil {
		return nil, fmt.Errorf("list chunks %q: %w", prefix, err)
	}
	items := []crawler.CrawlItem{}
	for _, info := range infos {
		body, err := blobs.GetObject(ctx, info.Key)
		if err != nil {
			return nil, fmt.Errorf("read chunk %s: %w", info.Key, err)
		}
		if v != nil {
			if digest, ok := crawler.MetadataValue(info.Metadata, crawler.MetaSHA256); ok && !v.Verify(body, digest) {
				return nil, fmt.Errorf("chunk %s: %w", info.Key, ErrDigestMismatch)
			}
		}
		var chunk []crawler.CrawlItem
		if err := json.Unmarshal(body, &chunk); err != nil {
			return nil, fmt.Errorf("decode chunk %s: %w", info.Key, err)
		}
		items = append(items, chunk...)
	}
	return items, nil
}

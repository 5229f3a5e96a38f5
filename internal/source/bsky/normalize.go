package bsky

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

type feedViewPost struct {
	Post *struct {
		URI       string `json:"uri"`
		IndexedAt string `json:"indexedAt"`
	} `json:"post"`
	Reason *struct {
		Type      string `json:"$type"`
		IndexedAt string `json:"indexedAt"`
	} `json:"reason"`
}

// Normalize maps a timeline entry to a CrawlItem. Plain posts and reposts are
// recognized; any other reason (pins, for example) is not. A repost aligns on
// the time it was reposted rather than the original post time.
func (a *Adapter) Normalize(raw json.RawMessage) (crawler.CrawlItem, error) {
	var entry feedViewPost
	if err := json.Unmarshal(raw, &entry); err != nil {
		return crawler.CrawlItem{}, fmt.Errorf("decode feed entry: %w", err)
	}
	if entry.Post == nil {
		return crawler.CrawlItem{}, fmt.Errorf("entry without post: %w", crawler.ErrUnrecognizedEntry)
	}

	indexedAt := entry.Post.IndexedAt
	if entry.Reason != nil {
		if !strings.Contains(entry.Reason.Type, repostReason) {
			return crawler.CrawlItem{}, fmt.Errorf("reason %q: %w", entry.Reason.Type, crawler.ErrUnrecognizedEntry)
		}
		if entry.Reason.IndexedAt != "" {
			indexedAt = entry.Reason.IndexedAt
		}
	}

	ts, err := time.Parse(time.RFC3339Nano, indexedAt)
	if err != nil {
		return crawler.CrawlItem{}, fmt.Errorf("parse indexedAt %q: %w", indexedAt, err)
	}
	return crawler.CrawlItem{
		Type:           crawler.SourceKindBsky,
		AlignTimestamp: ts.UnixMilli(),
		Payload:        append(json.RawMessage(nil), raw...),
	}, nil
}

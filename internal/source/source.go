// Package source drives one paginated feed source from the newest entry back
// to a cutoff timestamp.
package source

import (
	"context"
	"encoding/json"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

// Page is one response from a feed provider. An empty NextCursor means the
// provider has nothing older to offer.
type Page struct {
	Entries    []json.RawMessage
	NextCursor string
}

// Adapter is the provider-specific half of a source. Normalize returns
// crawler.ErrUnrecognizedEntry for entries it does not understand.
type Adapter interface {
	Kind() crawler.SourceKind
	Authenticate(ctx context.Context) error
	FetchPage(ctx context.Context, cursor string, limit int) (Page, error)
	Normalize(raw json.RawMessage) (crawler.CrawlItem, error)
}

// Waiter throttles page fetches per source.
type Waiter interface {
	Wait(ctx context.Context, source string) error
}

type noWait struct{}

func (noWait) Wait(context.Context, string) error { return nil }

package logsink_test

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-feed-crawler/internal/logsink"
	"github.com/JakeFAU/realtime-feed-crawler/internal/storage/memory"
)

// ExampleSink_Close shows lines being persisted as one object on Close.
func ExampleSink_Close() {
	store := memory.NewBlobStore()
	sink := logsink.New(store, "manual-2024-03-01T09:30:00.000Z.log", logsink.Config{FlushInterval: time.Minute})

	sink.PutLine("crawl started")
	sink.PutLine("crawl job succeeded")
	if err := sink.Close(context.Background()); err != nil {
		panic(err)
	}

	body, err := store.GetObject(context.Background(), sink.Key())
	if err != nil {
		panic(err)
	}
	fmt.Print(string(body))
	// Output:
	// crawl started
	// crawl job succeeded
}

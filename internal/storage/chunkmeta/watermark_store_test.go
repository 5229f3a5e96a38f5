package chunkmeta_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/storage/chunkmeta"
	"github.com/JakeFAU/realtime-feed-crawler/internal/storage/memory"
)

func TestGetReturnsNewestFrontTimestamp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	put := func(key, front string) {
		meta := map[string]string{}
		if front != "" {
			meta[crawler.MetaFrontTimestamp] = front
		}
		require.NoError(t, blobs.PutObject(ctx, key, []byte("[]"), crawler.PutOptions{Metadata: meta}))
	}
	put("feed-items-a-chunk0000.json", "1500")
	put("feed-items-a-chunk0001.json", "1200")
	put("feed-items-b-chunk0000.json", "2100")
	put("feed-items-c-chunk0000.json", "")
	put("feed-items-d-chunk0000.json", "garbage")
	put("cron-x.log", "9999")

	store, err := chunkmeta.New(blobs, "")
	require.NoError(t, err)

	ts, ok, err := store.Get(ctx, "frontTimestamp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2100), ts)
	assert.NoError(t, store.Set(ctx, "frontTimestamp", 1))
}

func TestGetSkipsIncompleteJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	put := func(key, front, count string) {
		meta := map[string]string{crawler.MetaFrontTimestamp: front, crawler.MetaChunkCount: count}
		require.NoError(t, blobs.PutObject(ctx, key, []byte("[]"), crawler.PutOptions{Metadata: meta}))
	}
	put("feed-items-a-chunk0000.json", "1000", "1")
	// Job b lost chunk0001.
	put("feed-items-b-chunk0000.json", "1500", "3")
	put("feed-items-b-chunk0002.json", "1300", "3")
	// Job c is complete even though its chunks were listed out of order.
	put("feed-items-c-chunk0001.json", "1100", "2")
	put("feed-items-c-chunk0000.json", "1200", "2")

	store, err := chunkmeta.New(blobs, "")
	require.NoError(t, err)

	ts, ok, err := store.Get(ctx, "frontTimestamp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1200), ts)
}

func TestGetEmpty(t *testing.T) {
	t.Parallel()

	store, err := chunkmeta.New(memory.NewBlobStore(), "feed-items-")
	require.NoError(t, err)
	_, ok, err := store.Get(context.Background(), "frontTimestamp")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingLister struct{ crawler.BlobStore }

func (failingLister) ListObjects(context.Context, crawler.ListOptions) ([]crawler.ObjectInfo, error) {
	return nil, errors.New("unavailable")
}

func TestGetPropagatesListError(t *testing.T) {
	t.Parallel()

	store, err := chunkmeta.New(failingLister{}, "")
	require.NoError(t, err)
	_, _, err = store.Get(context.Background(), "frontTimestamp")
	assert.ErrorContains(t, err, "unavailable")

	_, err = chunkmeta.New(nil, "")
	assert.Error(t, err)
}

package logsink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

// recordingStore keeps every payload written, in order.
type recordingStore struct {
	mu     sync.Mutex
	writes []string
	keys   []string
	fail   bool
	delay  time.Duration
}

func (r *recordingStore) PutObject(_ context.Context, key string, data []byte, _ crawler.PutOptions) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("bucket unavailable")
	}
	r.writes = append(r.writes, string(data))
	r.keys = append(r.keys, key)
	return nil
}

func (r *recordingStore) ListObjects(context.Context, crawler.ListOptions) ([]crawler.ObjectInfo, error) {
	return nil, nil
}

func (r *recordingStore) GetObject(context.Context, string) ([]byte, error) {
	return nil, crawler.ErrNotFound
}

func (r *recordingStore) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func TestLinesWithinWindowCoalesce(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	sink := New(store, "cron-2024-01-01T00:00:00.000Z.log", Config{FlushInterval: 200 * time.Millisecond})

	sink.PutLine("a")
	sink.PutLine("b")
	sink.PutLine("c")

	require.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, sink.Close(context.Background()))

	writes := store.snapshot()
	require.Len(t, writes, 1)
	assert.Equal(t, "a\nb\nc\n", writes[0])
	assert.Equal(t, "cron-2024-01-01T00:00:00.000Z.log", store.keys[0])
}

func TestGapSeparatedLinesProduceSupersetWrites(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	sink := New(store, "job.log", Config{FlushInterval: 50 * time.Millisecond})

	sink.PutLine("first")
	require.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	sink.PutLine("second")
	require.Eventually(t, func() bool { return len(store.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sink.Close(context.Background()))
	writes := store.snapshot()
	require.Len(t, writes, 2)
	assert.Equal(t, "first\n", writes[0])
	assert.Equal(t, "first\nsecond\n", writes[1])
	assert.True(t, strings.HasPrefix(writes[1], writes[0]))
}

func TestCloseFlushesPendingBuffer(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	sink := New(store, "job.log", Config{FlushInterval: time.Hour})

	sink.PutLine("only line")
	require.NoError(t, sink.Close(context.Background()))

	assert.Equal(t, []string{"only line\n"}, store.snapshot())
}

func TestCloseWaitsForInFlightWrite(t *testing.T) {
	t.Parallel()

	store := &recordingStore{delay: 80 * time.Millisecond}
	sink := New(store, "job.log", Config{FlushInterval: 10 * time.Millisecond})

	time.Sleep(30 * time.Millisecond)
	sink.PutLine("one")
	time.Sleep(10 * time.Millisecond)
	sink.PutLine("two")
	require.NoError(t, sink.Close(context.Background()))

	writes := store.snapshot()
	require.NotEmpty(t, writes)
	assert.Equal(t, "one\ntwo\n", writes[len(writes)-1])
	for i := 1; i < len(writes); i++ {
		assert.True(t, strings.HasPrefix(writes[i], writes[i-1]))
	}
}

func TestCloseWithoutLinesWritesNothing(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	sink := New(store, "job.log", Config{})
	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Close(context.Background()))
	assert.Empty(t, store.snapshot())

	sink.PutLine("late")
	assert.Empty(t, store.snapshot())
}

func TestFlushFailureGoesToSideLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	store := &recordingStore{fail: true}
	sink := New(store, "job.log", Config{FlushInterval: time.Hour, Logger: zap.New(core)})

	sink.PutLine("lost")
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("log flush failed").All()
	require.Len(t, entries, 1)
	err, ok := entries[0].ContextMap()["error"].(string)
	require.True(t, ok)
	assert.Contains(t, err, "flush log job.log (5 bytes)")
}

func TestCloseRewritesBufferAfterFailedFlush(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	store := &recordingStore{fail: true}
	sink := New(store, "job.log", Config{FlushInterval: 20 * time.Millisecond, Logger: zap.New(core)})

	sink.PutLine("a")
	require.Eventually(t, func() bool {
		return logs.FilterMessage("log flush failed").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()

	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, []string{"a\n"}, store.snapshot())
	assert.Equal(t, 1, logs.FilterMessage("log flush failed").Len())
}

func TestCloseGivesUpAfterOneRewrite(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	store := &recordingStore{fail: true}
	sink := New(store, "job.log", Config{FlushInterval: 20 * time.Millisecond, Logger: zap.New(core)})

	sink.PutLine("a")
	require.Eventually(t, func() bool {
		return logs.FilterMessage("log flush failed").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sink.Close(context.Background()))
	assert.Empty(t, store.snapshot())
	assert.Equal(t, 2, logs.FilterMessage("log flush failed").Len())
}

func TestCloseHonoursContext(t *testing.T) {
	t.Parallel()

	store := &recordingStore{delay: 500 * time.Millisecond}
	sink := New(store, "job.log", Config{FlushInterval: time.Hour})
	sink.PutLine("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sink.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, []string{"slow\n"}, store.snapshot())
}

func TestWriteTrimsTrailingNewline(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	sink := New(store, "job.log", Config{FlushInterval: time.Hour})
	n, err := sink.Write([]byte("entry\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, sink.Sync())
	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, []string{"entry\n"}, store.snapshot())
}

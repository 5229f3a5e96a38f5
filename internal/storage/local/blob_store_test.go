// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "feed")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutGetObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ValidPut", func(t *testing.T) {
		key := "feed-items-2024-01-01T00:00:00.000Z-chunk0000.json"
		require.NoError(t, store.PutObject(ctx, key, []byte(`[]`), crawler.PutOptions{ContentType: "application/json"}))

		// #nosec G304 -- test reads from the controlled temp directory.
		raw, err := os.ReadFile(filepath.Join(tempDir, key))
		require.NoError(t, err)
		assert.Equal(t, "[]", string(raw))

		got, err := store.GetObject(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(got))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.PutObject(ctx, "logs/cron.log", []byte("a\n"), crawler.PutOptions{}))
		require.NoError(t, store.PutObject(ctx, "logs/cron.log", []byte("a\nb\n"), crawler.PutOptions{}))
		got, err := store.GetObject(ctx, "logs/cron.log")
		require.NoError(t, err)
		assert.Equal(t, "a\nb\n", string(got))
	})

	t.Run("EmptyKey", func(t *testing.T) {
		assert.Error(t, store.PutObject(ctx, "", []byte("data"), crawler.PutOptions{}))
	})

	t.Run("PathTraversal", func(t *testing.T) {
		assert.Error(t, store.PutObject(ctx, "../escape", []byte("data"), crawler.PutOptions{}))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.GetObject(ctx, "nope.json")
		assert.ErrorIs(t, err, crawler.ErrNotFound)
	})
}

func TestListObjects(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	keys := []string{
		"feed-items-b-chunk0001.json",
		"feed-items-b-chunk0000.json",
		"feed-items-a-chunk0000.json",
		"cron-a.log",
	}
	for i, key := range keys {
		meta := map[string]string{crawler.MetaFrontTimestamp: string(rune('1' + i))}
		require.NoError(t, store.PutObject(ctx, key, []byte("[]"), crawler.PutOptions{Metadata: meta}))
	}

	infos, err := store.ListObjects(ctx, crawler.ListOptions{Prefix: "feed-items-", IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "feed-items-a-chunk0000.json", infos[0].Key)
	assert.Equal(t, "feed-items-b-chunk0000.json", infos[1].Key)
	assert.Equal(t, "feed-items-b-chunk0001.json", infos[2].Key)
	assert.Equal(t, "3", infos[0].Metadata[crawler.MetaFrontTimestamp])
	assert.EqualValues(t, 2, infos[0].Size)

	limited, err := store.ListObjects(ctx, crawler.ListOptions{Prefix: "feed-items-", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.Nil(t, limited[0].Metadata)
}

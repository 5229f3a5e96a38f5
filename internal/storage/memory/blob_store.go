// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

type object struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// BlobStore keeps objects in a map guarded by a RWMutex.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
	writes  map[string]int
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		objects: make(map[string]object),
		writes:  make(map[string]int),
	}
}

// PutObject stores a copy of data under key, replacing any previous value.
func (s *BlobStore) PutObject(_ context.Context, key string, data []byte, opts crawler.PutOptions) error {
	if key == "" {
		return fmt.Errorf("put object: empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{
		data:        append([]byte(nil), data...),
		contentType: opts.ContentType,
		metadata:    copyMetadata(opts.Metadata),
	}
	s.writes[key]++
	return nil
}

// ListObjects returns objects under opts.Prefix ordered by key.
func (s *BlobStore) ListObjects(_ context.Context, opts crawler.ListOptions) ([]crawler.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, opts.Prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}
	out := make([]crawler.ObjectInfo, 0, len(keys))
	for _, key := range keys {
		obj := s.objects[key]
		info := crawler.ObjectInfo{Key: key, Size: int64(len(obj.data))}
		if opts.IncludeMetadata {
			info.Metadata = copyMetadata(obj.metadata)
		}
		out = append(out, info)
	}
	return out, nil
}

// GetObject returns a copy of the stored bytes.
func (s *BlobStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get object %s: %w", key, crawler.ErrNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

// Writes reports how many times key has been written.
func (s *BlobStore) Writes(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[key]
}

// Keys lists every stored key in order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

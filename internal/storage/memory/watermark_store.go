package memory

import (
	"context"
	"sync"
)

// WatermarkStore keeps high-water marks in a map.
type WatermarkStore struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewWatermarkStore creates an empty WatermarkStore.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{values: make(map[string]int64)}
}

// Get returns the stored value and whether it exists.
func (s *WatermarkStore) Get(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores value under key unless the stored mark is already newer.
func (s *WatermarkStore) Set(_ context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.values[key]; ok && current >= value {
		return nil
	}
	s.values[key] = value
	return nil
}

// Reset forgets the stored value.
func (s *WatermarkStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps blobs in a map. Used by tests and single-process
// development setups. FailPuts makes every Put fail, which tests use to
// simulate an unavailable backend.
type MemoryStore struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	FailPuts bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Put(ctx context.Context, r io.Reader, declaredMime string) (string, int64, error) {
	s.mu.RLock()
	fail := s.FailPuts
	s.mu.RUnlock()
	if fail {
		return "", 0, fmt.Errorf("memory store: put disabled")
	}

	data, err := io.ReadAll(&contextReader{ctx: ctx, r: r})
	if err != nil {
		return "", 0, fmt.Errorf("read blob: %w", err)
	}
	key := KeyOf(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		s.blobs[key] = data
	}
	return key, int64(len(data)), nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) SizeOf(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(len(data)), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// SetFailPuts toggles FailPuts under the store's lock.
func (s *MemoryStore) SetFailPuts(fail bool) {
	s.mu.Lock()
	s.FailPuts = fail
	s.mu.Unlock()
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

package kstate

import (
	"bytes"
	"context"
	"iter"
	"sort"
	"sync"
)

type memoryStore struct {
	name string

	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns a non-persistent backend. Iteration orders keys
// bytewise, like the on-disk backend.
func NewMemory(name string) StoreBackend {
	return &memoryStore{name: name, data: make(map[string][]byte)}
}

func (s *memoryStore) Name() string { return s.name }

func (s *memoryStore) Persistent() bool { return false }

func (s *memoryStore) Flush(ctx context.Context) error { return nil }

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

func (s *memoryStore) Set(k, v []byte) error {
	if v == nil {
		return s.Delete(k)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(k)] = bytes.Clone(v)
	return nil
}

func (s *memoryStore) Get(k []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(k)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (s *memoryStore) Delete(k []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(k))
	return nil
}

func (s *memoryStore) Range(lower, upper []byte) iter.Seq2[[]byte, []byte] {
	return s.scan(lower, upper)
}

func (s *memoryStore) All() iter.Seq2[[]byte, []byte] {
	return s.scan(nil, nil)
}

// scan snapshots the matching entries so yield may write to the store.
func (s *memoryStore) scan(lower, upper []byte) iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		s.mu.RLock()
		keys := make([]string, 0, len(s.data))
		for k := range s.data {
			if lower != nil && k < string(lower) {
				continue
			}
			if upper != nil && k >= string(upper) {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := make([][]byte, len(keys))
		for i, k := range keys {
			values[i] = bytes.Clone(s.data[k])
		}
		s.mu.RUnlock()

		for i, k := range keys {
			if !yield([]byte(k), values[i]) {
				return
			}
		}
	}
}

var _ StoreBackend = (*memoryStore)(nil)

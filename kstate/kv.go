package kstate

import (
	"errors"
	"fmt"
	"iter"

	"github.com/birdayz/lazyflow/kserde"
)

// KeyValueStore is a typed view over a StoreBackend.
type KeyValueStore[K, V any] struct {
	backend StoreBackend
	key     kserde.Serde[K]
	value   kserde.Serde[V]
}

// NewKeyValueStore wraps backend with the given serdes.
func NewKeyValueStore[K, V any](backend StoreBackend, key kserde.Serde[K], value kserde.Serde[V]) *KeyValueStore[K, V] {
	return &KeyValueStore[K, V]{backend: backend, key: key, value: value}
}

// Backend returns the underlying byte store.
func (s *KeyValueStore[K, V]) Backend() StoreBackend { return s.backend }

// Get returns the value stored for k. The boolean is false when k is absent.
func (s *KeyValueStore[K, V]) Get(k K) (V, bool, error) {
	var zero V
	kb, err := s.key.Serializer(k)
	if err != nil {
		return zero, false, fmt.Errorf("store %s: %w", s.backend.Name(), err)
	}
	vb, err := s.backend.Get(kb)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("store %s: %w", s.backend.Name(), err)
	}
	v, err := s.value.Deserializer(vb)
	if err != nil {
		return zero, false, fmt.Errorf("store %s: %w", s.backend.Name(), err)
	}
	return v, true, nil
}

func (s *KeyValueStore[K, V]) Set(k K, v V) error {
	kb, err := s.key.Serializer(k)
	if err != nil {
		return fmt.Errorf("store %s: %w", s.backend.Name(), err)
	}
	vb, err := s.value.Serializer(v)
	if err != nil {
		return fmt.Errorf("store %s: %w", s.backend.Name(), err)
	}
	return s.backend.Set(kb, vb)
}

func (s *KeyValueStore[K, V]) Delete(k K) error {
	kb, err := s.key.Serializer(k)
	if err != nil {
		return fmt.Errorf("store %s: %w", s.backend.Name(), err)
	}
	return s.backend.Delete(kb)
}

// All iterates every entry in key order.
func (s *KeyValueStore[K, V]) All() iter.Seq2[K, V] {
	return MapIter(s.backend.All(), s.key.Deserializer, s.value.Deserializer)
}

// Keys iterates every key in key order without decoding values.
func (s *KeyValueStore[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for kb := range s.backend.All() {
			k, err := s.key.Deserializer(kb)
			if err != nil {
				return
			}
			if !yield(k) {
				return
			}
		}
	}
}

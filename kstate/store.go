// Package kstate holds the byte-oriented stores that back caching operators,
// and a typed view over them.
package kstate

import (
	"context"
	"errors"
	"iter"
)

var (
	ErrKeyNotFound = errors.New("store: key not found")
)

// StoreBackend is the low-level byte-oriented store interface.
// Implemented by the in-memory store and kstate/pebble.
type StoreBackend interface {
	// Name returns the store name
	Name() string

	// Persistent returns true if the store persists data to disk
	Persistent() bool

	// Flush persists any buffered writes
	Flush(ctx context.Context) error

	// Close closes the store
	Close() error

	Set(k, v []byte) error
	// Get returns ErrKeyNotFound if k is absent
	Get(k []byte) ([]byte, error)
	Delete(k []byte) error
	// Range iterates keys in [lower, upper) in ascending order
	Range(lower, upper []byte) iter.Seq2[[]byte, []byte]
	All() iter.Seq2[[]byte, []byte]
}

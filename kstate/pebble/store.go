// Package pebble is an on-disk kstate backend on top of cockroachdb/pebble.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"

	"github.com/birdayz/lazyflow/kstate"
	"github.com/cockroachdb/pebble"
	"go.uber.org/multierr"
)

type pebbleStore struct {
	name string
	db   *pebble.DB
}

// New opens (or creates) the store name below dir.
func New(dir, name string) (kstate.StoreBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("pebble store %s: empty directory", name)
	}
	path := filepath.Join(dir, name)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &pebbleStore{name: name, db: db}, nil
}

func (s *pebbleStore) Name() string {
	return s.name
}

func (s *pebbleStore) Persistent() bool {
	return true
}

func (s *pebbleStore) Flush(ctx context.Context) error {
	return s.db.Flush()
}

func (s *pebbleStore) Close() error {
	if err := s.db.Flush(); err != nil {
		return multierr.Append(err, s.db.Close())
	}
	return s.db.Close()
}

func (s *pebbleStore) Set(k, v []byte) error {
	if v == nil {
		return s.db.Delete(k, &pebble.WriteOptions{})
	}
	return s.db.Set(k, v, &pebble.WriteOptions{Sync: false})
}

func (s *pebbleStore) Get(k []byte) ([]byte, error) {
	v, closer, err := s.db.Get(k)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, kstate.ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()

	res := make([]byte, len(v))
	copy(res, v)
	return res, nil
}

func (s *pebbleStore) Delete(k []byte) error {
	return s.db.Delete(k, &pebble.WriteOptions{})
}

func (s *pebbleStore) Range(lower, upper []byte) iter.Seq2[[]byte, []byte] {
	return s.scan(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
}

func (s *pebbleStore) All() iter.Seq2[[]byte, []byte] {
	return s.scan(nil)
}

func (s *pebbleStore) scan(opts *pebble.IterOptions) iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		it := s.db.NewIter(opts)
		defer it.Close()

		for it.First(); it.Valid(); it.Next() {
			key := make([]byte, len(it.Key()))
			copy(key, it.Key())

			val, err := it.ValueAndErr()
			if err != nil {
				return
			}
			value := make([]byte, len(val))
			copy(value, val)

			if !yield(key, value) {
				return
			}
		}
	}
}

var _ kstate.StoreBackend = (*pebbleStore)(nil)

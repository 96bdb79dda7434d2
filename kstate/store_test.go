package kstate

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kroi"
	"github.com/birdayz/lazyflow/kserde"
)

func TestMemoryStore(t *testing.T) {
	t.Run("basic CRUD operations", func(t *testing.T) {
		store := NewMemory("test-store")
		defer store.Close()

		assert.Equal(t, "test-store", store.Name())
		assert.False(t, store.Persistent())

		assert.NoError(t, store.Set([]byte("key1"), []byte("value1")))
		value, err := store.Get([]byte("key1"))
		assert.NoError(t, err)
		assert.Equal(t, []byte("value1"), value)

		assert.NoError(t, store.Set([]byte("key1"), []byte("value1-updated")))
		value, err = store.Get([]byte("key1"))
		assert.NoError(t, err)
		assert.Equal(t, []byte("value1-updated"), value)

		assert.NoError(t, store.Delete([]byte("key1")))
		_, err = store.Get([]byte("key1"))
		assert.True(t, errors.Is(err, ErrKeyNotFound))
	})

	t.Run("nil value deletes", func(t *testing.T) {
		store := NewMemory("test-store")
		assert.NoError(t, store.Set([]byte("k"), []byte("v")))
		assert.NoError(t, store.Set([]byte("k"), nil))
		_, err := store.Get([]byte("k"))
		assert.True(t, errors.Is(err, ErrKeyNotFound))
	})

	t.Run("returned values are copies", func(t *testing.T) {
		store := NewMemory("test-store")
		in := []byte("abc")
		assert.NoError(t, store.Set([]byte("k"), in))
		in[0] = 'x'
		out, err := store.Get([]byte("k"))
		assert.NoError(t, err)
		assert.Equal(t, []byte("abc"), out)
	})

	t.Run("range is ordered and half-open", func(t *testing.T) {
		store := NewMemory("test-store")
		for _, k := range []string{"d", "b", "a", "c", "e"} {
			assert.NoError(t, store.Set([]byte(k), []byte(k+k)))
		}

		var keys []string
		for k, v := range store.Range([]byte("b"), []byte("e")) {
			keys = append(keys, string(k))
			assert.Equal(t, string(k)+string(k), string(v))
		}
		assert.Equal(t, []string{"b", "c", "d"}, keys)

		keys = nil
		for k := range store.All() {
			keys = append(keys, string(k))
		}
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)
	})

	t.Run("deleting while iterating", func(t *testing.T) {
		store := NewMemory("test-store")
		for _, k := range []string{"a", "b", "c"} {
			assert.NoError(t, store.Set([]byte(k), []byte(k)))
		}
		for k := range store.All() {
			assert.NoError(t, store.Delete(k))
		}
		count := 0
		for range store.All() {
			count++
		}
		assert.Equal(t, 0, count)
	})
}

func TestKeyValueStore(t *testing.T) {
	blocks := NewKeyValueStore(NewMemory("blocks"), kserde.ROI, kserde.Array)

	roiA := kroi.MustNew([]int{0, 0}, []int{2, 2})
	roiB := kroi.MustNew([]int{0, 2}, []int{2, 4})

	_, ok, err := blocks.Get(roiA)
	assert.NoError(t, err)
	assert.False(t, ok)

	a := karray.MustFromSlice(karray.Shape{2, 2}, []float32{1, 2, 3, 4})
	b := karray.MustFromSlice(karray.Shape{2, 2}, []float32{5, 6, 7, 8})
	assert.NoError(t, blocks.Set(roiB, b))
	assert.NoError(t, blocks.Set(roiA, a))

	got, ok, err := blocks.Get(roiA)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, a.Equal(got))

	var order []kroi.ROI
	for k, v := range blocks.All() {
		order = append(order, k)
		assert.Equal(t, karray.Float32, v.DType())
	}
	assert.Equal(t, 2, len(order))
	assert.True(t, order[0].Equal(roiA))
	assert.True(t, order[1].Equal(roiB))

	assert.NoError(t, blocks.Delete(roiA))
	var keys []kroi.ROI
	for k := range blocks.Keys() {
		keys = append(keys, k)
	}
	assert.Equal(t, 1, len(keys))
	assert.True(t, keys[0].Equal(roiB))
}

func TestKeyValueStoreCorruptValue(t *testing.T) {
	backend := NewMemory("blocks")
	blocks := NewKeyValueStore(backend, kserde.String, kserde.Array)

	assert.NoError(t, backend.Set([]byte("broken"), []byte{1}))
	_, _, err := blocks.Get("broken")
	assert.True(t, errors.Is(err, karray.ErrCorrupt))
}

func TestMapIter(t *testing.T) {
	t.Run("transforms byte iterator to typed iterator", func(t *testing.T) {
		byteSeq := func(yield func([]byte, []byte) bool) {
			if !yield([]byte("key1"), []byte("value1")) {
				return
			}
			if !yield([]byte("key2"), []byte("value2")) {
				return
			}
		}

		var results []string
		for k, v := range MapIter(byteSeq, kserde.StringDeserializer, kserde.StringDeserializer) {
			results = append(results, k+"="+v)
		}
		assert.Equal(t, []string{"key1=value1", "key2=value2"}, results)
	})

	t.Run("stops on deserialization error", func(t *testing.T) {
		byteSeq := func(yield func([]byte, []byte) bool) {
			if !yield([]byte("key1"), []byte("value1")) {
				return
			}
			if !yield([]byte("bad"), []byte("value2")) {
				return
			}
			if !yield([]byte("key3"), []byte("value3")) {
				return
			}
		}
		keyDeser := func(data []byte) (string, error) {
			if string(data) == "bad" {
				return "", errors.New("bad key")
			}
			return string(data), nil
		}

		count := 0
		for range MapIter(byteSeq, keyDeser, kserde.StringDeserializer) {
			count++
		}
		assert.Equal(t, 1, count)
	})
}

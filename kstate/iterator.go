package kstate

import (
	"iter"

	"github.com/birdayz/lazyflow/kserde"
)

// MapIter transforms a byte iterator into a typed iterator. Entries that
// fail to decode end the iteration.
func MapIter[K, V any](
	seq iter.Seq2[[]byte, []byte],
	keyDeserializer kserde.Deserializer[K],
	valueDeserializer kserde.Deserializer[V],
) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for keyBytes, valueBytes := range seq {
			key, err := keyDeserializer(keyBytes)
			if err != nil {
				return
			}
			value, err := valueDeserializer(valueBytes)
			if err != nil {
				return
			}
			if !yield(key, value) {
				return
			}
		}
	}
}

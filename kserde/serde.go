// Package kserde provides serializer/deserializer pairs for the values
// lazyflow moves out of process: cached array blocks, block keys and dirty
// events.
package kserde

type Serde[T any] struct {
	Serializer   Serializer[T]
	Deserializer Deserializer[T]
}

type Serializer[T any] func(T) ([]byte, error)

type Deserializer[T any] func([]byte) (T, error)

var StringSerializer = func(data string) ([]byte, error) {
	return []byte(data), nil
}

var StringDeserializer = func(data []byte) (string, error) {
	return string(data), nil
}

// String is a SerDe for record keys such as node names
var String = Serde[string]{
	Serializer:   StringSerializer,
	Deserializer: StringDeserializer,
}

package kserde

import (
	"github.com/birdayz/lazyflow/karray"
)

var ArraySerializer = func(a *karray.Array) ([]byte, error) {
	return a.MarshalBinary()
}

var ArrayDeserializer = func(data []byte) (*karray.Array, error) {
	a := new(karray.Array)
	if err := a.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return a, nil
}

// Array is a SerDe for array blocks, using the karray binary layout
var Array = Serde[*karray.Array]{
	Serializer:   ArraySerializer,
	Deserializer: ArrayDeserializer,
}

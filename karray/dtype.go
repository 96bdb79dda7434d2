package karray

import (
	"fmt"
	"strings"
)

// DType describes the element type of an Array.
type DType int

const (
	Invalid DType = iota
	Bool
	Uint8
	Int32
	Int64
	Float32
	Float64
)

// Element is the set of Go types an Array can hold.
type Element interface {
	bool | uint8 | int32 | int64 | float32 | float64
}

func (d DType) String() string {
	switch d {
	case Bool:
		return "bool"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "invalid"
	}
}

// Valid reports whether d names a supported element type.
func (d DType) Valid() bool {
	return d > Invalid && d <= Float64
}

// ItemSize returns the encoded size of one element in bytes.
func (d DType) ItemSize() int {
	switch d {
	case Bool, Uint8:
		return 1
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// ParseDType parses the name returned by DType.String.
func ParseDType(s string) (DType, error) {
	for d := Bool; d <= Float64; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return Invalid, fmt.Errorf("%w: %q", ErrInvalidDType, s)
}

// MarshalText implements encoding.TextMarshaler.
func (d DType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDType, int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DType) UnmarshalText(b []byte) error {
	parsed, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DTypeOf returns the DType matching the type parameter.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case bool:
		return Bool
	case uint8:
		return Uint8
	case int32:
		return Int32
	case int64:
		return Int64
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return Invalid
}

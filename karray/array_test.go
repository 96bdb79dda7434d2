package karray

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/lazyflow/kroi"
)

func TestNew(t *testing.T) {
	t.Run("zero filled", func(t *testing.T) {
		a, err := New(Float32, Shape{2, 3})
		assert.NoError(t, err)
		assert.Equal(t, Float32, a.DType())
		assert.Equal(t, Shape{2, 3}, a.Shape())
		assert.Equal(t, 6, a.Len())

		data, err := Data[float32](a)
		assert.NoError(t, err)
		assert.Equal(t, make([]float32, 6), data)
	})

	t.Run("invalid dtype", func(t *testing.T) {
		_, err := New(Invalid, Shape{1})
		assert.True(t, errors.Is(err, ErrInvalidDType))
	})

	t.Run("negative extent", func(t *testing.T) {
		_, err := New(Bool, Shape{-1})
		assert.True(t, errors.Is(err, ErrInvalidShape))
	})
}

func TestFromSlice(t *testing.T) {
	src := []int64{0, 1, 2, 3}
	a, err := FromSlice(Shape{2, 2}, src)
	assert.NoError(t, err)
	assert.Equal(t, Int64, a.DType())

	src[0] = 42
	assert.Equal(t, 0.0, a.Float64(0))

	_, err = FromSlice(Shape{3}, src)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = Data[float64](a)
	assert.True(t, errors.Is(err, ErrDTypeMismatch))
}

func TestRegion(t *testing.T) {
	a := MustFromSlice(Shape{3, 4}, []float64{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
	})

	t.Run("inner block", func(t *testing.T) {
		r, err := a.Region(kroi.MustNew([]int{1, 1}, []int{3, 3}))
		assert.NoError(t, err)
		assert.True(t, r.Equal(MustFromSlice(Shape{2, 2}, []float64{5, 6, 9, 10})))
	})

	t.Run("single element keeps rank", func(t *testing.T) {
		r, err := a.Region(kroi.MustNew([]int{2, 3}, []int{3, 4}))
		assert.NoError(t, err)
		assert.Equal(t, Shape{1, 1}, r.Shape())
		assert.Equal(t, 11.0, r.Float64(0))
	})

	t.Run("outside bounds", func(t *testing.T) {
		_, err := a.Region(kroi.MustNew([]int{0, 0}, []int{4, 1}))
		assert.True(t, errors.Is(err, ErrShapeMismatch))
	})

	t.Run("scalar", func(t *testing.T) {
		s := MustFromSlice(Shape{}, []float64{7})
		r, err := s.Region(kroi.Full(nil))
		assert.NoError(t, err)
		assert.Equal(t, 7.0, r.Float64(0))
	})
}

func TestPaste(t *testing.T) {
	dst, err := New(Int32, Shape{2, 3})
	assert.NoError(t, err)

	err = dst.Paste(kroi.MustNew([]int{0, 1}, []int{2, 3}), MustFromSlice(Shape{2, 2}, []float64{1, 2, 3, 4}))
	assert.NoError(t, err)
	assert.True(t, dst.Equal(MustFromSlice(Shape{2, 3}, []int32{0, 1, 2, 0, 3, 4})))

	err = dst.Paste(kroi.MustNew([]int{0, 0}, []int{1, 1}), MustFromSlice(Shape{2}, []int32{1, 2}))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestCopyFromConverts(t *testing.T) {
	dst, err := New(Bool, Shape{3})
	assert.NoError(t, err)
	assert.NoError(t, dst.CopyFrom(MustFromSlice(Shape{3}, []float64{0, 0.5, 2})))

	got, err := Data[bool](dst)
	assert.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, got)

	err = dst.CopyFrom(MustFromSlice(Shape{2}, []float64{0, 1}))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestBinaryRoundTrip(t *testing.T) {
	arrays := []*Array{
		MustFromSlice(Shape{2, 2}, []float64{0.25, 1, 2, 3}),
		MustFromSlice(Shape{3}, []bool{true, false, true}),
		MustFromSlice(Shape{}, []int32{-5}),
		MustFromSlice(Shape{0, 4}, []uint8{}),
	}
	for _, a := range arrays {
		t.Run(a.DType().String(), func(t *testing.T) {
			b, err := a.MarshalBinary()
			assert.NoError(t, err)

			var decoded Array
			assert.NoError(t, decoded.UnmarshalBinary(b))
			assert.True(t, a.Equal(&decoded))
		})
	}

	t.Run("truncated payload", func(t *testing.T) {
		b, err := arrays[0].MarshalBinary()
		assert.NoError(t, err)
		var decoded Array
		err = decoded.UnmarshalBinary(b[:len(b)-3])
		assert.True(t, errors.Is(err, ErrCorrupt))
	})

	t.Run("extents overflowing size", func(t *testing.T) {
		b := []byte{codecVersion, byte(Float64), 2}
		b = binary.AppendUvarint(b, 1<<32)
		b = binary.AppendUvarint(b, 1<<32)

		var decoded Array
		err := decoded.UnmarshalBinary(b)
		assert.True(t, errors.Is(err, ErrCorrupt))
	})

	t.Run("extent beyond payload", func(t *testing.T) {
		b := []byte{codecVersion, byte(Uint8), 1}
		b = binary.AppendUvarint(b, 1<<62)
		b = append(b, 1, 2, 3)

		var decoded Array
		err := decoded.UnmarshalBinary(b)
		assert.True(t, errors.Is(err, ErrCorrupt))
	})

	t.Run("empty array with huge extent", func(t *testing.T) {
		b := []byte{codecVersion, byte(Uint8), 2, 0}
		b = binary.AppendUvarint(b, 1<<40)

		var decoded Array
		err := decoded.UnmarshalBinary(b)
		assert.True(t, errors.Is(err, ErrCorrupt))
	})
}

func TestDTypeText(t *testing.T) {
	for d := Bool; d <= Float64; d++ {
		b, err := d.MarshalText()
		assert.NoError(t, err)
		var parsed DType
		assert.NoError(t, parsed.UnmarshalText(b))
		assert.Equal(t, d, parsed)
	}
	_, err := ParseDType("complex128")
	assert.True(t, errors.Is(err, ErrInvalidDType))
}

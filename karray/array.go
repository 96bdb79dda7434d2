// Package karray is the minimal typed N-dimensional buffer the engine hands to
// operators. The engine treats arrays as opaque payloads with shape and dtype
// metadata; operators read and fill them through typed views.
package karray

import (
	"errors"
	"fmt"
	"strings"

	"github.com/birdayz/lazyflow/kroi"
)

var (
	ErrInvalidDType  = errors.New("invalid dtype")
	ErrInvalidShape  = errors.New("invalid shape")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrDTypeMismatch = errors.New("dtype mismatch")
)

// Shape holds the per-axis extents of an array.
type Shape []int

// Size returns the number of elements of an array with this shape.
func (s Shape) Size() int {
	n := 1
	for _, e := range s {
		n *= e
	}
	return n
}

// Equal reports whether both shapes have identical extents.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Validate returns ErrInvalidShape for negative extents.
func (s Shape) Validate() error {
	for i, e := range s {
		if e < 0 {
			return fmt.Errorf("%w: negative extent %d on axis %d", ErrInvalidShape, e, i)
		}
	}
	return nil
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, e := range s {
		parts[i] = fmt.Sprint(e)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Array is a dense row-major N-dimensional buffer. Its shape and dtype are
// fixed at construction; only element values can change.
type Array struct {
	dtype DType
	shape Shape
	data  any
}

// New allocates a zero-filled array.
func New(dtype DType, shape Shape) (*Array, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDType, int(dtype))
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	n := shape.Size()
	a := &Array{dtype: dtype, shape: shape.Clone()}
	switch dtype {
	case Bool:
		a.data = make([]bool, n)
	case Uint8:
		a.data = make([]uint8, n)
	case Int32:
		a.data = make([]int32, n)
	case Int64:
		a.data = make([]int64, n)
	case Float32:
		a.data = make([]float32, n)
	case Float64:
		a.data = make([]float64, n)
	}
	return a, nil
}

// FromSlice builds an array of the given shape from a copy of data.
func FromSlice[T Element](shape Shape, data []T) (*Array, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.Size() != len(data) {
		return nil, fmt.Errorf("%w: %d elements for shape %s", ErrShapeMismatch, len(data), shape)
	}
	buf := make([]T, len(data))
	copy(buf, data)
	return &Array{dtype: DTypeOf[T](), shape: shape.Clone(), data: buf}, nil
}

// MustFromSlice is like FromSlice but panics on error.
func MustFromSlice[T Element](shape Shape, data []T) *Array {
	a, err := FromSlice(shape, data)
	if err != nil {
		panic(err)
	}
	return a
}

// Data returns the backing slice of a. Writes through the slice modify the
// array, which is how operators fill result buffers in place.
func Data[T Element](a *Array) ([]T, error) {
	d, ok := a.data.([]T)
	if !ok {
		return nil, fmt.Errorf("%w: array holds %s, requested %s", ErrDTypeMismatch, a.dtype, DTypeOf[T]())
	}
	return d, nil
}

// DType returns the element type.
func (a *Array) DType() DType {
	return a.dtype
}

// Shape returns a copy of the array's shape.
func (a *Array) Shape() Shape {
	return a.shape.Clone()
}

// Rank returns the number of axes.
func (a *Array) Rank() int {
	return len(a.shape)
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return a.shape.Size()
}

// Float64 returns element i (row-major) converted to float64.
func (a *Array) Float64(i int) float64 {
	switch d := a.data.(type) {
	case []bool:
		if d[i] {
			return 1
		}
		return 0
	case []uint8:
		return float64(d[i])
	case []int32:
		return float64(d[i])
	case []int64:
		return float64(d[i])
	case []float32:
		return float64(d[i])
	case []float64:
		return d[i]
	}
	panic(fmt.Sprintf("karray: unsupported storage %T", a.data))
}

// SetFloat64 stores v at element i, converting to the array's dtype. For
// boolean arrays any non-zero value is true.
func (a *Array) SetFloat64(i int, v float64) {
	switch d := a.data.(type) {
	case []bool:
		d[i] = v != 0
	case []uint8:
		d[i] = uint8(v)
	case []int32:
		d[i] = int32(v)
	case []int64:
		d[i] = int64(v)
	case []float32:
		d[i] = float32(v)
	case []float64:
		d[i] = v
	default:
		panic(fmt.Sprintf("karray: unsupported storage %T", a.data))
	}
}

// Region returns a copy of the elements inside roi.
func (a *Array) Region(roi kroi.ROI) (*Array, error) {
	if !roi.Within(a.shape) {
		return nil, fmt.Errorf("%w: region %s outside array of shape %s", ErrShapeMismatch, roi, a.shape)
	}
	out, err := New(a.dtype, roi.Shape())
	if err != nil {
		return nil, err
	}
	copyBoxAny(out, a, make([]int, roi.Rank()), roi.Start(), roi.Shape())
	return out, nil
}

// Paste writes src into the region roi of a. src must have the extent of roi.
func (a *Array) Paste(roi kroi.ROI, src *Array) error {
	if !roi.Within(a.shape) {
		return fmt.Errorf("%w: region %s outside array of shape %s", ErrShapeMismatch, roi, a.shape)
	}
	if !src.shape.Equal(roi.Shape()) {
		return fmt.Errorf("%w: source shape %s does not match region %s", ErrShapeMismatch, src.shape, roi)
	}
	if src.dtype != a.dtype {
		converted, err := src.As(a.dtype)
		if err != nil {
			return err
		}
		src = converted
	}
	copyBoxAny(a, src, roi.Start(), make([]int, roi.Rank()), roi.Shape())
	return nil
}

// CopyFrom overwrites every element of a with the elements of src. Shapes
// must match; element types are converted when they differ.
func (a *Array) CopyFrom(src *Array) error {
	if !a.shape.Equal(src.shape) {
		return fmt.Errorf("%w: cannot copy %s into %s", ErrShapeMismatch, src.shape, a.shape)
	}
	if a.dtype == src.dtype {
		copyBoxAny(a, src, make([]int, len(a.shape)), make([]int, len(a.shape)), a.shape)
		return nil
	}
	for i := 0; i < a.Len(); i++ {
		a.SetFloat64(i, src.Float64(i))
	}
	return nil
}

// As returns a copy of a converted to dtype.
func (a *Array) As(dtype DType) (*Array, error) {
	out, err := New(dtype, a.shape)
	if err != nil {
		return nil, err
	}
	return out, out.CopyFrom(a)
}

// Clone returns a deep copy of a.
func (a *Array) Clone() *Array {
	out, _ := New(a.dtype, a.shape)
	_ = out.CopyFrom(a)
	return out
}

// Equal reports whether both arrays have the same dtype, shape and elements.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.dtype != b.dtype || !a.shape.Equal(b.shape) {
		return false
	}
	for i := 0; i < a.Len(); i++ {
		if a.Float64(i) != b.Float64(i) {
			return false
		}
	}
	return true
}

func (a *Array) String() string {
	return fmt.Sprintf("Array(%s, %s, %v)", a.dtype, a.shape, a.data)
}

func copyBoxAny(dst, src *Array, dstStart, srcStart, extent []int) {
	switch d := dst.data.(type) {
	case []bool:
		copyBox(d, dst.shape, dstStart, src.data.([]bool), src.shape, srcStart, extent)
	case []uint8:
		copyBox(d, dst.shape, dstStart, src.data.([]uint8), src.shape, srcStart, extent)
	case []int32:
		copyBox(d, dst.shape, dstStart, src.data.([]int32), src.shape, srcStart, extent)
	case []int64:
		copyBox(d, dst.shape, dstStart, src.data.([]int64), src.shape, srcStart, extent)
	case []float32:
		copyBox(d, dst.shape, dstStart, src.data.([]float32), src.shape, srcStart, extent)
	case []float64:
		copyBox(d, dst.shape, dstStart, src.data.([]float64), src.shape, srcStart, extent)
	}
}

// copyBox copies a box of the given extent between two row-major buffers,
// one contiguous innermost run at a time.
func copyBox[T any](dst []T, dstShape Shape, dstStart []int, src []T, srcShape Shape, srcStart []int, extent []int) {
	rank := len(extent)
	if rank == 0 {
		dst[0] = src[0]
		return
	}
	for _, e := range extent {
		if e == 0 {
			return
		}
	}
	dstStrides, srcStrides := strides(dstShape), strides(srcShape)
	inner := extent[rank-1]
	pos := make([]int, rank-1)
	for {
		di, si := dstStart[rank-1], srcStart[rank-1]
		for ax := 0; ax < rank-1; ax++ {
			di += (dstStart[ax] + pos[ax]) * dstStrides[ax]
			si += (srcStart[ax] + pos[ax]) * srcStrides[ax]
		}
		copy(dst[di:di+inner], src[si:si+inner])

		ax := rank - 2
		for ; ax >= 0; ax-- {
			pos[ax]++
			if pos[ax] < extent[ax] {
				break
			}
			pos[ax] = 0
		}
		if ax < 0 {
			return
		}
	}
}

func strides(shape Shape) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

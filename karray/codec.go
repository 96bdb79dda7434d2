package karray

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const codecVersion = 1

// ErrCorrupt is returned when decoding malformed array bytes.
var ErrCorrupt = errors.New("corrupt array encoding")

// MarshalBinary encodes the array as version, dtype, rank, extents and
// little-endian element data.
func (a *Array) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(3 + 2*len(a.shape) + a.Len()*a.dtype.ItemSize())
	buf.WriteByte(codecVersion)
	buf.WriteByte(byte(a.dtype))

	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(a.shape)))
	buf.Write(tmp[:n])
	for _, e := range a.shape {
		n = binary.PutUvarint(tmp[:], uint64(e))
		buf.Write(tmp[:n])
	}

	if err := binary.Write(&buf, binary.LittleEndian, a.data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes bytes produced by MarshalBinary into a.
func (a *Array) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	version, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if version != codecVersion {
		return fmt.Errorf("%w: unknown version %d", ErrCorrupt, version)
	}
	dt, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	rank, err := binary.ReadUvarint(r)
	if err != nil {
		return fmt.Errorf("%w: rank: %v", ErrCorrupt, err)
	}
	if rank > uint64(r.Len()) {
		return fmt.Errorf("%w: rank %d exceeds payload", ErrCorrupt, rank)
	}
	dtype := DType(dt)
	if !dtype.Valid() {
		return fmt.Errorf("%w: dtype %d", ErrCorrupt, dt)
	}

	extents := make([]uint64, rank)
	empty := false
	for i := range extents {
		e, err := binary.ReadUvarint(r)
		if err != nil {
			return fmt.Errorf("%w: extent %d: %v", ErrCorrupt, i, err)
		}
		extents[i] = e
		empty = empty || e == 0
	}

	// Extents are bounded by the element count the payload can hold, so the
	// size computation cannot overflow.
	limit := uint64(r.Len() / dtype.ItemSize())
	if empty {
		limit = math.MaxInt32
	}
	shape := make(Shape, rank)
	size := uint64(1)
	for i, e := range extents {
		if e > limit {
			return fmt.Errorf("%w: extent %d of %d exceeds payload", ErrCorrupt, i, e)
		}
		shape[i] = int(e)
		if !empty {
			size *= e
			if size > limit {
				return fmt.Errorf("%w: shape exceeds payload of %d bytes", ErrCorrupt, r.Len())
			}
		}
	}
	if want := shape.Size() * dtype.ItemSize(); want != r.Len() {
		return fmt.Errorf("%w: %d data bytes for shape %s of %s", ErrCorrupt, r.Len(), shape, dtype)
	}

	decoded, err := New(dtype, shape)
	if err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, decoded.data); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	*a = *decoded
	return nil
}

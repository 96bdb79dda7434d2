package kserde

import (
	"encoding/binary"
	"fmt"

	"github.com/birdayz/lazyflow/kroi"
)

// ROISerializer encodes a region as its rank followed by big-endian start
// and stop coordinates. Regions of equal rank sort by start coordinate.
var ROISerializer = func(r kroi.ROI) ([]byte, error) {
	rank := r.Rank()
	buf := make([]byte, 2+16*rank)
	binary.BigEndian.PutUint16(buf, uint16(rank))
	for axis := 0; axis < rank; axis++ {
		binary.BigEndian.PutUint64(buf[2+8*axis:], uint64(r.StartAt(axis)))
		binary.BigEndian.PutUint64(buf[2+8*(rank+axis):], uint64(r.StopAt(axis)))
	}
	return buf, nil
}

var ROIDeserializer = func(data []byte) (kroi.ROI, error) {
	if len(data) < 2 {
		return kroi.ROI{}, fmt.Errorf("kserde: roi requires at least 2 bytes, got %d", len(data))
	}
	rank := int(binary.BigEndian.Uint16(data))
	if len(data) != 2+16*rank {
		return kroi.ROI{}, fmt.Errorf("kserde: roi of rank %d requires %d bytes, got %d", rank, 2+16*rank, len(data))
	}
	start := make([]int, rank)
	stop := make([]int, rank)
	for axis := 0; axis < rank; axis++ {
		start[axis] = int(binary.BigEndian.Uint64(data[2+8*axis:]))
		stop[axis] = int(binary.BigEndian.Uint64(data[2+8*(rank+axis):]))
	}
	return kroi.New(start, stop)
}

// ROI is a SerDe for block keys
var ROI = Serde[kroi.ROI]{
	Serializer:   ROISerializer,
	Deserializer: ROIDeserializer,
}

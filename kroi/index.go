package kroi

import "fmt"

type indexKind int

const (
	indexAll indexKind = iota
	indexAt
	indexRange
)

// Index selects a part of one axis when building a ROI with FromIndices.
type Index struct {
	kind        indexKind
	start, stop int
	openStop    bool
}

// All selects a whole axis.
func All() Index {
	return Index{kind: indexAll}
}

// At selects a single position. The axis is kept with extent 1, so querying
// element (1, 1) of a 2-d array yields a 1x1 array. Negative positions count
// from the end of the axis.
func At(i int) Index {
	return Index{kind: indexAt, start: i}
}

// Range selects [start, stop). Negative bounds count from the end of the axis.
func Range(start, stop int) Index {
	return Index{kind: indexRange, start: start, stop: stop}
}

// From selects [start, end of axis).
func From(start int) Index {
	return Index{kind: indexRange, start: start, openStop: true}
}

func (ix Index) resolve(axis, extent int) (int, int, error) {
	norm := func(v int) int {
		if v < 0 {
			return v + extent
		}
		return v
	}
	switch ix.kind {
	case indexAll:
		return 0, extent, nil
	case indexAt:
		p := norm(ix.start)
		if p < 0 || p >= extent {
			return 0, 0, fmt.Errorf("%w: index %d out of range for axis %d with extent %d", ErrInvalidROI, ix.start, axis, extent)
		}
		return p, p + 1, nil
	default:
		start, stop := norm(ix.start), extent
		if !ix.openStop {
			stop = norm(ix.stop)
		}
		if start < 0 || stop > extent || start > stop {
			return 0, 0, fmt.Errorf("%w: range %d:%d out of range for axis %d with extent %d", ErrInvalidROI, ix.start, ix.stop, axis, extent)
		}
		return start, stop, nil
	}
}

// FromIndices builds a ROI over an array of the given shape. Axes without an
// index are selected fully, so FromIndices(shape) is the whole array and
// FromIndices(shape, At(0)) is its first row.
func FromIndices(shape []int, indices ...Index) (ROI, error) {
	if len(indices) > len(shape) {
		return ROI{}, fmt.Errorf("%w: %d indices for rank %d", ErrInvalidROI, len(indices), len(shape))
	}
	start := make([]int, len(shape))
	stop := make([]int, len(shape))
	for axis, extent := range shape {
		ix := All()
		if axis < len(indices) {
			ix = indices[axis]
		}
		s, e, err := ix.resolve(axis, extent)
		if err != nil {
			return ROI{}, err
		}
		start[axis], stop[axis] = s, e
	}
	return ROI{start: start, stop: stop}, nil
}

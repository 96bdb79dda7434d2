// Package kroi provides the region-of-interest type used both as the unit of
// data requests and as the unit of invalidation.
//
// A ROI is a half-open box [start, stop) per axis. ROIs are values: they are
// never mutated after construction and can be shared freely between
// goroutines.
package kroi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidROI is returned when start/stop coordinates do not describe a box.
var ErrInvalidROI = errors.New("invalid roi")

// ROI is an immutable region of interest.
type ROI struct {
	start []int
	stop  []int
}

// New creates a ROI from start and stop coordinates. Both vectors must have
// the same rank and start must not exceed stop on any axis.
func New(start, stop []int) (ROI, error) {
	if len(start) != len(stop) {
		return ROI{}, fmt.Errorf("%w: start has rank %d, stop has rank %d", ErrInvalidROI, len(start), len(stop))
	}
	for i := range start {
		if start[i] < 0 {
			return ROI{}, fmt.Errorf("%w: negative start %d on axis %d", ErrInvalidROI, start[i], i)
		}
		if start[i] > stop[i] {
			return ROI{}, fmt.Errorf("%w: start %d > stop %d on axis %d", ErrInvalidROI, start[i], stop[i], i)
		}
	}
	return ROI{start: clone(start), stop: clone(stop)}, nil
}

// MustNew is like New but panics on error.
func MustNew(start, stop []int) ROI {
	r, err := New(start, stop)
	if err != nil {
		panic(err)
	}
	return r
}

// Full returns the ROI covering a whole array of the given shape.
func Full(shape []int) ROI {
	return ROI{start: make([]int, len(shape)), stop: clone(shape)}
}

// Rank returns the number of axes.
func (r ROI) Rank() int {
	return len(r.start)
}

// Start returns a copy of the start coordinates.
func (r ROI) Start() []int {
	return clone(r.start)
}

// Stop returns a copy of the stop coordinates.
func (r ROI) Stop() []int {
	return clone(r.stop)
}

// StartAt returns the start coordinate of one axis.
func (r ROI) StartAt(axis int) int {
	return r.start[axis]
}

// StopAt returns the stop coordinate of one axis.
func (r ROI) StopAt(axis int) int {
	return r.stop[axis]
}

// Shape returns the per-axis extent of the region.
func (r ROI) Shape() []int {
	shape := make([]int, len(r.start))
	for i := range r.start {
		shape[i] = r.stop[i] - r.start[i]
	}
	return shape
}

// Size returns the number of elements covered by the region. A rank-0 ROI
// addresses a single scalar.
func (r ROI) Size() int {
	n := 1
	for i := range r.start {
		n *= r.stop[i] - r.start[i]
	}
	return n
}

// Empty reports whether the region covers no elements.
func (r ROI) Empty() bool {
	return r.Size() == 0
}

// Equal reports whether both regions have the same rank and coordinates.
func (r ROI) Equal(o ROI) bool {
	if r.Rank() != o.Rank() {
		return false
	}
	for i := range r.start {
		if r.start[i] != o.start[i] || r.stop[i] != o.stop[i] {
			return false
		}
	}
	return true
}

// Contains reports whether o lies entirely inside r.
func (r ROI) Contains(o ROI) bool {
	if r.Rank() != o.Rank() {
		return false
	}
	for i := range r.start {
		if o.start[i] < r.start[i] || o.stop[i] > r.stop[i] {
			return false
		}
	}
	return true
}

// Within reports whether the region lies inside an array of the given shape.
func (r ROI) Within(shape []int) bool {
	return Full(shape).Contains(r)
}

// Intersect returns the overlap of r and o. The boolean is false when the
// regions do not overlap or have different ranks.
func (r ROI) Intersect(o ROI) (ROI, bool) {
	if r.Rank() != o.Rank() {
		return ROI{}, false
	}
	start := make([]int, r.Rank())
	stop := make([]int, r.Rank())
	for i := range r.start {
		start[i] = max(r.start[i], o.start[i])
		stop[i] = min(r.stop[i], o.stop[i])
		if start[i] >= stop[i] {
			return ROI{}, false
		}
	}
	return ROI{start: start, stop: stop}, true
}

// Intersects reports whether r and o share at least one element.
func (r ROI) Intersects(o ROI) bool {
	_, ok := r.Intersect(o)
	return ok
}

// RelativeTo expresses r in the coordinate frame of outer, whose start
// becomes the origin. outer must contain r.
func (r ROI) RelativeTo(outer ROI) (ROI, error) {
	if !outer.Contains(r) {
		return ROI{}, fmt.Errorf("%w: %s is not inside %s", ErrInvalidROI, r, outer)
	}
	start := make([]int, r.Rank())
	stop := make([]int, r.Rank())
	for i := range r.start {
		start[i] = r.start[i] - outer.start[i]
		stop[i] = r.stop[i] - outer.start[i]
	}
	return ROI{start: start, stop: stop}, nil
}

// Expand grows the region by margin elements on every side, clamped to the
// given shape. Operators whose outputs depend on a neighbourhood of their
// inputs use it to widen dirty regions and upstream requests.
func (r ROI) Expand(margin int, shape []int) ROI {
	start := make([]int, r.Rank())
	stop := make([]int, r.Rank())
	for i := range r.start {
		start[i] = max(r.start[i]-margin, 0)
		stop[i] = r.stop[i] + margin
		if i < len(shape) {
			stop[i] = min(stop[i], shape[i])
		}
	}
	return ROI{start: start, stop: stop}
}

// String renders the region in slice notation, e.g. "[0:2, 1:3]".
func (r ROI) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i := range r.start {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d:%d", r.start[i], r.stop[i])
	}
	b.WriteByte(']')
	return b.String()
}

type roiJSON struct {
	Start []int `json:"start"`
	Stop  []int `json:"stop"`
}

// MarshalJSON encodes the region as {"start": [...], "stop": [...]}.
func (r ROI) MarshalJSON() ([]byte, error) {
	start, stop := r.start, r.stop
	if start == nil {
		start, stop = []int{}, []int{}
	}
	return json.Marshal(roiJSON{Start: start, Stop: stop})
}

// UnmarshalJSON decodes a region written by MarshalJSON.
func (r *ROI) UnmarshalJSON(b []byte) error {
	var raw roiJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	decoded, err := New(raw.Start, raw.Stop)
	if err != nil {
		return err
	}
	*r = decoded
	return nil
}

func clone(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}

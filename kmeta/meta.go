// Package kmeta implements the metadata map attached to every slot.
//
// Metadata is a tag -> value mapping. Lookup is total: reading an unknown tag
// reports absence and never fails. The engine itself only relies on the
// "shape" and "dtype" tags; every other tag passes through operators
// untouched when they inherit metadata with AssignFrom.
package kmeta

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/birdayz/lazyflow/karray"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Tags the engine relies on.
const (
	TagShape = "shape"
	TagDType = "dtype"
)

// ErrIncomplete is returned by Validate when a required tag is missing.
var ErrIncomplete = errors.New("incomplete metadata")

// Meta is a concurrency-safe metadata map. Writers (setup of the owning
// operator) are serialized against concurrent readers.
type Meta struct {
	mu   sync.RWMutex
	tags map[string]any
}

// New returns an empty metadata map.
func New() *Meta {
	return &Meta{tags: make(map[string]any)}
}

// ForArray returns metadata describing a.
func ForArray(a *karray.Array) *Meta {
	m := New()
	m.tags[TagShape] = a.Shape()
	m.tags[TagDType] = a.DType()
	return m
}

// Get returns the value of tag and whether it is present.
func (m *Meta) Get(tag string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.tags[tag]
	return v, ok
}

// Lookup returns the value of tag, or nil when absent.
func (m *Meta) Lookup(tag string) any {
	v, _ := m.Get(tag)
	return v
}

// Set stores a tag. Setting a nil value removes the tag.
func (m *Meta) Set(tag string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == nil {
		delete(m.tags, tag)
		return
	}
	m.tags[tag] = cloneValue(value)
}

// Delete removes a tag.
func (m *Meta) Delete(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tags, tag)
}

// Shape returns the shape tag.
func (m *Meta) Shape() (karray.Shape, bool) {
	v, ok := m.Get(TagShape)
	if !ok {
		return nil, false
	}
	s, ok := v.(karray.Shape)
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// SetShape sets the shape tag.
func (m *Meta) SetShape(s karray.Shape) {
	m.Set(TagShape, s.Clone())
}

// DType returns the dtype tag.
func (m *Meta) DType() (karray.DType, bool) {
	v, ok := m.Get(TagDType)
	if !ok {
		return karray.Invalid, false
	}
	d, ok := v.(karray.DType)
	return d, ok
}

// SetDType sets the dtype tag.
func (m *Meta) SetDType(d karray.DType) {
	m.Set(TagDType, d)
}

// Value returns the tag converted to T. The boolean is false when the tag is
// absent or holds a different type.
func Value[T any](m *Meta, tag string) (T, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return *new(T), false
	}
	t, ok := v.(T)
	return t, ok
}

// AssignFrom replaces every tag of m with a copy of the tags of src.
func (m *Meta) AssignFrom(src *Meta) {
	if m == src {
		return
	}
	snapshot := src.snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = snapshot
}

// Clear removes every tag.
func (m *Meta) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = make(map[string]any)
}

// Copy returns an independent copy of m.
func (m *Meta) Copy() *Meta {
	return &Meta{tags: m.snapshot()}
}

// Keys returns the tag names in sorted order.
func (m *Meta) Keys() []string {
	m.mu.RLock()
	keys := maps.Keys(m.tags)
	m.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Len returns the number of tags.
func (m *Meta) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tags)
}

// Equal reports whether both maps hold the same tags with deeply equal values.
func (m *Meta) Equal(o *Meta) bool {
	if m == o {
		return true
	}
	if m == nil || o == nil {
		return false
	}
	a, b := m.snapshot(), o.snapshot()
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !reflect.DeepEqual(va, vb) {
			return false
		}
	}
	return true
}

// Validate checks that shape and dtype are present and well formed.
func (m *Meta) Validate() error {
	shape, ok := m.Shape()
	if !ok {
		return fmt.Errorf("%w: missing %q", ErrIncomplete, TagShape)
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	dtype, ok := m.DType()
	if !ok || !dtype.Valid() {
		return fmt.Errorf("%w: missing %q", ErrIncomplete, TagDType)
	}
	return nil
}

func (m *Meta) String() string {
	snapshot := m.snapshot()
	keys := maps.Keys(snapshot)
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, snapshot[k])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func (m *Meta) snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.tags))
	for k, v := range m.tags {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the slice-backed values the engine knows about so that
// metadata maps never alias each other.
func cloneValue(v any) any {
	switch t := v.(type) {
	case karray.Shape:
		return t.Clone()
	case []int:
		return slices.Clone(t)
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

package lazyflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kmeta"
	"github.com/birdayz/lazyflow/kroi"
)

type inputKind int

const (
	inputUnconfigured inputKind = iota
	inputValue
	inputConnected
)

// inputState is replaced as a whole on every configuration change so that
// readers never need the configuration lock.
type inputState struct {
	kind     inputKind
	value    *karray.Array
	meta     *kmeta.Meta
	upstream *OutputSlot
}

// InputSlot is an input port. It is unconfigured, holds a literal value, or
// is connected to one upstream output, exactly one at a time.
type InputSlot struct {
	node  *Node
	name  string
	state atomic.Pointer[inputState]
	empty *kmeta.Meta
}

// Name returns the slot name.
func (in *InputSlot) Name() string { return in.name }

// Node returns the owning node.
func (in *InputSlot) Node() *Node { return in.node }

func (in *InputSlot) String() string { return in.node.name + "." + in.name }

// Ready reports whether the slot holds a value or is connected to a ready
// output.
func (in *InputSlot) Ready() bool {
	st := in.state.Load()
	switch st.kind {
	case inputValue:
		return true
	case inputConnected:
		return st.upstream.Ready()
	default:
		return false
	}
}

// Upstream returns the connected output, or nil.
func (in *InputSlot) Upstream() *OutputSlot {
	return in.state.Load().upstream
}

// Meta returns the metadata visible through the slot: that of the upstream
// output, that of the literal value, or an empty map when unconfigured.
func (in *InputSlot) Meta() *kmeta.Meta {
	st := in.state.Load()
	switch st.kind {
	case inputValue:
		return st.meta
	case inputConnected:
		return st.upstream.meta
	default:
		return in.empty
	}
}

// SetValue stores a literal value, dropping any connection, and sets up the
// owner and its downstream. A nil value clears the slot. The value is copied.
func (in *InputSlot) SetValue(v *karray.Array) error {
	g := in.node.g
	if err := g.lockConfig(); err != nil {
		return err
	}
	if in.node.removed.Load() {
		g.mu.Unlock()
		return &ConfigurationError{Node: in.node.name, Cause: fmt.Errorf("node removed")}
	}

	in.detachLocked()
	if v != nil {
		v = v.Clone()
		in.state.Store(&inputState{kind: inputValue, value: v, meta: kmeta.ForArray(v)})
	}
	err := g.reconfigureLocked(in.node)
	g.mu.Unlock()

	if v == nil {
		g.log.V(1).Info("Input cleared", "slot", in.String())
		return err
	}
	g.log.V(1).Info("Input value set", "slot", in.String(), "shape", v.Shape().String(), "dtype", v.DType().String())
	if err == nil {
		in.node.impl.PropagateDirty(in, nil, kroi.Full(v.Shape()))
	}
	return err
}

// Connect connects the slot to upstream, dropping any literal value, and sets
// up the owner and its downstream. Connecting is rejected with
// ErrCyclicConnection if upstream depends on this slot's owner.
func (in *InputSlot) Connect(upstream *OutputSlot) error {
	if upstream == nil {
		return in.Disconnect()
	}
	g := in.node.g
	if upstream.node.g != g {
		return &ConfigurationError{Node: in.node.name, Cause: fmt.Errorf("%s belongs to another graph", upstream)}
	}
	if err := g.lockConfig(); err != nil {
		return err
	}
	if in.node.removed.Load() || upstream.node.removed.Load() {
		g.mu.Unlock()
		return &ConfigurationError{Node: in.node.name, Cause: fmt.Errorf("node removed")}
	}
	if err := upstream.node.settleLocked(); err != nil {
		g.mu.Unlock()
		return err
	}

	// The new edge is checked before the old one is dropped; the old edge
	// leads into this node and cannot be part of a cycle through it.
	if err := g.connectLocked(upstream, in); err != nil {
		g.mu.Unlock()
		return err
	}
	in.detachLocked()
	upstream.addConsumer(in)
	in.state.Store(&inputState{kind: inputConnected, upstream: upstream})

	err := g.reconfigureLocked(in.node)
	ready := in.Ready()
	shape, hasShape := in.Meta().Shape()
	g.mu.Unlock()

	g.log.V(1).Info("Input connected", "slot", in.String(), "upstream", upstream.String())
	if err == nil && ready && hasShape {
		in.node.impl.PropagateDirty(in, nil, kroi.Full(shape))
	}
	return err
}

// Disconnect makes the slot unconfigured. The owner's outputs and everything
// downstream become not ready.
func (in *InputSlot) Disconnect() error {
	g := in.node.g
	if err := g.lockConfig(); err != nil {
		return err
	}
	defer g.mu.Unlock()
	if in.node.removed.Load() {
		return nil
	}

	in.detachLocked()
	g.log.V(1).Info("Input disconnected", "slot", in.String())
	return g.reconfigureLocked(in.node)
}

// detachLocked drops the connection or value. g.mu must be held.
func (in *InputSlot) detachLocked() {
	st := in.state.Load()
	if st.kind == inputConnected {
		st.upstream.removeConsumer(in)
		_ = in.node.g.topo.RemoveEdge(st.upstream.node.id, in.node.id)
	}
	in.state.Store(&inputState{})
}

// Get returns a request for region roi of the slot's data.
func (in *InputSlot) Get(roi kroi.ROI) (*Request, error) {
	g := in.node.g
	if g.closed.Load() {
		return nil, ErrGraphClosed
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return in.getLocked(roi)
}

func (in *InputSlot) getLocked(roi kroi.ROI) (*Request, error) {
	st := in.state.Load()
	switch st.kind {
	case inputValue:
		if !roi.Within(st.value.Shape()) {
			return nil, fmt.Errorf("%w: %s outside shape %s of %s", kroi.ErrInvalidROI, roi, st.value.Shape(), in)
		}
		return newRequest(in.node.g, nil, in, st.value, roi, st.value.DType()), nil
	case inputConnected:
		return st.upstream.getLocked(roi)
	default:
		return nil, &NotReadyError{Slot: in.String()}
	}
}

// Slice is Get over the region selected by indices. Missing trailing axes
// are selected fully.
func (in *InputSlot) Slice(indices ...kroi.Index) (*Request, error) {
	g := in.node.g
	if g.closed.Load() {
		return nil, ErrGraphClosed
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s := in.firstUnready(); s != "" {
		return nil, &NotReadyError{Slot: s}
	}
	shape, _ := in.Meta().Shape()
	roi, err := kroi.FromIndices(shape, indices...)
	if err != nil {
		return nil, err
	}
	return in.getLocked(roi)
}

// Value computes the whole array visible through the slot.
func (in *InputSlot) Value(ctx context.Context) (*karray.Array, error) {
	req, err := in.Slice()
	if err != nil {
		return nil, err
	}
	return req.Wait(ctx)
}

func (in *InputSlot) firstUnready() string {
	st := in.state.Load()
	switch st.kind {
	case inputValue:
		return ""
	case inputConnected:
		return st.upstream.firstUnready()
	default:
		return in.String()
	}
}

// OutputSlot is an output port. Its metadata is written by the owner's
// SetupOutputs.
type OutputSlot struct {
	node *Node
	name string
	meta *kmeta.Meta

	mu        sync.RWMutex
	consumers []*InputSlot
	subs      map[int]DirtyHandler
	nextSub   int
}

// Name returns the slot name.
func (out *OutputSlot) Name() string { return out.name }

// Node returns the owning node.
func (out *OutputSlot) Node() *Node { return out.node }

func (out *OutputSlot) String() string { return out.node.name + "." + out.name }

// Meta returns the output metadata.
func (out *OutputSlot) Meta() *kmeta.Meta { return out.meta }

// Ready reports whether every input of the owner is ready and setup has run
// for the current configuration. An input-less node is ready until its first
// setup fails.
func (out *OutputSlot) Ready() bool {
	n := out.node
	return !n.removed.Load() && (n.configured.Load() || n.pendingSetup.Load()) && n.inputsReady()
}

func (out *OutputSlot) firstUnready() string {
	for _, in := range out.node.inputs {
		if s := in.firstUnready(); s != "" {
			return s
		}
	}
	if !out.Ready() {
		return out.String()
	}
	return ""
}

// Get returns a request for region roi of the output.
func (out *OutputSlot) Get(roi kroi.ROI) (*Request, error) {
	g := out.node.g
	if g.closed.Load() {
		return nil, ErrGraphClosed
	}
	if err := out.node.settle(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return out.getLocked(roi)
}

func (out *OutputSlot) getLocked(roi kroi.ROI) (*Request, error) {
	if s := out.firstUnready(); s != "" {
		return nil, &NotReadyError{Slot: s}
	}
	shape, _ := out.meta.Shape()
	dtype, _ := out.meta.DType()
	if !roi.Within(shape) {
		return nil, fmt.Errorf("%w: %s outside shape %s of %s", kroi.ErrInvalidROI, roi, shape, out)
	}
	return newRequest(out.node.g, out, nil, nil, roi, dtype), nil
}

// Slice is Get over the region selected by indices. Missing trailing axes
// are selected fully.
func (out *OutputSlot) Slice(indices ...kroi.Index) (*Request, error) {
	g := out.node.g
	if g.closed.Load() {
		return nil, ErrGraphClosed
	}
	if err := out.node.settle(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s := out.firstUnready(); s != "" {
		return nil, &NotReadyError{Slot: s}
	}
	shape, _ := out.meta.Shape()
	roi, err := kroi.FromIndices(shape, indices...)
	if err != nil {
		return nil, err
	}
	return out.getLocked(roi)
}

// Value computes the whole output.
func (out *OutputSlot) Value(ctx context.Context) (*karray.Array, error) {
	req, err := out.Slice()
	if err != nil {
		return nil, err
	}
	return req.Wait(ctx)
}

// SetDirty announces that region roi of the output changed. Every connected
// consumer's PropagateDirty is called, then subscribers of the output and of
// the graph. Traversal is depth-first.
func (out *OutputSlot) SetDirty(roi kroi.ROI) {
	g := out.node.g
	g.log.V(1).Info("Dirty", "slot", out.String(), "roi", roi.String())

	out.mu.RLock()
	consumers := append([]*InputSlot(nil), out.consumers...)
	handlers := make([]DirtyHandler, 0, len(out.subs))
	for _, h := range out.subs {
		handlers = append(handlers, h)
	}
	out.mu.RUnlock()

	for _, c := range consumers {
		c.node.impl.PropagateDirty(c, nil, roi)
	}

	ev := DirtyEvent{Node: out.node.name, Slot: out.name, ROI: roi, Output: out}
	for _, h := range handlers {
		h(ev)
	}
	g.publish(ev)
}

// SetDirtyAll marks the whole output dirty. It does nothing while the output
// has no shape.
func (out *OutputSlot) SetDirtyAll() {
	shape, ok := out.meta.Shape()
	if !ok {
		return
	}
	out.SetDirty(kroi.Full(shape))
}

// Subscribe registers h for dirty notifications of this output. The returned
// function removes the subscription.
func (out *OutputSlot) Subscribe(h DirtyHandler) (cancel func()) {
	out.mu.Lock()
	id := out.nextSub
	out.nextSub++
	out.subs[id] = h
	out.mu.Unlock()

	return func() {
		out.mu.Lock()
		delete(out.subs, id)
		out.mu.Unlock()
	}
}

// Consumers returns the input slots connected to this output.
func (out *OutputSlot) Consumers() []*InputSlot {
	out.mu.RLock()
	defer out.mu.RUnlock()
	return append([]*InputSlot(nil), out.consumers...)
}

func (out *OutputSlot) addConsumer(in *InputSlot) {
	out.mu.Lock()
	defer out.mu.Unlock()
	out.consumers = append(out.consumers, in)
}

func (out *OutputSlot) removeConsumer(in *InputSlot) {
	out.mu.Lock()
	defer out.mu.Unlock()
	for i, c := range out.consumers {
		if c == in {
			out.consumers = append(out.consumers[:i], out.consumers[i+1:]...)
			return
		}
	}
}

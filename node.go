package lazyflow

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kdag"
	"github.com/birdayz/lazyflow/kmeta"
	"github.com/birdayz/lazyflow/kroi"
	"go.uber.org/multierr"
)

// Operator is the contract every processing stage implements.
//
// SetupOutputs is called once all inputs are ready, and again whenever an
// input changes identity or its metadata changes. It populates the metadata
// of every output (at least shape and dtype) and must not read data. It runs
// under the graph configuration lock: it may call Ready and Meta but must not
// change slot configuration.
//
// Execute fills result, which is pre-allocated with the extent of roi and the
// dtype of slot. Inputs are read with nested requests.
//
// PropagateDirty is called when region roi of input slot changed. It emits
// SetDirty on every output region that may have changed as a consequence.
type Operator interface {
	SetupOutputs() error
	Execute(ctx context.Context, slot *OutputSlot, subindex []int, roi kroi.ROI, result *karray.Array) error
	PropagateDirty(slot *InputSlot, subindex []int, roi kroi.ROI)
}

// Node is an operator registered with a graph, together with the slots it
// owns. Every node owns freshly created slots; nothing is shared between
// instances.
type Node struct {
	g    *Graph
	id   kdag.NodeID
	name string
	impl Operator

	inputs  []*InputSlot
	outputs []*OutputSlot

	configured atomic.Bool
	removed    atomic.Bool
	// Set while an input-less node awaits its first setup.
	pendingSetup atomic.Bool
}

// NewNode registers impl with g. If name is taken, a numeric suffix is
// appended. Slots are declared afterwards with NewInput and NewOutput, before
// the node is connected to anything.
func NewNode(g *Graph, name string, impl Operator) (*Node, error) {
	n := &Node{
		g:    g,
		impl: impl,
	}
	if err := g.register(n, name); err != nil {
		return nil, err
	}
	return n, nil
}

// NewInput declares an input slot. It panics if the name is already used by
// an input of this node.
func (n *Node) NewInput(name string) *InputSlot {
	for _, in := range n.inputs {
		if in.name == name {
			panic(fmt.Sprintf("lazyflow: duplicate input %q on %s", name, n.name))
		}
	}
	in := &InputSlot{
		node:  n,
		name:  name,
		empty: kmeta.New(),
	}
	in.state.Store(&inputState{})
	n.inputs = append(n.inputs, in)
	n.pendingSetup.Store(false)
	return in
}

// NewOutput declares an output slot. It panics if the name is already used
// by an output of this node.
func (n *Node) NewOutput(name string) *OutputSlot {
	for _, out := range n.outputs {
		if out.name == name {
			panic(fmt.Sprintf("lazyflow: duplicate output %q on %s", name, n.name))
		}
	}
	out := &OutputSlot{
		node: n,
		name: name,
		meta: kmeta.New(),
		subs: make(map[int]DirtyHandler),
	}
	n.outputs = append(n.outputs, out)
	if len(n.inputs) == 0 && !n.configured.Load() {
		n.pendingSetup.Store(true)
	}
	return out
}

// Name returns the unique name of the node within its graph.
func (n *Node) Name() string { return n.name }

// ID returns the topology identifier of the node.
func (n *Node) ID() kdag.NodeID { return n.id }

// Graph returns the graph the node is registered with.
func (n *Node) Graph() *Graph { return n.g }

// Operator returns the operator implementation.
func (n *Node) Operator() Operator { return n.impl }

// Inputs returns the input slots in declaration order.
func (n *Node) Inputs() []*InputSlot {
	return append([]*InputSlot(nil), n.inputs...)
}

// Outputs returns the output slots in declaration order.
func (n *Node) Outputs() []*OutputSlot {
	return append([]*OutputSlot(nil), n.outputs...)
}

// Input returns the input slot with the given name.
func (n *Node) Input(name string) (*InputSlot, error) {
	for _, in := range n.inputs {
		if in.name == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("%w: input %s.%s", ErrSlotNotFound, n.name, name)
}

// Output returns the output slot with the given name.
func (n *Node) Output(name string) (*OutputSlot, error) {
	for _, out := range n.outputs {
		if out.name == name {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: output %s.%s", ErrSlotNotFound, n.name, name)
}

// Reconfigure re-runs setup of the node and of everything downstream whose
// metadata changes as a result. Operators call it when a parameter that
// affects output metadata changes. Nodes without inputs are also set up on
// their first Get or Connect, so calling it for them is optional.
func (n *Node) Reconfigure() error {
	if err := n.g.lockConfig(); err != nil {
		return err
	}
	defer n.g.mu.Unlock()
	if n.removed.Load() {
		return &ConfigurationError{Node: n.name, Cause: kdag.ErrNodeNotFound}
	}
	return n.g.reconfigureLocked(n)
}

// Remove disconnects every slot of the node and unregisters it. Downstream
// operators become not ready. If the operator implements io.Closer it is
// closed.
func (n *Node) Remove() error {
	g := n.g
	if err := g.lockConfig(); err != nil {
		return err
	}
	if !n.removed.CompareAndSwap(false, true) {
		g.mu.Unlock()
		return nil
	}

	var downstream []*Node
	seen := make(map[*Node]bool)
	for _, out := range n.outputs {
		for _, c := range out.Consumers() {
			c.detachLocked()
			if !seen[c.node] {
				seen[c.node] = true
				downstream = append(downstream, c.node)
			}
		}
	}
	for _, in := range n.inputs {
		in.detachLocked()
	}
	n.configured.Store(false)
	n.pendingSetup.Store(false)

	var err error
	if rerr := g.topo.RemoveNode(n.id); rerr != nil {
		err = multierr.Append(err, rerr)
	}
	delete(g.nodes, n.id)
	if len(downstream) > 0 {
		err = multierr.Append(err, g.reconfigureLocked(downstream...))
	}
	g.log.V(1).Info("Node removed", "node", n.name)
	g.mu.Unlock()

	if c, ok := n.impl.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// settle runs the first setup of an input-less node.
func (n *Node) settle() error {
	if !n.pendingSetup.Load() {
		return nil
	}
	if err := n.g.lockConfig(); err != nil {
		return err
	}
	defer n.g.mu.Unlock()
	return n.settleLocked()
}

func (n *Node) settleLocked() error {
	if !n.pendingSetup.Load() || n.removed.Load() {
		return nil
	}
	return n.g.reconfigureLocked(n)
}

func (n *Node) inputsReady() bool {
	for _, in := range n.inputs {
		if !in.Ready() {
			return false
		}
	}
	return true
}

func (n *Node) setup() error {
	if err := n.impl.SetupOutputs(); err != nil {
		return &ConfigurationError{Node: n.name, Cause: err}
	}
	for _, out := range n.outputs {
		if err := out.meta.Validate(); err != nil {
			return &ConfigurationError{Node: n.name, Cause: fmt.Errorf("output %s: %w", out.name, err)}
		}
	}
	return nil
}

func (n *Node) outputMetas() []*kmeta.Meta {
	metas := make([]*kmeta.Meta, len(n.outputs))
	for i, out := range n.outputs {
		metas[i] = out.meta.Copy()
	}
	return metas
}

func (n *Node) outputMetasEqual(before []*kmeta.Meta) bool {
	if len(before) != len(n.outputs) {
		return false
	}
	for i, out := range n.outputs {
		if !out.meta.Equal(before[i]) {
			return false
		}
	}
	return true
}

package lazyflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kroi"
)

var errBoom = errors.New("boom")

// piper passes its input through and records every dirty notification.
type piper struct {
	node   *Node
	input  *InputSlot
	output *OutputSlot

	mu    sync.Mutex
	dirty []kroi.ROI
	execs atomic.Int64
}

func newPiper(t *testing.T, g *Graph, name string) *piper {
	t.Helper()
	p := &piper{}
	n, err := NewNode(g, name, p)
	assert.NoError(t, err)
	p.node = n
	p.input = n.NewInput("Input")
	p.output = n.NewOutput("Output")
	return p
}

func (p *piper) SetupOutputs() error {
	PassThroughSetup(p.output, p.input)
	return nil
}

func (p *piper) Execute(ctx context.Context, _ *OutputSlot, _ []int, roi kroi.ROI, result *karray.Array) error {
	p.execs.Add(1)
	req, err := p.input.Get(roi)
	if err != nil {
		return err
	}
	data, err := req.Wait(ctx)
	if err != nil {
		return err
	}
	return result.CopyFrom(data)
}

func (p *piper) PropagateDirty(slot *InputSlot, subindex []int, roi kroi.ROI) {
	p.mu.Lock()
	p.dirty = append(p.dirty, roi)
	p.mu.Unlock()
	ForwardDirty(p.output)(slot, subindex, roi)
}

func (p *piper) dirtyROIs() []kroi.ROI {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kroi.ROI(nil), p.dirty...)
}

func newChain(t *testing.T, g *Graph, k int) []*piper {
	t.Helper()
	chain := make([]*piper, k)
	for i := range chain {
		chain[i] = newPiper(t, g, "OpArrayPiper")
		if i > 0 {
			assert.NoError(t, chain[i].input.Connect(chain[i-1].output))
		}
	}
	return chain
}

// funcOp is an operator without inputs whose Execute is supplied by the test.
type funcOp struct {
	node   *Node
	output *OutputSlot
	shape  karray.Shape
	dtype  karray.DType
	exec   func(ctx context.Context, roi kroi.ROI, result *karray.Array) error
	closed atomic.Bool
}

func newFuncOp(t *testing.T, g *Graph, name string, shape karray.Shape, dtype karray.DType, exec func(ctx context.Context, roi kroi.ROI, result *karray.Array) error) *funcOp {
	t.Helper()
	op := newUnsetFuncOp(t, g, name, shape, dtype, exec)
	assert.NoError(t, op.node.Reconfigure())
	return op
}

// newUnsetFuncOp leaves the first setup to the engine.
func newUnsetFuncOp(t *testing.T, g *Graph, name string, shape karray.Shape, dtype karray.DType, exec func(ctx context.Context, roi kroi.ROI, result *karray.Array) error) *funcOp {
	t.Helper()
	op := &funcOp{shape: shape, dtype: dtype, exec: exec}
	n, err := NewNode(g, name, op)
	assert.NoError(t, err)
	op.node = n
	op.output = n.NewOutput("Output")
	return op
}

func (op *funcOp) SetupOutputs() error {
	op.output.Meta().SetShape(op.shape)
	op.output.Meta().SetDType(op.dtype)
	return nil
}

func (op *funcOp) Execute(ctx context.Context, _ *OutputSlot, _ []int, roi kroi.ROI, result *karray.Array) error {
	return op.exec(ctx, roi, result)
}

func (op *funcOp) PropagateDirty(*InputSlot, []int, kroi.ROI) {}

func (op *funcOp) Close() error {
	op.closed.Store(true)
	return nil
}

// blockUntilCancelled signals started and returns once ctx ends.
func blockUntilCancelled(started chan<- struct{}) func(ctx context.Context, roi kroi.ROI, result *karray.Array) error {
	var once sync.Once
	return func(ctx context.Context, _ kroi.ROI, _ *karray.Array) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}
}

func fill(v float64) func(ctx context.Context, roi kroi.ROI, result *karray.Array) error {
	return func(_ context.Context, _ kroi.ROI, result *karray.Array) error {
		for i := 0; i < result.Len(); i++ {
			result.SetFloat64(i, v)
		}
		return nil
	}
}

func sample() *karray.Array {
	return karray.MustFromSlice(karray.Shape{2, 2}, []int64{0, 1, 2, 3})
}

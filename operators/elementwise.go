package operators

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/birdayz/lazyflow"
	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kroi"
	"github.com/go-logr/logr"
)

// DefaultThreshold is the threshold of a new OpThreshold.
const DefaultThreshold = 0.5

// OpThreshold marks every element greater than or equal to the threshold.
// The output is boolean with the shape of the input.
type OpThreshold struct {
	node      *lazyflow.Node
	threshold atomic.Uint64

	Input  *lazyflow.InputSlot
	Output *lazyflow.OutputSlot
}

func NewOpThreshold(g *lazyflow.Graph) (*OpThreshold, error) {
	op := &OpThreshold{}
	op.threshold.Store(math.Float64bits(DefaultThreshold))
	n, err := lazyflow.NewNode(g, "OpThreshold", op)
	if err != nil {
		return nil, err
	}
	op.node = n
	op.Input = n.NewInput("Input")
	op.Output = n.NewOutput("Output")
	return op, nil
}

func (op *OpThreshold) Node() *lazyflow.Node { return op.node }

func (op *OpThreshold) Threshold() float64 {
	return math.Float64frombits(op.threshold.Load())
}

// SetThreshold changes the threshold and marks the whole output dirty.
func (op *OpThreshold) SetThreshold(v float64) {
	if math.Float64bits(v) == op.threshold.Swap(math.Float64bits(v)) {
		return
	}
	op.Output.SetDirtyAll()
}

func (op *OpThreshold) SetupOutputs() error {
	lazyflow.PassThroughSetup(op.Output, op.Input)
	op.Output.Meta().SetDType(karray.Bool)
	return nil
}

func (op *OpThreshold) Execute(ctx context.Context, _ *lazyflow.OutputSlot, _ []int, roi kroi.ROI, result *karray.Array) error {
	data, err := readInput(ctx, op.Input, roi)
	if err != nil {
		return err
	}
	t := op.Threshold()
	logr.FromContextOrDiscard(ctx).V(3).Info("Thresholding", "threshold", t)
	for i := 0; i < data.Len(); i++ {
		if data.Float64(i) >= t {
			result.SetFloat64(i, 1)
		} else {
			result.SetFloat64(i, 0)
		}
	}
	return nil
}

func (op *OpThreshold) PropagateDirty(_ *lazyflow.InputSlot, _ []int, roi kroi.ROI) {
	op.Output.SetDirty(roi)
}

// OpInvert computes m - x for every element, where m is 255 for uint8 data
// and 1 otherwise. The output keeps the input dtype.
type OpInvert struct {
	node *lazyflow.Node

	Input  *lazyflow.InputSlot
	Output *lazyflow.OutputSlot
}

func NewOpInvert(g *lazyflow.Graph) (*OpInvert, error) {
	op := &OpInvert{}
	n, err := lazyflow.NewNode(g, "OpInvert", op)
	if err != nil {
		return nil, err
	}
	op.node = n
	op.Input = n.NewInput("Input")
	op.Output = n.NewOutput("Output")
	return op, nil
}

func (op *OpInvert) Node() *lazyflow.Node { return op.node }

func (op *OpInvert) SetupOutputs() error {
	lazyflow.PassThroughSetup(op.Output, op.Input)
	return nil
}

func (op *OpInvert) Execute(ctx context.Context, _ *lazyflow.OutputSlot, _ []int, roi kroi.ROI, result *karray.Array) error {
	data, err := readInput(ctx, op.Input, roi)
	if err != nil {
		return err
	}
	m := 1.0
	if data.DType() == karray.Uint8 {
		m = math.MaxUint8
	}
	for i := 0; i < data.Len(); i++ {
		result.SetFloat64(i, m-data.Float64(i))
	}
	return nil
}

func (op *OpInvert) PropagateDirty(_ *lazyflow.InputSlot, _ []int, roi kroi.ROI) {
	op.Output.SetDirty(roi)
}

func readInput(ctx context.Context, in *lazyflow.InputSlot, roi kroi.ROI) (*karray.Array, error) {
	req, err := in.Get(roi)
	if err != nil {
		return nil, err
	}
	return req.Wait(ctx)
}

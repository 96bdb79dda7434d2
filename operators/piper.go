package operators

import (
	"context"

	"github.com/birdayz/lazyflow"
	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kroi"
)

// OpArrayPiper forwards its input unchanged.
type OpArrayPiper struct {
	node *lazyflow.Node

	Input  *lazyflow.InputSlot
	Output *lazyflow.OutputSlot
}

func NewOpArrayPiper(g *lazyflow.Graph) (*OpArrayPiper, error) {
	op := &OpArrayPiper{}
	n, err := lazyflow.NewNode(g, "OpArrayPiper", op)
	if err != nil {
		return nil, err
	}
	op.node = n
	op.Input = n.NewInput("Input")
	op.Output = n.NewOutput("Output")
	return op, nil
}

func (op *OpArrayPiper) Node() *lazyflow.Node { return op.node }

func (op *OpArrayPiper) SetupOutputs() error {
	lazyflow.PassThroughSetup(op.Output, op.Input)
	return nil
}

func (op *OpArrayPiper) Execute(ctx context.Context, _ *lazyflow.OutputSlot, _ []int, roi kroi.ROI, result *karray.Array) error {
	data, err := readInput(ctx, op.Input, roi)
	if err != nil {
		return err
	}
	return result.CopyFrom(data)
}

func (op *OpArrayPiper) PropagateDirty(_ *lazyflow.InputSlot, _ []int, roi kroi.ROI) {
	op.Output.SetDirty(roi)
}

package lazyflow

import (
	"github.com/birdayz/lazyflow/kroi"
)

// DirtyEvent announces that a region of an output changed.
type DirtyEvent struct {
	Node string   `json:"node"`
	Slot string   `json:"slot"`
	ROI  kroi.ROI `json:"roi"`

	Output *OutputSlot `json:"-"`
}

// DirtyHandler receives dirty notifications. Handlers run synchronously on
// the goroutine that marked the output dirty and must not block.
type DirtyHandler func(ev DirtyEvent)

// ForwardDirty returns a PropagateDirty body that marks the same region of
// every given output dirty. It suits operators whose outputs are computed
// element-wise from their inputs.
func ForwardDirty(outs ...*OutputSlot) func(slot *InputSlot, subindex []int, roi kroi.ROI) {
	return func(_ *InputSlot, _ []int, roi kroi.ROI) {
		for _, out := range outs {
			out.SetDirty(roi)
		}
	}
}

// PassThroughSetup copies the metadata of in to out. Operators override
// individual tags afterwards.
func PassThroughSetup(out *OutputSlot, in *InputSlot) {
	out.Meta().AssignFrom(in.Meta())
}

package operators

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/birdayz/lazyflow"
	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kroi"
	"github.com/birdayz/lazyflow/kserde"
	"github.com/birdayz/lazyflow/kstate"
	"github.com/go-logr/logr"
	"go.uber.org/multierr"
)

// OpBlockCache memoizes its input in fixed-size blocks. A request is served
// from stored blocks where possible; missing blocks are requested from the
// input concurrently and stored. Dirty regions evict every intersecting
// block before the notification is forwarded.
type OpBlockCache struct {
	node       *lazyflow.Node
	blockShape []int
	blocks     *kstate.KeyValueStore[kroi.ROI, *karray.Array]

	// mu orders evictions against stores of freshly computed blocks. A
	// block computed before an eviction is never stored after it.
	mu  sync.Mutex
	gen uint64

	hits   atomic.Int64
	misses atomic.Int64

	Input  *lazyflow.InputSlot
	Output *lazyflow.OutputSlot
}

// BlockCacheStats counts block lookups.
type BlockCacheStats struct {
	Hits   int64
	Misses int64
}

// NewOpBlockCache creates a cache storing blocks in backend. A block extent
// of zero, or a missing trailing extent, spans the whole axis. The cache
// owns backend and closes it together with the node.
func NewOpBlockCache(g *lazyflow.Graph, backend kstate.StoreBackend, blockShape ...int) (*OpBlockCache, error) {
	for _, b := range blockShape {
		if b < 0 {
			return nil, fmt.Errorf("%w: negative block extent in %v", lazyflow.ErrConfiguration, blockShape)
		}
	}
	op := &OpBlockCache{
		blockShape: append([]int(nil), blockShape...),
		blocks:     kstate.NewKeyValueStore(backend, kserde.ROI, kserde.Array),
	}
	n, err := lazyflow.NewNode(g, "OpBlockCache", op)
	if err != nil {
		return nil, err
	}
	op.node = n
	op.Input = n.NewInput("Input")
	op.Output = n.NewOutput("Output")
	return op, nil
}

func (op *OpBlockCache) Node() *lazyflow.Node { return op.node }

func (op *OpBlockCache) Stats() BlockCacheStats {
	return BlockCacheStats{Hits: op.hits.Load(), Misses: op.misses.Load()}
}

// Blocks returns the regions currently stored, in key order.
func (op *OpBlockCache) Blocks() []kroi.ROI {
	var out []kroi.ROI
	for roi := range op.blocks.Keys() {
		out = append(out, roi)
	}
	return out
}

func (op *OpBlockCache) SetupOutputs() error {
	lazyflow.PassThroughSetup(op.Output, op.Input)
	shape, _ := op.Input.Meta().Shape()
	if len(op.blockShape) > len(shape) {
		return fmt.Errorf("block shape %v has more axes than input shape %s", op.blockShape, shape)
	}
	// The input changed identity or metadata; nothing stored still applies.
	return op.evict(kroi.ROI{}, true)
}

func (op *OpBlockCache) Execute(ctx context.Context, _ *lazyflow.OutputSlot, _ []int, roi kroi.ROI, result *karray.Array) error {
	if roi.Empty() {
		return nil
	}
	shape, _ := op.Output.Meta().Shape()
	log := logr.FromContextOrDiscard(ctx)

	op.mu.Lock()
	gen := op.gen
	op.mu.Unlock()

	var (
		missing []kroi.ROI
		reqs    []*lazyflow.Request
	)
	for _, block := range op.blockGrid(roi, shape) {
		data, ok, err := op.blocks.Get(block)
		if err != nil {
			return err
		}
		if ok {
			op.hits.Add(1)
			if err := pasteBlock(result, roi, block, data); err != nil {
				return err
			}
			continue
		}
		op.misses.Add(1)
		req, err := op.Input.Get(block)
		if err != nil {
			return err
		}
		missing = append(missing, block)
		reqs = append(reqs, req)
	}
	log.V(3).Info("Block lookup", "roi", roi.String(), "missing", len(missing))
	if len(reqs) == 0 {
		return nil
	}

	results, err := lazyflow.WaitAll(ctx, reqs...)
	if err != nil {
		return err
	}
	for i, block := range missing {
		if err := op.store(gen, block, results[i]); err != nil {
			return err
		}
		if err := pasteBlock(result, roi, block, results[i]); err != nil {
			return err
		}
	}
	return nil
}

func (op *OpBlockCache) PropagateDirty(_ *lazyflow.InputSlot, _ []int, roi kroi.ROI) {
	if err := op.evict(roi, false); err != nil {
		op.node.Graph().Logger().Error(err, "Block eviction failed", "node", op.node.Name())
	}
	op.Output.SetDirty(roi)
}

// Close closes the block store.
func (op *OpBlockCache) Close() error {
	return op.blocks.Backend().Close()
}

func (op *OpBlockCache) store(gen uint64, block kroi.ROI, data *karray.Array) error {
	op.mu.Lock()
	defer op.mu.Unlock()
	if gen != op.gen {
		return nil
	}
	return op.blocks.Set(block, data)
}

// evict drops every block intersecting roi, or every block when all is set.
func (op *OpBlockCache) evict(roi kroi.ROI, all bool) error {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.gen++

	var stale []kroi.ROI
	for block := range op.blocks.Keys() {
		if all || block.Intersects(roi) {
			stale = append(stale, block)
		}
	}
	var err error
	for _, block := range stale {
		err = multierr.Append(err, op.blocks.Delete(block))
	}
	return err
}

// blockGrid returns the blocks covering roi, clipped to shape.
func (op *OpBlockCache) blockGrid(roi kroi.ROI, shape karray.Shape) []kroi.ROI {
	rank := roi.Rank()
	size := make([]int, rank)
	first := make([]int, rank)
	last := make([]int, rank)
	for axis := 0; axis < rank; axis++ {
		size[axis] = shape[axis]
		if axis < len(op.blockShape) && op.blockShape[axis] > 0 {
			size[axis] = op.blockShape[axis]
		}
		first[axis] = roi.StartAt(axis) / size[axis]
		last[axis] = (roi.StopAt(axis) - 1) / size[axis]
	}

	var blocks []kroi.ROI
	idx := append([]int(nil), first...)
	for {
		start := make([]int, rank)
		stop := make([]int, rank)
		for axis := range idx {
			start[axis] = idx[axis] * size[axis]
			stop[axis] = min(start[axis]+size[axis], shape[axis])
		}
		blocks = append(blocks, kroi.MustNew(start, stop))

		axis := rank - 1
		for ; axis >= 0; axis-- {
			if idx[axis] < last[axis] {
				idx[axis]++
				break
			}
			idx[axis] = first[axis]
		}
		if axis < 0 {
			return blocks
		}
	}
}

// pasteBlock copies the part of block that overlaps roi into result, which
// covers roi.
func pasteBlock(result *karray.Array, roi, block kroi.ROI, data *karray.Array) error {
	overlap, ok := roi.Intersect(block)
	if !ok {
		return nil
	}
	src, err := overlap.RelativeTo(block)
	if err != nil {
		return err
	}
	dst, err := overlap.RelativeTo(roi)
	if err != nil {
		return err
	}
	part, err := data.Region(src)
	if err != nil {
		return err
	}
	return result.Paste(dst, part)
}

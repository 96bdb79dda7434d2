package operators

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/lazyflow"
	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kroi"
	"github.com/birdayz/lazyflow/kstate"
	"github.com/birdayz/lazyflow/kstate/pebble"
)

func TestOpThreshold(t *testing.T) {
	ctx := context.Background()

	t.Run("scenario values for every input dtype", func(t *testing.T) {
		inputs := map[string]*karray.Array{
			"float64": karray.MustFromSlice(karray.Shape{2, 3}, []float64{.20, .60, .30, .10, .55, .99}),
			"float32": karray.MustFromSlice(karray.Shape{2, 3}, []float32{.20, .60, .30, .10, .55, .99}),
		}
		want := karray.MustFromSlice(karray.Shape{2, 3}, []bool{false, true, false, false, true, true})

		for name, in := range inputs {
			t.Run(name, func(t *testing.T) {
				g := lazyflow.NewGraph()
				op, err := NewOpThreshold(g)
				assert.NoError(t, err)
				assert.Equal(t, DefaultThreshold, op.Threshold())

				assert.NoError(t, op.Input.SetValue(in))
				dtype, ok := op.Output.Meta().DType()
				assert.True(t, ok)
				assert.Equal(t, karray.Bool, dtype)

				got, err := op.Output.Value(ctx)
				assert.NoError(t, err)
				assert.True(t, want.Equal(got))
			})
		}
	})

	t.Run("value equal to threshold is set", func(t *testing.T) {
		g := lazyflow.NewGraph()
		op, err := NewOpThreshold(g)
		assert.NoError(t, err)
		assert.NoError(t, op.Input.SetValue(karray.MustFromSlice(karray.Shape{2}, []float64{0.5, 0.49})))

		got, err := op.Output.Value(ctx)
		assert.NoError(t, err)
		data, err := karray.Data[bool](got)
		assert.NoError(t, err)
		assert.Equal(t, []bool{true, false}, data)
	})

	t.Run("changing the threshold marks the output dirty", func(t *testing.T) {
		g := lazyflow.NewGraph()
		op, err := NewOpThreshold(g)
		assert.NoError(t, err)
		assert.NoError(t, op.Input.SetValue(karray.MustFromSlice(karray.Shape{1, 3}, []float64{.2, .6, .9})))

		var events []lazyflow.DirtyEvent
		cancel := op.Output.Subscribe(func(ev lazyflow.DirtyEvent) { events = append(events, ev) })
		defer cancel()

		op.SetThreshold(0.7)
		assert.Equal(t, 1, len(events))
		assert.True(t, events[0].ROI.Equal(kroi.Full([]int{1, 3})))

		op.SetThreshold(0.7)
		assert.Equal(t, 1, len(events))

		got, err := op.Output.Value(ctx)
		assert.NoError(t, err)
		data, err := karray.Data[bool](got)
		assert.NoError(t, err)
		assert.Equal(t, []bool{false, false, true}, data)
	})
}

func TestOpInvert(t *testing.T) {
	ctx := context.Background()

	t.Run("unit range", func(t *testing.T) {
		g := lazyflow.NewGraph()
		op, err := NewOpInvert(g)
		assert.NoError(t, err)
		assert.NoError(t, op.Input.SetValue(karray.MustFromSlice(karray.Shape{2, 2}, []float64{0, 0.25, 0.5, 1})))

		got, err := op.Output.Value(ctx)
		assert.NoError(t, err)
		data, err := karray.Data[float64](got)
		assert.NoError(t, err)
		assert.Equal(t, []float64{1, 0.75, 0.5, 0}, data)
	})

	t.Run("uint8 range", func(t *testing.T) {
		g := lazyflow.NewGraph()
		op, err := NewOpInvert(g)
		assert.NoError(t, err)
		assert.NoError(t, op.Input.SetValue(karray.MustFromSlice(karray.Shape{3}, []uint8{0, 100, 255})))

		got, err := op.Output.Value(ctx)
		assert.NoError(t, err)
		assert.Equal(t, karray.Uint8, got.DType())
		data, err := karray.Data[uint8](got)
		assert.NoError(t, err)
		assert.Equal(t, []uint8{255, 155, 0}, data)
	})

	t.Run("threshold then invert", func(t *testing.T) {
		g := lazyflow.NewGraph()
		thresh, err := NewOpThreshold(g)
		assert.NoError(t, err)
		inv, err := NewOpInvert(g)
		assert.NoError(t, err)
		assert.NoError(t, inv.Input.Connect(thresh.Output))
		assert.NoError(t, thresh.Input.SetValue(karray.MustFromSlice(karray.Shape{3}, []float64{.1, .5, .9})))

		got, err := inv.Output.Value(ctx)
		assert.NoError(t, err)
		data, err := karray.Data[bool](got)
		assert.NoError(t, err)
		assert.Equal(t, []bool{true, false, false}, data)
	})
}

func TestOpArrayPiperChain(t *testing.T) {
	ctx := context.Background()
	in := karray.MustFromSlice(karray.Shape{3, 4}, []int32{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
	})

	for _, k := range []int{1, 2, 5, 20} {
		g := lazyflow.NewGraph(lazyflow.WithWorkers(2))
		pipers := make([]*OpArrayPiper, k)
		for i := range pipers {
			p, err := NewOpArrayPiper(g)
			assert.NoError(t, err)
			pipers[i] = p
			if i > 0 {
				assert.NoError(t, p.Input.Connect(pipers[i-1].Output))
			}
		}
		assert.NoError(t, pipers[0].Input.SetValue(in))

		roi := kroi.MustNew([]int{1, 1}, []int{3, 3})
		req, err := pipers[k-1].Output.Get(roi)
		assert.NoError(t, err)
		got, err := req.Wait(ctx)
		assert.NoError(t, err)

		want, err := in.Region(roi)
		assert.NoError(t, err)
		assert.True(t, want.Equal(got))
	}
}

// countingSource counts how often each region is computed.
type countingSource struct {
	data *karray.Array

	mu    sync.Mutex
	calls []kroi.ROI

	Output *lazyflow.OutputSlot
}

func newCountingSource(t *testing.T, g *lazyflow.Graph, data *karray.Array) *countingSource {
	t.Helper()
	src := &countingSource{data: data}
	n, err := lazyflow.NewNode(g, "Source", src)
	assert.NoError(t, err)
	src.Output = n.NewOutput("Output")
	assert.NoError(t, n.Reconfigure())
	return src
}

func (s *countingSource) SetupOutputs() error {
	s.Output.Meta().SetShape(s.data.Shape())
	s.Output.Meta().SetDType(s.data.DType())
	return nil
}

func (s *countingSource) Execute(_ context.Context, _ *lazyflow.OutputSlot, _ []int, roi kroi.ROI, result *karray.Array) error {
	s.mu.Lock()
	s.calls = append(s.calls, roi)
	s.mu.Unlock()
	part, err := s.data.Region(roi)
	if err != nil {
		return err
	}
	return result.CopyFrom(part)
}

func (s *countingSource) PropagateDirty(*lazyflow.InputSlot, []int, kroi.ROI) {}

func (s *countingSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *countingSource) update(roi kroi.ROI, values *karray.Array) error {
	if err := s.data.Paste(roi, values); err != nil {
		return err
	}
	s.Output.SetDirty(roi)
	return nil
}

func TestOpBlockCache(t *testing.T) {
	ctx := context.Background()
	data := func() *karray.Array {
		values := make([]float64, 16)
		for i := range values {
			values[i] = float64(i)
		}
		return karray.MustFromSlice(karray.Shape{4, 4}, values)
	}

	backends := map[string]func(t *testing.T) kstate.StoreBackend{
		"memory": func(t *testing.T) kstate.StoreBackend {
			return kstate.NewMemory("blocks")
		},
		"pebble": func(t *testing.T) kstate.StoreBackend {
			b, err := pebble.New(filepath.Join(t.TempDir(), "cache"), "blocks")
			assert.NoError(t, err)
			return b
		},
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("serves repeated requests from blocks", func(t *testing.T) {
				g := lazyflow.NewGraph()
				defer g.Close()
				src := newCountingSource(t, g, data())
				cache, err := NewOpBlockCache(g, backend(t), 2, 2)
				assert.NoError(t, err)
				assert.NoError(t, cache.Input.Connect(src.Output))

				got, err := cache.Output.Value(ctx)
				assert.NoError(t, err)
				assert.True(t, data().Equal(got))
				assert.Equal(t, 4, src.callCount())
				assert.Equal(t, 4, len(cache.Blocks()))

				req, err := cache.Output.Get(kroi.MustNew([]int{1, 1}, []int{3, 3}))
				assert.NoError(t, err)
				got, err = req.Wait(ctx)
				assert.NoError(t, err)
				want, err := data().Region(kroi.MustNew([]int{1, 1}, []int{3, 3}))
				assert.NoError(t, err)
				assert.True(t, want.Equal(got))
				assert.Equal(t, 4, src.callCount())
				assert.Equal(t, BlockCacheStats{Hits: 4, Misses: 4}, cache.Stats())
			})

			t.Run("dirty region evicts intersecting blocks", func(t *testing.T) {
				g := lazyflow.NewGraph()
				defer g.Close()
				src := newCountingSource(t, g, data())
				cache, err := NewOpBlockCache(g, backend(t), 2, 2)
				assert.NoError(t, err)
				assert.NoError(t, cache.Input.Connect(src.Output))

				_, err = cache.Output.Value(ctx)
				assert.NoError(t, err)

				var dirty []kroi.ROI
				cancel := cache.Output.Subscribe(func(ev lazyflow.DirtyEvent) { dirty = append(dirty, ev.ROI) })
				defer cancel()

				changed := kroi.MustNew([]int{0, 0}, []int{1, 1})
				assert.NoError(t, src.update(changed, karray.MustFromSlice(karray.Shape{1, 1}, []float64{-1})))
				assert.Equal(t, 1, len(dirty))
				assert.True(t, dirty[0].Equal(changed))
				assert.Equal(t, 3, len(cache.Blocks()))

				got, err := cache.Output.Value(ctx)
				assert.NoError(t, err)
				assert.Equal(t, -1.0, got.Float64(0))
				assert.Equal(t, 5.0, got.Float64(5))
				assert.Equal(t, 5, src.callCount())
			})

			t.Run("trailing axes span the whole extent", func(t *testing.T) {
				g := lazyflow.NewGraph()
				defer g.Close()
				src := newCountingSource(t, g, data())
				cache, err := NewOpBlockCache(g, backend(t), 3)
				assert.NoError(t, err)
				assert.NoError(t, cache.Input.Connect(src.Output))

				got, err := cache.Output.Value(ctx)
				assert.NoError(t, err)
				assert.True(t, data().Equal(got))

				blocks := cache.Blocks()
				assert.Equal(t, 2, len(blocks))
				assert.True(t, blocks[0].Equal(kroi.MustNew([]int{0, 0}, []int{3, 4})))
				assert.True(t, blocks[1].Equal(kroi.MustNew([]int{3, 0}, []int{4, 4})))
			})
		})
	}

	t.Run("block shape with too many axes", func(t *testing.T) {
		g := lazyflow.NewGraph()
		cache, err := NewOpBlockCache(g, kstate.NewMemory("blocks"), 2, 2, 2)
		assert.NoError(t, err)
		err = cache.Input.SetValue(data())
		assert.True(t, errors.Is(err, lazyflow.ErrConfiguration))
		assert.False(t, cache.Output.Ready())
	})

	t.Run("negative block extent", func(t *testing.T) {
		g := lazyflow.NewGraph()
		_, err := NewOpBlockCache(g, kstate.NewMemory("blocks"), -1)
		assert.True(t, errors.Is(err, lazyflow.ErrConfiguration))
	})

	t.Run("new input value clears the cache", func(t *testing.T) {
		g := lazyflow.NewGraph()
		cache, err := NewOpBlockCache(g, kstate.NewMemory("blocks"), 2, 2)
		assert.NoError(t, err)
		assert.NoError(t, cache.Input.SetValue(data()))
		_, err = cache.Output.Value(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 4, len(cache.Blocks()))

		assert.NoError(t, cache.Input.SetValue(karray.MustFromSlice(karray.Shape{4, 4}, make([]float64, 16))))
		assert.Equal(t, 0, len(cache.Blocks()))
		got, err := cache.Output.Value(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0.0, got.Float64(15))
	})
}

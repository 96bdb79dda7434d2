// Command lazyflow runs a small thresholding pipeline over values given on
// the command line, optionally caching blocks on disk and exporting dirty
// events to Kafka.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/birdayz/lazyflow"
	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kdirty"
	"github.com/birdayz/lazyflow/kstate"
	"github.com/birdayz/lazyflow/kstate/pebble"
	"github.com/birdayz/lazyflow/operators"
	"github.com/birdayz/lazyflow/pkg/log"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
)

type options struct {
	verbosity int
	workers   int
	shape     string
	threshold float64
	invert    bool
	cacheDir  string
	block     []int
	brokers   []string
	topic     string
	dot       bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "lazyflow [flags] VALUE...",
		Short: "Threshold an array through a lazyflow pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.verbosity, "verbosity", "v", 0, "log verbosity")
	f.IntVar(&opts.workers, "workers", 0, "concurrently executing operators, 0 for GOMAXPROCS")
	f.StringVar(&opts.shape, "shape", "", "array shape as comma separated extents, defaults to the number of values")
	f.Float64Var(&opts.threshold, "threshold", operators.DefaultThreshold, "threshold")
	f.BoolVar(&opts.invert, "invert", false, "invert the thresholded result")
	f.StringVar(&opts.cacheDir, "cache-dir", "", "store cached blocks on disk below this directory")
	f.IntSliceVar(&opts.block, "block", nil, "cache block shape")
	f.StringSliceVar(&opts.brokers, "brokers", nil, "publish dirty events to these Kafka brokers")
	f.StringVar(&opts.topic, "topic", "lazyflow-dirty", "topic for dirty events")
	f.BoolVar(&opts.dot, "dot", false, "print the pipeline in Graphviz dot format instead of computing it")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, opts options, args []string) error {
	input, err := parseInput(opts.shape, args)
	if err != nil {
		return err
	}

	graphOpts := []lazyflow.Option{lazyflow.WithLogr(log.NewLogr(opts.verbosity))}
	if opts.workers > 0 {
		graphOpts = append(graphOpts, lazyflow.WithWorkers(opts.workers))
	}
	g := lazyflow.NewGraph(graphOpts...)
	defer g.Close()

	if len(opts.brokers) > 0 {
		kcl, err := kgo.NewClient(kgo.SeedBrokers(opts.brokers...))
		if err != nil {
			return err
		}
		defer kcl.Close()
		if err := kdirty.EnsureTopic(ctx, kcl, opts.topic, 1, 1); err != nil {
			return err
		}
		pub := kdirty.NewPublisher(kcl, opts.topic, kdirty.WithLogr(g.Logger()))
		defer pub.Attach(g)()
		defer func() {
			if err := pub.Flush(ctx); err != nil {
				g.Logger().Error(err, "Failed to flush dirty events")
			}
		}()
	}

	out, err := buildPipeline(g, opts, input)
	if err != nil {
		return err
	}

	if opts.dot {
		return g.WriteDOT(cmd.OutOrStdout())
	}

	result, err := out.Value(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

func buildPipeline(g *lazyflow.Graph, opts options, input *karray.Array) (*lazyflow.OutputSlot, error) {
	var backend kstate.StoreBackend
	if opts.cacheDir != "" {
		b, err := pebble.New(opts.cacheDir, "blocks")
		if err != nil {
			return nil, err
		}
		backend = b
	} else {
		backend = kstate.NewMemory("blocks")
	}

	source, err := operators.NewOpArrayPiper(g)
	if err != nil {
		return nil, err
	}
	cache, err := operators.NewOpBlockCache(g, backend, opts.block...)
	if err != nil {
		return nil, err
	}
	thresh, err := operators.NewOpThreshold(g)
	if err != nil {
		return nil, err
	}
	thresh.SetThreshold(opts.threshold)

	if err := cache.Input.Connect(source.Output); err != nil {
		return nil, err
	}
	if err := thresh.Input.Connect(cache.Output); err != nil {
		return nil, err
	}
	out := thresh.Output
	if opts.invert {
		inv, err := operators.NewOpInvert(g)
		if err != nil {
			return nil, err
		}
		if err := inv.Input.Connect(thresh.Output); err != nil {
			return nil, err
		}
		out = inv.Output
	}

	if err := source.Input.SetValue(input); err != nil {
		return nil, err
	}
	return out, nil
}

func parseInput(shape string, args []string) (*karray.Array, error) {
	values := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		values[i] = v
	}

	s := karray.Shape{len(values)}
	if shape != "" {
		s = nil
		for _, part := range strings.Split(shape, ",") {
			e, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("shape %q: %w", shape, err)
			}
			s = append(s, e)
		}
	}
	return karray.FromSlice(s, values)
}

// Package lazyflow is a lazy dataflow engine. Operators own input and output
// slots, are wired into a directed acyclic graph, and compute array regions
// only when a caller asks for them.
//
// Configuration (SetValue, Connect, Disconnect) runs setup of the affected
// operators synchronously and reports ConfigurationError to the caller.
// Computation happens through Requests, which execute on a bounded worker
// pool. Changes upstream are announced to downstream operators and to
// subscribers as dirty notifications.
package lazyflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/birdayz/lazyflow/internal/sched"
	"github.com/birdayz/lazyflow/kdag"
	"github.com/go-logr/logr"
	"go.uber.org/multierr"
)

// Graph is the registry of operators and the dispatcher of dirty
// notifications. A Graph outlives its operators.
type Graph struct {
	// mu serializes configuration changes. Request construction takes the
	// read side so it never observes a half-applied change.
	mu    sync.RWMutex
	topo  *kdag.Graph
	nodes map[kdag.NodeID]*Node

	log          logr.Logger
	workers      int
	interceptors []ExecuteInterceptor
	maxDepth     int

	pool   *sched.Pool
	execFn ExecuteHandler

	subsMu  sync.RWMutex
	subs    map[int]DirtyHandler
	nextSub int

	closed atomic.Bool

	requests atomic.Int64
	failed   atomic.Int64
	dirty    atomic.Int64
}

// Stats is a point-in-time snapshot of graph activity.
type Stats struct {
	Nodes     int
	Workers   int
	Running   int
	Suspended int
	Executed  int64
	Requests  int64
	Failed    int64
	Dirty     int64
}

// NewGraph creates an empty graph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		topo:     kdag.NewGraph(),
		nodes:    make(map[kdag.NodeID]*Node),
		log:      logr.Discard(),
		workers:  runtime.GOMAXPROCS(0),
		maxDepth: kdag.MaxDepth,
		subs:     make(map[int]DirtyHandler),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.pool = sched.New(g.workers)
	g.execFn = chainInterceptors(g.interceptors, func(ctx context.Context, call ExecuteCall) error {
		return call.Node.impl.Execute(ctx, call.Slot, call.Subindex, call.ROI, call.Result)
	})
	return g
}

// Nodes returns the registered nodes in creation order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]*Node, 0, len(g.topo.NodeOrder))
	for _, id := range g.topo.NodeOrder {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// Logger returns the graph logger. Operators log through it outside of
// Execute, where the request context carries a logger instead.
func (g *Graph) Logger() logr.Logger { return g.log }

// Subscribe registers h for every dirty notification of every output in the
// graph. The returned function removes the subscription.
func (g *Graph) Subscribe(h DirtyHandler) (cancel func()) {
	g.subsMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = h
	g.subsMu.Unlock()

	return func() {
		g.subsMu.Lock()
		delete(g.subs, id)
		g.subsMu.Unlock()
	}
}

// Stats returns current graph and scheduler counters.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	nodes := len(g.nodes)
	g.mu.RUnlock()

	ps := g.pool.Stats()
	return Stats{
		Nodes:     nodes,
		Workers:   ps.Workers,
		Running:   ps.Running,
		Suspended: ps.Suspended,
		Executed:  ps.Executed,
		Requests:  g.requests.Load(),
		Failed:    g.failed.Load(),
		Dirty:     g.dirty.Load(),
	}
}

// WriteDOT writes the operator topology in Graphviz dot format.
func (g *Graph) WriteDOT(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topo.WriteDOT(w, "lazyflow")
}

// Close closes every operator implementing io.Closer. Further configuration
// changes and requests fail with ErrGraphClosed.
func (g *Graph) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var err error
	for _, id := range g.topo.NodeOrder {
		n := g.nodes[id]
		if c, ok := n.impl.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close %s: %w", n.name, cerr))
			}
		}
	}
	g.log.V(1).Info("Graph closed", "nodes", len(g.nodes))
	return err
}

// lockConfig takes the configuration lock, failing once the graph is closed.
func (g *Graph) lockConfig() error {
	if g.closed.Load() {
		return ErrGraphClosed
	}
	g.mu.Lock()
	if g.closed.Load() {
		g.mu.Unlock()
		return ErrGraphClosed
	}
	return nil
}

func (g *Graph) register(n *Node, name string) error {
	if err := g.lockConfig(); err != nil {
		return err
	}
	defer g.mu.Unlock()

	id := kdag.NodeID(name)
	for i := 1; ; i++ {
		if _, exists := g.nodes[id]; !exists {
			break
		}
		id = kdag.NodeID(fmt.Sprintf("%s-%d", name, i))
	}
	if err := g.topo.AddNode(id, fmt.Sprintf("%T", n.impl)); err != nil {
		return &ConfigurationError{Node: name, Cause: err}
	}
	n.id = id
	n.name = string(id)
	g.nodes[id] = n
	g.log.V(1).Info("Node registered", "node", string(id))
	return nil
}

// connectLocked records the structural edge for in -> upstream and rejects
// cycles and chains deeper than the configured maximum.
func (g *Graph) connectLocked(upstream *OutputSlot, in *InputSlot) error {
	parent, child := upstream.node.id, in.node.id
	if err := g.topo.AddEdge(parent, child); err != nil {
		if errors.Is(err, kdag.ErrCycleDetected) {
			return fmt.Errorf("%w: %s.%s -> %s.%s: %v", ErrCyclicConnection,
				upstream.node.name, upstream.name, in.node.name, in.name, err)
		}
		return &ConfigurationError{Node: in.node.name, Cause: err}
	}

	if err := g.topo.Validate(g.maxDepth); err != nil {
		_ = g.topo.RemoveEdge(parent, child)
		return &ConfigurationError{Node: in.node.name, Cause: err}
	}
	return nil
}

// reconfigureLocked re-runs setup for roots and for every downstream node
// whose inputs changed identity, readiness or metadata as a consequence.
// Nodes are visited parents-first so that a node reached over several paths
// is set up once. g.mu must be held.
func (g *Graph) reconfigureLocked(roots ...*Node) error {
	force := make(map[*Node]bool, len(roots))
	affected := make(map[kdag.NodeID]bool)
	var ids []kdag.NodeID
	add := func(id kdag.NodeID) {
		if !affected[id] {
			affected[id] = true
			ids = append(ids, id)
		}
	}
	for _, r := range roots {
		force[r] = true
		add(r.id)
		for _, id := range g.topo.Descendants(r.id) {
			add(id)
		}
	}

	order, err := g.topo.TopologicalSort(ids)
	if err != nil {
		return &ConfigurationError{Node: roots[0].name, Cause: err}
	}

	changed := make(map[kdag.NodeID]bool, len(order))
	var errs error
	for _, id := range order {
		n := g.nodes[id]
		needs := force[n] || !n.configured.Load()
		for _, p := range g.topo.Nodes[id].Parents {
			if changed[p] {
				needs = true
			}
		}
		if !needs {
			continue
		}
		n.pendingSetup.Store(false)

		if !n.inputsReady() {
			if n.configured.Swap(false) {
				changed[id] = true
				g.log.V(1).Info("Node unconfigured", "node", n.name)
			}
			continue
		}

		before := n.outputMetas()
		if err := n.setup(); err != nil {
			n.configured.Store(false)
			changed[id] = true
			g.log.Error(err, "Setup failed", "node", n.name)
			errs = multierr.Append(errs, err)
			continue
		}
		if !n.configured.Swap(true) || !n.outputMetasEqual(before) {
			changed[id] = true
		}
		g.log.V(1).Info("Node configured", "node", n.name)
	}
	return errs
}

func (g *Graph) publish(ev DirtyEvent) {
	g.dirty.Add(1)
	g.subsMu.RLock()
	handlers := make([]DirtyHandler, 0, len(g.subs))
	for _, h := range g.subs {
		handlers = append(handlers, h)
	}
	g.subsMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

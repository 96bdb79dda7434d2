// Package kdag tracks the operator-level topology of a lazyflow graph.
//
// # Overview
//
// Connection state lives on slots; kdag only keeps the structural view that
// the engine needs to keep the graph acyclic and to order work:
//
//   - **Node**: one registered operator, identified by a NodeID
//   - **Edge**: "parent feeds child", counted once per slot connection
//   - **Graph**: nodes, edges, and deterministic insertion order
//
// # Cycle Detection
//
// AddEdge refuses edges that would close a cycle and reports the offending
// path:
//
//	err := g.AddEdge("op3", "op1")
//	if errors.Is(err, kdag.ErrCycleDetected) {
//	    // op1 -> op2 -> op3 -> op1
//	}
//
// Validate re-checks the whole graph with a DFS and enforces the size limits
// (MaxNodesPerDAG, MaxDepth, MaxChildrenPerNode).
//
// # Ordering
//
// TopologicalSort orders an arbitrary subset of nodes parents-first using
// Kahn's algorithm. The engine uses it to re-run operator setup exactly once
// per node, in dependency order, after a configuration change.
//
// # Thread Safety
//
// Graph is NOT safe for concurrent use. The lazyflow engine serializes every
// access behind its configuration lock.
package kdag

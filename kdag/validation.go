package kdag

import (
	"fmt"
	"sort"

	"golang.org/x/exp/slices"
)

// Validation limits to prevent pathological cases
const (
	MaxNodesPerDAG     = 10000
	MaxDepth           = 500
	MaxChildrenPerNode = 1000
)

// Validate checks the size limits and that the graph is acyclic. No chain
// of edges may be longer than maxDepth; a non-positive maxDepth means
// MaxDepth. Returns early on first error.
func (g *Graph) Validate(maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = MaxDepth
	}
	if len(g.Nodes) > MaxNodesPerDAG {
		return fmt.Errorf("%w: node count %d exceeds maximum %d",
			ErrInvalidTopology, len(g.Nodes), MaxNodesPerDAG)
	}

	if err := g.detectCycles(maxDepth); err != nil {
		return fmt.Errorf("DAG validation failed: %w", err)
	}

	return nil
}

// detectCycles walks the graph depth-first with a recursion stack. It also
// records the longest chain below every node and fails once one exceeds
// maxDepth.
func (g *Graph) detectCycles(maxDepth int) error {
	height := make(map[NodeID]int, len(g.Nodes))
	onStack := make(map[NodeID]bool, len(g.Nodes))

	var dfs func(NodeID, []NodeID) error
	dfs = func(nodeID NodeID, path []NodeID) error {
		onStack[nodeID] = true
		path = append(path, nodeID)

		node := g.Nodes[nodeID]
		if len(node.Children) > MaxChildrenPerNode {
			return fmt.Errorf("%w: node %s has %d children, exceeds maximum %d",
				ErrInvalidTopology, nodeID, len(node.Children), MaxChildrenPerNode)
		}

		h := 0
		for _, childID := range node.Children {
			if onStack[childID] {
				return fmt.Errorf("%w: %s", ErrCycleDetected, joinPath(append(path, childID)))
			}
			if _, done := height[childID]; !done {
				if err := dfs(childID, path); err != nil {
					return err
				}
			}
			h = max(h, height[childID]+1)
		}
		if h > maxDepth {
			return fmt.Errorf("%w: chain of depth %d below %s exceeds maximum %d",
				ErrInvalidTopology, h, nodeID, maxDepth)
		}

		height[nodeID] = h
		onStack[nodeID] = false
		return nil
	}

	// Insertion order keeps the reported path deterministic
	for _, nodeID := range g.NodeOrder {
		if _, done := height[nodeID]; !done {
			if err := dfs(nodeID, nil); err != nil {
				return err
			}
		}
	}

	return nil
}

// insertBySeq inserts an item into a slice ordered by node creation sequence.
func (g *Graph) insertBySeq(queue []NodeID, item NodeID) []NodeID {
	seq := g.Nodes[item].seq
	idx := sort.Search(len(queue), func(i int) bool {
		return g.Nodes[queue[i]].seq >= seq
	})
	return slices.Insert(queue, idx, item)
}

// TopologicalSort orders subset parents-first using Kahn's algorithm. Only
// edges between members of subset are considered. Ties are broken by node
// creation order so the result is deterministic. A nil subset sorts the whole
// graph.
func (g *Graph) TopologicalSort(subset []NodeID) ([]NodeID, error) {
	if subset == nil {
		subset = g.NodeOrder
	}
	member := make(map[NodeID]bool, len(subset))
	for _, id := range subset {
		if _, ok := g.Nodes[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		member[id] = true
	}

	inDegree := make(map[NodeID]int, len(member))
	for id := range member {
		for _, parent := range g.Nodes[id].Parents {
			if member[parent] {
				inDegree[id]++
			}
		}
	}

	queue := make([]NodeID, 0, len(member))
	for id := range member {
		if inDegree[id] == 0 {
			queue = g.insertBySeq(queue, id)
		}
	}

	result := make([]NodeID, 0, len(member))
	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]
		result = append(result, nodeID)

		for _, childID := range g.Nodes[nodeID].Children {
			if !member[childID] {
				continue
			}
			inDegree[childID]--
			if inDegree[childID] == 0 {
				queue = g.insertBySeq(queue, childID)
			}
		}
	}

	// If we didn't process all nodes, there must be a cycle
	if len(result) != len(member) {
		return nil, fmt.Errorf("%w: topological sort failed", ErrCycleDetected)
	}

	return result, nil
}

package kdag

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Sentinel errors for common failure cases.
var (
	ErrNodeAlreadyExists = errors.New("node already exists")
	ErrNodeNotFound      = errors.New("node not found")
	ErrEdgeNotFound      = errors.New("edge not found")
	ErrCycleDetected     = errors.New("cycle detected in DAG")
	ErrInvalidNodeID     = errors.New("invalid node ID")
	ErrInvalidTopology   = errors.New("invalid topology")
)

// NodeID is a strongly-typed identifier for graph nodes.
// NodeIDs must be non-empty and cannot contain whitespace.
type NodeID string

// Validate checks if the NodeID is valid.
// Returns ErrInvalidNodeID if the ID is empty or contains whitespace.
func (id NodeID) Validate() error {
	if id == "" {
		return fmt.Errorf("%w: NodeID cannot be empty", ErrInvalidNodeID)
	}
	if strings.ContainsAny(string(id), " \t\n\r") {
		return fmt.Errorf("%w: NodeID %q cannot contain whitespace", ErrInvalidNodeID, id)
	}
	return nil
}

// Node is the structural representation of one operator.
type Node struct {
	ID    NodeID
	Label string

	// Parent edges (incoming)
	Parents []NodeID

	// Child edges (outgoing)
	Children []NodeID

	seq int64
}

type edgeKey struct {
	parent, child NodeID
}

// Graph is the operator-level DAG.
type Graph struct {
	Nodes map[NodeID]*Node

	// Deterministic node ordering (insertion order)
	NodeOrder []NodeID

	// Number of slot connections backing each edge
	edges map[edgeKey]int

	nextSeq int64
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:     make(map[NodeID]*Node),
		NodeOrder: make([]NodeID, 0),
		edges:     make(map[edgeKey]int),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(id NodeID, label string) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if _, exists := g.Nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExists, id)
	}
	if len(g.Nodes) >= MaxNodesPerDAG {
		return fmt.Errorf("%w: node count exceeds maximum %d", ErrInvalidTopology, MaxNodesPerDAG)
	}
	g.nextSeq++
	g.Nodes[id] = &Node{
		ID:       id,
		Label:    label,
		Parents:  []NodeID{},
		Children: []NodeID{},
		seq:      g.nextSeq,
	}
	g.NodeOrder = append(g.NodeOrder, id)
	return nil
}

// RemoveNode removes a node and every edge touching it.
func (g *Graph) RemoveNode(id NodeID) error {
	node, ok := g.Nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	for _, parent := range node.Parents {
		p := g.Nodes[parent]
		p.Children = removeID(p.Children, id)
		delete(g.edges, edgeKey{parent, id})
	}
	for _, child := range node.Children {
		c := g.Nodes[child]
		c.Parents = removeID(c.Parents, id)
		delete(g.edges, edgeKey{id, child})
	}
	delete(g.Nodes, id)
	g.NodeOrder = removeID(g.NodeOrder, id)
	return nil
}

// AddEdge records that parent feeds child. Adding the same edge twice counts
// two connections. Returns ErrCycleDetected if child already reaches parent.
func (g *Graph) AddEdge(parentID, childID NodeID) error {
	parent, ok := g.Nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNodeNotFound, parentID)
	}
	child, ok := g.Nodes[childID]
	if !ok {
		return fmt.Errorf("%w: child %s", ErrNodeNotFound, childID)
	}

	if path, found := g.PathBetween(childID, parentID); found {
		cycle := append(path, childID)
		return fmt.Errorf("%w: %s", ErrCycleDetected, joinPath(cycle))
	}

	key := edgeKey{parentID, childID}
	if g.edges[key] == 0 {
		if len(parent.Children) >= MaxChildrenPerNode {
			return fmt.Errorf("%w: node %s has %d children, exceeds maximum %d",
				ErrInvalidTopology, parentID, len(parent.Children), MaxChildrenPerNode)
		}
		parent.Children = append(parent.Children, childID)
		child.Parents = append(child.Parents, parentID)
	}
	g.edges[key]++
	return nil
}

// RemoveEdge drops one connection between parent and child. The structural
// edge disappears with its last connection.
func (g *Graph) RemoveEdge(parentID, childID NodeID) error {
	key := edgeKey{parentID, childID}
	n := g.edges[key]
	if n == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrEdgeNotFound, parentID, childID)
	}
	if n > 1 {
		g.edges[key] = n - 1
		return nil
	}
	delete(g.edges, key)
	parent, child := g.Nodes[parentID], g.Nodes[childID]
	parent.Children = removeID(parent.Children, childID)
	child.Parents = removeID(child.Parents, parentID)
	return nil
}

// EdgeCount returns the number of connections backing parent -> child.
func (g *Graph) EdgeCount(parentID, childID NodeID) int {
	return g.edges[edgeKey{parentID, childID}]
}

// PathBetween returns a path from -> ... -> to, if one exists.
func (g *Graph) PathBetween(from, to NodeID) ([]NodeID, bool) {
	if _, ok := g.Nodes[from]; !ok {
		return nil, false
	}
	visited := make(map[NodeID]bool, len(g.Nodes))

	var dfs func(NodeID, []NodeID) ([]NodeID, bool)
	dfs = func(current NodeID, path []NodeID) ([]NodeID, bool) {
		path = append(path, current)
		if current == to {
			return path, true
		}
		visited[current] = true
		for _, childID := range g.Nodes[current].Children {
			if visited[childID] {
				continue
			}
			if found, ok := dfs(childID, path); ok {
				return found, true
			}
		}
		return nil, false
	}
	return dfs(from, nil)
}

// Descendants returns every node reachable from id, excluding id itself, in
// discovery order.
func (g *Graph) Descendants(id NodeID) []NodeID {
	var result []NodeID
	visited := map[NodeID]bool{id: true}

	var dfs func(NodeID)
	dfs = func(current NodeID) {
		node, ok := g.Nodes[current]
		if !ok {
			return
		}
		for _, childID := range node.Children {
			if visited[childID] {
				continue
			}
			visited[childID] = true
			result = append(result, childID)
			dfs(childID)
		}
	}

	dfs(id)
	return result
}

func removeID(ids []NodeID, id NodeID) []NodeID {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

func joinPath(path []NodeID) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}

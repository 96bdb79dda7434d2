package kdag

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// dotNode is a Node in the dot graph.
type dotNode struct {
	*Node
}

// ID implements graph.Node.
func (n dotNode) ID() int64 { return n.seq }

// DOTID implements dot.Node.
func (n dotNode) DOTID() string { return string(n.Node.ID) }

// Attributes implements encoding.Attributer.
func (n dotNode) Attributes() []encoding.Attribute {
	if n.Label == "" {
		return nil
	}
	return []encoding.Attribute{{Key: "label", Value: fmt.Sprintf("%q", n.Label)}}
}

type dotEdge struct {
	graph.Edge
	connections int
}

// Attributes implements encoding.Attributer. Edges backed by several slot
// connections are annotated with their count.
func (e dotEdge) Attributes() []encoding.Attribute {
	if e.connections < 2 {
		return nil
	}
	return []encoding.Attribute{{Key: "label", Value: fmt.Sprintf("%d", e.connections)}}
}

// WriteDOT writes the graph to w in Graphviz dot format.
func (g *Graph) WriteDOT(w io.Writer, name string) error {
	dg := simple.NewDirectedGraph()
	for _, id := range g.NodeOrder {
		dg.AddNode(dotNode{g.Nodes[id]})
	}
	for _, id := range g.NodeOrder {
		from := dotNode{g.Nodes[id]}
		for _, child := range g.Nodes[id].Children {
			to := dotNode{g.Nodes[child]}
			dg.SetEdge(dotEdge{Edge: dg.NewEdge(from, to), connections: g.EdgeCount(id, child)})
		}
	}

	b, err := dot.Marshal(dg, name, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dot: %w", err)
	}
	_, err = w.Write(b)
	return err
}

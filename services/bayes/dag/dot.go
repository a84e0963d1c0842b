// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"strconv"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// WeightedEdge is an unordered, weighted pair rendered by UndirectedDOT.
type WeightedEdge struct {
	A      string
	B      string
	Weight float64
}

type dotNode struct {
	id   int64
	name string
}

func (n dotNode) ID() int64 { return n.id }
func (n dotNode) DOTID() string { return n.name }

type dotEdge struct {
	from, to dotNode
	attrs    []encoding.Attribute
}

func (e dotEdge) From() graph.Node { return e.from }
func (e dotEdge) To() graph.Node { return e.to }
func (e dotEdge) ReversedEdge() graph.Edge { return dotEdge{from: e.to, to: e.from, attrs: e.attrs} }
func (e dotEdge) Attributes() []encoding.Attribute { return e.attrs }

// DOT renders g in Graphviz format.
func (g *Graph) DOT(name string) ([]byte, error) {
	dg := simple.NewDirectedGraph()
	nodes := make([]dotNode, len(g.names))
	for i, n := range g.names {
		nodes[i] = dotNode{id: int64(i), name: n}
		dg.AddNode(nodes[i])
	}
	for _, e := range g.Edges() {
		dg.SetEdge(dotEdge{from: nodes[e.From], to: nodes[e.To]})
	}
	return dot.Marshal(dg, name, "", "  ")
}

// UndirectedDOT renders weighted unordered pairs, such as edge probabilities,
// with the weight as the edge label and pen width.
func UndirectedDOT(name string, names []string, edges []WeightedEdge) ([]byte, error) {
	ug := simple.NewUndirectedGraph()
	byName := make(map[string]dotNode, len(names))
	for i, n := range names {
		node := dotNode{id: int64(i), name: n}
		byName[n] = node
		ug.AddNode(node)
	}
	for _, e := range edges {
		a, okA := byName[e.A]
		b, okB := byName[e.B]
		if !okA || !okB || e.A == e.B {
			continue
		}
		w := strconv.FormatFloat(e.Weight, 'f', 2, 64)
		ug.SetEdge(dotEdge{from: a, to: b, attrs: []encoding.Attribute{
			{Key: "label", Value: w},
			{Key: "penwidth", Value: strconv.FormatFloat(1+4*e.Weight, 'f', 2, 64)},
		}})
	}
	return dot.Marshal(ug, name, "", "  ")
}

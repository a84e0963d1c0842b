// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag provides the Bayesian network structure types.
//
// Graph is an immutable directed acyclic graph over named variables. Every
// mutation (AddEdge, RemoveEdge, ReverseEdge) returns a new Graph and leaves
// the receiver untouched, so a Graph may be shared freely between goroutines
// and between the candidate states of a search.
//
// PDAG is the partially directed graph produced while orienting a PC
// skeleton. It is mutable and owned by a single learner.
//
// # Node Identity
//
// Nodes are identified by their index in the name list, which callers keep
// aligned with the dataset column order. Names are only consulted for
// serialization and lookup.
package dag

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Edge is a directed edge From → To, by node index.
type Edge struct {
	From int
	To   int
}

// Graph is an immutable DAG.
//
// Thread Safety: Safe for concurrent use.
type Graph struct {
	names   []string
	index   map[string]int
	parents [][]int
}

// New returns the empty graph over names.
//
// Outputs:
//
//	*Graph - Graph with no edges.
//	error - KindStructure if names are empty or duplicated.
func New(names []string) (*Graph, error) {
	index := make(map[string]int, len(names))
	for i, n := range names {
		if n == "" {
			return nil, bnerr.Structure("dag.New", "node %d has an empty name", i)
		}
		if _, dup := index[n]; dup {
			return nil, bnerr.Structure("dag.New", "duplicate node %q", n)
		}
		index[n] = i
	}
	return &Graph{
		names:   append([]string(nil), names...),
		index:   index,
		parents: make([][]int, len(names)),
	}, nil
}

// FromEdges builds a graph from an edge list and verifies it is acyclic.
//
// Outputs:
//
//	*Graph - The graph.
//	error - KindStructure for out-of-range indices, self loops or cycles.
func FromEdges(names []string, edges []Edge) (*Graph, error) {
	g, err := New(names)
	if err != nil {
		return nil, err
	}
	n := len(names)
	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if e.From < 0 || e.From >= n || e.To < 0 || e.To >= n {
			return nil, bnerr.Structure("dag.FromEdges", "edge %d->%d out of range", e.From, e.To)
		}
		if e.From == e.To {
			return nil, bnerr.Structure("dag.FromEdges", "self loop on %q", names[e.From])
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		g.parents[e.To] = append(g.parents[e.To], e.From)
	}
	for i := range g.parents {
		sort.Ints(g.parents[i])
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// FromNamedEdges builds a graph from [from, to] name pairs.
func FromNamedEdges(names []string, edges [][2]string) (*Graph, error) {
	g, err := New(names)
	if err != nil {
		return nil, err
	}
	idx := make([]Edge, 0, len(edges))
	for _, e := range edges {
		from, ok := g.index[e[0]]
		if !ok {
			return nil, bnerr.Structure("dag.FromNamedEdges", "unknown node %q", e[0])
		}
		to, ok := g.index[e[1]]
		if !ok {
			return nil, bnerr.Structure("dag.FromNamedEdges", "unknown node %q", e[1])
		}
		idx = append(idx, Edge{From: from, To: to})
	}
	return FromEdges(names, idx)
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int {
	return len(g.names)
}

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int {
	n := 0
	for _, ps := range g.parents {
		n += len(ps)
	}
	return n
}

// Names returns a copy of the node names.
func (g *Graph) Names() []string {
	return append([]string(nil), g.names...)
}

// Name returns the name of node i.
func (g *Graph) Name(i int) string {
	return g.names[i]
}

// Index returns the node index of name.
func (g *Graph) Index(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// Parents returns the sorted parents of node i. The slice MUST NOT be modified.
func (g *Graph) Parents(i int) []int {
	return g.parents[i]
}

// Children returns the sorted children of node i.
func (g *Graph) Children(i int) []int {
	var out []int
	for c, ps := range g.parents {
		if containsSorted(ps, i) {
			out = append(out, c)
		}
	}
	return out
}

// HasEdge reports whether from → to is present.
func (g *Graph) HasEdge(from, to int) bool {
	return containsSorted(g.parents[to], from)
}

// Adjacent reports whether a and b share an edge in either direction.
func (g *Graph) Adjacent(a, b int) bool {
	return g.HasEdge(a, b) || g.HasEdge(b, a)
}

// Edges returns all edges ordered by (From, To).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.NumEdges())
	for to, ps := range g.parents {
		for _, from := range ps {
			out = append(out, Edge{From: from, To: to})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// NamedEdges returns Edges as [from, to] name pairs.
func (g *Graph) NamedEdges() [][2]string {
	edges := g.Edges()
	out := make([][2]string, len(edges))
	for i, e := range edges {
		out[i] = [2]string{g.names[e.From], g.names[e.To]}
	}
	return out
}

// HasPath reports whether a directed path from → to exists.
//
// A node always reaches itself.
//
// Complexity: O(V + E).
func (g *Graph) HasPath(from, to int) bool {
	if from == to {
		return true
	}
	children := g.childLists()
	seen := make([]bool, len(g.names))
	stack := []int{from}
	seen[from] = true
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range children[n] {
			if c == to {
				return true
			}
			if !seen[c] {
				seen[c] = true
				stack = append(stack, c)
			}
		}
	}
	return false
}

// AddEdge returns a copy of g with from → to added.
//
// Outputs:
//
//	*Graph - The new graph.
//	error - KindStructure for self loops, existing edges, or a cycle.
func (g *Graph) AddEdge(from, to int) (*Graph, error) {
	if err := g.checkPair("dag.AddEdge", from, to); err != nil {
		return nil, err
	}
	if g.HasEdge(from, to) {
		return nil, bnerr.Structure("dag.AddEdge", "edge %s->%s already present", g.names[from], g.names[to])
	}
	if g.HasPath(to, from) {
		return nil, bnerr.Structure("dag.AddEdge", "edge %s->%s creates a cycle", g.names[from], g.names[to])
	}
	return g.withParents(to, insertSorted(g.parents[to], from)), nil
}

// RemoveEdge returns a copy of g without from → to.
//
// Outputs:
//
//	*Graph - The new graph.
//	error - KindStructure if the edge is absent.
func (g *Graph) RemoveEdge(from, to int) (*Graph, error) {
	if err := g.checkPair("dag.RemoveEdge", from, to); err != nil {
		return nil, err
	}
	if !g.HasEdge(from, to) {
		return nil, bnerr.Structure("dag.RemoveEdge", "edge %s->%s not present", g.names[from], g.names[to])
	}
	return g.withParents(to, removeSorted(g.parents[to], from)), nil
}

// ReverseEdge returns a copy of g with from → to replaced by to → from.
//
// Outputs:
//
//	*Graph - The new graph.
//	error - KindStructure if the edge is absent or the reversal creates a cycle.
func (g *Graph) ReverseEdge(from, to int) (*Graph, error) {
	removed, err := g.RemoveEdge(from, to)
	if err != nil {
		return nil, err
	}
	if removed.HasPath(from, to) {
		return nil, bnerr.Structure("dag.ReverseEdge", "reversing %s->%s creates a cycle", g.names[from], g.names[to])
	}
	return removed.withParents(from, insertSorted(removed.parents[from], to)), nil
}

// Validate verifies that g is acyclic.
//
// Outputs:
//
//	error - KindStructure naming the nodes of a cycle.
func (g *Graph) Validate() error {
	if _, err := g.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns the nodes in a parents-first order.
//
// Description:
//
//	Delegates to gonum's stabilized topological sort so the order is a
//	deterministic function of the graph.
//
// Outputs:
//
//	[]int - Node indices, every parent before its children.
//	error - KindStructure if g contains a cycle.
func (g *Graph) TopologicalOrder() ([]int, error) {
	dg := g.gonum()
	sorted, err := topo.SortStabilized(dg, byID)
	if err != nil {
		var names []string
		if unorderable, ok := err.(topo.Unorderable); ok {
			for _, component := range unorderable {
				for _, n := range component {
					names = append(names, g.names[n.ID()])
				}
			}
			sort.Strings(names)
		}
		return nil, bnerr.Structure("dag.TopologicalOrder", "graph contains a cycle through %v", names)
	}
	out := make([]int, len(sorted))
	for i, n := range sorted {
		out[i] = int(n.ID())
	}
	return out, nil
}

// Ancestors marks every node that is an ancestor of, or equal to, a node in set.
func (g *Graph) Ancestors(set []int) []bool {
	marked := make([]bool, len(g.names))
	stack := append([]int(nil), set...)
	for _, n := range set {
		marked[n] = true
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range g.parents[n] {
			if !marked[p] {
				marked[p] = true
				stack = append(stack, p)
			}
		}
	}
	return marked
}

// Equal reports whether g and other have the same nodes and edges.
func (g *Graph) Equal(other *Graph) bool {
	if other == nil || len(g.names) != len(other.names) {
		return false
	}
	for i := range g.names {
		if g.names[i] != other.names[i] {
			return false
		}
		if len(g.parents[i]) != len(other.parents[i]) {
			return false
		}
		for j := range g.parents[i] {
			if g.parents[i][j] != other.parents[i][j] {
				return false
			}
		}
	}
	return true
}

// String returns a compact "A->B, A->C" rendering.
func (g *Graph) String() string {
	s := ""
	for i, e := range g.Edges() {
		if i > 0 {
			s += ", "
		}
		s += g.names[e.From] + "->" + g.names[e.To]
	}
	return "{" + s + "}"
}

// graphJSON is the interchange form {"nodes": [...], "edges": [[from, to], ...]}.
type graphJSON struct {
	Nodes []string    `json:"nodes"`
	Edges [][2]string `json:"edges"`
}

// MarshalJSON implements json.Marshaler.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphJSON{Nodes: g.names, Edges: g.NamedEdges()})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded graph is validated.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var raw graphJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := FromNamedEdges(raw.Nodes, raw.Edges)
	if err != nil {
		return err
	}
	*g = *decoded
	return nil
}

func (g *Graph) checkPair(op string, from, to int) error {
	n := len(g.names)
	if from < 0 || from >= n || to < 0 || to >= n {
		return bnerr.Structure(op, "edge %d->%d out of range", from, to)
	}
	if from == to {
		return bnerr.Structure(op, "self loop on %q", g.names[from])
	}
	return nil
}

// withParents shares everything but the outer parent slice and node i's list.
func (g *Graph) withParents(i int, ps []int) *Graph {
	parents := make([][]int, len(g.parents))
	copy(parents, g.parents)
	parents[i] = ps
	return &Graph{names: g.names, index: g.index, parents: parents}
}

func (g *Graph) childLists() [][]int {
	children := make([][]int, len(g.names))
	for c, ps := range g.parents {
		for _, p := range ps {
			children[p] = append(children[p], c)
		}
	}
	return children
}

// gonum converts g into a gonum directed graph with node IDs equal to indices.
func (g *Graph) gonum() *simple.DirectedGraph {
	dg := simple.NewDirectedGraph()
	for i := range g.names {
		dg.AddNode(simple.Node(i))
	}
	for to, ps := range g.parents {
		for _, from := range ps {
			dg.SetEdge(dg.NewEdge(simple.Node(from), simple.Node(to)))
		}
	}
	return dg
}

func byID(nodes []graph.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
}

func containsSorted(s []int, v int) bool {
	i := sort.SearchInts(s, v)
	return i < len(s) && s[i] == v
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	out := make([]int, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, v)
	return append(out, s[i:]...)
}

func removeSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	out := make([]int, 0, len(s))
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

// WithParents returns a copy of g with node i's parent set replaced.
//
// Description:
//
//	Used by score-based search to apply a move whose legality it has already
//	established. The result is validated, so an illegal move still fails.
//
// Outputs:
//
//	*Graph - The new graph.
//	error - KindStructure for invalid indices or a cycle.
func (g *Graph) WithParents(i int, parents []int) (*Graph, error) {
	if i < 0 || i >= len(g.names) {
		return nil, bnerr.Structure("dag.WithParents", "node %d out of range", i)
	}
	ps := append([]int(nil), parents...)
	sort.Ints(ps)
	for k, p := range ps {
		if p < 0 || p >= len(g.names) || p == i || (k > 0 && ps[k-1] == p) {
			return nil, bnerr.Structure("dag.WithParents", "invalid parent %d for %q", p, g.names[i])
		}
	}
	out := g.withParents(i, ps)
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("dag.WithParents: %w", err)
	}
	return out, nil
}

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
	"encoding/json"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
)

// =============================================================================
// Partially Directed Graph
// =============================================================================

// PDAG holds a mix of directed and undirected edges between node indices.
//
// Between any pair there is at most one edge: a→b, b→a, or a—b.
//
// Thread Safety: NOT safe for concurrent mutation.
type PDAG struct {
	names []string
	dir   [][]bool // dir[a][b]: a→b
	und   [][]bool // symmetric
}

// NewComplete returns the complete undirected graph over names.
func NewComplete(names []string) *PDAG {
	p := NewEmptyPDAG(names)
	for a := range names {
		for b := range names {
			if a != b {
				p.und[a][b] = true
			}
		}
	}
	return p
}

// NewEmptyPDAG returns a PDAG with no edges.
func NewEmptyPDAG(names []string) *PDAG {
	n := len(names)
	p := &PDAG{
		names: append([]string(nil), names...),
		dir:   make([][]bool, n),
		und:   make([][]bool, n),
	}
	for i := 0; i < n; i++ {
		p.dir[i] = make([]bool, n)
		p.und[i] = make([]bool, n)
	}
	return p
}

// NumNodes returns the number of nodes.
func (p *PDAG) NumNodes() int { return len(p.names) }

// Names returns a copy of the node names.
func (p *PDAG) Names() []string { return append([]string(nil), p.names...) }

// Adjacent reports whether a and b share any edge.
func (p *PDAG) Adjacent(a, b int) bool {
	return p.und[a][b] || p.dir[a][b] || p.dir[b][a]
}

// IsDirected reports whether a→b is present.
func (p *PDAG) IsDirected(a, b int) bool { return p.dir[a][b] }

// IsUndirected reports whether a—b is present.
func (p *PDAG) IsUndirected(a, b int) bool { return p.und[a][b] }

// Neighbors returns the ascending indices adjacent to a.
func (p *PDAG) Neighbors(a int) []int {
	var out []int
	for b := range p.names {
		if b != a && p.Adjacent(a, b) {
			out = append(out, b)
		}
	}
	return out
}

// AddUndirected inserts a—b, replacing any existing edge.
func (p *PDAG) AddUndirected(a, b int) {
	p.Remove(a, b)
	p.und[a][b] = true
	p.und[b][a] = true
}

// AddDirected inserts a→b, replacing any existing edge.
func (p *PDAG) AddDirected(a, b int) {
	p.Remove(a, b)
	p.dir[a][b] = true
}

// Remove deletes any edge between a and b.
func (p *PDAG) Remove(a, b int) {
	p.und[a][b] = false
	p.und[b][a] = false
	p.dir[a][b] = false
	p.dir[b][a] = false
}

// Orient turns an undirected a—b into a→b. It reports false if a—b is absent.
func (p *PDAG) Orient(a, b int) bool {
	if !p.und[a][b] {
		return false
	}
	p.und[a][b] = false
	p.und[b][a] = false
	p.dir[a][b] = true
	return true
}

// DirectedEdges returns every a→b ordered by (a, b).
func (p *PDAG) DirectedEdges() []Edge {
	var out []Edge
	for a := range p.names {
		for b := range p.names {
			if p.dir[a][b] {
				out = append(out, Edge{From: a, To: b})
			}
		}
	}
	return out
}

// UndirectedEdges returns every a—b once, with From < To, ordered by (From, To).
func (p *PDAG) UndirectedEdges() []Edge {
	var out []Edge
	for a := range p.names {
		for b := a + 1; b < len(p.names); b++ {
			if p.und[a][b] {
				out = append(out, Edge{From: a, To: b})
			}
		}
	}
	return out
}

// Clone returns a deep copy.
func (p *PDAG) Clone() *PDAG {
	c := NewEmptyPDAG(p.names)
	for i := range p.names {
		copy(c.dir[i], p.dir[i])
		copy(c.und[i], p.und[i])
	}
	return c
}

// ToDAG resolves every undirected edge.
//
// Description:
//
//	Tries the Dor–Tarsi consistent extension first: repeatedly remove a node
//	that has no outgoing directed edge and whose undirected neighbours are
//	adjacent to all of its other neighbours, orienting its undirected edges
//	towards it. This adds no new v-structure and no cycle.
//
//	If no consistent extension exists the remaining undirected edges are
//	oriented from the lower to the higher index. That result is returned
//	only if it is acyclic.
//
// Outputs:
//
//	*Graph - A DAG containing every directed edge of p.
//	bool - True when the consistent extension succeeded.
//	error - KindStructure if neither strategy yields an acyclic graph.
func (p *PDAG) ToDAG() (*Graph, bool, error) {
	if g, ok := p.consistentExtension(); ok {
		return g, true, nil
	}

	edges := p.DirectedEdges()
	edges = append(edges, p.UndirectedEdges()...)
	g, err := FromEdges(p.names, edges)
	if err != nil {
		return nil, false, bnerr.Wrap(bnerr.KindStructure, "dag.PDAG.ToDAG", err)
	}
	return g, false, nil
}

func (p *PDAG) consistentExtension() (*Graph, bool) {
	work := p.Clone()
	n := len(p.names)
	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}
	edges := p.DirectedEdges()

	for remaining := n; remaining > 0; remaining-- {
		picked := -1
		for x := 0; x < n && picked < 0; x++ {
			if alive[x] && work.extendable(x, alive) {
				picked = x
			}
		}
		if picked < 0 {
			return nil, false
		}
		for y := 0; y < n; y++ {
			if alive[y] && work.und[picked][y] {
				edges = append(edges, Edge{From: y, To: picked})
			}
		}
		alive[picked] = false
	}

	g, err := FromEdges(p.names, edges)
	if err != nil {
		return nil, false
	}
	return g, true
}

// extendable reports whether x is a sink among alive nodes whose undirected
// neighbours are adjacent to every other alive neighbour of x.
func (p *PDAG) extendable(x int, alive []bool) bool {
	var nbrs []int
	for y := range p.names {
		if !alive[y] || y == x {
			continue
		}
		if p.dir[x][y] {
			return false
		}
		if p.Adjacent(x, y) {
			nbrs = append(nbrs, y)
		}
	}
	for _, y := range nbrs {
		if !p.und[x][y] {
			continue
		}
		for _, z := range nbrs {
			if z != y && !p.Adjacent(y, z) {
				return false
			}
		}
	}
	return true
}

type pdagJSON struct {
	Nodes      []string    `json:"nodes"`
	Directed   [][2]string `json:"directed"`
	Undirected [][2]string `json:"undirected"`
}

// MarshalJSON implements json.Marshaler.
func (p *PDAG) MarshalJSON() ([]byte, error) {
	out := pdagJSON{Nodes: p.names, Directed: [][2]string{}, Undirected: [][2]string{}}
	for _, e := range p.DirectedEdges() {
		out.Directed = append(out.Directed, [2]string{p.names[e.From], p.names[e.To]})
	}
	for _, e := range p.UndirectedEdges() {
		out.Undirected = append(out.Undirected, [2]string{p.names[e.From], p.names[e.To]})
	}
	return json.Marshal(out)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package params estimates conditional probability tables and assembles the
// fitted Network consumed by inference.
//
// # Table Layout
//
// A CPT stores one row per parent configuration. Values is flat and indexed
// parentConfig*Card + value, where parentConfig is the mixed-radix index of
// the parents' codes in graph parent order with the last parent varying
// fastest. Every row sums to 1.
//
// # Ownership
//
// A Network and its CPTs are immutable after construction; NewNetwork copies
// its inputs and validates them.
package params

import (
	"encoding/json"
	"math"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
)

// RowTolerance is the maximum deviation of a CPT row sum from 1.
const RowTolerance = 1e-6

// CPT is the conditional distribution of one variable given its parents.
type CPT struct {
	// Variable is the child variable name.
	Variable string `json:"variable"`

	// States is the child domain.
	States []string `json:"states"`

	// Parents lists parent names in graph parent order.
	Parents []string `json:"parents"`

	// ParentCards lists parent cardinalities, aligned with Parents.
	ParentCards []int `json:"parent_cards"`

	// Values holds P(value | config) at config*Card + value.
	Values []float64 `json:"values"`
}

// Card returns the child cardinality.
func (c *CPT) Card() int {
	return len(c.States)
}

// NumConfigs returns the number of parent configurations.
func (c *CPT) NumConfigs() int {
	q := 1
	for _, k := range c.ParentCards {
		q *= k
	}
	return q
}

// Row returns the distribution for one parent configuration.
// The slice MUST NOT be modified.
func (c *CPT) Row(cfg int) []float64 {
	r := c.Card()
	return c.Values[cfg*r : (cfg+1)*r]
}

// Prob returns P(value | cfg).
func (c *CPT) Prob(value, cfg int) float64 {
	return c.Values[cfg*c.Card()+value]
}

// Validate checks shape, range and normalization.
func (c *CPT) Validate() error {
	const op = "params.CPT.Validate"

	if c.Card() == 0 {
		return bnerr.Parameter(op, "%q has an empty domain", c.Variable)
	}
	if len(c.Parents) != len(c.ParentCards) {
		return bnerr.Parameter(op, "%q lists %d parents and %d cardinalities", c.Variable, len(c.Parents), len(c.ParentCards))
	}
	for i, k := range c.ParentCards {
		if k <= 0 {
			return bnerr.Parameter(op, "%q: parent %q has cardinality %d", c.Variable, c.Parents[i], k)
		}
	}
	q := c.NumConfigs()
	if len(c.Values) != q*c.Card() {
		return bnerr.Parameter(op, "%q has %d values, want %d", c.Variable, len(c.Values), q*c.Card())
	}
	for cfg := 0; cfg < q; cfg++ {
		sum := 0.0
		for _, p := range c.Row(cfg) {
			if p < 0 || p > 1 || math.IsNaN(p) {
				return bnerr.Parameter(op, "%q: probability %v outside [0,1]", c.Variable, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > RowTolerance {
			return bnerr.Parameter(op, "%q: row %d sums to %v", c.Variable, cfg, sum)
		}
	}
	return nil
}

func (c *CPT) clone() *CPT {
	return &CPT{
		Variable:    c.Variable,
		States:      append([]string(nil), c.States...),
		Parents:     append([]string(nil), c.Parents...),
		ParentCards: append([]int(nil), c.ParentCards...),
		Values:      append([]float64(nil), c.Values...),
	}
}

// Network is a DAG with one CPT per node.
//
// Thread Safety: Safe for concurrent reads.
type Network struct {
	graph *dag.Graph
	vars  []dataset.Variable
	cpts  []*CPT
}

// NewNetwork validates and assembles a network.
//
// Inputs:
//
//	g - The structure. Must be acyclic.
//	vars - Variable domains, aligned with g's nodes.
//	cpts - One CPT per node, aligned with g's nodes.
//
// Outputs:
//
//	*Network - The network; inputs are copied.
//	error - KindStructure for a cyclic graph, KindParameter for any CPT
//	that does not match the graph or domains.
func NewNetwork(g *dag.Graph, vars []dataset.Variable, cpts []*CPT) (*Network, error) {
	const op = "params.NewNetwork"

	if g == nil {
		return nil, bnerr.Structure(op, "nil graph")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n := g.NumNodes()
	if len(vars) != n || len(cpts) != n {
		return nil, bnerr.Parameter(op, "graph has %d nodes, got %d variables and %d CPTs", n, len(vars), len(cpts))
	}

	outVars := make([]dataset.Variable, n)
	outCPTs := make([]*CPT, n)
	for i := 0; i < n; i++ {
		name := g.Name(i)
		v := vars[i]
		if v.Name != name {
			return nil, bnerr.Parameter(op, "variable %d is %q, graph node is %q", i, v.Name, name)
		}
		c := cpts[i]
		if c == nil {
			return nil, bnerr.Parameter(op, "missing CPT for %q", name)
		}
		if c.Variable != name {
			return nil, bnerr.Parameter(op, "CPT %d is for %q, graph node is %q", i, c.Variable, name)
		}
		if !equalStrings(c.States, v.States) {
			return nil, bnerr.Parameter(op, "CPT states of %q do not match its domain", name)
		}
		parents := g.Parents(i)
		if len(c.Parents) != len(parents) {
			return nil, bnerr.Parameter(op, "CPT of %q has %d parents, graph has %d", name, len(c.Parents), len(parents))
		}
		for k, p := range parents {
			if c.Parents[k] != g.Name(p) {
				return nil, bnerr.Parameter(op, "CPT of %q: parent %d is %q, graph has %q", name, k, c.Parents[k], g.Name(p))
			}
			if k < len(c.ParentCards) && c.ParentCards[k] != vars[p].Cardinality() {
				return nil, bnerr.Parameter(op, "CPT of %q: parent %q cardinality %d, domain has %d",
					name, c.Parents[k], c.ParentCards[k], vars[p].Cardinality())
			}
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		outVars[i] = dataset.Variable{Name: v.Name, States: append([]string(nil), v.States...)}
		outCPTs[i] = c.clone()
	}
	return &Network{graph: g, vars: outVars, cpts: outCPTs}, nil
}

// Graph returns the structure.
func (n *Network) Graph() *dag.Graph { return n.graph }

// NumVars returns the number of variables.
func (n *Network) NumVars() int { return len(n.vars) }

// Variable returns variable i.
func (n *Network) Variable(i int) dataset.Variable { return n.vars[i] }

// Variables returns a copy of the variable list.
func (n *Network) Variables() []dataset.Variable {
	return append([]dataset.Variable(nil), n.vars...)
}

// Index returns the node index of name.
func (n *Network) Index(name string) (int, bool) { return n.graph.Index(name) }

// CPT returns the table of node i. It MUST NOT be modified.
func (n *Network) CPT(i int) *CPT { return n.cpts[i] }

// Prob returns P(x) for a full assignment of codes in node order.
func (n *Network) Prob(assignment []int) float64 {
	p := 1.0
	for i, c := range n.cpts {
		cfg := 0
		for k, parent := range n.graph.Parents(i) {
			cfg = cfg*c.ParentCards[k] + assignment[parent]
		}
		p *= c.Prob(assignment[i], cfg)
	}
	return p
}

// NumParameters returns the number of free parameters, Σ (r−1)·q.
func (n *Network) NumParameters() int {
	total := 0
	for _, c := range n.cpts {
		total += (c.Card() - 1) * c.NumConfigs()
	}
	return total
}

type networkJSON struct {
	Graph     *dag.Graph         `json:"graph"`
	Variables []dataset.Variable `json:"variables"`
	CPTs      []*CPT             `json:"cpts"`
}

// MarshalJSON implements json.Marshaler.
func (n *Network) MarshalJSON() ([]byte, error) {
	return json.Marshal(networkJSON{Graph: n.graph, Variables: n.vars, CPTs: n.cpts})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded network is validated.
func (n *Network) UnmarshalJSON(data []byte) error {
	var raw networkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	net, err := NewNetwork(raw.Graph, raw.Variables, raw.CPTs)
	if err != nil {
		return err
	}
	*n = *net
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bntest generates synthetic binary datasets from known networks for
// tests. Every generator is deterministic in its seed.
package bntest

import (
	"math/rand/v2"

	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
)

// Node is a binary variable with P(node=1 | parent configuration).
//
// P1 is indexed by the mixed-radix parent configuration, last parent fastest.
// Parents must precede the node in the slice passed to Sample.
type Node struct {
	Name    string
	Parents []int
	P1      []float64
}

// Sample draws n rows by ancestral sampling. States are "0" and "1".
func Sample(nodes []Node, n int, seed uint64) *dataset.Dataset {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	vars := make([]dataset.Variable, len(nodes))
	cols := make([][]int, len(nodes))
	for i, nd := range nodes {
		vars[i] = dataset.Variable{Name: nd.Name, States: []string{"0", "1"}}
		cols[i] = make([]int, n)
	}
	for r := 0; r < n; r++ {
		for i, nd := range nodes {
			cfg := 0
			for _, p := range nd.Parents {
				cfg = cfg*2 + cols[p][r]
			}
			if rng.Float64() < nd.P1[cfg] {
				cols[i][r] = 1
			}
		}
	}
	d, err := dataset.NewEncoded(vars, cols)
	if err != nil {
		panic(err)
	}
	return d
}

// DiamondNodes is A→B, A→C, B→D, C→D with strong dependencies.
func DiamondNodes() []Node {
	return []Node{
		{Name: "A", P1: []float64{0.5}},
		{Name: "B", Parents: []int{0}, P1: []float64{0.2, 0.8}},
		{Name: "C", Parents: []int{0}, P1: []float64{0.3, 0.9}},
		{Name: "D", Parents: []int{1, 2}, P1: []float64{0.1, 0.6, 0.7, 0.95}},
	}
}

// Diamond samples n rows from DiamondNodes.
func Diamond(n int, seed uint64) *dataset.Dataset {
	return Sample(DiamondNodes(), n, seed)
}

// DiamondGraph returns the generating structure of Diamond.
func DiamondGraph() *dag.Graph {
	g, err := dag.FromNamedEdges([]string{"A", "B", "C", "D"}, [][2]string{
		{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"},
	})
	if err != nil {
		panic(err)
	}
	return g
}

// Collider samples X→Z←Y with independent X and Y.
func Collider(n int, seed uint64) *dataset.Dataset {
	return Sample([]Node{
		{Name: "X", P1: []float64{0.5}},
		{Name: "Y", P1: []float64{0.5}},
		{Name: "Z", Parents: []int{0, 1}, P1: []float64{0.05, 0.8, 0.8, 0.95}},
	}, n, seed)
}

// Independent samples k mutually independent fair coins named V0..Vk-1.
func Independent(k, n int, seed uint64) *dataset.Dataset {
	nodes := make([]Node, k)
	for i := range nodes {
		nodes[i] = Node{Name: "V" + string(rune('0'+i)), P1: []float64{0.5}}
	}
	return Sample(nodes, n, seed)
}

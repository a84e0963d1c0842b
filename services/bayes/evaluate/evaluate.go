// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluate compares a learned structure with a reference structure.
package evaluate

import (
	"sort"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
)

// Comparison summarizes how a learned DAG differs from a reference DAG.
type Comparison struct {
	// Hamming is the size of the symmetric difference of the directed edge sets.
	// A reversed edge counts twice.
	Hamming int `json:"hamming"`

	// SHD is the structural Hamming distance: Missing + Extra + Reversed.
	SHD int `json:"shd"`

	// Missing counts reference adjacencies absent from the learned graph.
	Missing int `json:"missing"`

	// Extra counts learned adjacencies absent from the reference.
	Extra int `json:"extra"`

	// Reversed counts shared adjacencies oriented the other way.
	Reversed int `json:"reversed"`

	// Skeleton metrics over unordered adjacencies.
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`

	// MissingEdges, ExtraEdges and ReversedEdges list the differing edges by
	// name, as oriented in the reference for Missing and Reversed and in the
	// learned graph for Extra.
	MissingEdges  [][2]string `json:"missing_edges"`
	ExtraEdges    [][2]string `json:"extra_edges"`
	ReversedEdges [][2]string `json:"reversed_edges"`
}

// HammingDistance returns |edges(a) Δ edges(b)| over directed named edges.
//
// The graphs must share the same node names, in any order.
func HammingDistance(a, b *dag.Graph) (int, error) {
	if err := sameNodes("evaluate.HammingDistance", a, b); err != nil {
		return 0, err
	}
	ea, eb := edgeSet(a), edgeSet(b)
	d := 0
	for e := range ea {
		if !eb[e] {
			d++
		}
	}
	for e := range eb {
		if !ea[e] {
			d++
		}
	}
	return d, nil
}

// StructuralHammingDistance returns missing + extra + reversed edges of
// learned against reference, counting a reversal once.
func StructuralHammingDistance(learned, reference *dag.Graph) (int, error) {
	c, err := Compare(learned, reference)
	if err != nil {
		return 0, err
	}
	return c.SHD, nil
}

// Compare computes every metric of Comparison.
//
// Outputs:
//
//	*Comparison - Distances and skeleton metrics. Precision is 1 when the
//	learned graph is empty; Recall is 1 when the reference is empty.
//	error - KindStructure when the node sets differ.
func Compare(learned, reference *dag.Graph) (*Comparison, error) {
	const op = "evaluate.Compare"

	if err := sameNodes(op, learned, reference); err != nil {
		return nil, err
	}
	hamming, _ := HammingDistance(learned, reference)
	out := &Comparison{
		Hamming:       hamming,
		MissingEdges:  [][2]string{},
		ExtraEdges:    [][2]string{},
		ReversedEdges: [][2]string{},
	}

	le, re := edgeSet(learned), edgeSet(reference)
	correct := 0
	for _, e := range sortedEdges(re) {
		switch {
		case le[e]:
			correct++
		case le[[2]string{e[1], e[0]}]:
			correct++
			out.Reversed++
			out.ReversedEdges = append(out.ReversedEdges, e)
		default:
			out.Missing++
			out.MissingEdges = append(out.MissingEdges, e)
		}
	}
	for _, e := range sortedEdges(le) {
		if !re[e] && !re[[2]string{e[1], e[0]}] {
			out.Extra++
			out.ExtraEdges = append(out.ExtraEdges, e)
		}
	}
	out.SHD = out.Missing + out.Extra + out.Reversed

	out.Precision = ratio(correct, len(le))
	out.Recall = ratio(correct, len(re))
	if out.Precision+out.Recall > 0 {
		out.F1 = 2 * out.Precision * out.Recall / (out.Precision + out.Recall)
	}
	return out, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 1
	}
	return float64(num) / float64(den)
}

func sameNodes(op string, a, b *dag.Graph) error {
	if a == nil || b == nil {
		return bnerr.Structure(op, "nil graph")
	}
	na, nb := a.Names(), b.Names()
	sort.Strings(na)
	sort.Strings(nb)
	if len(na) != len(nb) {
		return bnerr.Structure(op, "graphs have %d and %d nodes", len(na), len(nb))
	}
	for i := range na {
		if na[i] != nb[i] {
			return bnerr.Structure(op, "node sets differ at %q and %q", na[i], nb[i])
		}
	}
	return nil
}

func edgeSet(g *dag.Graph) map[[2]string]bool {
	out := make(map[[2]string]bool, g.NumEdges())
	for _, e := range g.NamedEdges() {
		out[e] = true
	}
	return out
}

func sortedEdges(set map[[2]string]bool) [][2]string {
	out := make([][2]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

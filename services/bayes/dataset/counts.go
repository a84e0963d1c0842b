// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"sort"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
)

// MaxConfigs bounds the number of joint parent configurations a count table
// may address. Larger parent sets are rejected rather than overflowing.
const MaxConfigs = 1 << 40

// Counts is a sparse contingency table of a child variable against the joint
// configurations of its parents.
//
// Parent configurations are mixed-radix indices over Parents in the given
// order with the last parent varying fastest. Only configurations observed in
// the data are present; Configs is ascending so iteration order is stable.
type Counts struct {
	Child       int
	Parents     []int
	ChildCard   int
	ParentCards []int

	// NumConfigs is q, the product of parent cardinalities (1 with no parents).
	NumConfigs int

	// Configs lists observed parent configurations in ascending order.
	Configs []int

	// Rows[i][k] counts rows with parent configuration Configs[i] and child code k.
	Rows [][]int

	// Total is the number of rows counted.
	Total int
}

// RowTotal returns N_j for the i-th observed configuration.
func (c *Counts) RowTotal(i int) int {
	n := 0
	for _, v := range c.Rows[i] {
		n += v
	}
	return n
}

// Row returns the counts for configuration cfg, or nil if unobserved.
func (c *Counts) Row(cfg int) []int {
	i := sort.SearchInts(c.Configs, cfg)
	if i < len(c.Configs) && c.Configs[i] == cfg {
		return c.Rows[i]
	}
	return nil
}

// NumConfigs returns the product of the cardinalities of cols.
//
// Outputs:
//
//	int - q; 1 for an empty list.
//	error - KindData if q exceeds MaxConfigs.
func (d *Dataset) NumConfigs(cols []int) (int, error) {
	q := 1
	for _, c := range cols {
		q *= d.Cardinality(c)
		if q > MaxConfigs {
			return 0, bnerr.Data("dataset.NumConfigs", "parent set of %d variables has more than %d configurations", len(cols), MaxConfigs)
		}
	}
	return q, nil
}

// ConfigIndex returns the mixed-radix configuration of cols at row.
func (d *Dataset) ConfigIndex(row int, cols []int) int {
	cfg := 0
	for _, c := range cols {
		cfg = cfg*d.Cardinality(c) + d.cols[c][row]
	}
	return cfg
}

// ConfigIndices returns ConfigIndex for every row.
func (d *Dataset) ConfigIndices(cols []int) []int {
	out := make([]int, d.rows)
	for _, c := range cols {
		card := d.Cardinality(c)
		col := d.cols[c]
		for r := range out {
			out[r] = out[r]*card + col[r]
		}
	}
	return out
}

// DecodeConfig expands a configuration index into per-column codes.
func DecodeConfig(cfg int, cards []int) []int {
	out := make([]int, len(cards))
	for i := len(cards) - 1; i >= 0; i-- {
		out[i] = cfg % cards[i]
		cfg /= cards[i]
	}
	return out
}

// Count builds the contingency table of child against parents.
//
// Inputs:
//
//	child - Child column index.
//	parents - Parent column indices, in the order used for configuration indices.
//
// Outputs:
//
//	*Counts - The sparse table.
//	error - KindData if the parent configuration space is too large.
//
// Complexity: O(N·|parents| + K log K) for K observed configurations.
func (d *Dataset) Count(child int, parents []int) (*Counts, error) {
	q, err := d.NumConfigs(parents)
	if err != nil {
		return nil, err
	}
	r := d.Cardinality(child)
	pc := make([]int, len(parents))
	for i, p := range parents {
		pc[i] = d.Cardinality(p)
	}

	cfgs := d.ConfigIndices(parents)
	slot := make(map[int][]int)
	childCol := d.cols[child]
	for row, cfg := range cfgs {
		counts, ok := slot[cfg]
		if !ok {
			counts = make([]int, r)
			slot[cfg] = counts
		}
		counts[childCol[row]]++
	}

	keys := make([]int, 0, len(slot))
	for k := range slot {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	rows := make([][]int, len(keys))
	for i, k := range keys {
		rows[i] = slot[k]
	}

	return &Counts{
		Child:       child,
		Parents:     append([]int(nil), parents...),
		ChildCard:   r,
		ParentCards: pc,
		NumConfigs:  q,
		Configs:     keys,
		Rows:        rows,
		Total:       d.rows,
	}, nil
}

// Marginal returns the empirical distribution of column i.
func (d *Dataset) Marginal(i int) []float64 {
	out := make([]float64, d.Cardinality(i))
	if d.rows == 0 {
		return out
	}
	for _, code := range d.cols[i] {
		out[code]++
	}
	for k := range out {
		out[k] /= float64(d.rows)
	}
	return out
}

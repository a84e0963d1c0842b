// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset provides the immutable discrete table consumed by the
// learning, fitting and inference stages.
//
// # Encoding
//
// Every column is resolved once, at construction time, into a Variable with
// an explicit ordered domain. Cells are stored as int codes in
// [0, cardinality). Nothing downstream inspects raw strings again.
//
// Domain order is numeric when every observed state parses as a number and
// lexicographic otherwise, so "2" sorts before "10" for integer-coded data.
//
// # Ownership Model
//
// A Dataset is never mutated after construction. Column returns the internal
// slice; callers MUST NOT modify it. Bootstrap returns a new Dataset that
// shares the Variables of its source.
//
// # Thread Safety
//
// Dataset is safe for concurrent reads.
package dataset

import (
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
)

// Variable is a named column with a finite, ordered domain.
type Variable struct {
	// Name is the column name. Unique within a Dataset.
	Name string `json:"name"`

	// States lists the observed values in domain order.
	States []string `json:"states"`
}

// Cardinality returns the number of states.
func (v Variable) Cardinality() int {
	return len(v.States)
}

// StateIndex returns the code of state s.
func (v Variable) StateIndex(s string) (int, bool) {
	for i, st := range v.States {
		if st == s {
			return i, true
		}
	}
	return 0, false
}

// Dataset is an N×V table of discrete codes.
type Dataset struct {
	vars  []Variable
	cols  [][]int
	rows  int
	index map[string]int
}

// New encodes string records into a Dataset.
//
// Description:
//
//	Builds one Variable per name from the distinct values seen in that
//	column, then encodes every cell. Records are row-major.
//
// Inputs:
//
//	names - Column names. Must be non-empty and unique.
//	records - Rows; each must have len(names) cells.
//
// Outputs:
//
//	*Dataset - The encoded table.
//	error - KindData if names are empty or duplicated, or a row is ragged.
func New(names []string, records [][]string) (*Dataset, error) {
	const op = "dataset.New"

	if len(names) == 0 {
		return nil, bnerr.Data(op, "no columns")
	}
	index := make(map[string]int, len(names))
	for i, n := range names {
		if n == "" {
			return nil, bnerr.Data(op, "column %d has an empty name", i)
		}
		if _, dup := index[n]; dup {
			return nil, bnerr.Data(op, "duplicate column %q", n)
		}
		index[n] = i
	}
	for r, rec := range records {
		if len(rec) != len(names) {
			return nil, bnerr.Data(op, "row %d has %d cells, want %d", r, len(rec), len(names))
		}
	}

	vars := make([]Variable, len(names))
	cols := make([][]int, len(names))
	for c, name := range names {
		seen := make(map[string]struct{})
		for _, rec := range records {
			seen[rec[c]] = struct{}{}
		}
		states := make([]string, 0, len(seen))
		for s := range seen {
			states = append(states, s)
		}
		sortStates(states)

		codes := make(map[string]int, len(states))
		for i, s := range states {
			codes[s] = i
		}
		col := make([]int, len(records))
		for r, rec := range records {
			col[r] = codes[rec[c]]
		}
		vars[c] = Variable{Name: name, States: states}
		cols[c] = col
	}

	return &Dataset{vars: vars, cols: cols, rows: len(records), index: index}, nil
}

// NewEncoded builds a Dataset from already-encoded columns.
//
// Description:
//
//	Used by generators and tests that work in codes directly. Every code must
//	lie in [0, cardinality) of its variable and all columns must have equal
//	length. Variables may declare states that never occur.
//
// Inputs:
//
//	vars - Column variables. Names must be unique, cardinality >= 1.
//	cols - Column-major codes, one slice per variable.
//
// Outputs:
//
//	*Dataset - The table. The slices are copied.
//	error - KindData on any inconsistency.
func NewEncoded(vars []Variable, cols [][]int) (*Dataset, error) {
	const op = "dataset.NewEncoded"

	if len(vars) == 0 {
		return nil, bnerr.Data(op, "no columns")
	}
	if len(cols) != len(vars) {
		return nil, bnerr.Data(op, "%d columns for %d variables", len(cols), len(vars))
	}
	rows := len(cols[0])
	index := make(map[string]int, len(vars))
	outVars := make([]Variable, len(vars))
	outCols := make([][]int, len(vars))
	for i, v := range vars {
		if v.Name == "" {
			return nil, bnerr.Data(op, "variable %d has an empty name", i)
		}
		if _, dup := index[v.Name]; dup {
			return nil, bnerr.Data(op, "duplicate variable %q", v.Name)
		}
		if v.Cardinality() == 0 {
			return nil, bnerr.Data(op, "variable %q has an empty domain", v.Name)
		}
		index[v.Name] = i
		if len(cols[i]) != rows {
			return nil, bnerr.Data(op, "column %q has %d rows, want %d", v.Name, len(cols[i]), rows)
		}
		card := v.Cardinality()
		for r, code := range cols[i] {
			if code < 0 || code >= card {
				return nil, bnerr.Data(op, "column %q row %d: code %d outside [0,%d)", v.Name, r, code, card)
			}
		}
		outVars[i] = Variable{Name: v.Name, States: append([]string(nil), v.States...)}
		outCols[i] = append([]int(nil), cols[i]...)
	}
	return &Dataset{vars: outVars, cols: outCols, rows: rows, index: index}, nil
}

// NumRows returns N.
func (d *Dataset) NumRows() int {
	return d.rows
}

// NumVars returns V.
func (d *Dataset) NumVars() int {
	return len(d.vars)
}

// Variable returns the i-th variable.
func (d *Dataset) Variable(i int) Variable {
	return d.vars[i]
}

// Variables returns a copy of the variable list.
func (d *Dataset) Variables() []Variable {
	out := make([]Variable, len(d.vars))
	copy(out, d.vars)
	return out
}

// Names returns the variable names in column order.
func (d *Dataset) Names() []string {
	out := make([]string, len(d.vars))
	for i, v := range d.vars {
		out[i] = v.Name
	}
	return out
}

// Index returns the column index of name.
func (d *Dataset) Index(name string) (int, bool) {
	i, ok := d.index[name]
	return i, ok
}

// Cardinality returns the domain size of column i.
func (d *Dataset) Cardinality(i int) int {
	return len(d.vars[i].States)
}

// Column returns the codes of column i. The slice MUST NOT be modified.
func (d *Dataset) Column(i int) []int {
	return d.cols[i]
}

// Value returns the code at (row, col).
func (d *Dataset) Value(row, col int) int {
	return d.cols[col][row]
}

// Bootstrap draws NumRows rows with replacement.
//
// The returned Dataset keeps the full variable domains of d even when a
// state is absent from the resample.
func (d *Dataset) Bootstrap(rng *rand.Rand) *Dataset {
	picks := make([]int, d.rows)
	for i := range picks {
		picks[i] = rng.IntN(d.rows)
	}
	cols := make([][]int, len(d.cols))
	for c, src := range d.cols {
		col := make([]int, d.rows)
		for i, r := range picks {
			col[i] = src[r]
		}
		cols[c] = col
	}
	return &Dataset{vars: d.vars, cols: cols, rows: d.rows, index: d.index}
}

// CheckLearnable verifies the preconditions shared by all structure learners.
//
// Outputs:
//
//	error - KindData if the dataset has no rows, or a column is constant.
func (d *Dataset) CheckLearnable() error {
	const op = "dataset.CheckLearnable"

	if d == nil || d.rows == 0 {
		return bnerr.Data(op, "dataset is empty")
	}
	for c, v := range d.vars {
		if v.Cardinality() < 2 {
			return bnerr.Data(op, "column %q is constant", v.Name)
		}
		first := d.cols[c][0]
		constant := true
		for _, code := range d.cols[c][1:] {
			if code != first {
				constant = false
				break
			}
		}
		if constant {
			return bnerr.Data(op, "column %q is constant", v.Name)
		}
	}
	return nil
}

// sortStates orders states numerically when all parse as floats.
func sortStates(states []string) {
	nums := make([]float64, len(states))
	numeric := true
	for i, s := range states {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			numeric = false
			break
		}
		nums[i] = f
	}
	if !numeric {
		sort.Strings(states)
		return
	}
	idx := make([]int, len(states))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if nums[idx[a]] != nums[idx[b]] {
			return nums[idx[a]] < nums[idx[b]]
		}
		return states[idx[a]] < states[idx[b]]
	})
	sorted := make([]string, len(states))
	for i, j := range idx {
		sorted[i] = states[j]
	}
	copy(states, sorted)
}

// MatchNames verifies that names lists exactly the dataset columns, in order.
//
// Outputs:
//
//	error - KindStructure describing the first mismatch.
func (d *Dataset) MatchNames(names []string) error {
	const op = "dataset.MatchNames"

	if len(names) != len(d.vars) {
		return bnerr.Structure(op, "graph has %d nodes, dataset has %d columns", len(names), len(d.vars))
	}
	for i, n := range names {
		if n != d.vars[i].Name {
			return bnerr.Structure(op, "node %d is %q, dataset column is %q", i, n, d.vars[i].Name)
		}
	}
	return nil
}

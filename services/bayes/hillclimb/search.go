// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hillclimb

import (
	"math"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"github.com/AleutianAI/bnlearn/services/bayes/score"
)

type opKind int

const (
	opAdd opKind = iota
	opRemove
	opReverse
)

func (k opKind) String() string {
	switch k {
	case opAdd:
		return "add"
	case opRemove:
		return "remove"
	default:
		return "reverse"
	}
}

// operation is a single-edge change of from → to.
type operation struct {
	kind  opKind
	from  int
	to    int
	delta float64
}

func (op operation) apply(g *dag.Graph) (*dag.Graph, error) {
	switch op.kind {
	case opAdd:
		return g.AddEdge(op.from, op.to)
	case opRemove:
		return g.RemoveEdge(op.from, op.to)
	default:
		return g.ReverseEdge(op.from, op.to)
	}
}

// inverse returns the operation that undoes op.
func (op operation) inverse() operation {
	switch op.kind {
	case opAdd:
		return operation{kind: opRemove, from: op.from, to: op.to}
	case opRemove:
		return operation{kind: opAdd, from: op.from, to: op.to}
	default:
		return operation{kind: opReverse, from: op.to, to: op.from}
	}
}

type search struct {
	opts   *Options
	scorer *score.LocalScorer
	g      *dag.Graph
	black  map[dag.Edge]bool
	fixed  map[dag.Edge]bool
	tabu   []operation
}

func newSearch(data *dataset.Dataset, o *Options) (*search, error) {
	const op = "hillclimb.Learn"

	if err := data.CheckLearnable(); err != nil {
		return nil, err
	}
	scorer, err := score.NewLocalScorer(data, o.Score)
	if err != nil {
		return nil, err
	}

	var g *dag.Graph
	if o.Start != nil {
		if err := data.MatchNames(o.Start.Names()); err != nil {
			return nil, err
		}
		g = o.Start
	} else {
		g, err = dag.New(data.Names())
		if err != nil {
			return nil, err
		}
	}

	n := data.NumVars()
	valid := func(e dag.Edge) bool {
		return e.From >= 0 && e.From < n && e.To >= 0 && e.To < n && e.From != e.To
	}
	black := make(map[dag.Edge]bool, len(o.BlackList))
	for _, e := range o.BlackList {
		if !valid(e) {
			return nil, bnerr.Data(op, "black-listed edge %d->%d is invalid", e.From, e.To)
		}
		black[e] = true
	}
	fixed := make(map[dag.Edge]bool, len(o.FixedEdges))
	for _, e := range o.FixedEdges {
		if !valid(e) {
			return nil, bnerr.Data(op, "fixed edge %d->%d is invalid", e.From, e.To)
		}
		if black[e] {
			return nil, bnerr.Data(op, "edge %s->%s is both fixed and black-listed",
				data.Variable(e.From).Name, data.Variable(e.To).Name)
		}
		fixed[e] = true
		if g.HasEdge(e.From, e.To) {
			continue
		}
		if g.HasEdge(e.To, e.From) {
			return nil, bnerr.Structure(op, "fixed edge %s->%s is reversed in the start graph",
				data.Variable(e.From).Name, data.Variable(e.To).Name)
		}
		g, err = g.AddEdge(e.From, e.To)
		if err != nil {
			return nil, err
		}
	}

	return &search{opts: o, scorer: scorer, g: g, black: black, fixed: fixed}, nil
}

func (s *search) pushTabu(op operation) {
	if s.opts.TabuLength == 0 {
		return
	}
	s.tabu = append(s.tabu, operation{kind: op.kind, from: op.from, to: op.to})
	if len(s.tabu) > s.opts.TabuLength {
		s.tabu = s.tabu[len(s.tabu)-s.opts.TabuLength:]
	}
}

// isTabu reports whether op would undo a recent operation.
func (s *search) isTabu(op operation) bool {
	inv := op.inverse()
	for _, t := range s.tabu {
		if t == inv {
			return true
		}
	}
	return false
}

// bestOperation scores every legal operation and picks the best.
func (s *search) bestOperation() (operation, bool, error) {
	g := s.g
	n := g.NumNodes()
	maxIn := s.opts.MaxIndegree
	reach := reachability(g)

	var ops []operation

	// add from → to
	for from := 0; from < n; from++ {
		for to := 0; to < n; to++ {
			if from == to || g.Adjacent(from, to) || s.black[dag.Edge{From: from, To: to}] {
				continue
			}
			if maxIn > 0 && len(g.Parents(to)) >= maxIn {
				continue
			}
			if reach[to][from] {
				continue
			}
			op := operation{kind: opAdd, from: from, to: to}
			if s.isTabu(op) {
				continue
			}
			d, err := s.deltaChange(to, g.Parents(to), from, true)
			if err != nil {
				return operation{}, false, err
			}
			op.delta = d
			ops = append(ops, op)
		}
	}

	edges := g.Edges()

	// remove from → to
	for _, e := range edges {
		if s.fixed[e] {
			continue
		}
		op := operation{kind: opRemove, from: e.From, to: e.To}
		if s.isTabu(op) {
			continue
		}
		d, err := s.deltaChange(e.To, g.Parents(e.To), e.From, false)
		if err != nil {
			return operation{}, false, err
		}
		op.delta = d
		ops = append(ops, op)
	}

	// reverse from → to into to → from
	for _, e := range edges {
		if s.fixed[e] || s.black[dag.Edge{From: e.To, To: e.From}] {
			continue
		}
		if maxIn > 0 && len(g.Parents(e.From)) >= maxIn {
			continue
		}
		if indirectPath(g, reach, e.From, e.To) {
			continue
		}
		op := operation{kind: opReverse, from: e.From, to: e.To}
		if s.isTabu(op) {
			continue
		}
		dTo, err := s.deltaChange(e.To, g.Parents(e.To), e.From, false)
		if err != nil {
			return operation{}, false, err
		}
		dFrom, err := s.deltaChange(e.From, g.Parents(e.From), e.To, true)
		if err != nil {
			return operation{}, false, err
		}
		op.delta = dTo + dFrom
		ops = append(ops, op)
	}

	if len(ops) == 0 {
		return operation{}, false, nil
	}

	best := math.Inf(-1)
	for _, op := range ops {
		if op.delta > best {
			best = op.delta
		}
	}
	tol := tieTolerance * math.Max(1, math.Abs(best))
	var ties []int
	for i, op := range ops {
		if op.delta >= best-tol {
			ties = append(ties, i)
		}
	}
	pick := ties[0]
	if s.opts.Rand != nil && len(ties) > 1 {
		pick = ties[s.opts.Rand.IntN(len(ties))]
	}
	return ops[pick], true, nil
}

// deltaChange is the local score change of node when parent p is added or removed.
func (s *search) deltaChange(node int, parents []int, p int, add bool) (float64, error) {
	old, err := s.scorer.Local(node, parents)
	if err != nil {
		return 0, err
	}
	var next []int
	if add {
		next = append(append(make([]int, 0, len(parents)+1), parents...), p)
	} else {
		next = make([]int, 0, len(parents))
		for _, q := range parents {
			if q != p {
				next = append(next, q)
			}
		}
	}
	v, err := s.scorer.Local(node, next)
	if err != nil {
		return 0, err
	}
	return v - old, nil
}

// reachability returns reach[a][b]: a directed path a ⇝ b exists (a ⇝ a included).
func reachability(g *dag.Graph) [][]bool {
	n := g.NumNodes()
	children := make([][]int, n)
	for _, e := range g.Edges() {
		children[e.From] = append(children[e.From], e.To)
	}
	reach := make([][]bool, n)
	for src := 0; src < n; src++ {
		r := make([]bool, n)
		r[src] = true
		stack := []int{src}
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, c := range children[v] {
				if !r[c] {
					r[c] = true
					stack = append(stack, c)
				}
			}
		}
		reach[src] = r
	}
	return reach
}

// indirectPath reports whether from ⇝ to exists without the edge from → to.
func indirectPath(g *dag.Graph, reach [][]bool, from, to int) bool {
	for _, c := range g.Children(from) {
		if c != to && reach[c][to] {
			return true
		}
	}
	return false
}

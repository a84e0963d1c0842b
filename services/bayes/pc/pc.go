// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pc implements the PC-stable constraint-based structure learner.
//
// # Algorithm
//
//  1. Start from the complete undirected graph.
//  2. For k = 0, 1, ...: snapshot every node's adjacency, then for each
//     remaining edge X—Y test X ⫫ Y | S for every size-k subset S of the
//     snapshot adjacency of X (minus Y), then of Y (minus X). The first
//     independence removes the edge and records S as the separating set.
//  3. Stop when no edge has k candidate neighbours or k exceeds the bound.
//  4. Orient colliders X→Z←Y for non-adjacent X, Y with Z outside their
//     separating set, then apply Meek rules R1–R3 until nothing changes.
//  5. Extend the PDAG to a DAG (see dag.PDAG.ToDAG).
//
// Taking the adjacency snapshot per level makes the skeleton independent of
// the order in which pairs are visited.
package pc

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/citest"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gonum.org/v1/gonum/stat/combin"
)

var tracer = otel.Tracer("bayes.pc")

const (
	// AutoCondSize selects the largest feasible conditioning-set size.
	AutoCondSize = -1

	// MaxAutoCondSize caps the automatically selected size.
	MaxAutoCondSize = 4

	// RowsPerCell is the minimum expected rows per contingency cell used to
	// judge whether a conditioning-set size is feasible.
	RowsPerCell = 5
)

// Options configures Learn.
type Options struct {
	// Alpha is the significance level. Must be in (0, 1). Default: 0.05.
	Alpha float64

	// Method is the independence test. Default: chi_square.
	Method citest.Method

	// MaxCondSize bounds the conditioning-set size. AutoCondSize (the
	// default) picks the largest feasible size, capped at 4 and V−2. An
	// explicit size the data cannot support is a data error.
	MaxCondSize int

	// Logger receives per-level progress at debug level. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns alpha 0.05, chi-square, automatic size.
func DefaultOptions() *Options {
	return &Options{
		Alpha:       citest.DefaultAlpha,
		Method:      citest.ChiSquare,
		MaxCondSize: AutoCondSize,
	}
}

// Result is the output of Learn.
type Result struct {
	// DAG is the final acyclic structure.
	DAG *dag.Graph

	// PDAG is the oriented graph before extension.
	PDAG *dag.PDAG

	// Consistent is false when the PDAG had no consistent extension and
	// the remaining edges were oriented by variable order.
	Consistent bool

	// SepSets maps a non-adjacent pair {a, b} with a < b to its separating set.
	SepSets map[[2]int][]int

	// MaxCondSize is the conditioning-set bound actually used.
	MaxCondSize int

	// Tests is the number of independence tests run.
	Tests int

	// Duration is the wall-clock learning time.
	Duration time.Duration
}

// SepSet returns the separating set recorded for a and b.
func (r *Result) SepSet(a, b int) ([]int, bool) {
	s, ok := r.SepSets[pairKey(a, b)]
	return s, ok
}

// Learn runs PC-stable on data.
//
// Description:
//
//	Learns a skeleton with conditional independence tests, orients it and
//	returns an acyclic DAG. Context cancellation is checked between pairs.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	data - Learning data. Must pass CheckLearnable.
//	opts - Options. Nil uses DefaultOptions.
//
// Outputs:
//
//	*Result - The learned structure and bookkeeping.
//	error - KindData for bad data or options, KindStructure if no acyclic
//	orientation exists, or ctx.Err().
//
// Thread Safety: Safe for concurrent use; Learn holds no shared state.
//
// Complexity: O(V² · C(V−2, k) · N) tests in the worst case for bound k.
func Learn(ctx context.Context, data *dataset.Dataset, opts *Options) (*Result, error) {
	const op = "pc.Learn"

	ctx, span := tracer.Start(ctx, "pc.Learn")
	defer span.End()
	start := time.Now()

	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := data.CheckLearnable(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "data not learnable")
		return nil, err
	}
	tester, err := citest.New(data, opts.Method, opts.Alpha)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid test options")
		return nil, err
	}
	maxK, err := resolveCondSize(data, opts.MaxCondSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "infeasible conditioning size")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("node_count", data.NumVars()),
		attribute.Int("row_count", data.NumRows()),
		attribute.Float64("alpha", tester.Alpha()),
		attribute.String("method", string(tester.Method())),
		attribute.Int("max_cond_size", maxK),
	)

	l := &learner{data: data, tester: tester, sepsets: make(map[[2]int][]int)}
	p, err := l.skeleton(ctx, maxK, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "skeleton search failed")
		return nil, err
	}

	orientColliders(p, l.sepsets)
	applyMeek(p)

	g, consistent, err := p.ToDAG()
	if err != nil {
		err = bnerr.Wrap(bnerr.KindStructure, op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "orientation produced a cycle")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("edge_count", g.NumEdges()),
		attribute.Int("tests", l.tests),
		attribute.Bool("consistent_extension", consistent),
	)
	if !consistent {
		logger.Warn("pc: no consistent extension, oriented remaining edges by variable order",
			"undirected", len(p.UndirectedEdges()))
	}

	return &Result{
		DAG:         g,
		PDAG:        p,
		Consistent:  consistent,
		SepSets:     l.sepsets,
		MaxCondSize: maxK,
		Tests:       l.tests,
		Duration:    time.Since(start),
	}, nil
}

// resolveCondSize applies the feasibility rule to a requested bound.
func resolveCondSize(data *dataset.Dataset, requested int) (int, error) {
	feasible := FeasibleCondSize(data)
	if requested < 0 {
		limit := MaxAutoCondSize
		if v := data.NumVars() - 2; v < limit {
			limit = v
		}
		if feasible > limit {
			feasible = limit
		}
		if feasible < 0 {
			feasible = 0
		}
		return feasible, nil
	}
	if requested > feasible {
		return 0, bnerr.Data("pc.Learn",
			"%d rows are too few for conditioning sets of size %d (largest feasible is %d)",
			data.NumRows(), requested, feasible)
	}
	return requested, nil
}

// FeasibleCondSize returns the largest k such that N ≥ 5 × the product of
// the k+2 smallest cardinalities, or −1 if even marginal tests are infeasible.
func FeasibleCondSize(data *dataset.Dataset) int {
	cards := make([]int, data.NumVars())
	for i := range cards {
		cards[i] = data.Cardinality(i)
	}
	sort.Ints(cards)

	n := data.NumRows()
	k := -1
	cells := 1
	for i, c := range cards {
		cells *= c
		if cells > n {
			break
		}
		if i >= 1 {
			if n < RowsPerCell*cells {
				break
			}
			k = i - 1
		}
	}
	return k
}

type learner struct {
	data    *dataset.Dataset
	tester  *citest.Tester
	sepsets map[[2]int][]int
	tests   int
}

func (l *learner) skeleton(ctx context.Context, maxK int, logger *slog.Logger) (*dag.PDAG, error) {
	n := l.data.NumVars()
	p := dag.NewComplete(l.data.Names())

	for k := 0; k <= maxK; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snapshot := make([][]int, n)
		for i := range snapshot {
			snapshot[i] = p.Neighbors(i)
		}

		eligible := false
		removed := 0
		for x := 0; x < n; x++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for y := x + 1; y < n; y++ {
				if !p.Adjacent(x, y) {
					continue
				}
				for _, side := range [2][2]int{{x, y}, {y, x}} {
					cand := without(snapshot[side[0]], side[1])
					if len(cand) < k {
						continue
					}
					eligible = true
					sep, found, err := l.separate(x, y, cand, k)
					if err != nil {
						return nil, err
					}
					if found {
						p.Remove(x, y)
						l.sepsets[pairKey(x, y)] = sep
						removed++
						break
					}
				}
			}
		}

		logger.Debug("pc: level complete", "level", k, "removed", removed, "tests", l.tests)
		if !eligible {
			break
		}
	}
	return p, nil
}

// separate tests x ⫫ y | S over size-k subsets S of cand in lexicographic order.
func (l *learner) separate(x, y int, cand []int, k int) ([]int, bool, error) {
	if k == 0 {
		l.tests++
		res, err := l.tester.Test(x, y, nil)
		if err != nil {
			return nil, false, err
		}
		return []int{}, res.Independent, nil
	}

	gen := combin.NewCombinationGenerator(len(cand), k)
	idx := make([]int, k)
	set := make([]int, k)
	for gen.Next() {
		gen.Combination(idx)
		for i, j := range idx {
			set[i] = cand[j]
		}
		l.tests++
		res, err := l.tester.Test(x, y, set)
		if err != nil {
			return nil, false, err
		}
		if res.Independent {
			return append([]int(nil), set...), true, nil
		}
	}
	return nil, false, nil
}

// orientColliders orients x→z←y for every unshielded triple whose middle node
// is outside the separating set. Triples are visited by (z, x, y) ascending; an
// edge already oriented the other way is left alone.
func orientColliders(p *dag.PDAG, sepsets map[[2]int][]int) {
	n := p.NumNodes()
	for z := 0; z < n; z++ {
		nbrs := p.Neighbors(z)
		for i := 0; i < len(nbrs); i++ {
			for j := i + 1; j < len(nbrs); j++ {
				x, y := nbrs[i], nbrs[j]
				if p.Adjacent(x, y) {
					continue
				}
				sep, ok := sepsets[pairKey(x, y)]
				if !ok || contains(sep, z) {
					continue
				}
				if p.IsDirected(z, x) || p.IsDirected(z, y) {
					continue
				}
				p.Orient(x, z)
				p.Orient(y, z)
			}
		}
	}
}

// applyMeek applies R1–R3 until no edge changes.
func applyMeek(p *dag.PDAG) {
	n := p.NumNodes()
	for changed := true; changed; {
		changed = false
		for a := 0; a < n; a++ {
			for b := 0; b < n; b++ {
				if a == b || !p.IsUndirected(a, b) {
					continue
				}
				if meekR1(p, a, b) || meekR2(p, a, b) || meekR3(p, a, b) {
					p.Orient(a, b)
					changed = true
				}
			}
		}
	}
}

// meekR1: c→a, a—b, c not adjacent to b ⇒ a→b.
func meekR1(p *dag.PDAG, a, b int) bool {
	for c := 0; c < p.NumNodes(); c++ {
		if c != b && p.IsDirected(c, a) && !p.Adjacent(c, b) {
			return true
		}
	}
	return false
}

// meekR2: a→c→b, a—b ⇒ a→b.
func meekR2(p *dag.PDAG, a, b int) bool {
	for c := 0; c < p.NumNodes(); c++ {
		if p.IsDirected(a, c) && p.IsDirected(c, b) {
			return true
		}
	}
	return false
}

// meekR3: a—c→b, a—d→b, c and d non-adjacent, a—b ⇒ a→b.
func meekR3(p *dag.PDAG, a, b int) bool {
	var mids []int
	for c := 0; c < p.NumNodes(); c++ {
		if p.IsUndirected(a, c) && p.IsDirected(c, b) {
			mids = append(mids, c)
		}
	}
	for i := 0; i < len(mids); i++ {
		for j := i + 1; j < len(mids); j++ {
			if !p.Adjacent(mids[i], mids[j]) {
				return true
			}
		}
	}
	return false
}

func pairKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func without(s []int, v int) []int {
	out := make([]int, 0, len(s))
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

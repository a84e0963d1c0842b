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
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"github.com/AleutianAI/bnlearn/services/bayes/score"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// =============================================================================
// Greedy Hill Climbing
// =============================================================================

var tracer = otel.Tracer("bayes.hillclimb")

// Search configuration constants.
const (
	// DefaultMaxIterations bounds the number of applied operations.
	DefaultMaxIterations = 1_000_000

	// DefaultEpsilon is the minimum score improvement that counts as progress.
	// A result learned with it is a local optimum up to this tolerance: a
	// neighbour may still score up to DefaultEpsilon higher. Set
	// Options.Epsilon to 0 for a strict local optimum.
	DefaultEpsilon = 1e-4

	// tieTolerance is the relative gap under which two deltas are equal.
	tieTolerance = 1e-9
)

// Options configures Learn.
type Options struct {
	// Score configures the scoring function. Nil uses BIC.
	Score *score.Options

	// Start is the initial structure. Nil starts from the empty graph.
	// Its nodes must match the dataset columns.
	Start *dag.Graph

	// Rand enables random tie-breaking. Nil breaks ties by enumeration
	// order: add, remove, reverse, each by (from, to).
	Rand *rand.Rand

	// MaxIndegree bounds the number of parents per node. 0 means unbounded.
	MaxIndegree int

	// MaxIterations bounds the number of applied operations.
	// Must be > 0. Default: 1e6.
	MaxIterations int

	// Epsilon is the minimum improvement for an operation to be applied,
	// so no neighbour of the result scores more than Epsilon above it.
	// 0 stops only when no neighbour improves the score. Must be >= 0.
	// Default: 1e-4.
	Epsilon float64

	// TabuLength is how many recent operations may not be undone. Default: 0.
	TabuLength int

	// BlackList lists edges that may never be added.
	BlackList []dag.Edge

	// FixedEdges lists edges that are added up front and never removed or reversed.
	FixedEdges []dag.Edge

	// TimeBudget stops the search early when positive.
	TimeBudget time.Duration

	// Logger receives progress at debug level. Nil uses slog.Default().
	Logger *slog.Logger
}

// Validate applies defaults for out-of-range values.
func (o *Options) Validate() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Epsilon < 0 || math.IsNaN(o.Epsilon) {
		o.Epsilon = DefaultEpsilon
	}
	if o.MaxIndegree < 0 {
		o.MaxIndegree = 0
	}
	if o.TabuLength < 0 {
		o.TabuLength = 0
	}
}

// DefaultOptions returns BIC, empty start, deterministic ties.
func DefaultOptions() *Options {
	return &Options{
		Score:         score.DefaultOptions(),
		MaxIterations: DefaultMaxIterations,
		Epsilon:       DefaultEpsilon,
	}
}

// NewRand returns the generator hill climbing uses for a seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
}

// Result is the output of Learn.
type Result struct {
	// DAG is the final structure.
	DAG *dag.Graph

	// Score is the total score of DAG.
	Score float64

	// InitialScore is the total score of the start graph.
	InitialScore float64

	// Iterations is the number of operations applied.
	Iterations int

	// Converged is true when no legal operation improved the score by more
	// than Epsilon. False when the iteration cap or time budget ended the search.
	Converged bool

	// CacheHits and CacheMisses report local score reuse.
	CacheHits   int
	CacheMisses int

	// Duration is the wall-clock search time.
	Duration time.Duration
}

// Learn runs greedy hill climbing over DAGs.
//
// Description:
//
//	At each step every legal add, remove and reverse operation is scored by
//	its local-score delta and the best one is applied if it improves the
//	score by more than Epsilon. Legal means acyclic, within MaxIndegree,
//	not black-listed, not touching a fixed edge and not undoing one of the
//	last TabuLength operations.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	data - Learning data. Must pass CheckLearnable.
//	opts - Options. Nil uses DefaultOptions.
//
// Outputs:
//
//	*Result - The final DAG and search statistics.
//	error - KindData for bad data or options, KindStructure for an invalid
//	start graph or fixed edges, or ctx.Err().
//
// Thread Safety: Safe for concurrent use with distinct Options.Rand values.
//
// Complexity: O(I · V² · (V + E)) plus local score evaluations, for I iterations.
func Learn(ctx context.Context, data *dataset.Dataset, opts *Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "hillclimb.Learn")
	defer span.End()
	start := time.Now()

	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	o.Validate()
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s, err := newSearch(data, &o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid search setup")
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("node_count", data.NumVars()),
		attribute.Int("row_count", data.NumRows()),
		attribute.String("score_type", string(s.scorer.Type())),
		attribute.Int("max_indegree", o.MaxIndegree),
		attribute.Int("tabu_length", o.TabuLength),
		attribute.Bool("random_ties", o.Rand != nil),
	)

	initial, err := s.scorer.Score(s.g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initial score failed")
		return nil, err
	}
	current := initial

	converged := false
	iter := 0
	for ; iter < o.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}
		if o.TimeBudget > 0 && time.Since(start) >= o.TimeBudget {
			span.AddEvent("time_budget_exhausted")
			break
		}

		best, ok, err := s.bestOperation()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "scoring failed")
			return nil, err
		}
		if !ok || best.delta <= o.Epsilon {
			converged = true
			break
		}
		next, err := best.apply(s.g)
		if err != nil {
			err = bnerr.Wrap(bnerr.KindStructure, "hillclimb.Learn", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "illegal operation selected")
			return nil, err
		}
		s.g = next
		current += best.delta
		s.pushTabu(best)
		logger.Debug("hillclimb: applied operation",
			"iteration", iter, "op", best.kind.String(),
			"from", data.Variable(best.from).Name, "to", data.Variable(best.to).Name,
			"delta", best.delta)
	}

	final, err := s.scorer.Score(s.g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "final score failed")
		return nil, err
	}
	hits, misses := s.scorer.Stats()

	span.SetAttributes(
		attribute.Int("iterations", iter),
		attribute.Bool("converged", converged),
		attribute.Int("edge_count", s.g.NumEdges()),
		attribute.Float64("score", final),
		attribute.Float64("score_drift", final-current),
	)

	return &Result{
		DAG:          s.g,
		Score:        final,
		InitialScore: initial,
		Iterations:   iter,
		Converged:    converged,
		CacheHits:    hits,
		CacheMisses:  misses,
		Duration:     time.Since(start),
	}, nil
}

// RandomStart returns a random DAG over names for restart-style searches.
//
// Description:
//
//	Draws a random node order and adds each forward edge with probability
//	density, skipping edges that would exceed maxIndegree (0 = unbounded).
func RandomStart(names []string, rng *rand.Rand, density float64, maxIndegree int) (*dag.Graph, error) {
	order := rng.Perm(len(names))
	var edges []dag.Edge
	indeg := make([]int, len(names))
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			from, to := order[i], order[j]
			if maxIndegree > 0 && indeg[to] >= maxIndegree {
				continue
			}
			if rng.Float64() < density {
				edges = append(edges, dag.Edge{From: from, To: to})
				indeg[to]++
			}
		}
	}
	return dag.FromEdges(names, edges)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ensemble estimates edge-existence probabilities by repeating
// hill-climbing structure search under controlled randomization.
//
// # Diversity
//
// Each run draws its own seed from a PCG stream seeded with the base seed, so
// run i always receives the same seed. Runs then differ by Mode:
//
//   - bootstrap (default): the run searches a bootstrap resample of the rows
//     and breaks score ties at random
//   - restart: the run starts from a random DAG and breaks ties at random
//   - tiebreak: the run only breaks ties at random
//
// # Concurrency
//
// Runs execute on an errgroup bounded by Workers. Each run owns its dataset
// view, random source and local score cache. Per-run graphs land in a slice
// indexed by run and are merged in run order after all runs finish, so the
// result does not depend on the worker count.
package ensemble

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"github.com/AleutianAI/bnlearn/services/bayes/hillclimb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("bayes.ensemble")

// Mode selects the per-run source of diversity.
type Mode string

const (
	Bootstrap Mode = "bootstrap"
	Restart   Mode = "restart"
	TieBreak  Mode = "tiebreak"
)

const (
	// DefaultSamples is the default number of runs.
	DefaultSamples = 20

	// DefaultRestartDensity is the edge probability of random start graphs.
	DefaultRestartDensity = 0.3

	// maxResampleAttempts bounds redraws of a degenerate bootstrap sample.
	maxResampleAttempts = 10
)

// ParseMode resolves a mode name. Empty selects Bootstrap.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Bootstrap, Restart, TieBreak:
		return m, nil
	case "":
		return Bootstrap, nil
	default:
		return "", bnerr.Data("ensemble.ParseMode", "invalid diversity mode %q", s)
	}
}

// Options configures SampleStructures.
type Options struct {
	// Mode is the diversity source. Default: bootstrap.
	Mode Mode

	// Workers bounds concurrent runs. Default: GOMAXPROCS.
	Workers int

	// HillClimb is the per-run search template. Its Rand and, in restart
	// mode, its Start are replaced per run. Nil uses hillclimb defaults.
	HillClimb *hillclimb.Options

	// RestartDensity is the edge probability of random start graphs.
	// Must be in (0, 1). Default: 0.3.
	RestartDensity float64

	// Logger receives per-run progress at debug level. Nil uses slog.Default().
	Logger *slog.Logger

	// OnRunComplete, when set, is called after each successful run with the
	// number of runs finished so far and the total. Runs finish out of
	// order and the callback may be invoked from several goroutines at once.
	OnRunComplete func(done, total int)
}

// DefaultOptions returns bootstrap mode over GOMAXPROCS workers.
func DefaultOptions() *Options {
	return &Options{
		Mode:           Bootstrap,
		Workers:        runtime.GOMAXPROCS(0),
		RestartDensity: DefaultRestartDensity,
	}
}

// Validate applies defaults and rejects an unknown mode.
func (o *Options) Validate() error {
	m, err := ParseMode(string(o.Mode))
	if err != nil {
		return err
	}
	o.Mode = m
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if !(o.RestartDensity > 0 && o.RestartDensity < 1) {
		o.RestartDensity = DefaultRestartDensity
	}
	return nil
}

// EdgeProbability is the frequency of an unordered pair across runs.
//
// A and B are in lexicographic order. Forward counts runs with A→B,
// Backward runs with B→A.
type EdgeProbability struct {
	A           string  `json:"a"`
	B           string  `json:"b"`
	Probability float64 `json:"probability"`
	Count       int     `json:"count"`
	Forward     int     `json:"forward"`
	Backward    int     `json:"backward"`
}

// Result is the edge-probability map of an ensemble run.
//
// Read-only once returned.
type Result struct {
	Samples    int
	Seed       uint64
	Mode       Mode
	Names      []string
	Edges      []EdgeProbability
	Structures []*dag.Graph
	Duration   time.Duration

	index map[[2]string]int
}

// Probability returns the frequency of the pair {a, b}, in either order.
func (r *Result) Probability(a, b string) float64 {
	if i, ok := r.index[pairKey(a, b)]; ok {
		return r.Edges[i].Probability
	}
	return 0
}

// Edge returns the entry for {a, b}.
func (r *Result) Edge(a, b string) (EdgeProbability, bool) {
	i, ok := r.index[pairKey(a, b)]
	if !ok {
		return EdgeProbability{}, false
	}
	return r.Edges[i], true
}

// DOT renders the map as a weighted undirected graph.
func (r *Result) DOT(name string) ([]byte, error) {
	edges := make([]dag.WeightedEdge, len(r.Edges))
	for i, e := range r.Edges {
		edges[i] = dag.WeightedEdge{A: e.A, B: e.B, Weight: e.Probability}
	}
	return dag.UndirectedDOT(name, r.Names, edges)
}

// MarshalJSON implements json.Marshaler.
func (r *Result) MarshalJSON() ([]byte, error) {
	edges := r.Edges
	if edges == nil {
		edges = []EdgeProbability{}
	}
	return json.Marshal(struct {
		Samples int               `json:"samples"`
		Seed    uint64            `json:"seed"`
		Mode    Mode              `json:"mode"`
		Nodes   []string          `json:"nodes"`
		Edges   []EdgeProbability `json:"edges"`
	}{r.Samples, r.Seed, r.Mode, r.Names, edges})
}

// SampleStructures runs hill climbing samples times and aggregates edges.
//
// Description:
//
//	Derives one seed per run from seed, runs the searches concurrently and
//	counts, for every unordered variable pair, the runs whose DAG joins it.
//	Probability = count / samples.
//
// Inputs:
//
//	ctx - Context for cancellation. Cancelling stops pending runs.
//	data - Learning data. Must pass CheckLearnable.
//	samples - Number of runs. Must be > 0.
//	seed - Base seed.
//	opts - Options. Nil uses DefaultOptions.
//
// Outputs:
//
//	*Result - The edge-probability map and the per-run DAGs.
//	error - KindData for bad input, the first run error, or ctx.Err().
//
// Thread Safety: Safe for concurrent use.
func SampleStructures(ctx context.Context, data *dataset.Dataset, samples int, seed uint64, opts *Options) (*Result, error) {
	const op = "ensemble.SampleStructures"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	start := time.Now()

	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if err := o.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid options")
		return nil, err
	}
	if samples <= 0 {
		err := bnerr.Data(op, "sample count must be positive, got %d", samples)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid sample count")
		return nil, err
	}
	if err := data.CheckLearnable(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "data not learnable")
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	span.SetAttributes(
		attribute.Int("samples", samples),
		attribute.Int64("seed", int64(seed)),
		attribute.String("mode", string(o.Mode)),
		attribute.Int("workers", o.Workers),
		attribute.Int("node_count", data.NumVars()),
	)

	seeds := make([]uint64, samples)
	base := rand.New(rand.NewPCG(seed, seed))
	for i := range seeds {
		seeds[i] = base.Uint64()
	}

	graphs := make([]*dag.Graph, samples)
	var finished atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Workers)
	for i := 0; i < samples; i++ {
		g.Go(func() error {
			res, err := runOne(gctx, data, seeds[i], &o)
			if err != nil {
				return err
			}
			graphs[i] = res.DAG
			logger.Debug("ensemble: run complete",
				"run", i, "edges", res.DAG.NumEdges(), "iterations", res.Iterations, "score", res.Score)
			if o.OnRunComplete != nil {
				o.OnRunComplete(int(finished.Add(1)), samples)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		return nil, err
	}

	result := aggregate(data.Names(), graphs)
	result.Seed = seed
	result.Mode = o.Mode
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.Int("distinct_edges", len(result.Edges)))
	logger.Info("ensemble complete",
		"samples", samples, "mode", o.Mode, "distinct_edges", len(result.Edges),
		"duration", result.Duration)
	return result, nil
}

func runOne(ctx context.Context, data *dataset.Dataset, seed uint64, o *Options) (*hillclimb.Result, error) {
	rng := hillclimb.NewRand(seed)

	hc := hillclimb.DefaultOptions()
	if o.HillClimb != nil {
		copied := *o.HillClimb
		hc = &copied
	}
	hc.Rand = rng
	if hc.Logger == nil {
		hc.Logger = o.Logger
	}

	view := data
	switch o.Mode {
	case Bootstrap:
		var err error
		view, err = resample(data, rng)
		if err != nil {
			return nil, err
		}
	case Restart:
		startGraph, err := hillclimb.RandomStart(data.Names(), rng, o.RestartDensity, hc.MaxIndegree)
		if err != nil {
			return nil, err
		}
		hc.Start = startGraph
	}

	return hillclimb.Learn(ctx, view, hc)
}

// resample draws a bootstrap sample, redrawing while a column is constant.
func resample(data *dataset.Dataset, rng *rand.Rand) (*dataset.Dataset, error) {
	var err error
	for attempt := 0; attempt < maxResampleAttempts; attempt++ {
		view := data.Bootstrap(rng)
		if err = view.CheckLearnable(); err == nil {
			return view, nil
		}
	}
	return nil, bnerr.Wrap(bnerr.KindData, "ensemble.resample", err)
}

func aggregate(names []string, graphs []*dag.Graph) *Result {
	type tally struct{ forward, backward int }
	counts := make(map[[2]string]*tally)
	for _, g := range graphs {
		for _, e := range g.Edges() {
			from, to := g.Name(e.From), g.Name(e.To)
			key := pairKey(from, to)
			t, ok := counts[key]
			if !ok {
				t = &tally{}
				counts[key] = t
			}
			if key[0] == from {
				t.forward++
			} else {
				t.backward++
			}
		}
	}

	keys := make([][2]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	s := len(graphs)
	edges := make([]EdgeProbability, len(keys))
	index := make(map[[2]string]int, len(keys))
	for i, k := range keys {
		t := counts[k]
		c := t.forward + t.backward
		edges[i] = EdgeProbability{
			A:           k[0],
			B:           k[1],
			Probability: float64(c) / float64(s),
			Count:       c,
			Forward:     t.forward,
			Backward:    t.backward,
		}
		index[k] = i
	}
	return &Result{
		Samples:    s,
		Names:      append([]string(nil), names...),
		Edges:      edges,
		Structures: graphs,
		index:      index,
	}
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package score implements decomposable network scores for discrete data.
//
// A score is the sum of local scores, one per node, each depending only on
// that node and its parent set. Higher is better for every score type.
//
// # Score Types
//
//   - bic: Σ N_jk·log(N_jk/N_j) − ½·log(N)·(r−1)·q
//   - bdeu: Bayesian Dirichlet equivalent uniform, equivalent sample size α
//   - k2: Bayesian Dirichlet with all hyperparameters equal to 1
//
// Here r is the child cardinality, q the number of parent configurations,
// N_j the rows with configuration j and N_jk those rows with child state k.
// Zero counts contribute nothing to the likelihood term.
package score

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("bayes.score")

// Type names a scoring function.
type Type string

const (
	BIC  Type = "bic"
	BDeu Type = "bdeu"
	K2   Type = "k2"
)

// DefaultEquivalentSampleSize is the BDeu prior strength.
const DefaultEquivalentSampleSize = 10.0

// ParseType resolves a score name, case-insensitively. "bde" is accepted
// for bdeu.
//
// Outputs:
//
//	Type - The score type.
//	error - KindData for an unknown name.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case BIC, BDeu, K2:
		return t, nil
	case "bde":
		return BDeu, nil
	case "":
		return BIC, nil
	default:
		return "", bnerr.Data("score.ParseType", "invalid score type %q", s)
	}
}

// Options configures a scorer.
type Options struct {
	// Type selects the scoring function. Default: bic.
	Type Type

	// EquivalentSampleSize is the BDeu prior strength. Must be > 0.
	// Default: 10. Ignored by bic and k2.
	EquivalentSampleSize float64
}

// DefaultOptions returns BIC scoring.
func DefaultOptions() *Options {
	return &Options{Type: BIC, EquivalentSampleSize: DefaultEquivalentSampleSize}
}

// Validate applies defaults and rejects unknown types.
func (o *Options) Validate() error {
	t, err := ParseType(string(o.Type))
	if err != nil {
		return err
	}
	o.Type = t
	if o.EquivalentSampleSize <= 0 || math.IsNaN(o.EquivalentSampleSize) {
		o.EquivalentSampleSize = DefaultEquivalentSampleSize
	}
	return nil
}

// LocalScorer computes and caches local scores over one dataset.
//
// Description:
//
//	Local scores are memoized by (node, sorted parents). A LocalScorer
//	belongs to a single search; the cache is never shared, so no locking
//	is needed.
//
// Thread Safety: NOT safe for concurrent use.
type LocalScorer struct {
	data   *dataset.Dataset
	opts   Options
	logN   float64
	cache  map[string]float64
	hits   int
	misses int
}

// NewLocalScorer validates opts and returns a scorer with an empty cache.
//
// Inputs:
//
//	data - Learning data. Must not be nil.
//	opts - Options. Nil uses DefaultOptions.
//
// Outputs:
//
//	*LocalScorer - The scorer.
//	error - KindData for an unknown score type or an empty dataset.
func NewLocalScorer(data *dataset.Dataset, opts *Options) (*LocalScorer, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if data == nil || data.NumRows() == 0 {
		return nil, bnerr.Data("score.NewLocalScorer", "dataset is empty")
	}
	return &LocalScorer{
		data:  data,
		opts:  o,
		logN:  math.Log(float64(data.NumRows())),
		cache: make(map[string]float64),
	}, nil
}

// Type returns the scoring function in use.
func (s *LocalScorer) Type() Type {
	return s.opts.Type
}

// Data returns the scored dataset.
func (s *LocalScorer) Data() *dataset.Dataset {
	return s.data
}

// Stats returns cache hits and misses.
func (s *LocalScorer) Stats() (hits, misses int) {
	return s.hits, s.misses
}

// Local returns the local score of node given parents.
//
// Inputs:
//
//	node - Child column index.
//	parents - Parent column indices, in any order.
//
// Outputs:
//
//	float64 - The local score.
//	error - KindData if the parent configuration space is too large.
//
// Complexity: O(N·|parents|) on a cache miss, O(|parents|) on a hit.
func (s *LocalScorer) Local(node int, parents []int) (float64, error) {
	sorted := append([]int(nil), parents...)
	sort.Ints(sorted)
	key := cacheKey(node, sorted)
	if v, ok := s.cache[key]; ok {
		s.hits++
		return v, nil
	}
	s.misses++

	counts, err := s.data.Count(node, sorted)
	if err != nil {
		return 0, err
	}
	var v float64
	switch s.opts.Type {
	case BDeu:
		v = bdeu(counts, s.opts.EquivalentSampleSize)
	case K2:
		v = k2(counts)
	default:
		v = bic(counts, s.logN)
	}
	s.cache[key] = v
	return v, nil
}

// Score returns the sum of local scores of g.
//
// Outputs:
//
//	float64 - The total score.
//	error - KindStructure if g's nodes do not match the dataset columns.
func (s *LocalScorer) Score(g *dag.Graph) (float64, error) {
	if err := s.data.MatchNames(g.Names()); err != nil {
		return 0, err
	}
	total := 0.0
	for i := 0; i < g.NumNodes(); i++ {
		v, err := s.Local(i, g.Parents(i))
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

// Score computes the total score of g against data with a fresh cache.
//
// Inputs:
//
//	ctx - Context for tracing.
//	g - Candidate structure. Node order must match the dataset columns.
//	data - Learning data.
//	opts - Options. Nil uses BIC.
//
// Outputs:
//
//	float64 - The score; higher is better.
//	error - KindData or KindStructure on invalid input.
func Score(ctx context.Context, g *dag.Graph, data *dataset.Dataset, opts *Options) (float64, error) {
	_, span := tracer.Start(ctx, "score.Score",
		trace.WithAttributes(
			attribute.Int("node_count", g.NumNodes()),
			attribute.Int("edge_count", g.NumEdges()),
		),
	)
	defer span.End()

	s, err := NewLocalScorer(data, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid scorer")
		return 0, err
	}
	span.SetAttributes(attribute.String("score_type", string(s.Type())))

	v, err := s.Score(g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		return 0, err
	}
	span.SetAttributes(attribute.Float64("score", v))
	return v, nil
}

func cacheKey(node int, parents []int) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(node))
	b.WriteByte('|')
	for i, p := range parents {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(p))
	}
	return b.String()
}

func bic(c *dataset.Counts, logN float64) float64 {
	ll := 0.0
	for i, row := range c.Rows {
		nj := c.RowTotal(i)
		if nj == 0 {
			continue
		}
		fnj := float64(nj)
		for _, n := range row {
			if n > 0 {
				fn := float64(n)
				ll += fn * math.Log(fn/fnj)
			}
		}
	}
	params := float64(c.ChildCard-1) * float64(c.NumConfigs)
	return ll - 0.5*logN*params
}

func bdeu(c *dataset.Counts, ess float64) float64 {
	r := float64(c.ChildCard)
	aj := ess / float64(c.NumConfigs)
	ajk := aj / r
	lgAj := lgamma(aj)
	lgAjk := lgamma(ajk)

	v := 0.0
	for i, row := range c.Rows {
		for _, n := range row {
			if n > 0 {
				v += lgamma(ajk+float64(n)) - lgAjk
			}
		}
		v += lgAj - lgamma(aj+float64(c.RowTotal(i)))
	}
	return v
}

func k2(c *dataset.Counts) float64 {
	r := float64(c.ChildCard)
	lgR := lgamma(r)

	v := 0.0
	for i, row := range c.Rows {
		for _, n := range row {
			if n > 1 {
				v += lgamma(1 + float64(n))
			}
		}
		v += lgR - lgamma(r+float64(c.RowTotal(i)))
	}
	return v
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bayes

import (
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/citest"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"github.com/AleutianAI/bnlearn/services/bayes/hillclimb"
	"github.com/AleutianAI/bnlearn/services/bayes/params"
	"github.com/AleutianAI/bnlearn/services/bayes/pc"
	"github.com/AleutianAI/bnlearn/services/bayes/score"
)

// Learner names accepted by LearnParams.Method.
const (
	MethodPC        = "pc"
	MethodHillClimb = "hill_climb"
)

// ParseMethod resolves a learner name. Empty selects hill climbing.
func ParseMethod(s string) (string, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case MethodPC:
		return MethodPC, nil
	case "", MethodHillClimb, "hc", "hillclimb":
		return MethodHillClimb, nil
	default:
		return "", bnerr.Data("bayes.ParseMethod", "invalid learning method %q", s)
	}
}

func (p LearnParams) scoreOptions() (*score.Options, error) {
	t, err := score.ParseType(p.Score)
	if err != nil {
		return nil, err
	}
	opts := &score.Options{Type: t, EquivalentSampleSize: p.EquivalentSampleSize}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (p LearnParams) pcOptions(logger *slog.Logger) (*pc.Options, error) {
	method, err := citest.ParseMethod(p.CITest)
	if err != nil {
		return nil, err
	}
	opts := pc.DefaultOptions()
	opts.Method = method
	opts.Logger = logger
	if p.Alpha != 0 {
		opts.Alpha = p.Alpha
	}
	if p.MaxCondSize != nil {
		opts.MaxCondSize = *p.MaxCondSize
	}
	return opts, nil
}

func (p LearnParams) hillClimbOptions(data *dataset.Dataset, logger *slog.Logger) (*hillclimb.Options, error) {
	so, err := p.scoreOptions()
	if err != nil {
		return nil, err
	}
	black, err := resolveEdges(data, "black_list", p.BlackList)
	if err != nil {
		return nil, err
	}
	fixed, err := resolveEdges(data, "fixed_edges", p.FixedEdges)
	if err != nil {
		return nil, err
	}

	opts := hillclimb.DefaultOptions()
	opts.Score = so
	opts.MaxIndegree = p.MaxIndegree
	opts.TabuLength = p.TabuLength
	opts.BlackList = black
	opts.FixedEdges = fixed
	opts.Logger = logger
	if p.MaxIterations > 0 {
		opts.MaxIterations = p.MaxIterations
	}
	if p.Epsilon != nil {
		opts.Epsilon = *p.Epsilon
	}
	if p.TimeBudgetMs > 0 {
		opts.TimeBudget = time.Duration(p.TimeBudgetMs) * time.Millisecond
	}
	if p.Seed != nil {
		opts.Rand = hillclimb.NewRand(*p.Seed)
	}
	return opts, nil
}

// resolveEdges maps named [from, to] pairs to column indices.
func resolveEdges(data *dataset.Dataset, field string, named [][2]string) ([]dag.Edge, error) {
	const op = "bayes.resolveEdges"

	if len(named) == 0 {
		return nil, nil
	}
	out := make([]dag.Edge, 0, len(named))
	for _, e := range named {
		from, ok := data.Index(e[0])
		if !ok {
			return nil, bnerr.Data(op, "%s names unknown variable %q", field, e[0])
		}
		to, ok := data.Index(e[1])
		if !ok {
			return nil, bnerr.Data(op, "%s names unknown variable %q", field, e[1])
		}
		out = append(out, dag.Edge{From: from, To: to})
	}
	return out, nil
}

func (p FitParams) options() (*params.Options, error) {
	opts := &params.Options{
		Unseen:               params.UnseenPolicy(p.Unseen),
		Prior:                params.Prior(p.Prior),
		EquivalentSampleSize: p.EquivalentSampleSize,
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// alignGraph reorders g's nodes to the dataset column order.
//
// A graph over a different node set is returned unchanged so that the
// estimator reports the mismatch.
func alignGraph(g *dag.Graph, data *dataset.Dataset) (*dag.Graph, error) {
	if g.NumNodes() != data.NumVars() {
		return g, nil
	}
	for _, n := range data.Names() {
		if _, ok := g.Index(n); !ok {
			return g, nil
		}
	}
	return dag.FromNamedEdges(data.Names(), g.NamedEdges())
}

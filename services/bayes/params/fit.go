// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package params

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("bayes.params")

// UnseenPolicy decides the row of a parent configuration absent from the data.
type UnseenPolicy string

const (
	// Uniform assigns 1/r to every state.
	Uniform UnseenPolicy = "uniform"

	// Fail rejects the fit with a parameter error.
	Fail UnseenPolicy = "fail"
)

// Prior is a Dirichlet smoothing prior.
type Prior string

const (
	// NoPrior is plain maximum likelihood.
	NoPrior Prior = "none"

	// BDeuPrior adds α/(q·r) to every cell.
	BDeuPrior Prior = "bdeu"

	// K2Prior adds 1 to every cell.
	K2Prior Prior = "k2"
)

// DefaultEquivalentSampleSize is the BDeu prior strength.
const DefaultEquivalentSampleSize = 10.0

// MaxCells bounds the size of a single dense CPT.
const MaxCells = 1 << 26

// Options configures Fit.
type Options struct {
	// Unseen is the policy for unobserved parent configurations.
	// Default: uniform. Irrelevant under a prior.
	Unseen UnseenPolicy

	// Prior smooths the counts. Default: none.
	Prior Prior

	// EquivalentSampleSize is the BDeu prior strength. Default: 10.
	EquivalentSampleSize float64
}

// DefaultOptions returns maximum likelihood with uniform unseen rows.
func DefaultOptions() *Options {
	return &Options{Unseen: Uniform, Prior: NoPrior, EquivalentSampleSize: DefaultEquivalentSampleSize}
}

// Validate applies defaults and rejects unknown names.
func (o *Options) Validate() error {
	const op = "params.Options.Validate"

	switch UnseenPolicy(strings.ToLower(string(o.Unseen))) {
	case "", Uniform:
		o.Unseen = Uniform
	case Fail:
		o.Unseen = Fail
	default:
		return bnerr.Data(op, "invalid unseen-configuration policy %q", o.Unseen)
	}
	switch Prior(strings.ToLower(string(o.Prior))) {
	case "", NoPrior, "mle":
		o.Prior = NoPrior
	case BDeuPrior:
		o.Prior = BDeuPrior
	case K2Prior:
		o.Prior = K2Prior
	default:
		return bnerr.Data(op, "invalid prior %q", o.Prior)
	}
	if o.EquivalentSampleSize <= 0 {
		o.EquivalentSampleSize = DefaultEquivalentSampleSize
	}
	return nil
}

// Fit estimates one CPT per node of g from data.
//
// Description:
//
//	Counts child states per parent configuration and normalizes each row.
//	With a prior the pseudo-counts are added first. Without one, a parent
//	configuration never seen in data follows the Unseen policy.
//
// Inputs:
//
//	ctx - Context for tracing.
//	g - The structure. Its nodes must match the dataset columns.
//	data - Fully observed data.
//	opts - Options. Nil uses DefaultOptions.
//
// Outputs:
//
//	*Network - The fitted network.
//	error - KindData for empty data or bad options, KindStructure for a
//	mismatched graph, KindParameter for an unseen configuration under Fail.
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(V · N · maxParents + Σ q·r).
func Fit(ctx context.Context, g *dag.Graph, data *dataset.Dataset, opts *Options) (*Network, error) {
	const op = "params.Fit"

	_, span := tracer.Start(ctx, op)
	defer span.End()

	net, err := fit(g, data, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fit failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("node_count", net.NumVars()),
		attribute.Int("edge_count", g.NumEdges()),
		attribute.Int("parameters", net.NumParameters()),
	)
	return net, nil
}

func fit(g *dag.Graph, data *dataset.Dataset, opts *Options) (*Network, error) {
	const op = "params.Fit"

	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, bnerr.Structure(op, "nil graph")
	}
	if data == nil || data.NumRows() == 0 {
		return nil, bnerr.Data(op, "dataset is empty")
	}
	if err := data.MatchNames(g.Names()); err != nil {
		return nil, err
	}

	n := g.NumNodes()
	cpts := make([]*CPT, n)
	for i := 0; i < n; i++ {
		c, err := fitNode(g, data, i, &o)
		if err != nil {
			return nil, err
		}
		cpts[i] = c
	}
	return NewNetwork(g, data.Variables(), cpts)
}

func fitNode(g *dag.Graph, data *dataset.Dataset, i int, o *Options) (*CPT, error) {
	parents := g.Parents(i)
	counts, err := data.Count(i, parents)
	if err != nil {
		return nil, err
	}
	r := counts.ChildCard
	q := counts.NumConfigs
	if q > MaxCells/r {
		return nil, bnerr.Parameter("params.Fit", "CPT of %q would have %d rows of %d states", g.Name(i), q, r)
	}

	var alpha float64
	switch o.Prior {
	case BDeuPrior:
		alpha = o.EquivalentSampleSize / float64(q*r)
	case K2Prior:
		alpha = 1
	}

	values := make([]float64, q*r)
	for cfg := 0; cfg < q; cfg++ {
		row := counts.Row(cfg)
		out := values[cfg*r : (cfg+1)*r]

		total := alpha * float64(r)
		for _, c := range row {
			total += float64(c)
		}
		if total == 0 {
			if o.Unseen == Fail {
				return nil, bnerr.Parameter("params.Fit", "%q has no data for parent configuration %s",
					g.Name(i), describeConfig(g, data, parents, cfg))
			}
			for k := range out {
				out[k] = 1 / float64(r)
			}
			continue
		}
		for k := range out {
			c := alpha
			if row != nil {
				c += float64(row[k])
			}
			out[k] = c / total
		}
	}

	parentNames := make([]string, len(parents))
	for k, p := range parents {
		parentNames[k] = g.Name(p)
	}
	v := data.Variable(i)
	return &CPT{
		Variable:    v.Name,
		States:      append([]string(nil), v.States...),
		Parents:     parentNames,
		ParentCards: append([]int(nil), counts.ParentCards...),
		Values:      values,
	}, nil
}

func describeConfig(g *dag.Graph, data *dataset.Dataset, parents []int, cfg int) string {
	states := dataset.DecodeConfig(cfg, cardsOf(data, parents))
	parts := make([]string, len(parents))
	for k, p := range parents {
		parts[k] = fmt.Sprintf("%s=%s", g.Name(p), data.Variable(p).States[states[k]])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func cardsOf(data *dataset.Dataset, cols []int) []int {
	out := make([]int, len(cols))
	for i, c := range cols {
		out[i] = data.Cardinality(c)
	}
	return out
}

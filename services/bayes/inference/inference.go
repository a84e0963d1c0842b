// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inference answers exact posterior queries on a fitted network by
// variable elimination.
//
// # Algorithm
//
// Query builds one factor per CPT of the nodes that are ancestors of the
// query or evidence variables (other nodes are barren and sum to one),
// restricts each factor to the evidence, eliminates the remaining hidden
// variables one at a time and normalizes the product of what is left.
//
// # Results
//
// A Result carries one marginal per query variable, the joint table when
// more than one variable is queried, and the most probable joint assignment
// of the query variables given the evidence.
package inference

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/params"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("bayes.inference")

// MaxFactorSize bounds the number of cells of any intermediate factor.
const MaxFactorSize = 1 << 26

// Options configures Query.
type Options struct {
	// Ordering is the elimination heuristic. Default: min_fill.
	Ordering Ordering

	// EliminationOrder, when set, fixes the elimination order by variable
	// name. It must name every hidden variable that survives pruning.
	EliminationOrder []string

	// Logger receives query summaries at debug level. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns min-fill ordering.
func DefaultOptions() *Options {
	return &Options{Ordering: MinFill}
}

// Validate applies defaults and rejects an unknown heuristic.
func (o *Options) Validate() error {
	ord, err := ParseOrdering(string(o.Ordering))
	if err != nil {
		return err
	}
	o.Ordering = ord
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// StateProbability is one entry of a posterior vector.
type StateProbability struct {
	Value       string  `json:"value"`
	Probability float64 `json:"probability"`
}

// Joint is the normalized table over several query variables.
//
// Values is indexed in mixed radix over Variables, last varying fastest.
type Joint struct {
	Variables []string   `json:"variables"`
	States    [][]string `json:"states"`
	Values    []float64  `json:"values"`
}

// Result is the answer to one query.
type Result struct {
	// Query lists the query variables in request order.
	Query []string `json:"query"`

	// Evidence echoes the conditioning assignment.
	Evidence map[string]string `json:"evidence,omitempty"`

	// Marginals maps each query variable to its posterior over its domain.
	Marginals map[string][]StateProbability `json:"marginals"`

	// Joint is set when more than one variable is queried.
	Joint *Joint `json:"joint,omitempty"`

	// MAP is the most probable assignment of the query variables.
	MAP map[string]string `json:"map"`

	// MAPProbability is the posterior probability of MAP.
	MAPProbability float64 `json:"map_probability"`

	// EvidenceProbability is P(evidence); 1 without evidence.
	EvidenceProbability float64 `json:"evidence_probability"`

	// EliminationOrder lists the hidden variables in elimination order.
	EliminationOrder []string `json:"elimination_order"`

	Duration time.Duration `json:"-"`
}

// Probability returns P(variable = state | evidence), or 0 for a name not in the result.
func (r *Result) Probability(variable, state string) float64 {
	for _, sp := range r.Marginals[variable] {
		if sp.Value == state {
			return sp.Probability
		}
	}
	return 0
}

// Query computes P(query | evidence) on net.
//
// Description:
//
//	Exact variable elimination. Barren nodes are pruned, evidence restricts
//	the CPT factors, hidden variables are summed out in the chosen order and
//	the remaining product is normalized.
//
// Inputs:
//
//	ctx - Context for cancellation, checked between eliminations.
//	net - A fitted network.
//	query - One or more distinct variable names.
//	evidence - Variable to state name. Must not mention a query variable.
//	opts - Options. Nil uses DefaultOptions.
//
// Outputs:
//
//	*Result - Posterior marginals, joint table and MAP assignment.
//	error - KindQuery for any invalid request, an invalid network or
//	evidence of probability zero; ctx.Err() on cancellation.
//
// Thread Safety: Safe for concurrent use; net is only read.
//
// Complexity: Exponential in the induced width of the elimination order.
func Query(ctx context.Context, net *params.Network, query []string, evidence map[string]string, opts *Options) (*Result, error) {
	const op = "inference.Query"

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
	span.SetAttributes(
		attribute.Int("query_count", len(query)),
		attribute.Int("evidence_count", len(evidence)),
	)

	res, err := run(ctx, net, query, evidence, &o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, err
	}
	res.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("eliminated", len(res.EliminationOrder)))
	o.Logger.Debug("inference: query answered",
		"query", query, "evidence", len(evidence), "eliminated", len(res.EliminationOrder),
		"duration", res.Duration)
	return res, nil
}

type request struct {
	query    []int
	evidence map[int]int
}

func run(ctx context.Context, net *params.Network, query []string, evidence map[string]string, o *Options) (*Result, error) {
	const op = "inference.Query"

	req, err := resolve(net, query, evidence)
	if err != nil {
		return nil, err
	}
	n := net.NumVars()

	set := append([]int(nil), req.query...)
	for v := range req.evidence {
		set = append(set, v)
	}
	relevant := net.Graph().Ancestors(set)

	var factors []*factor
	for i := 0; i < n; i++ {
		if !relevant[i] {
			continue
		}
		f := cptFactor(net, i)
		for v, value := range req.evidence {
			f = f.restrict(v, value)
		}
		factors = append(factors, f)
	}

	isQuery := make([]bool, n)
	for _, q := range req.query {
		isQuery[q] = true
	}
	var hidden []int
	for i := 0; i < n; i++ {
		if _, observed := req.evidence[i]; relevant[i] && !isQuery[i] && !observed {
			hidden = append(hidden, i)
		}
	}

	order, err := eliminationOrder(net, hidden, factors, req, o)
	if err != nil {
		return nil, err
	}

	for _, v := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var touched, rest []*factor
		for _, f := range factors {
			if f.has(v) {
				touched = append(touched, f)
			} else {
				rest = append(rest, f)
			}
		}
		if len(touched) == 0 {
			continue
		}
		merged, err := multiplyAll(touched)
		if err != nil {
			return nil, err
		}
		factors = append(rest, merged.sumOut(v))
	}

	joint, err := multiplyAll(factors)
	if err != nil {
		return nil, err
	}
	z := joint.total()
	if !(z > 0) {
		return nil, bnerr.Query(op, "evidence has zero probability")
	}
	for k := range joint.values {
		joint.values[k] /= z
	}

	return buildResult(net, req, joint, z, order, query, evidence), nil
}

// resolve validates names and states and maps them to indices.
func resolve(net *params.Network, query []string, evidence map[string]string) (*request, error) {
	const op = "inference.Query"

	if net == nil || net.Graph() == nil || net.NumVars() == 0 {
		return nil, bnerr.Query(op, "network is not fully parameterized")
	}
	if len(query) == 0 {
		return nil, bnerr.Query(op, "no query variables")
	}

	req := &request{evidence: make(map[int]int, len(evidence))}
	seen := make(map[int]bool, len(query))
	for _, name := range query {
		i, ok := net.Index(name)
		if !ok {
			return nil, bnerr.Query(op, "unknown query variable %q", name)
		}
		if seen[i] {
			return nil, bnerr.Query(op, "query variable %q listed twice", name)
		}
		if _, clash := evidence[name]; clash {
			return nil, bnerr.Query(op, "query variable %q is also in the evidence", name)
		}
		seen[i] = true
		req.query = append(req.query, i)
	}
	for name, state := range evidence {
		i, ok := net.Index(name)
		if !ok {
			return nil, bnerr.Query(op, "unknown evidence variable %q", name)
		}
		code, ok := net.Variable(i).StateIndex(state)
		if !ok {
			return nil, bnerr.Query(op, "evidence %s=%q is not in the domain %v", name, state, net.Variable(i).States)
		}
		req.evidence[i] = code
	}
	return req, nil
}

func eliminationOrder(net *params.Network, hidden []int, factors []*factor, req *request, o *Options) ([]int, error) {
	const op = "inference.Query"

	if len(o.EliminationOrder) == 0 {
		scopes := make([][]int, len(factors))
		for k, f := range factors {
			scopes[k] = f.vars
		}
		return heuristicOrder(net.NumVars(), hidden, scopes, o.Ordering), nil
	}

	isHidden := make(map[int]bool, len(hidden))
	for _, h := range hidden {
		isHidden[h] = true
	}
	isQuery := make(map[int]bool, len(req.query))
	for _, q := range req.query {
		isQuery[q] = true
	}

	order := make([]int, 0, len(hidden))
	listed := make(map[int]bool, len(o.EliminationOrder))
	for _, name := range o.EliminationOrder {
		i, ok := net.Index(name)
		if !ok {
			return nil, bnerr.Query(op, "elimination order names unknown variable %q", name)
		}
		if listed[i] {
			return nil, bnerr.Query(op, "elimination order lists %q twice", name)
		}
		if _, observed := req.evidence[i]; observed || isQuery[i] {
			return nil, bnerr.Query(op, "elimination order includes query or evidence variable %q", name)
		}
		listed[i] = true
		if isHidden[i] {
			order = append(order, i)
		}
	}
	for _, h := range hidden {
		if !listed[h] {
			return nil, bnerr.Query(op, "elimination order omits %q", net.Variable(h).Name)
		}
	}
	return order, nil
}

func multiplyAll(fs []*factor) (*factor, error) {
	out := &factor{values: []float64{1}}
	for _, f := range fs {
		out = product(out, f, MaxFactorSize)
		if out == nil {
			return nil, bnerr.Query("inference.Query", "intermediate factor exceeds %d cells", MaxFactorSize)
		}
	}
	return out, nil
}

func buildResult(net *params.Network, req *request, joint *factor, z float64, order []int, query []string, evidence map[string]string) *Result {
	res := &Result{
		Query:               append([]string(nil), query...),
		Marginals:           make(map[string][]StateProbability, len(req.query)),
		MAP:                 make(map[string]string, len(req.query)),
		EvidenceProbability: z,
		EliminationOrder:    make([]string, len(order)),
	}
	if len(evidence) > 0 {
		res.Evidence = make(map[string]string, len(evidence))
		for k, v := range evidence {
			res.Evidence[k] = v
		}
	}
	for k, v := range order {
		res.EliminationOrder[k] = net.Variable(v).Name
	}

	for _, q := range req.query {
		m := joint
		for _, other := range req.query {
			if other != q {
				m = m.sumOut(other)
			}
		}
		v := net.Variable(q)
		dist := make([]StateProbability, len(v.States))
		for s, state := range v.States {
			dist[s] = StateProbability{Value: state, Probability: m.values[s]}
		}
		res.Marginals[v.Name] = dist
	}

	ordered := joint.permute(req.query)
	assign, p := ordered.argmax()
	for k, q := range req.query {
		v := net.Variable(q)
		res.MAP[v.Name] = v.States[assign[k]]
	}
	res.MAPProbability = p

	if len(req.query) > 1 {
		j := &Joint{
			Variables: append([]string(nil), query...),
			States:    make([][]string, len(req.query)),
			Values:    ordered.values,
		}
		for k, q := range req.query {
			j.States[k] = append([]string(nil), net.Variable(q).States...)
		}
		res.Joint = j
	}
	return res
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"github.com/AleutianAI/bnlearn/services/bayes/internal/bntest"
	"github.com/AleutianAI/bnlearn/services/bayes/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diamondNetwork(t *testing.T) (*params.Network, *dataset.Dataset) {
	t.Helper()
	data := bntest.Diamond(5000, 2024)
	net, err := params.Fit(context.Background(), bntest.DiamondGraph(), data, nil)
	require.NoError(t, err)
	return net, data
}

// bruteForce enumerates the full joint to get P(target | evidence).
func bruteForce(net *params.Network, target int, evidence map[int]int) []float64 {
	n := net.NumVars()
	cards := make([]int, n)
	for i := range cards {
		cards[i] = net.Variable(i).Cardinality()
	}
	out := make([]float64, cards[target])
	assign := make([]int, n)
	total := tableSize(cards, math.MaxInt)
	for k := 0; k < total; k++ {
		consistent := true
		for v, value := range evidence {
			if assign[v] != value {
				consistent = false
			}
		}
		if consistent {
			out[assign[target]] += net.Prob(assign)
		}
		advance(assign, cards)
	}
	z := 0.0
	for _, p := range out {
		z += p
	}
	for i := range out {
		out[i] /= z
	}
	return out
}

func probs(sp []StateProbability) []float64 {
	out := make([]float64, len(sp))
	for i, s := range sp {
		out[i] = s.Probability
	}
	return out
}

func TestQuery_MatchesBruteForce(t *testing.T) {
	net, _ := diamondNetwork(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		target   string
		evidence map[string]string
	}{
		{"prior of leaf", "D", nil},
		{"prior of root", "A", nil},
		{"predictive", "D", map[string]string{"A": "1"}},
		{"diagnostic", "A", map[string]string{"D": "0"}},
		{"explaining away", "B", map[string]string{"D": "1", "C": "1"}},
		{"middle", "C", map[string]string{"A": "0", "D": "1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ti, _ := net.Index(tc.target)
			ev := make(map[int]int, len(tc.evidence))
			for name, state := range tc.evidence {
				i, _ := net.Index(name)
				code, _ := net.Variable(i).StateIndex(state)
				ev[i] = code
			}
			want := bruteForce(net, ti, ev)

			for _, ord := range []Ordering{MinFill, MinDegree} {
				res, err := Query(ctx, net, []string{tc.target}, tc.evidence, &Options{Ordering: ord})
				require.NoError(t, err)
				assert.InDeltaSlice(t, want, probs(res.Marginals[tc.target]), 1e-12, string(ord))
			}
		})
	}
}

func TestQuery_EvidenceChangesPosterior(t *testing.T) {
	net, _ := diamondNetwork(t)
	ctx := context.Background()

	prior, err := Query(ctx, net, []string{"D"}, nil, nil)
	require.NoError(t, err)
	post, err := Query(ctx, net, []string{"D"}, map[string]string{"A": "1"}, nil)
	require.NoError(t, err)

	assert.Greater(t, math.Abs(post.Probability("D", "1")-prior.Probability("D", "1")), 0.05)
	assert.Equal(t, 1.0, prior.EvidenceProbability)
	assert.InDelta(t, 0.5, post.EvidenceProbability, 0.05)
}

func TestQuery_ReproducesEmpiricalMarginal(t *testing.T) {
	net, data := diamondNetwork(t)

	for _, name := range []string{"A", "B", "C", "D"} {
		res, err := Query(context.Background(), net, []string{name}, nil, nil)
		require.NoError(t, err)
		i, _ := data.Index(name)
		assert.InDeltaSlice(t, data.Marginal(i), probs(res.Marginals[name]), 0.03, name)

		sum := 0.0
		for _, p := range probs(res.Marginals[name]) {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
}

func TestQuery_Joint(t *testing.T) {
	net, _ := diamondNetwork(t)
	ctx := context.Background()

	res, err := Query(ctx, net, []string{"C", "B"}, map[string]string{"A": "1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Joint)
	assert.Equal(t, []string{"C", "B"}, res.Joint.Variables)
	require.Len(t, res.Joint.Values, 4)

	sum := 0.0
	for _, p := range res.Joint.Values {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-12)

	// Values[c*2+b]; summing over B gives P(C)
	assert.InDelta(t, res.Joint.Values[2]+res.Joint.Values[3], res.Probability("C", "1"), 1e-12)
	assert.InDelta(t, res.Joint.Values[1]+res.Joint.Values[3], res.Probability("B", "1"), 1e-12)

	// given A=1 both B and C favour state 1
	assert.Equal(t, map[string]string{"B": "1", "C": "1"}, res.MAP)
	assert.InDelta(t, res.Joint.Values[3], res.MAPProbability, 1e-12)

	single, err := Query(ctx, net, []string{"C"}, map[string]string{"A": "1"}, nil)
	require.NoError(t, err)
	assert.Nil(t, single.Joint)
	assert.InDelta(t, single.Probability("C", "1"), res.Probability("C", "1"), 1e-12)
}

func TestQuery_Pruning(t *testing.T) {
	net, _ := diamondNetwork(t)

	res, err := Query(context.Background(), net, []string{"B"}, map[string]string{"A": "0"}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.EliminationOrder, "D and C are barren for B given A")

	res, err = Query(context.Background(), net, []string{"D"}, nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, res.EliminationOrder)
}

func TestQuery_DeclaredOrder(t *testing.T) {
	net, _ := diamondNetwork(t)
	ctx := context.Background()

	auto, err := Query(ctx, net, []string{"D"}, nil, nil)
	require.NoError(t, err)
	fixed, err := Query(ctx, net, []string{"D"}, nil, &Options{EliminationOrder: []string{"C", "A", "B"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, fixed.EliminationOrder)
	assert.InDeltaSlice(t, probs(auto.Marginals["D"]), probs(fixed.Marginals["D"]), 1e-12)

	_, err = Query(ctx, net, []string{"D"}, nil, &Options{EliminationOrder: []string{"C", "A"}})
	assert.ErrorIs(t, err, bnerr.ErrQuery)
	_, err = Query(ctx, net, []string{"D"}, nil, &Options{EliminationOrder: []string{"C", "A", "B", "D"}})
	assert.ErrorIs(t, err, bnerr.ErrQuery)
	_, err = Query(ctx, net, []string{"D"}, nil, &Options{EliminationOrder: []string{"C", "A", "B", "E"}})
	assert.ErrorIs(t, err, bnerr.ErrQuery)
}

func TestQuery_Rejects(t *testing.T) {
	net, _ := diamondNetwork(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		net      *params.Network
		query    []string
		evidence map[string]string
		opts     *Options
	}{
		{"query in evidence", net, []string{"D"}, map[string]string{"D": "1"}, nil},
		{"empty query", net, nil, nil, nil},
		{"unknown query", net, []string{"Z"}, nil, nil},
		{"duplicate query", net, []string{"A", "A"}, nil, nil},
		{"unknown evidence", net, []string{"A"}, map[string]string{"Z": "1"}, nil},
		{"state outside domain", net, []string{"A"}, map[string]string{"D": "maybe"}, nil},
		{"unfitted network", &params.Network{}, []string{"A"}, nil, nil},
		{"nil network", nil, []string{"A"}, nil, nil},
		{"bad ordering", net, []string{"A"}, nil, &Options{Ordering: "random"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Query(ctx, tc.net, tc.query, tc.evidence, tc.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, bnerr.ErrQuery)
		})
	}
}

func TestQuery_ZeroProbabilityEvidence(t *testing.T) {
	g, err := dag.FromNamedEdges([]string{"A", "B"}, [][2]string{{"A", "B"}})
	require.NoError(t, err)
	vars := []dataset.Variable{
		{Name: "A", States: []string{"0", "1"}},
		{Name: "B", States: []string{"0", "1"}},
	}
	net, err := params.NewNetwork(g, vars, []*params.CPT{
		{Variable: "A", States: []string{"0", "1"}, Values: []float64{0.4, 0.6}},
		{Variable: "B", States: []string{"0", "1"}, Parents: []string{"A"}, ParentCards: []int{2}, Values: []float64{1, 0, 1, 0}},
	})
	require.NoError(t, err)

	_, err = Query(context.Background(), net, []string{"A"}, map[string]string{"B": "1"}, nil)
	assert.ErrorIs(t, err, bnerr.ErrQuery)

	res, err := Query(context.Background(), net, []string{"A"}, map[string]string{"B": "0"}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, res.Probability("A", "1"), 1e-12)
	assert.Equal(t, "1", res.MAP["A"])
}

func TestQuery_Cancelled(t *testing.T) {
	net, _ := diamondNetwork(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Query(ctx, net, []string{"D"}, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult_JSON(t *testing.T) {
	net, _ := diamondNetwork(t)

	res, err := Query(context.Background(), net, []string{"D"}, map[string]string{"A": "1"}, nil)
	require.NoError(t, err)
	data, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded struct {
		Marginals map[string][]StateProbability `json:"marginals"`
		Evidence  map[string]string             `json:"evidence"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Marginals["D"], 2)
	assert.Equal(t, "0", decoded.Marginals["D"][0].Value)
	assert.Equal(t, "1", decoded.Evidence["A"])
	assert.NotContains(t, string(data), `"joint"`)
}

func TestFactorOperations(t *testing.T) {
	// f(A,B) with A∈{0,1}, B∈{0,1,2}
	f := &factor{vars: []int{0, 2}, cards: []int{2, 3}, values: []float64{1, 2, 3, 4, 5, 6}}
	g := &factor{vars: []int{2}, cards: []int{3}, values: []float64{10, 20, 30}}

	r := f.restrict(0, 1)
	assert.Equal(t, []int{2}, r.vars)
	assert.Equal(t, []float64{4, 5, 6}, r.values)

	s := f.sumOut(2)
	assert.Equal(t, []int{0}, s.vars)
	assert.Equal(t, []float64{6, 15}, s.values)

	p := product(f, g, MaxFactorSize)
	require.NotNil(t, p)
	assert.Equal(t, []int{0, 2}, p.vars)
	assert.Equal(t, []float64{10, 40, 90, 40, 100, 180}, p.values)

	h := &factor{vars: []int{1}, cards: []int{2}, values: []float64{1, 2}}
	q := product(g, h, MaxFactorSize)
	assert.Equal(t, []int{1, 2}, q.vars)
	assert.Equal(t, []float64{10, 20, 30, 20, 40, 60}, q.values)

	perm := f.permute([]int{2, 0})
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, perm.values)

	assign, best := f.argmax()
	assert.Equal(t, []int{1, 2}, assign)
	assert.Equal(t, 6.0, best)

	assert.Nil(t, product(f, g, 5), "over the cell limit")
}

func TestHeuristicOrder(t *testing.T) {
	// star around 0 plus the chain 1-2: eliminating 0 first would connect 1,2,3
	scopes := [][]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}}

	order := heuristicOrder(4, []int{0, 1, 2, 3}, scopes, MinFill)
	assert.Equal(t, []int{1, 2, 0, 3}, order, "0 is deferred until it adds no fill")

	order = heuristicOrder(4, []int{0, 3}, scopes, MinDegree)
	assert.Equal(t, []int{3, 0}, order)
}

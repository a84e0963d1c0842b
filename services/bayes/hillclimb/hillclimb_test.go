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
	"testing"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"github.com/AleutianAI/bnlearn/services/bayes/internal/bntest"
	"github.com/AleutianAI/bnlearn/services/bayes/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLearn_RecoversDiamondSkeleton(t *testing.T) {
	data := bntest.Diamond(5000, 42)

	res, err := Learn(context.Background(), data, nil)
	require.NoError(t, err)
	require.NoError(t, res.DAG.Validate())
	assert.True(t, res.Converged)
	assert.GreaterOrEqual(t, res.Score, res.InitialScore)

	truth := bntest.DiamondGraph()
	for a := 0; a < 4; a++ {
		for b := a + 1; b < 4; b++ {
			assert.Equal(t, truth.Adjacent(a, b), res.DAG.Adjacent(a, b), "pair %d-%d", a, b)
		}
	}
}

func TestLearn_LocalOptimum(t *testing.T) {
	data := bntest.Diamond(1500, 8)
	ctx := context.Background()

	// slack absorbs floating-point noise between score-equivalent neighbours
	const slack = 1e-9

	tests := []struct {
		name      string
		epsilon   float64
		tolerance float64
	}{
		{name: "zero epsilon is a strict optimum", epsilon: 0, tolerance: slack},
		{name: "default epsilon leaves gains below it", epsilon: DefaultEpsilon, tolerance: DefaultEpsilon + slack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Epsilon = tt.epsilon
			res, err := Learn(ctx, data, opts)
			require.NoError(t, err)
			require.True(t, res.Converged)

			full, err := score.Score(ctx, res.DAG, data, nil)
			require.NoError(t, err)
			assert.InDelta(t, full, res.Score, slack)

			for _, g := range neighbours(res.DAG) {
				v, err := score.Score(ctx, g, data, nil)
				require.NoError(t, err)
				assert.LessOrEqual(t, v, full+tt.tolerance, "neighbour %s", g)
			}
		})
	}
}

// neighbours returns every legal single add, remove or reverse of g.
func neighbours(g *dag.Graph) []*dag.Graph {
	var out []*dag.Graph
	n := g.NumNodes()
	for from := 0; from < n; from++ {
		for to := 0; to < n; to++ {
			if from == to {
				continue
			}
			if h, err := g.AddEdge(from, to); err == nil {
				out = append(out, h)
			}
			if h, err := g.RemoveEdge(from, to); err == nil {
				out = append(out, h)
			}
			if h, err := g.ReverseEdge(from, to); err == nil {
				out = append(out, h)
			}
		}
	}
	return out
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 1e-4, opts.Epsilon)
	assert.Zero(t, opts.TabuLength)
	assert.Zero(t, opts.MaxIndegree)
	assert.Equal(t, DefaultMaxIterations, opts.MaxIterations)
	assert.Equal(t, score.BIC, opts.Score.Type)
}

func TestLearn_SeededIsDeterministic(t *testing.T) {
	data := bntest.Diamond(800, 4)

	run := func() *dag.Graph {
		opts := DefaultOptions()
		opts.Rand = NewRand(99)
		res, err := Learn(context.Background(), data, opts)
		require.NoError(t, err)
		return res.DAG
	}
	assert.True(t, run().Equal(run()))
}

func TestLearn_Constraints(t *testing.T) {
	data := bntest.Diamond(2000, 13)
	ctx := context.Background()

	t.Run("max indegree", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MaxIndegree = 1
		res, err := Learn(ctx, data, opts)
		require.NoError(t, err)
		for i := 0; i < res.DAG.NumNodes(); i++ {
			assert.LessOrEqual(t, len(res.DAG.Parents(i)), 1)
		}
	})

	t.Run("black list", func(t *testing.T) {
		opts := DefaultOptions()
		opts.BlackList = []dag.Edge{{From: 0, To: 1}, {From: 1, To: 0}}
		res, err := Learn(ctx, data, opts)
		require.NoError(t, err)
		assert.False(t, res.DAG.Adjacent(0, 1))
	})

	t.Run("fixed edges", func(t *testing.T) {
		opts := DefaultOptions()
		opts.FixedEdges = []dag.Edge{{From: 3, To: 0}}
		res, err := Learn(ctx, data, opts)
		require.NoError(t, err)
		assert.True(t, res.DAG.HasEdge(3, 0))
		require.NoError(t, res.DAG.Validate())
	})

	t.Run("iteration cap", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MaxIterations = 1
		res, err := Learn(ctx, data, opts)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Iterations)
		assert.Equal(t, 1, res.DAG.NumEdges())
		assert.False(t, res.Converged)
	})

	t.Run("tabu", func(t *testing.T) {
		opts := DefaultOptions()
		opts.TabuLength = 10
		res, err := Learn(ctx, data, opts)
		require.NoError(t, err)
		require.NoError(t, res.DAG.Validate())
		assert.GreaterOrEqual(t, res.Score, res.InitialScore)
	})

	t.Run("start graph", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Start = bntest.DiamondGraph()
		res, err := Learn(ctx, data, opts)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Score, res.InitialScore)
	})
}

func TestLearn_Rejects(t *testing.T) {
	data := bntest.Diamond(500, 1)
	ctx := context.Background()

	t.Run("start graph over other variables", func(t *testing.T) {
		start, err := dag.New([]string{"A", "B", "C", "E"})
		require.NoError(t, err)
		opts := DefaultOptions()
		opts.Start = start
		_, err = Learn(ctx, data, opts)
		assert.ErrorIs(t, err, bnerr.ErrStructure)
	})

	t.Run("fixed edge reversed in start graph", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Start = bntest.DiamondGraph()
		opts.FixedEdges = []dag.Edge{{From: 1, To: 0}}
		_, err := Learn(ctx, data, opts)
		assert.ErrorIs(t, err, bnerr.ErrStructure)
	})

	t.Run("fixed and black-listed", func(t *testing.T) {
		opts := DefaultOptions()
		opts.FixedEdges = []dag.Edge{{From: 0, To: 1}}
		opts.BlackList = []dag.Edge{{From: 0, To: 1}}
		_, err := Learn(ctx, data, opts)
		assert.ErrorIs(t, err, bnerr.ErrData)
	})

	t.Run("constant column", func(t *testing.T) {
		constant, err := dataset.New([]string{"a", "b"}, [][]string{{"x", "1"}, {"x", "2"}})
		require.NoError(t, err)
		_, err = Learn(ctx, constant, nil)
		assert.ErrorIs(t, err, bnerr.ErrData)
	})

	t.Run("unknown score", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Score = &score.Options{Type: "aic"}
		_, err := Learn(ctx, data, opts)
		assert.ErrorIs(t, err, bnerr.ErrData)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Learn(cctx, data, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRandomStart(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E"}
	g, err := RandomStart(names, NewRand(3), 0.8, 2)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	for i := 0; i < g.NumNodes(); i++ {
		assert.LessOrEqual(t, len(g.Parents(i)), 2)
	}

	again, err := RandomStart(names, NewRand(3), 0.8, 2)
	require.NoError(t, err)
	assert.True(t, g.Equal(again))
}

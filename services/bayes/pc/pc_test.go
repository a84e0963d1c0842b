// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pc

import (
	"context"
	"testing"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/citest"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/internal/bntest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLearn_Collider(t *testing.T) {
	data := bntest.Collider(3000, 5)
	opts := DefaultOptions()
	opts.Alpha = 0.01

	res, err := Learn(context.Background(), data, opts)
	require.NoError(t, err)

	// X→Z←Y is the only member of its equivalence class
	assert.True(t, res.DAG.HasEdge(0, 2))
	assert.True(t, res.DAG.HasEdge(1, 2))
	assert.Equal(t, 2, res.DAG.NumEdges())
	assert.True(t, res.Consistent)

	sep, ok := res.SepSet(1, 0)
	assert.True(t, ok)
	assert.Empty(t, sep)
}

func TestLearn_DiamondSkeleton(t *testing.T) {
	data := bntest.Diamond(5000, 21)

	for _, m := range []citest.Method{citest.ChiSquare, citest.GTest} {
		t.Run(string(m), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Alpha = 0.01
			opts.Method = m

			res, err := Learn(context.Background(), data, opts)
			require.NoError(t, err)
			require.NoError(t, res.DAG.Validate())
			assert.Equal(t, 2, res.MaxCondSize)

			truth := bntest.DiamondGraph()
			for a := 0; a < 4; a++ {
				for b := a + 1; b < 4; b++ {
					assert.Equal(t, truth.Adjacent(a, b), res.DAG.Adjacent(a, b), "pair %d-%d", a, b)
				}
			}
			// the collider at D is identifiable
			assert.True(t, res.PDAG.IsDirected(1, 3))
			assert.True(t, res.PDAG.IsDirected(2, 3))
			assert.Greater(t, res.Tests, 0)
		})
	}
}

func TestLearn_IndependentVariables(t *testing.T) {
	data := bntest.Independent(4, 4000, 9)
	opts := DefaultOptions()
	opts.Alpha = 0.001

	res, err := Learn(context.Background(), data, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, res.DAG.NumEdges())
}

func TestLearn_Rejects(t *testing.T) {
	t.Run("infeasible explicit conditioning size", func(t *testing.T) {
		data := bntest.Diamond(30, 1)
		opts := DefaultOptions()
		opts.MaxCondSize = 2

		_, err := Learn(context.Background(), data, opts)
		assert.ErrorIs(t, err, bnerr.ErrData)
	})

	t.Run("bad alpha", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Alpha = 2
		_, err := Learn(context.Background(), bntest.Diamond(100, 1), opts)
		assert.ErrorIs(t, err, bnerr.ErrData)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Learn(ctx, bntest.Diamond(500, 1), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 0.05, opts.Alpha)
	assert.Equal(t, citest.ChiSquare, opts.Method)
	assert.Equal(t, AutoCondSize, opts.MaxCondSize)
	assert.Equal(t, 4, MaxAutoCondSize)
}

func TestFeasibleCondSize(t *testing.T) {
	tests := []struct {
		rows int
		want int
	}{
		{10, -1},
		{20, 0},
		{39, 0},
		{40, 1},
		{80, 2},
		{5000, 2},
	}
	for _, tt := range tests {
		data := bntest.Diamond(tt.rows, 2)
		assert.Equal(t, tt.want, FeasibleCondSize(data), "rows=%d", tt.rows)
	}
}

func TestMeekRules(t *testing.T) {
	names := []string{"A", "B", "C", "D"}

	t.Run("R1", func(t *testing.T) {
		p := dag.NewEmptyPDAG(names)
		p.AddDirected(0, 1)
		p.AddUndirected(1, 2)
		applyMeek(p)
		assert.True(t, p.IsDirected(1, 2))
	})

	t.Run("R2", func(t *testing.T) {
		p := dag.NewEmptyPDAG(names)
		p.AddDirected(0, 1)
		p.AddDirected(1, 2)
		p.AddUndirected(0, 2)
		applyMeek(p)
		assert.True(t, p.IsDirected(0, 2))
	})

	t.Run("R3", func(t *testing.T) {
		p := dag.NewEmptyPDAG(names)
		p.AddUndirected(0, 1)
		p.AddUndirected(0, 2)
		p.AddUndirected(0, 3)
		p.AddDirected(1, 3)
		p.AddDirected(2, 3)
		applyMeek(p)
		assert.True(t, p.IsDirected(0, 3))
		assert.True(t, p.IsUndirected(0, 1))
	})
}

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
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/internal/bntest"
	"github.com/AleutianAI/bnlearn/services/bayes/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, withStore bool) *Service {
	t.Helper()
	cfg := DefaultServiceConfig()
	cfg.Workers = 2
	// throttling has its own test
	cfg.LearnRate = 0
	svc := NewService(cfg)
	if withStore {
		st, err := store.Open(store.InMemoryConfig())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		svc.WithStore(st)
	}
	return svc
}

func TestService_Learn(t *testing.T) {
	svc := newTestService(t, false)
	data := bntest.Diamond(5000, 42)
	truth := bntest.DiamondGraph()

	tests := []struct {
		name   string
		params LearnParams
		method string
	}{
		{name: "default is hill climbing", params: LearnParams{}, method: MethodHillClimb},
		{name: "pc", params: LearnParams{Method: "pc", Alpha: 0.01}, method: MethodPC},
		{name: "hill climbing with bdeu", params: LearnParams{Method: "hc", Score: "bdeu"}, method: MethodHillClimb},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Learn(context.Background(), data, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.method, resp.Method)
			require.NoError(t, resp.DAG.Validate())
			assert.Equal(t, 4, resp.DAG.NumNodes())
			assert.Equal(t, 5000, resp.Rows)
			assert.Less(t, resp.Score, 0.0)
			assert.True(t, resp.DAG.Adjacent(0, 1), "A-B dependence is strong")
			if tt.method == MethodHillClimb {
				for a := 0; a < 4; a++ {
					for b := a + 1; b < 4; b++ {
						assert.Equal(t, truth.Adjacent(a, b), resp.DAG.Adjacent(a, b), "pair %d-%d", a, b)
					}
				}
			} else {
				assert.NotNil(t, resp.PDAG)
				assert.Positive(t, resp.Tests)
			}
		})
	}
}

func TestService_LearnConstraints(t *testing.T) {
	svc := newTestService(t, false)
	data := bntest.Diamond(3000, 5)

	resp, err := svc.Learn(context.Background(), data, LearnParams{
		BlackList:  [][2]string{{"A", "B"}, {"B", "A"}},
		FixedEdges: [][2]string{{"A", "D"}},
	})
	require.NoError(t, err)
	assert.False(t, resp.DAG.Adjacent(0, 1))
	assert.True(t, resp.DAG.HasEdge(0, 3))

	_, err = svc.Learn(context.Background(), data, LearnParams{BlackList: [][2]string{{"A", "Z"}}})
	assert.ErrorIs(t, err, bnerr.ErrData)
}

func TestService_LearnRejects(t *testing.T) {
	svc := newTestService(t, false)
	data := bntest.Diamond(500, 1)
	ctx := context.Background()

	_, err := svc.Learn(ctx, data, LearnParams{Method: "annealing"})
	assert.ErrorIs(t, err, bnerr.ErrData)

	_, err = svc.Learn(ctx, data, LearnParams{Score: "aic"})
	assert.ErrorIs(t, err, bnerr.ErrData)

	_, err = svc.Learn(ctx, nil, LearnParams{})
	assert.ErrorIs(t, err, bnerr.ErrData)

	constant, err := svc.LoadData(DataPayload{
		Columns: []string{"X", "Y"},
		Rows:    [][]string{{"a", "1"}, {"a", "2"}, {"a", "1"}},
	})
	require.NoError(t, err)
	_, err = svc.Learn(ctx, constant, LearnParams{})
	assert.ErrorIs(t, err, bnerr.ErrData)
}

func TestService_Limits(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.MaxRows = 100
	cfg.MaxSamples = 3
	svc := NewService(cfg)
	ctx := context.Background()

	rows := make([][]string, 101)
	for i := range rows {
		rows[i] = []string{"0", "1"}
	}
	_, err := svc.LoadData(DataPayload{Columns: []string{"X", "Y"}, Rows: rows})
	assert.ErrorIs(t, err, ErrTooManyRows)

	_, err = svc.Learn(ctx, bntest.Diamond(200, 1), LearnParams{})
	assert.ErrorIs(t, err, ErrTooManyRows)

	_, err = svc.Sample(ctx, bntest.Diamond(100, 1), SampleParams{Samples: 4})
	assert.ErrorIs(t, err, ErrTooManySamples)
}

func TestService_LearnTimeout(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.LearnTimeout = time.Minute
	svc := NewService(cfg)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := svc.Learn(ctx, bntest.Diamond(2000, 4), LearnParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	code, _ := statusFor(err)
	assert.Equal(t, http.StatusGatewayTimeout, code)
}

func TestService_Sample(t *testing.T) {
	svc := newTestService(t, false)
	data := bntest.Diamond(2000, 3)
	seed := uint64(7)

	a, err := svc.Sample(context.Background(), data, SampleParams{Samples: 6, Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, 6, a.Samples)
	assert.Equal(t, seed, a.Seed)

	var runs atomic.Int32
	b, err := svc.Sample(context.Background(), data, SampleParams{
		Samples: 6, Seed: &seed, Workers: 1,
		OnRunComplete: func(done, total int) {
			runs.Add(1)
			assert.Equal(t, 6, total)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(6), runs.Load())
	for _, e := range a.Edges {
		assert.InDelta(t, e.Probability, b.Probability(e.A, e.B), 1e-12, "%s-%s", e.A, e.B)
	}

	_, err = svc.Sample(context.Background(), data, SampleParams{Mode: "jackknife"})
	assert.ErrorIs(t, err, bnerr.ErrData)
}

func TestService_FitAndQuery(t *testing.T) {
	svc := newTestService(t, true)
	ctx := context.Background()
	data := bntest.Diamond(3000, 11)

	// node order differs from the column order
	g, err := dag.FromNamedEdges([]string{"D", "C", "B", "A"}, [][2]string{
		{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"},
	})
	require.NoError(t, err)

	fit, err := svc.Fit(ctx, data, g, "diamond", FitParams{})
	require.NoError(t, err)
	require.NotEmpty(t, fit.ModelID)
	assert.Equal(t, 9, fit.NumParameters)
	assert.Equal(t, []string{"A", "B", "C", "D"}, fit.Network.Graph().Names())

	resp, err := svc.Query(ctx, fit.ModelID, QueryParams{
		Query:    []string{"D"},
		Evidence: map[string]string{"A": "1"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, resp.Probability("D", "0")+resp.Probability("D", "1"), 1e-9)
	assert.Greater(t, resp.Probability("D", "1"), 0.5)

	_, err = svc.Query(ctx, fit.ModelID, QueryParams{Query: []string{"A"}, Evidence: map[string]string{"A": "1"}})
	assert.ErrorIs(t, err, bnerr.ErrQuery)

	models, err := svc.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "diamond", models[0].Name)

	require.NoError(t, svc.DeleteModel(ctx, fit.ModelID))
	_, err = svc.Query(ctx, fit.ModelID, QueryParams{Query: []string{"D"}})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_FitRejects(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()
	data := bntest.Diamond(500, 2)

	other, err := dag.FromNamedEdges([]string{"A", "B", "C", "X"}, nil)
	require.NoError(t, err)
	_, err = svc.Fit(ctx, data, other, "", FitParams{})
	assert.ErrorIs(t, err, bnerr.ErrStructure)

	_, err = svc.Fit(ctx, data, bntest.DiamondGraph(), "", FitParams{Prior: "laplace"})
	assert.ErrorIs(t, err, bnerr.ErrData)

	_, err = svc.Fit(ctx, data, nil, "", FitParams{})
	assert.ErrorIs(t, err, bnerr.ErrStructure)

	_, err = svc.Fit(ctx, nil, bntest.DiamondGraph(), "", FitParams{})
	assert.ErrorIs(t, err, bnerr.ErrData)

	_, err = svc.Fit(ctx, data, bntest.DiamondGraph(), "diamond\x1b[2J", FitParams{})
	assert.ErrorIs(t, err, bnerr.ErrData)

	fit, err := svc.Fit(ctx, data, bntest.DiamondGraph(), "  diamond  ", FitParams{})
	require.NoError(t, err)
	assert.Equal(t, "diamond", fit.Name)
}

func TestService_WithoutStore(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()

	fit, err := svc.Fit(ctx, bntest.Diamond(500, 2), bntest.DiamondGraph(), "", FitParams{Prior: "bdeu"})
	require.NoError(t, err)
	assert.Empty(t, fit.ModelID)

	res, err := svc.QueryNetwork(ctx, fit.Network, QueryParams{Query: []string{"B", "C"}})
	require.NoError(t, err)
	require.NotNil(t, res.Joint)

	_, err = svc.ListModels(ctx)
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = svc.Query(ctx, "00000000-0000-0000-0000-000000000000", QueryParams{Query: []string{"A"}})
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"data", bnerr.Data("op", "bad"), http.StatusBadRequest},
		{"structure", bnerr.Structure("op", "cycle"), http.StatusUnprocessableEntity},
		{"parameter", bnerr.Parameter("op", "unseen"), http.StatusBadRequest},
		{"query", bnerr.Query("op", "bad"), http.StatusBadRequest},
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"invalid id", store.ErrInvalidID, http.StatusBadRequest},
		{"rows", ErrTooManyRows, http.StatusRequestEntityTooLarge},
		{"timeout", ErrLearnTimeout, http.StatusGatewayTimeout},
		{"no store", ErrNoStore, http.StatusServiceUnavailable},
		{"unknown", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := statusFor(tt.err)
			assert.Equal(t, tt.code, code)
		})
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EncodesDomains(t *testing.T) {
	d, err := New([]string{"size", "color"}, [][]string{
		{"10", "red"},
		{"2", "blue"},
		{"10", "green"},
		{"1", "red"},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, d.NumRows())
	assert.Equal(t, 2, d.NumVars())
	assert.Equal(t, []string{"1", "2", "10"}, d.Variable(0).States, "numeric domains sort numerically")
	assert.Equal(t, []string{"blue", "green", "red"}, d.Variable(1).States)
	assert.Equal(t, []int{2, 1, 2, 0}, d.Column(0))
	assert.Equal(t, []int{2, 0, 1, 2}, d.Column(1))

	idx, ok := d.Index("color")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	code, ok := d.Variable(1).StateIndex("green")
	assert.True(t, ok)
	assert.Equal(t, 1, code)
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		records [][]string
	}{
		{"no columns", nil, nil},
		{"duplicate", []string{"a", "a"}, nil},
		{"empty name", []string{""}, nil},
		{"ragged", []string{"a", "b"}, [][]string{{"1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.names, tt.records)
			assert.ErrorIs(t, err, bnerr.ErrData)
		})
	}
}

func TestNewEncoded_ValidatesCodes(t *testing.T) {
	vars := []Variable{{Name: "A", States: []string{"0", "1"}}}
	_, err := NewEncoded(vars, [][]int{{0, 1, 2}})
	assert.ErrorIs(t, err, bnerr.ErrData)

	d, err := NewEncoded(vars, [][]int{{0, 1, 1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0 / 3, 2.0 / 3}, d.Marginal(0))
}

func TestCheckLearnable(t *testing.T) {
	empty, err := New([]string{"a"}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, empty.CheckLearnable(), bnerr.ErrData)

	constant, err := New([]string{"a", "b"}, [][]string{{"x", "1"}, {"x", "2"}})
	require.NoError(t, err)
	err = constant.CheckLearnable()
	assert.ErrorIs(t, err, bnerr.ErrData)
	assert.Contains(t, err.Error(), `"a"`)

	ok, err := New([]string{"a"}, [][]string{{"x"}, {"y"}})
	require.NoError(t, err)
	assert.NoError(t, ok.CheckLearnable())
}

func TestCount(t *testing.T) {
	// child C, parents A (2 states), B (3 states)
	vars := []Variable{
		{Name: "A", States: []string{"0", "1"}},
		{Name: "B", States: []string{"0", "1", "2"}},
		{Name: "C", States: []string{"0", "1"}},
	}
	d, err := NewEncoded(vars, [][]int{
		{0, 0, 1, 1, 1},
		{2, 2, 0, 0, 1},
		{0, 1, 1, 1, 0},
	})
	require.NoError(t, err)

	c, err := d.Count(2, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 6, c.NumConfigs)
	// configs: A=0,B=2 -> 2 ; A=1,B=0 -> 3 ; A=1,B=1 -> 4
	assert.Equal(t, []int{2, 3, 4}, c.Configs)
	assert.Equal(t, [][]int{{1, 1}, {0, 2}, {1, 0}}, c.Rows)
	assert.Equal(t, 2, c.RowTotal(1))
	assert.Equal(t, []int{0, 2}, c.Row(3))
	assert.Nil(t, c.Row(0))
	assert.Equal(t, []int{1, 1}, DecodeConfig(4, []int{2, 3}))

	none, err := d.Count(2, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, none.NumConfigs)
	assert.Equal(t, [][]int{{2, 3}}, none.Rows)
}

func TestBootstrap_KeepsDomainsAndSize(t *testing.T) {
	d, err := New([]string{"a"}, [][]string{{"x"}, {"y"}, {"z"}, {"x"}})
	require.NoError(t, err)

	b1 := d.Bootstrap(rand.New(rand.NewPCG(1, 2)))
	b2 := d.Bootstrap(rand.New(rand.NewPCG(1, 2)))
	assert.Equal(t, d.NumRows(), b1.NumRows())
	assert.Equal(t, d.Variables(), b1.Variables())
	assert.Equal(t, b1.Column(0), b2.Column(0), "same seed, same resample")
}

func TestLoadCSV(t *testing.T) {
	src := "A, B\n1,x\n0,y\n1,\n0 ,x\n"
	d, err := LoadCSV(strings.NewReader(src), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, d.Names())
	assert.Equal(t, 3, d.NumRows(), "incomplete row dropped")
	assert.Equal(t, [][]string{{"1", "x"}, {"0", "y"}, {"0", "x"}}, d.Records())

	kept, err := LoadCSV(strings.NewReader(src), &CSVOptions{KeepIncomplete: true})
	require.NoError(t, err)
	assert.Equal(t, 4, kept.NumRows())

	_, err = LoadCSV(strings.NewReader(""), nil)
	assert.ErrorIs(t, err, bnerr.ErrData)
}

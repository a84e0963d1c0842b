// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package citest implements conditional independence tests on discrete data.
//
// Both tests build an X×Y contingency table per joint assignment of the
// conditioning set Z (a stratum) and sum the per-stratum statistics.
//
// # Degenerate Strata
//
// Within a stratum, rows and columns whose marginal is zero are dropped; the
// stratum then contributes (r'−1)(c'−1) degrees of freedom for the r'×c'
// table that remains. Unobserved strata contribute nothing. When the total
// degrees of freedom is zero the data cannot refute independence, and the
// result is reported as independent with p = 1.
package citest

import (
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"gonum.org/v1/gonum/stat/distuv"
)

// Method names an independence test.
type Method string

const (
	// ChiSquare is Pearson's chi-squared test.
	ChiSquare Method = "chi_square"

	// GTest is the log-likelihood ratio test.
	GTest Method = "g_test"
)

// DefaultAlpha is the default significance level.
const DefaultAlpha = 0.05

// ParseMethod resolves a test name. Empty selects ChiSquare.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case ChiSquare, GTest:
		return m, nil
	case "", "chi2", "chisq":
		return ChiSquare, nil
	case "g", "gtest", "g-test", "log_likelihood":
		return GTest, nil
	default:
		return "", bnerr.Data("citest.ParseMethod", "invalid independence test %q", s)
	}
}

// Result is the outcome of one test.
type Result struct {
	// Independent is true when PValue >= alpha.
	Independent bool

	// Statistic is the summed test statistic.
	Statistic float64

	// PValue is the chi-squared survival probability of Statistic.
	PValue float64

	// DOF is the summed degrees of freedom.
	DOF int
}

// Tester runs tests of one method over one dataset.
//
// Thread Safety: Safe for concurrent use.
type Tester struct {
	data   *dataset.Dataset
	method Method
	alpha  float64
}

// New returns a Tester.
//
// Inputs:
//
//	data - Test data. Must not be nil.
//	method - Test method.
//	alpha - Significance level in (0, 1).
//
// Outputs:
//
//	*Tester - The tester.
//	error - KindData for an unknown method or alpha outside (0, 1).
func New(data *dataset.Dataset, method Method, alpha float64) (*Tester, error) {
	m, err := ParseMethod(string(method))
	if err != nil {
		return nil, err
	}
	if !(alpha > 0 && alpha < 1) {
		return nil, bnerr.Data("citest.New", "significance level %v outside (0, 1)", alpha)
	}
	if data == nil {
		return nil, bnerr.Data("citest.New", "nil dataset")
	}
	return &Tester{data: data, method: m, alpha: alpha}, nil
}

// Method returns the test method.
func (t *Tester) Method() Method { return t.method }

// Alpha returns the significance level.
func (t *Tester) Alpha() float64 { return t.alpha }

// Test decides whether x ⫫ y | z.
//
// Inputs:
//
//	x, y - Column indices. Must differ.
//	z - Conditioning column indices, possibly empty. Must not contain x or y.
//
// Outputs:
//
//	Result - The decision and statistics.
//	error - KindData if z has too many joint configurations to index.
//
// Complexity: O(N·|z| + S·|X|·|Y|) for S observed strata.
func (t *Tester) Test(x, y int, z []int) (Result, error) {
	d := t.data
	if _, err := d.NumConfigs(z); err != nil {
		return Result{}, err
	}
	rx, ry := d.Cardinality(x), d.Cardinality(y)
	strata := make(map[int][]int)
	cfgs := d.ConfigIndices(z)
	xs, ys := d.Column(x), d.Column(y)
	for row, cfg := range cfgs {
		tab, ok := strata[cfg]
		if !ok {
			tab = make([]int, rx*ry)
			strata[cfg] = tab
		}
		tab[xs[row]*ry+ys[row]]++
	}

	stat := 0.0
	dof := 0
	rowSum := make([]int, rx)
	colSum := make([]int, ry)
	keys := make([]int, 0, len(strata))
	for k := range strata {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, key := range keys {
		s, k := t.stratum(strata[key], rx, ry, rowSum, colSum)
		stat += s
		dof += k
	}

	if dof == 0 {
		return Result{Independent: true, Statistic: stat, PValue: 1, DOF: 0}, nil
	}
	p := distuv.ChiSquared{K: float64(dof)}.Survival(stat)
	if math.IsNaN(p) {
		p = 1
	}
	return Result{Independent: p >= t.alpha, Statistic: stat, PValue: p, DOF: dof}, nil
}

// stratum returns the statistic and degrees of freedom of one table.
func (t *Tester) stratum(tab []int, rx, ry int, rowSum, colSum []int) (float64, int) {
	for i := range rowSum {
		rowSum[i] = 0
	}
	for j := range colSum {
		colSum[j] = 0
	}
	n := 0
	for i := 0; i < rx; i++ {
		for j := 0; j < ry; j++ {
			c := tab[i*ry+j]
			rowSum[i] += c
			colSum[j] += c
			n += c
		}
	}
	if n == 0 {
		return 0, 0
	}
	nr, nc := 0, 0
	for _, v := range rowSum {
		if v > 0 {
			nr++
		}
	}
	for _, v := range colSum {
		if v > 0 {
			nc++
		}
	}
	if nr < 2 || nc < 2 {
		return 0, 0
	}

	fn := float64(n)
	stat := 0.0
	for i := 0; i < rx; i++ {
		if rowSum[i] == 0 {
			continue
		}
		for j := 0; j < ry; j++ {
			if colSum[j] == 0 {
				continue
			}
			e := float64(rowSum[i]) * float64(colSum[j]) / fn
			o := float64(tab[i*ry+j])
			switch t.method {
			case GTest:
				if o > 0 {
					stat += 2 * o * math.Log(o/e)
				}
			default:
				diff := o - e
				stat += diff * diff / e
			}
		}
	}
	return stat, (nr - 1) * (nc - 1)
}

// Test is a one-shot convenience around New and Tester.Test.
func Test(data *dataset.Dataset, x, y int, z []int, method Method, alpha float64) (Result, error) {
	t, err := New(data, method, alpha)
	if err != nil {
		return Result{}, err
	}
	return t.Test(x, y, z)
}

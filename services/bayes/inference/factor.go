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
	"sort"

	"github.com/AleutianAI/bnlearn/services/bayes/params"
)

// factor is a non-negative table over a set of network variables.
//
// vars holds node indices in ascending order; values is indexed in
// mixed radix over vars with the last variable varying fastest. A factor
// with no variables holds a single constant.
type factor struct {
	vars   []int
	cards  []int
	values []float64
}

func (f *factor) size() int {
	return len(f.values)
}

func (f *factor) position(v int) int {
	i := sort.SearchInts(f.vars, v)
	if i < len(f.vars) && f.vars[i] == v {
		return i
	}
	return -1
}

func (f *factor) has(v int) bool {
	return f.position(v) >= 0
}

// strides returns the index step of each variable.
func strides(cards []int) []int {
	s := make([]int, len(cards))
	step := 1
	for i := len(cards) - 1; i >= 0; i-- {
		s[i] = step
		step *= cards[i]
	}
	return s
}

// tableSize returns the product of cards, or -1 when it exceeds limit.
func tableSize(cards []int, limit int) int {
	n := 1
	for _, c := range cards {
		if c > 0 && n > limit/c {
			return -1
		}
		n *= c
	}
	return n
}

// advance steps a last-fastest odometer, wrapping to all zeros.
func advance(assign, cards []int) {
	for i := len(assign) - 1; i >= 0; i-- {
		assign[i]++
		if assign[i] < cards[i] {
			return
		}
		assign[i] = 0
	}
}

// cptFactor builds the factor P(node | parents) for node i.
func cptFactor(net *params.Network, i int) *factor {
	parents := net.Graph().Parents(i)
	cpt := net.CPT(i)

	vars := make([]int, 0, len(parents)+1)
	vars = append(vars, parents...)
	vars = append(vars, i)
	sort.Ints(vars)
	cards := make([]int, len(vars))
	for k, v := range vars {
		cards[k] = net.Variable(v).Cardinality()
	}

	// map each parent (in CPT order) and the child to its factor position
	parentPos := make([]int, len(parents))
	for k, p := range parents {
		parentPos[k] = sort.SearchInts(vars, p)
	}
	childPos := sort.SearchInts(vars, i)

	f := &factor{vars: vars, cards: cards, values: make([]float64, tableSize(cards, int(^uint(0)>>1)))}
	assign := make([]int, len(vars))
	for idx := range f.values {
		cfg := 0
		for k, pos := range parentPos {
			cfg = cfg*cpt.ParentCards[k] + assign[pos]
		}
		f.values[idx] = cpt.Prob(assign[childPos], cfg)
		advance(assign, cards)
	}
	return f
}

// restrict fixes v to value and drops it from the scope.
func (f *factor) restrict(v, value int) *factor {
	pos := f.position(v)
	if pos < 0 {
		return f
	}
	st := strides(f.cards)
	vars := make([]int, 0, len(f.vars)-1)
	cards := make([]int, 0, len(f.cards)-1)
	keep := make([]int, 0, len(f.vars)-1)
	for k := range f.vars {
		if k == pos {
			continue
		}
		vars = append(vars, f.vars[k])
		cards = append(cards, f.cards[k])
		keep = append(keep, k)
	}

	out := &factor{vars: vars, cards: cards, values: make([]float64, f.size()/f.cards[pos])}
	assign := make([]int, len(vars))
	base := value * st[pos]
	for idx := range out.values {
		src := base
		for k, from := range keep {
			src += assign[k] * st[from]
		}
		out.values[idx] = f.values[src]
		advance(assign, cards)
	}
	return out
}

// product multiplies a and b. It returns nil when the result would exceed limit cells.
func product(a, b *factor, limit int) *factor {
	vars := make([]int, 0, len(a.vars)+len(b.vars))
	cards := make([]int, 0, len(a.vars)+len(b.vars))
	i, j := 0, 0
	for i < len(a.vars) || j < len(b.vars) {
		switch {
		case j >= len(b.vars) || (i < len(a.vars) && a.vars[i] < b.vars[j]):
			vars = append(vars, a.vars[i])
			cards = append(cards, a.cards[i])
			i++
		case i >= len(a.vars) || b.vars[j] < a.vars[i]:
			vars = append(vars, b.vars[j])
			cards = append(cards, b.cards[j])
			j++
		default:
			vars = append(vars, a.vars[i])
			cards = append(cards, a.cards[i])
			i++
			j++
		}
	}
	n := tableSize(cards, limit)
	if n < 0 {
		return nil
	}

	sa := projectStrides(vars, a)
	sb := projectStrides(vars, b)
	out := &factor{vars: vars, cards: cards, values: make([]float64, n)}
	assign := make([]int, len(vars))
	for idx := range out.values {
		ia, ib := 0, 0
		for k, x := range assign {
			ia += x * sa[k]
			ib += x * sb[k]
		}
		out.values[idx] = a.values[ia] * b.values[ib]
		advance(assign, cards)
	}
	return out
}

// projectStrides gives, for each variable in vars, its stride in f or 0.
func projectStrides(vars []int, f *factor) []int {
	st := strides(f.cards)
	out := make([]int, len(vars))
	for k, v := range vars {
		if pos := f.position(v); pos >= 0 {
			out[k] = st[pos]
		}
	}
	return out
}

// sumOut marginalizes v away.
func (f *factor) sumOut(v int) *factor {
	pos := f.position(v)
	if pos < 0 {
		return f
	}
	out := f.restrict(v, 0)
	for value := 1; value < f.cards[pos]; value++ {
		slice := f.restrict(v, value)
		for k, x := range slice.values {
			out.values[k] += x
		}
	}
	return out
}

func (f *factor) total() float64 {
	sum := 0.0
	for _, x := range f.values {
		sum += x
	}
	return sum
}

// permute reorders the scope to order, which must be a permutation of vars.
// The result no longer keeps vars ascending and must only be read.
func (f *factor) permute(order []int) *factor {
	st := strides(f.cards)
	cards := make([]int, len(order))
	from := make([]int, len(order))
	for k, v := range order {
		pos := f.position(v)
		cards[k] = f.cards[pos]
		from[k] = st[pos]
	}
	out := &factor{vars: append([]int(nil), order...), cards: cards, values: make([]float64, f.size())}
	assign := make([]int, len(order))
	for idx := range out.values {
		src := 0
		for k, x := range assign {
			src += x * from[k]
		}
		out.values[idx] = f.values[src]
		advance(assign, cards)
	}
	return out
}

// argmax returns the first maximizing assignment, in scope order.
func (f *factor) argmax() ([]int, float64) {
	best := 0
	for idx, x := range f.values {
		if x > f.values[best] {
			best = idx
		}
	}
	assign := make([]int, len(f.cards))
	rest := best
	for k := len(f.cards) - 1; k >= 0; k-- {
		assign[k] = rest % f.cards[k]
		rest /= f.cards[k]
	}
	return assign, f.values[best]
}

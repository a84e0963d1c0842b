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
	"strings"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
)

// Ordering names an elimination-order heuristic.
type Ordering string

const (
	// MinFill eliminates the variable adding the fewest fill-in edges.
	MinFill Ordering = "min_fill"

	// MinDegree eliminates the variable with the fewest neighbours.
	MinDegree Ordering = "min_degree"
)

// ParseOrdering resolves a heuristic name. Empty selects MinFill.
func ParseOrdering(s string) (Ordering, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "min_fill", "minfill":
		return MinFill, nil
	case "min_degree", "mindegree":
		return MinDegree, nil
	default:
		return "", bnerr.Query("inference.ParseOrdering", "invalid elimination ordering %q", s)
	}
}

// heuristicOrder greedily orders hidden over the interaction graph of scopes.
//
// Ties go to the lowest node index.
func heuristicOrder(n int, hidden []int, scopes [][]int, how Ordering) []int {
	adj := make([]map[int]bool, n)
	for i := range adj {
		adj[i] = make(map[int]bool)
	}
	for _, s := range scopes {
		for a := 0; a < len(s); a++ {
			for b := a + 1; b < len(s); b++ {
				adj[s[a]][s[b]] = true
				adj[s[b]][s[a]] = true
			}
		}
	}

	remaining := append([]int(nil), hidden...)
	sort.Ints(remaining)
	order := make([]int, 0, len(remaining))
	for len(remaining) > 0 {
		best, bestCost := 0, -1
		for k, v := range remaining {
			var cost int
			if how == MinDegree {
				cost = len(adj[v])
			} else {
				cost = fillIn(adj, v)
			}
			if bestCost < 0 || cost < bestCost {
				best, bestCost = k, cost
			}
		}
		v := remaining[best]
		order = append(order, v)
		remaining = append(remaining[:best], remaining[best+1:]...)

		nbrs := sortedKeys(adj[v])
		for a := 0; a < len(nbrs); a++ {
			for b := a + 1; b < len(nbrs); b++ {
				adj[nbrs[a]][nbrs[b]] = true
				adj[nbrs[b]][nbrs[a]] = true
			}
		}
		for _, u := range nbrs {
			delete(adj[u], v)
		}
		adj[v] = nil
	}
	return order
}

// fillIn counts the neighbour pairs of v that are not yet adjacent.
func fillIn(adj []map[int]bool, v int) int {
	nbrs := sortedKeys(adj[v])
	missing := 0
	for a := 0; a < len(nbrs); a++ {
		for b := a + 1; b < len(nbrs); b++ {
			if !adj[nbrs[a]][nbrs[b]] {
				missing++
			}
		}
	}
	return missing
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

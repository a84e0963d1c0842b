// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hillclimb implements score-based structure learning by greedy
// local search over DAGs.
//
// # Operations
//
// From the current graph every legal single-edge change is considered, in
// this fixed enumeration order:
//
//   - add from → to, by (from, to)
//   - remove from → to, by (from, to)
//   - reverse from → to, by (from, to)
//
// Each change is scored through the decomposable local-score delta, so a step
// touches at most two local scores. The graph is immutable: applying an
// operation yields a new dag.Graph.
//
// # Ties
//
// Deltas within a relative 1e-9 of the best are ties. Without a random source
// the first tied operation wins; with one, a tied operation is drawn uniformly.
//
// # Termination
//
// Every applied operation raises the score by more than Epsilon and the DAG
// space is finite, so the search ends. MaxIterations and TimeBudget cap it
// earlier; the result then reports Converged=false.
package hillclimb

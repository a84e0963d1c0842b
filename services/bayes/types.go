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
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/ensemble"
	"github.com/AleutianAI/bnlearn/services/bayes/evaluate"
	"github.com/AleutianAI/bnlearn/services/bayes/inference"
	"github.com/AleutianAI/bnlearn/services/bayes/params"
	"github.com/AleutianAI/bnlearn/services/bayes/store"
)

// =============================================================================
// PARAMETERS
// =============================================================================

// LearnParams selects and configures a structure learner.
//
// Zero values select the package defaults, so an empty LearnParams runs
// hill climbing with BIC from the empty graph.
type LearnParams struct {
	// Method is "pc" or "hill_climb". Default: hill_climb.
	Method string `json:"method,omitempty" yaml:"method" validate:"omitempty,oneof=pc hill_climb hc"`

	// Alpha is the PC significance level. Default: 0.05.
	Alpha float64 `json:"alpha,omitempty" yaml:"alpha" validate:"omitempty,gt=0,lt=1"`

	// CITest is the PC independence test: chi_square or g_test.
	CITest string `json:"ci_test,omitempty" yaml:"ci_test"`

	// MaxCondSize bounds PC conditioning sets. Nil picks it from the data.
	MaxCondSize *int `json:"max_cond_size,omitempty" yaml:"max_cond_size"`

	// Score is the hill-climbing score: bic, bdeu (alias bde) or k2. PC reports the
	// final structure under it. Default: bic.
	Score string `json:"score,omitempty" yaml:"score"`

	// EquivalentSampleSize is the BDeu prior strength. Default: 10.
	EquivalentSampleSize float64 `json:"equivalent_sample_size,omitempty" yaml:"equivalent_sample_size"`

	// MaxIndegree bounds parents per node. 0 means unbounded.
	MaxIndegree int `json:"max_indegree,omitempty" yaml:"max_indegree" validate:"gte=0"`

	// MaxIterations bounds hill-climbing steps. Default: 1e6.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations" validate:"gte=0"`

	// Epsilon is the minimum improvement per step. Nil uses 1e-4.
	Epsilon *float64 `json:"epsilon,omitempty" yaml:"epsilon"`

	// TabuLength forbids undoing the most recent operations.
	TabuLength int `json:"tabu_length,omitempty" yaml:"tabu_length" validate:"gte=0"`

	// Seed enables random tie-breaking. Nil breaks ties deterministically.
	Seed *uint64 `json:"seed,omitempty" yaml:"seed"`

	// BlackList lists [from, to] edges that may never be added.
	BlackList [][2]string `json:"black_list,omitempty" yaml:"black_list"`

	// FixedEdges lists [from, to] edges that are always present.
	FixedEdges [][2]string `json:"fixed_edges,omitempty" yaml:"fixed_edges"`

	// TimeBudgetMs stops hill climbing early when positive.
	TimeBudgetMs int64 `json:"time_budget_ms,omitempty" yaml:"time_budget_ms" validate:"gte=0"`
}

// SampleParams configures an ensemble run.
type SampleParams struct {
	// Samples is the number of hill-climbing runs. Default: 20.
	Samples int `json:"samples,omitempty" yaml:"samples" validate:"gte=0"`

	// Seed makes the ensemble reproducible. Default: 42.
	Seed *uint64 `json:"seed,omitempty" yaml:"seed"`

	// Mode is bootstrap, restart or tiebreak. Default: bootstrap.
	Mode string `json:"mode,omitempty" yaml:"mode"`

	// Workers bounds concurrent runs. 0 uses the service default.
	Workers int `json:"workers,omitempty" yaml:"workers" validate:"gte=0"`

	// HillClimb configures every run. Its Method and Seed are ignored.
	HillClimb LearnParams `json:"hill_climb" yaml:"hill_climb"`

	// OnRunComplete reports progress to in-process callers such as the CLI.
	// See ensemble.Options.OnRunComplete.
	OnRunComplete func(done, total int) `json:"-" yaml:"-"`
}

// FitParams configures parameter estimation.
type FitParams struct {
	// Prior is none, bdeu or k2. Default: none.
	Prior string `json:"prior,omitempty" yaml:"prior"`

	// Unseen is uniform or fail. Default: uniform.
	Unseen string `json:"unseen,omitempty" yaml:"unseen"`

	// EquivalentSampleSize is the BDeu prior strength. Default: 10.
	EquivalentSampleSize float64 `json:"equivalent_sample_size,omitempty" yaml:"equivalent_sample_size"`
}

// QueryParams describes one inference query.
type QueryParams struct {
	// Query lists the variables whose posterior is requested.
	Query []string `json:"query" binding:"required,min=1"`

	// Evidence maps observed variables to their states.
	Evidence map[string]string `json:"evidence,omitempty"`

	// Ordering is the elimination heuristic: min_fill or min_degree.
	Ordering string `json:"ordering,omitempty"`

	// EliminationOrder fixes the elimination order by name.
	EliminationOrder []string `json:"elimination_order,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// DataPayload is an inline dataset: a header and string-valued rows.
type DataPayload struct {
	// Columns names the variables.
	Columns []string `json:"columns" binding:"required,min=1"`

	// Rows holds one cell per column.
	Rows [][]string `json:"rows" binding:"required,min=1"`
}

// LearnRequest is the request body for POST /v1/bayes/learn.
type LearnRequest struct {
	Data DataPayload `json:"data" binding:"required"`
	LearnParams
}

// SampleRequest is the request body for POST /v1/bayes/sample.
type SampleRequest struct {
	Data DataPayload `json:"data" binding:"required"`
	SampleParams
}

// FitRequest is the request body for POST /v1/bayes/fit.
type FitRequest struct {
	Data DataPayload `json:"data" binding:"required"`

	// Graph is the structure to parameterize.
	Graph *dag.Graph `json:"graph" binding:"required"`

	// Name labels the stored model.
	Name string `json:"name,omitempty" binding:"max=128"`

	FitParams
}

// QueryRequest is the request body for POST /v1/bayes/query.
type QueryRequest struct {
	// ModelID is the id returned by POST /v1/bayes/fit.
	ModelID string `json:"model_id" binding:"required"`

	QueryParams
}

// EvaluateRequest is the request body for POST /v1/bayes/evaluate.
type EvaluateRequest struct {
	Learned   *dag.Graph `json:"learned" binding:"required"`
	Reference *dag.Graph `json:"reference" binding:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// LearnResponse is the response for POST /v1/bayes/learn.
type LearnResponse struct {
	// Method is the learner that ran.
	Method string `json:"method"`

	// DAG is the learned structure.
	DAG *dag.Graph `json:"dag"`

	// PDAG is the oriented pattern PC extended into DAG.
	PDAG *dag.PDAG `json:"pdag,omitempty"`

	// Consistent is false when PC fell back to orienting by variable order.
	Consistent bool `json:"consistent"`

	// Score is the total score of DAG under ScoreType.
	Score     float64 `json:"score"`
	ScoreType string  `json:"score_type"`

	// Iterations counts hill-climbing steps. Tests counts PC independence tests.
	Iterations int  `json:"iterations,omitempty"`
	Tests      int  `json:"tests,omitempty"`
	Converged  bool `json:"converged"`

	Rows       int   `json:"rows"`
	DurationMs int64 `json:"duration_ms"`
}

// SampleResponse is the response for POST /v1/bayes/sample.
type SampleResponse struct {
	*ensemble.Result
}

// FitResponse is the response for POST /v1/bayes/fit.
type FitResponse struct {
	// ModelID identifies the stored network. Empty when no store is configured.
	ModelID string `json:"model_id,omitempty"`

	Name          string          `json:"name,omitempty"`
	Rows          int             `json:"rows"`
	NumParameters int             `json:"num_parameters"`
	Network       *params.Network `json:"network"`
	DurationMs    int64           `json:"duration_ms"`
}

// QueryResponse is the response for POST /v1/bayes/query.
type QueryResponse struct {
	ModelID string `json:"model_id,omitempty"`
	*inference.Result
	DurationMs int64 `json:"duration_ms"`
}

// ModelListResponse is the response for GET /v1/bayes/models.
type ModelListResponse struct {
	Models []store.Summary `json:"models"`
}

// EvaluateResponse is the response for POST /v1/bayes/evaluate.
type EvaluateResponse struct {
	*evaluate.Comparison
}

// HealthResponse is the response for GET /v1/bayes/health.
type HealthResponse struct {
	// Status is "healthy" or "degraded".
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	// Store reports whether a model store is attached.
	Store bool `json:"store"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bayes exposes structure learning, parameter fitting and inference
// as a service.
//
// Service wraps the algorithm packages with request limits, timeouts,
// tracing, metrics and an optional model store. Handlers serve it over HTTP
// and cmd/bnlearn drives it from the command line.
package bayes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/AleutianAI/bnlearn/pkg/validation"
	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"github.com/AleutianAI/bnlearn/services/bayes/ensemble"
	"github.com/AleutianAI/bnlearn/services/bayes/evaluate"
	"github.com/AleutianAI/bnlearn/services/bayes/hillclimb"
	"github.com/AleutianAI/bnlearn/services/bayes/inference"
	"github.com/AleutianAI/bnlearn/services/bayes/params"
	"github.com/AleutianAI/bnlearn/services/bayes/pc"
	"github.com/AleutianAI/bnlearn/services/bayes/score"
	"github.com/AleutianAI/bnlearn/services/bayes/store"
	"github.com/AleutianAI/bnlearn/services/bayes/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ServiceVersion is the Bayes service version.
const ServiceVersion = "0.1.0"

// DefaultSeed seeds ensembles that do not name a seed.
const DefaultSeed uint64 = 42

var tracer = otel.Tracer("bayes.service")

// ServiceConfig configures the Bayes service.
type ServiceConfig struct {
	// MaxRows bounds the rows of any dataset. 0 disables the limit.
	MaxRows int `yaml:"max_rows" validate:"gte=0"`

	// MaxSamples bounds ensemble size. 0 disables the limit.
	MaxSamples int `yaml:"max_samples" validate:"gte=0"`

	// LearnTimeout bounds a single learn or sample call. 0 disables it.
	LearnTimeout time.Duration `yaml:"learn_timeout" validate:"gte=0"`

	// Workers is the default ensemble parallelism.
	Workers int `yaml:"workers" validate:"gte=0"`

	// LearnRate is the sustained rate of learn and sample requests per
	// second accepted over HTTP. 0 disables throttling.
	LearnRate float64 `yaml:"learn_rate" validate:"gte=0"`

	// LearnBurst is the number of learning requests admitted at once.
	LearnBurst int `yaml:"learn_burst" validate:"gte=0"`
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxRows:      1_000_000,
		MaxSamples:   500,
		LearnTimeout: 5 * time.Minute,
		Workers:      runtime.GOMAXPROCS(0),
		LearnRate:    2,
		LearnBurst:   4,
	}
}

// Service is the Bayes service.
//
// Thread Safety:
//
//	Service is safe for concurrent use. It holds no per-request state; the
//	store and metrics it carries are themselves concurrency safe.
type Service struct {
	config  ServiceConfig
	store   *store.Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewService creates a service without a model store.
func NewService(config ServiceConfig) *Service {
	return &Service{config: config, logger: slog.Default()}
}

// WithStore attaches the model store used by Fit, Query and the model
// operations.
func (s *Service) WithStore(st *store.Store) *Service {
	s.store = st
	return s
}

// WithMetrics attaches metric instruments.
func (s *Service) WithMetrics(m *telemetry.Metrics) *Service {
	s.metrics = m
	return s
}

// WithLogger replaces the default logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Config returns the service configuration.
func (s *Service) Config() ServiceConfig {
	return s.config
}

// HasStore reports whether a model store is attached.
func (s *Service) HasStore() bool {
	return s.store != nil
}

// =============================================================================
// DATA
// =============================================================================

// LoadData encodes an inline dataset and checks the row limit.
func (s *Service) LoadData(payload DataPayload) (*dataset.Dataset, error) {
	if s.config.MaxRows > 0 && len(payload.Rows) > s.config.MaxRows {
		return nil, fmt.Errorf("%w: %d rows, limit %d", ErrTooManyRows, len(payload.Rows), s.config.MaxRows)
	}
	return dataset.New(payload.Columns, payload.Rows)
}

func (s *Service) checkRows(data *dataset.Dataset) error {
	if s.config.MaxRows > 0 && data.NumRows() > s.config.MaxRows {
		return fmt.Errorf("%w: %d rows, limit %d", ErrTooManyRows, data.NumRows(), s.config.MaxRows)
	}
	return nil
}

// =============================================================================
// STRUCTURE LEARNING
// =============================================================================

// Learn learns one structure from data.
//
// Description:
//
//	Runs PC or hill climbing as p.Method selects, then scores the result
//	under p.Score so both learners report a comparable number. The call is
//	bounded by ServiceConfig.LearnTimeout.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	data - Fully observed learning data.
//	p - Learner selection and options.
//
// Outputs:
//
//	*LearnResponse - The structure and run statistics.
//	error - A bnerr kind for bad input, ErrTooManyRows, or ErrLearnTimeout.
func (s *Service) Learn(ctx context.Context, data *dataset.Dataset, p LearnParams) (*LearnResponse, error) {
	const op = "bayes.Service.Learn"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	start := time.Now()

	method, err := ParseMethod(p.Method)
	if err != nil {
		return nil, s.fail(ctx, span, op, err)
	}
	span.SetAttributes(attribute.String("method", method))

	resp, err := s.learn(ctx, data, method, p)
	if s.metrics != nil {
		s.metrics.RecordLearn(ctx, method, time.Since(start), err)
	}
	if err != nil {
		return nil, s.fail(ctx, span, op, err)
	}
	resp.DurationMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Int("node_count", resp.DAG.NumNodes()),
		attribute.Int("edge_count", resp.DAG.NumEdges()),
	)
	s.logger.Info("structure learned",
		"method", method,
		"variables", resp.DAG.NumNodes(),
		"edges", resp.DAG.NumEdges(),
		"score", resp.Score,
		"duration_ms", resp.DurationMs)
	return resp, nil
}

func (s *Service) learn(ctx context.Context, data *dataset.Dataset, method string, p LearnParams) (*LearnResponse, error) {
	if data == nil {
		return nil, bnerr.Data("bayes.Service.Learn", "no data")
	}
	if err := s.checkRows(data); err != nil {
		return nil, err
	}
	so, err := p.scoreOptions()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.learnContext(ctx)
	defer cancel()

	resp := &LearnResponse{Method: method, ScoreType: string(so.Type), Rows: data.NumRows()}

	switch method {
	case MethodPC:
		opts, err := p.pcOptions(s.logger)
		if err != nil {
			return nil, err
		}
		res, err := pc.Learn(ctx, data, opts)
		if err != nil {
			return nil, s.timeout(ctx, err)
		}
		total, err := score.Score(ctx, res.DAG, data, so)
		if err != nil {
			return nil, err
		}
		resp.DAG = res.DAG
		resp.PDAG = res.PDAG
		resp.Consistent = res.Consistent
		resp.Tests = res.Tests
		resp.Converged = true
		resp.Score = total

	default:
		opts, err := p.hillClimbOptions(data, s.logger)
		if err != nil {
			return nil, err
		}
		res, err := hillclimb.Learn(ctx, data, opts)
		if err != nil {
			return nil, s.timeout(ctx, err)
		}
		resp.DAG = res.DAG
		resp.Consistent = true
		resp.Iterations = res.Iterations
		resp.Converged = res.Converged
		resp.Score = res.Score
	}
	return resp, nil
}

// Sample runs an ensemble of hill-climbing searches and returns edge
// probabilities.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	data - Fully observed learning data.
//	p - Ensemble size, seed, diversity mode and per-run options.
//
// Outputs:
//
//	*ensemble.Result - Edge probabilities over unordered pairs.
//	error - A bnerr kind for bad input, a limit error, or ErrLearnTimeout.
func (s *Service) Sample(ctx context.Context, data *dataset.Dataset, p SampleParams) (*ensemble.Result, error) {
	const op = "bayes.Service.Sample"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	start := time.Now()

	res, err := s.sample(ctx, data, p)
	if s.metrics != nil {
		s.metrics.RecordLearn(ctx, "ensemble", time.Since(start), err)
	}
	if err != nil {
		return nil, s.fail(ctx, span, op, err)
	}
	if s.metrics != nil {
		s.metrics.EnsembleSamplesTotal.Add(ctx, int64(res.Samples))
	}

	span.SetAttributes(
		attribute.Int("samples", res.Samples),
		attribute.Int("pair_count", len(res.Edges)),
	)
	s.logger.Info("ensemble sampled",
		"samples", res.Samples,
		"mode", res.Mode,
		"pairs", len(res.Edges),
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (s *Service) sample(ctx context.Context, data *dataset.Dataset, p SampleParams) (*ensemble.Result, error) {
	if data == nil {
		return nil, bnerr.Data("bayes.Service.Sample", "no data")
	}
	if err := s.checkRows(data); err != nil {
		return nil, err
	}
	samples := p.Samples
	if samples == 0 {
		samples = ensemble.DefaultSamples
	}
	if s.config.MaxSamples > 0 && samples > s.config.MaxSamples {
		return nil, fmt.Errorf("%w: %d samples, limit %d", ErrTooManySamples, samples, s.config.MaxSamples)
	}
	seed := DefaultSeed
	if p.Seed != nil {
		seed = *p.Seed
	}
	mode, err := ensemble.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}
	hc := p.HillClimb
	hc.Seed = nil
	hcOpts, err := hc.hillClimbOptions(data, s.logger)
	if err != nil {
		return nil, err
	}

	opts := ensemble.DefaultOptions()
	opts.Mode = mode
	opts.HillClimb = hcOpts
	opts.Logger = s.logger
	opts.OnRunComplete = p.OnRunComplete
	switch {
	case p.Workers > 0:
		opts.Workers = p.Workers
	case s.config.Workers > 0:
		opts.Workers = s.config.Workers
	}

	ctx, cancel := s.learnContext(ctx)
	defer cancel()
	res, err := ensemble.SampleStructures(ctx, data, samples, seed, opts)
	if err != nil {
		return nil, s.timeout(ctx, err)
	}
	return res, nil
}

// =============================================================================
// PARAMETERS AND MODELS
// =============================================================================

// Fit estimates the CPTs of g from data and stores the network when a store
// is attached.
//
// Description:
//
//	The graph's nodes may be listed in any order; they are aligned with the
//	dataset columns before estimation.
//
// Outputs:
//
//	*FitResponse - The network and, with a store, its model id.
//	error - A bnerr kind for bad input, or a store failure.
func (s *Service) Fit(ctx context.Context, data *dataset.Dataset, g *dag.Graph, name string, p FitParams) (*FitResponse, error) {
	const op = "bayes.Service.Fit"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	start := time.Now()

	resp, err := s.fit(ctx, data, g, name, p)
	if s.metrics != nil {
		s.metrics.FitsTotal.Add(ctx, 1, statusAttr(err))
	}
	if err != nil {
		return nil, s.fail(ctx, span, op, err)
	}
	resp.DurationMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.String("model_id", resp.ModelID),
		attribute.Int("parameter_count", resp.NumParameters),
	)
	s.logger.Info("network fitted",
		"model_id", resp.ModelID,
		"variables", resp.Network.NumVars(),
		"parameters", resp.NumParameters,
		"rows", resp.Rows)
	return resp, nil
}

func (s *Service) fit(ctx context.Context, data *dataset.Dataset, g *dag.Graph, name string, p FitParams) (*FitResponse, error) {
	if data == nil {
		return nil, bnerr.Data("bayes.Service.Fit", "no data")
	}
	if err := s.checkRows(data); err != nil {
		return nil, err
	}
	opts, err := p.options()
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, bnerr.Structure("bayes.Service.Fit", "no graph")
	}
	name, err = validation.SanitizeModelName(name)
	if err != nil {
		return nil, bnerr.Wrap(bnerr.KindData, "bayes.Service.Fit", err)
	}
	aligned, err := alignGraph(g, data)
	if err != nil {
		return nil, err
	}
	net, err := params.Fit(ctx, aligned, data, opts)
	if err != nil {
		return nil, err
	}

	resp := &FitResponse{
		Name:          name,
		Rows:          data.NumRows(),
		NumParameters: net.NumParameters(),
		Network:       net,
	}
	if s.store != nil {
		m, err := s.store.Save(ctx, name, data.NumRows(), net)
		if err != nil {
			return nil, err
		}
		resp.ModelID = m.ID
	}
	return resp, nil
}

// Model returns the stored model with the given id.
func (s *Service) Model(ctx context.Context, id string) (*store.Model, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.Load(ctx, id)
}

// DeleteModel removes the stored model with the given id.
func (s *Service) DeleteModel(ctx context.Context, id string) error {
	if s.store == nil {
		return ErrNoStore
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("model deleted", "model_id", id)
	return nil
}

// ListModels returns every stored model, newest first.
func (s *Service) ListModels(ctx context.Context) ([]store.Summary, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	models, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if models == nil {
		models = []store.Summary{}
	}
	return models, nil
}

// =============================================================================
// INFERENCE AND EVALUATION
// =============================================================================

// Query answers q against the stored model id.
func (s *Service) Query(ctx context.Context, id string, q QueryParams) (*QueryResponse, error) {
	const op = "bayes.Service.Query"

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("model_id", id)))
	defer span.End()

	m, err := s.Model(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, op, err)
	}
	res, err := s.QueryNetwork(ctx, m.Network, q)
	if err != nil {
		return nil, err
	}
	return &QueryResponse{ModelID: id, Result: res, DurationMs: res.Duration.Milliseconds()}, nil
}

// QueryNetwork answers q against net.
//
// Outputs:
//
//	*inference.Result - Posterior marginals, MAP assignment and evidence probability.
//	error - KindQuery for an invalid query or impossible evidence.
func (s *Service) QueryNetwork(ctx context.Context, net *params.Network, q QueryParams) (*inference.Result, error) {
	const op = "bayes.Service.QueryNetwork"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	start := time.Now()

	ordering, err := inference.ParseOrdering(q.Ordering)
	var res *inference.Result
	if err == nil {
		res, err = inference.Query(ctx, net, q.Query, q.Evidence, &inference.Options{
			Ordering:         ordering,
			EliminationOrder: q.EliminationOrder,
			Logger:           s.logger,
		})
	}
	if s.metrics != nil {
		s.metrics.RecordQuery(ctx, time.Since(start), err)
	}
	if err != nil {
		return nil, s.fail(ctx, span, op, err)
	}

	s.logger.Debug("query answered",
		"query", q.Query,
		"evidence", len(q.Evidence),
		"eliminated", len(res.EliminationOrder),
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// Evaluate compares a learned structure against a reference.
func (s *Service) Evaluate(ctx context.Context, learned, reference *dag.Graph) (*evaluate.Comparison, error) {
	const op = "bayes.Service.Evaluate"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	c, err := evaluate.Compare(learned, reference)
	if err != nil {
		return nil, s.fail(ctx, span, op, err)
	}
	span.SetAttributes(attribute.Int("shd", c.SHD))
	return c, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) learnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.LearnTimeout > 0 {
		return context.WithTimeout(ctx, s.config.LearnTimeout)
	}
	return context.WithCancel(ctx)
}

// timeout reports a deadline hit by LearnTimeout as ErrLearnTimeout.
func (s *Service) timeout(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrLearnTimeout, s.config.LearnTimeout, err)
	}
	return err
}

// fail records err on the span and the error counter, then returns it.
func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) error {
	telemetry.RecordSpanError(span, err)
	if s.metrics != nil {
		s.metrics.RecordError(ctx, errorKind(err), op)
	}
	s.logger.Debug("operation failed", "op", op, "error", err)
	return err
}

func statusAttr(err error) metric.MeasurementOption {
	status := "ok"
	if err != nil {
		status = "error"
	}
	return metric.WithAttributes(attribute.String("status", status))
}

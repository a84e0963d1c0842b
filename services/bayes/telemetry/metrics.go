// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the bnlearn instruments. All names use the "bnlearn_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// --- Learning Metrics ---

	// LearnRunsTotal counts structure-learning calls by method and status.
	LearnRunsTotal metric.Int64Counter

	// LearnDuration records structure-learning duration in seconds.
	LearnDuration metric.Float64Histogram

	// EnsembleSamplesTotal counts hill-climbing runs made by ensembles.
	EnsembleSamplesTotal metric.Int64Counter

	// FitsTotal counts parameter fits by status.
	FitsTotal metric.Int64Counter

	// --- Inference Metrics ---

	QueriesTotal  metric.Int64Counter
	QueryDuration metric.Float64Histogram

	// --- Error Metrics ---

	// ErrorsTotal counts failures by error kind and operation.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers every instrument with meter.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("bnlearn"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"bnlearn_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"bnlearn_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"bnlearn_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.LearnRunsTotal, err = meter.Int64Counter(
		"bnlearn_learn_runs_total",
		metric.WithDescription("Total structure-learning runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create learn_runs_total: %w", err)
	}

	m.LearnDuration, err = meter.Float64Histogram(
		"bnlearn_learn_duration_seconds",
		metric.WithDescription("Structure-learning duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create learn_duration: %w", err)
	}

	m.EnsembleSamplesTotal, err = meter.Int64Counter(
		"bnlearn_ensemble_samples_total",
		metric.WithDescription("Total hill-climbing runs made by ensembles"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ensemble_samples_total: %w", err)
	}

	m.FitsTotal, err = meter.Int64Counter(
		"bnlearn_fits_total",
		metric.WithDescription("Total parameter fits"),
		metric.WithUnit("{fit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fits_total: %w", err)
	}

	m.QueriesTotal, err = meter.Int64Counter(
		"bnlearn_queries_total",
		metric.WithDescription("Total inference queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create queries_total: %w", err)
	}

	m.QueryDuration, err = meter.Float64Histogram(
		"bnlearn_query_duration_seconds",
		metric.WithDescription("Inference query duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create query_duration: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"bnlearn_errors_total",
		metric.WithDescription("Total errors by kind and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RecordLearn records one structure-learning call.
func (m *Metrics) RecordLearn(ctx context.Context, method string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status(err)),
	)
	m.LearnRunsTotal.Add(ctx, 1, attrs)
	m.LearnDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("method", method)))
}

// RecordQuery records one inference query.
func (m *Metrics) RecordQuery(ctx context.Context, d time.Duration, err error) {
	m.QueriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status(err))))
	if err == nil {
		m.QueryDuration.Record(ctx, d.Seconds())
	}
}

// RecordError counts a failure of op with the given error kind.
func (m *Metrics) RecordError(ctx context.Context, kind, op string) {
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("operation", op),
	))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// GinMiddleware records request count, duration and in-flight requests.
//
// The path label is the matched route template, so ids do not explode
// label cardinality.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		m.HTTPActiveRequests.Add(ctx, 1)
		defer m.HTTPActiveRequests.Add(ctx, -1)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", path),
			attribute.String("status", strconv.Itoa(c.Writer.Status())),
		)
		m.HTTPRequestsTotal.Add(ctx, 1, attrs)
		m.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

// RecordSpanError records err on span and marks the span failed.
// Nil span or err is a no-op.
func RecordSpanError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	opts := make([]trace.EventOption, 0, 1)
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

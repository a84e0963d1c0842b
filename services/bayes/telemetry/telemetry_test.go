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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NilContext(t *testing.T) {
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_Exporters(t *testing.T) {
	tests := []struct {
		name    string
		traces  string
		metrics string
		wantErr bool
	}{
		{"all disabled", "none", "none", false},
		{"stdout", "stdout", "stdout", false},
		{"unknown trace exporter", "zipkin", "none", true},
		{"unknown metric exporter", "none", "statsd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TraceExporter = tt.traces
			cfg.MetricExporter = tt.metrics

			shutdown, err := Init(context.Background(), cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownExporter)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, shutdown(context.Background()))
		})
	}
}

func TestDefaultConfig_Environment(t *testing.T) {
	t.Setenv("BNLEARN_ENV", "production")
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")

	cfg := DefaultConfig()
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, "bnlearn", cfg.ServiceName)
}

func TestNewMetrics_Noop(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordLearn(ctx, "pc", time.Second, nil)
	m.RecordQuery(ctx, time.Millisecond, errors.New("boom"))
	m.RecordError(ctx, "query", "inference.Query")
}

func TestGinMiddleware_RecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	router := gin.New()
	router.Use(GinMiddleware(m))
	router.GET("/models/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models/abc", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "bnlearn_http_requests_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			path, _ := sum.DataPoints[0].Attributes.Value("path")
			assert.Equal(t, "/models/:id", path.AsString())
			found = true
		}
	}
	assert.True(t, found)
}

func TestRecordSpanError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	RecordSpanError(span, errors.New("bad input"))
	RecordSpanError(nil, errors.New("ignored"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "bad input", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
}

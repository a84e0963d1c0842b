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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/bnlearn/services/bayes/internal/bntest"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	handlers := NewHandlers(svc)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

func diamondPayload(n int, seed uint64) DataPayload {
	d := bntest.Diamond(n, seed)
	return DataPayload{Columns: d.Names(), Rows: d.Records()}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandlers_HandleHealth(t *testing.T) {
	tests := []struct {
		name      string
		withStore bool
		status    string
	}{
		{"with store", true, "healthy"},
		{"without store", false, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(newTestService(t, tt.withStore))
			w := doJSON(t, router, http.MethodGet, "/v1/bayes/health", nil)
			require.Equal(t, http.StatusOK, w.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, ServiceVersion, resp.Version)
			assert.Equal(t, tt.withStore, resp.Store)
		})
	}
}

func TestHandlers_HandleLearn(t *testing.T) {
	router := setupTestRouter(newTestService(t, false))

	w := doJSON(t, router, http.MethodPost, "/v1/bayes/learn", map[string]any{
		"data":   diamondPayload(3000, 42),
		"method": "pc",
		"alpha":  0.01,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp struct {
		Method string `json:"method"`
		DAG    struct {
			Nodes []string    `json:"nodes"`
			Edges [][2]string `json:"edges"`
		} `json:"dag"`
		ScoreType string `json:"score_type"`
		Rows      int    `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, MethodPC, resp.Method)
	assert.Equal(t, []string{"A", "B", "C", "D"}, resp.DAG.Nodes)
	assert.NotEmpty(t, resp.DAG.Edges)
	assert.Equal(t, "bic", resp.ScoreType)
	assert.Equal(t, 3000, resp.Rows)
}

func TestHandlers_HandleLearn_Errors(t *testing.T) {
	router := setupTestRouter(newTestService(t, false))

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "malformed body",
			body:   `{"data": [`,
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "missing data",
			body:   map[string]any{"method": "pc"},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "unknown method",
			body:   map[string]any{"data": diamondPayload(200, 1), "method": "annealing"},
			status: http.StatusBadRequest,
			code:   "DATA_ERROR",
		},
		{
			name: "constant column",
			body: map[string]any{"data": DataPayload{
				Columns: []string{"X", "Y"},
				Rows:    [][]string{{"a", "0"}, {"a", "1"}},
			}},
			status: http.StatusBadRequest,
			code:   "DATA_ERROR",
		},
		{
			name: "ragged row",
			body: map[string]any{"data": DataPayload{
				Columns: []string{"X", "Y"},
				Rows:    [][]string{{"a", "0"}, {"b"}},
			}},
			status: http.StatusBadRequest,
			code:   "DATA_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/v1/bayes/learn", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestHandlers_HandleSample(t *testing.T) {
	router := setupTestRouter(newTestService(t, false))

	w := doJSON(t, router, http.MethodPost, "/v1/bayes/sample", map[string]any{
		"data":    diamondPayload(2000, 3),
		"samples": 4,
		"seed":    9,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Samples int `json:"samples"`
		Edges   []struct {
			A           string  `json:"a"`
			B           string  `json:"b"`
			Probability float64 `json:"probability"`
		} `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Samples)
	require.NotEmpty(t, resp.Edges)
	for _, e := range resp.Edges {
		assert.True(t, e.Probability > 0 && e.Probability <= 1, "%s-%s", e.A, e.B)
	}
}

func TestHandlers_ModelLifecycle(t *testing.T) {
	router := setupTestRouter(newTestService(t, true))

	// fit
	w := doJSON(t, router, http.MethodPost, "/v1/bayes/fit", map[string]any{
		"data": diamondPayload(3000, 11),
		"graph": map[string]any{
			"nodes": []string{"A", "B", "C", "D"},
			"edges": [][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}},
		},
		"name": "diamond",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var fit FitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fit))
	_, err := uuid.Parse(fit.ModelID)
	require.NoError(t, err)

	// query
	w = doJSON(t, router, http.MethodPost, "/v1/bayes/query", map[string]any{
		"model_id": fit.ModelID,
		"query":    []string{"D"},
		"evidence": map[string]string{"A": "1"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var q struct {
		ModelID   string `json:"model_id"`
		Marginals map[string][]struct {
			Value       string  `json:"value"`
			Probability float64 `json:"probability"`
		} `json:"marginals"`
		MAP map[string]string `json:"map"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	assert.Equal(t, fit.ModelID, q.ModelID)
	require.Len(t, q.Marginals["D"], 2)
	assert.InDelta(t, 1.0, q.Marginals["D"][0].Probability+q.Marginals["D"][1].Probability, 1e-9)
	assert.Equal(t, "1", q.MAP["D"])

	// list and get
	w = doJSON(t, router, http.MethodGet, "/v1/bayes/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list ModelListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Models, 1)
	assert.Equal(t, "diamond", list.Models[0].Name)

	w = doJSON(t, router, http.MethodGet, "/v1/bayes/models/"+fit.ModelID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// delete
	w = doJSON(t, router, http.MethodDelete, "/v1/bayes/models/"+fit.ModelID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, router, http.MethodGet, "/v1/bayes/models/"+fit.ModelID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "MODEL_NOT_FOUND", decodeError(t, w).Code)
}

func TestHandlers_ModelErrors(t *testing.T) {
	router := setupTestRouter(newTestService(t, true))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "cyclic graph",
			method: http.MethodPost,
			path:   "/v1/bayes/fit",
			body: map[string]any{
				"data": diamondPayload(200, 1),
				"graph": map[string]any{
					"nodes": []string{"A", "B", "C", "D"},
					"edges": [][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}},
				},
			},
			status: http.StatusUnprocessableEntity,
			code:   "STRUCTURE_ERROR",
		},
		{
			name:   "graph over other variables",
			method: http.MethodPost,
			path:   "/v1/bayes/fit",
			body: map[string]any{
				"data":  diamondPayload(200, 1),
				"graph": map[string]any{"nodes": []string{"A", "B"}, "edges": [][2]string{}},
			},
			status: http.StatusUnprocessableEntity,
			code:   "STRUCTURE_ERROR",
		},
		{
			name:   "malformed id",
			method: http.MethodGet,
			path:   "/v1/bayes/models/not-a-uuid",
			status: http.StatusBadRequest,
			code:   "INVALID_MODEL_ID",
		},
		{
			name:   "query unknown model",
			method: http.MethodPost,
			path:   "/v1/bayes/query",
			body:   map[string]any{"model_id": uuid.NewString(), "query": []string{"A"}},
			status: http.StatusNotFound,
			code:   "MODEL_NOT_FOUND",
		},
		{
			name:   "query without variables",
			method: http.MethodPost,
			path:   "/v1/bayes/query",
			body:   map[string]any{"model_id": uuid.NewString()},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestHandlers_QueryErrors(t *testing.T) {
	svc := newTestService(t, true)
	router := setupTestRouter(svc)

	w := doJSON(t, router, http.MethodPost, "/v1/bayes/fit", map[string]any{
		"data":  diamondPayload(1000, 2),
		"graph": map[string]any{"nodes": []string{"A", "B", "C", "D"}, "edges": [][2]string{{"A", "B"}}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var fit FitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fit))

	tests := []struct {
		name string
		body map[string]any
	}{
		{"query variable in evidence", map[string]any{"query": []string{"A"}, "evidence": map[string]string{"A": "1"}}},
		{"unknown variable", map[string]any{"query": []string{"Z"}}},
		{"unknown state", map[string]any{"query": []string{"B"}, "evidence": map[string]string{"A": "7"}}},
		{"unknown ordering", map[string]any{"query": []string{"B"}, "ordering": "random"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.body["model_id"] = fit.ModelID
			w := doJSON(t, router, http.MethodPost, "/v1/bayes/query", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "QUERY_ERROR", decodeError(t, w).Code)
		})
	}
}

func TestHandlers_HandleEvaluate(t *testing.T) {
	router := setupTestRouter(newTestService(t, false))
	nodes := []string{"A", "B", "C"}

	w := doJSON(t, router, http.MethodPost, "/v1/bayes/evaluate", map[string]any{
		"learned":   map[string]any{"nodes": nodes, "edges": [][2]string{{"B", "A"}, {"B", "C"}}},
		"reference": map[string]any{"nodes": nodes, "edges": [][2]string{{"A", "B"}, {"B", "C"}}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Hamming  int `json:"hamming"`
		SHD      int `json:"shd"`
		Reversed int `json:"reversed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Hamming)
	assert.Equal(t, 1, resp.SHD)
	assert.Equal(t, 1, resp.Reversed)
}

func TestHandlers_WithoutStore(t *testing.T) {
	router := setupTestRouter(newTestService(t, false))

	w := doJSON(t, router, http.MethodGet, "/v1/bayes/models", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "NO_STORE", decodeError(t, w).Code)

	w = doJSON(t, router, http.MethodPost, "/v1/bayes/fit", map[string]any{
		"data":  diamondPayload(500, 4),
		"graph": map[string]any{"nodes": []string{"A", "B", "C", "D"}, "edges": [][2]string{}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var fit FitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fit))
	assert.Empty(t, fit.ModelID)
	assert.Equal(t, 4, fit.NumParameters)
}

func TestHandlers_LearnRateLimit(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.LearnRate = 0.001
	cfg.LearnBurst = 1
	router := setupTestRouter(NewService(cfg))

	// the limiter runs before the body is read
	w := doJSON(t, router, http.MethodPost, "/v1/bayes/learn", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/bayes/sample", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, w).Code)

	// other endpoints are not throttled
	w = doJSON(t, router, http.MethodGet, "/v1/bayes/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

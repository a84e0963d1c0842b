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
	"log/slog"
	"net/http"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Handlers contains the HTTP handlers for the Bayes service.
type Handlers struct {
	svc     *Service
	limiter *rate.Limiter
}

// NewHandlers creates handlers for the given service.
//
// Learning endpoints are throttled by ServiceConfig.LearnRate and
// LearnBurst; a zero rate leaves them unthrottled.
func NewHandlers(svc *Service) *Handlers {
	h := &Handlers{svc: svc}
	cfg := svc.Config()
	if cfg.LearnRate > 0 {
		burst := cfg.LearnBurst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.LearnRate), burst)
	}
	return h
}

// LearnLimit rejects learning requests beyond the configured rate with 429.
func (h *Handlers) LearnLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter != nil && !h.limiter.Allow() {
			requestID := getOrCreateRequestID(c)
			slog.Warn("Learning request throttled", "request_id", requestID, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: ErrRateLimited.Error(),
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// HandleLearn handles POST /v1/bayes/learn.
//
// Description:
//
//	Learns a DAG from the inline dataset with PC or hill climbing.
//
// Request Body:
//
//	LearnRequest
//
// Response:
//
//	200 OK: LearnResponse
//	400 Bad Request: Malformed body, bad dataset or bad options
//	413 Request Entity Too Large: Dataset over the row limit
//	422 Unprocessable Entity: Orientation produced an invalid structure
//	504 Gateway Timeout: Learning timed out
func (h *Handlers) HandleLearn(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLearn")

	var req LearnRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	data, err := h.svc.LoadData(req.Data)
	if err != nil {
		writeError(c, logger, "Invalid dataset", err)
		return
	}

	logger.Info("Learning structure",
		"method", req.Method,
		"variables", data.NumVars(),
		"rows", data.NumRows())

	resp, err := h.svc.Learn(c.Request.Context(), data, req.LearnParams)
	if err != nil {
		writeError(c, logger, "Learn failed", err)
		return
	}

	logger.Info("Structure learned",
		"method", resp.Method,
		"edges", resp.DAG.NumEdges(),
		"duration_ms", resp.DurationMs)

	c.JSON(http.StatusOK, resp)
}

// HandleSample handles POST /v1/bayes/sample.
//
// Description:
//
//	Runs an ensemble of hill-climbing searches and returns the frequency of
//	every variable pair across the learned structures.
//
// Request Body:
//
//	SampleRequest
//
// Response:
//
//	200 OK: SampleResponse
//	400 Bad Request: Malformed body, bad dataset or bad options
//	413 Request Entity Too Large: Dataset or ensemble over its limit
//	504 Gateway Timeout: Sampling timed out
func (h *Handlers) HandleSample(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSample")

	var req SampleRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	data, err := h.svc.LoadData(req.Data)
	if err != nil {
		writeError(c, logger, "Invalid dataset", err)
		return
	}

	logger.Info("Sampling structures",
		"samples", req.Samples,
		"mode", req.Mode,
		"variables", data.NumVars())

	res, err := h.svc.Sample(c.Request.Context(), data, req.SampleParams)
	if err != nil {
		writeError(c, logger, "Sample failed", err)
		return
	}

	c.JSON(http.StatusOK, SampleResponse{Result: res})
}

// HandleFit handles POST /v1/bayes/fit.
//
// Description:
//
//	Estimates the CPTs of the given graph from the inline dataset and stores
//	the network. The response carries the model id used by /query.
//
// Request Body:
//
//	FitRequest
//
// Response:
//
//	200 OK: FitResponse
//	400 Bad Request: Malformed body, bad dataset, or unseen configuration under "fail"
//	422 Unprocessable Entity: Cyclic graph or graph not matching the columns
func (h *Handlers) HandleFit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFit")

	var req FitRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	data, err := h.svc.LoadData(req.Data)
	if err != nil {
		writeError(c, logger, "Invalid dataset", err)
		return
	}

	resp, err := h.svc.Fit(c.Request.Context(), data, req.Graph, req.Name, req.FitParams)
	if err != nil {
		writeError(c, logger, "Fit failed", err)
		return
	}

	logger.Info("Network fitted",
		"model_id", resp.ModelID,
		"parameters", resp.NumParameters)

	c.JSON(http.StatusOK, resp)
}

// HandleQuery handles POST /v1/bayes/query.
//
// Description:
//
//	Computes posterior marginals and the MAP assignment of the query
//	variables given evidence, by variable elimination on a stored model.
//
// Request Body:
//
//	QueryRequest
//
// Response:
//
//	200 OK: QueryResponse
//	400 Bad Request: Invalid query, unknown state or impossible evidence
//	404 Not Found: Unknown model id
func (h *Handlers) HandleQuery(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleQuery")

	var req QueryRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	resp, err := h.svc.Query(c.Request.Context(), req.ModelID, req.QueryParams)
	if err != nil {
		writeError(c, logger, "Query failed", err)
		return
	}

	logger.Info("Query answered",
		"model_id", req.ModelID,
		"query", req.Query,
		"evidence", len(req.Evidence),
		"duration_ms", resp.DurationMs)

	c.JSON(http.StatusOK, resp)
}

// HandleGetModel handles GET /v1/bayes/models/:id.
//
// Response:
//
//	200 OK: store.Model
//	400 Bad Request: Malformed id
//	404 Not Found: Unknown model id
func (h *Handlers) HandleGetModel(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetModel")

	m, err := h.svc.Model(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, "Get model failed", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// HandleDeleteModel handles DELETE /v1/bayes/models/:id.
//
// Response:
//
//	204 No Content: Deleted
//	400 Bad Request: Malformed id
//	404 Not Found: Unknown model id
func (h *Handlers) HandleDeleteModel(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteModel")

	if err := h.svc.DeleteModel(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, logger, "Delete model failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleListModels handles GET /v1/bayes/models.
//
// Response:
//
//	200 OK: ModelListResponse
func (h *Handlers) HandleListModels(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListModels")

	models, err := h.svc.ListModels(c.Request.Context())
	if err != nil {
		writeError(c, logger, "List models failed", err)
		return
	}
	c.JSON(http.StatusOK, ModelListResponse{Models: models})
}

// HandleEvaluate handles POST /v1/bayes/evaluate.
//
// Description:
//
//	Compares a learned DAG with a reference DAG over the same variables.
//
// Response:
//
//	200 OK: EvaluateResponse
//	422 Unprocessable Entity: Graphs over different variables
func (h *Handlers) HandleEvaluate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEvaluate")

	var req EvaluateRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	cmp, err := h.svc.Evaluate(c.Request.Context(), req.Learned, req.Reference)
	if err != nil {
		writeError(c, logger, "Evaluate failed", err)
		return
	}
	c.JSON(http.StatusOK, EvaluateResponse{Comparison: cmp})
}

// HandleHealth handles GET /v1/bayes/health.
//
// Description:
//
//	Returns the health status of the service. Always returns 200 if running;
//	the status is "degraded" when no model store is attached.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	status := "healthy"
	if !h.svc.HasStore() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:  status,
		Version: ServiceVersion,
		Store:   h.svc.HasStore(),
	})
}

// bindJSON decodes the request body into req and writes the error response
// when it cannot.
//
// A graph that decodes but is invalid keeps its structure error status.
func bindJSON(c *gin.Context, logger *slog.Logger, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	if _, ok := bnerr.KindOf(err); ok {
		writeError(c, logger, "Invalid request body", err)
		return false
	}
	logger.Warn("Invalid request body", "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request body",
		Code:    "INVALID_REQUEST",
		Details: err.Error(),
	})
	return false
}

// writeError maps err to its status and writes an ErrorResponse.
func writeError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	statusCode, errCode := statusFor(err)
	if statusCode >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	} else {
		logger.Warn(msg, "error", err, "code", errCode)
	}
	c.JSON(statusCode, ErrorResponse{
		Error: err.Error(),
		Code:  errCode,
	})
}

// getOrCreateRequestID extracts or generates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

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
	"github.com/AleutianAI/bnlearn/services/bayes/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all Bayes routes with the router.
//
// Description:
//
//	Registers all /v1/bayes/* endpoints with the given Gin router group.
//	Learning endpoints carry the handlers' rate limiter.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Learning Endpoints:
//
//	POST /v1/bayes/learn - Learn a DAG with PC or hill climbing
//	POST /v1/bayes/sample - Ensemble edge probabilities
//
// Model Endpoints:
//
//	POST   /v1/bayes/fit - Fit CPTs and store the network
//	POST   /v1/bayes/query - Variable-elimination query on a stored network
//	GET    /v1/bayes/models - List stored networks
//	GET    /v1/bayes/models/:id - Get a stored network
//	DELETE /v1/bayes/models/:id - Delete a stored network
//
// Other Endpoints:
//
//	POST /v1/bayes/evaluate - Compare a learned DAG with a reference
//	GET  /v1/bayes/health - Health check
//
// Example:
//
//	service := bayes.NewService(bayes.DefaultServiceConfig()).WithStore(st)
//	handlers := bayes.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	bayes.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	b := rg.Group("/bayes")
	{
		// Structure learning
		learn := b.Group("", handlers.LearnLimit())
		{
			learn.POST("/learn", handlers.HandleLearn)
			learn.POST("/sample", handlers.HandleSample)
		}

		// Parameters and inference
		b.POST("/fit", handlers.HandleFit)
		b.POST("/query", handlers.HandleQuery)

		// Stored models
		b.GET("/models", handlers.HandleListModels)
		b.GET("/models/:id", handlers.HandleGetModel)
		b.DELETE("/models/:id", handlers.HandleDeleteModel)

		b.POST("/evaluate", handlers.HandleEvaluate)
		b.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the complete HTTP router for a service.
//
// Description:
//
//	Installs panic recovery, OpenTelemetry tracing and, when metrics is
//	non-nil, request metrics, then registers the /v1/bayes routes. When the
//	Prometheus exporter is active, /metrics serves it.
//
// Inputs:
//
//	serviceName - Name reported on server spans.
//	handlers - The handlers instance.
//	metrics - Instruments for request metrics. May be nil.
func NewRouter(serviceName string, handlers *Handlers, metrics *telemetry.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	if metrics != nil {
		router.Use(telemetry.GinMiddleware(metrics))
	}

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

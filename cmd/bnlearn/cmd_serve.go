// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/bnlearn/pkg/ux"
	"github.com/AleutianAI/bnlearn/services/bayes"
	"github.com/AleutianAI/bnlearn/services/bayes/store"
	"github.com/AleutianAI/bnlearn/services/bayes/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

var (
	serveAddr     string
	serveInMemory bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve learning, fitting and queries over HTTP",
	Long: `Start the HTTP API under /v1/bayes. Fitted networks are kept in the
model store configured under "store"; --in-memory discards them on exit.

Examples:
  bnlearn serve
  bnlearn serve --addr 0.0.0.0:12230 --in-memory`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveInMemory, "in-memory", false, "Keep fitted networks in memory only")
}

// runServe wires telemetry, the model store and the router, then blocks
// until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Slog()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("bnlearn"))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	storeCfg := cfg.Store
	if serveInMemory {
		storeCfg = store.InMemoryConfig()
	}
	storeCfg.Logger = log
	st, err := store.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open model store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("model store close failed", "error", err)
		}
	}()

	svc := bayes.NewService(cfg.Service).
		WithStore(st).
		WithMetrics(metrics).
		WithLogger(log)

	gin.SetMode(gin.ReleaseMode)
	router := bayes.NewRouter(cfg.Telemetry.ServiceName, bayes.NewHandlers(svc), metrics)

	addr := cfg.Server.Address
	if serveAddr != "" {
		addr = serveAddr
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("bnlearn server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ux.Success("Serving on http://" + addr + "/v1/bayes")
	ux.Muted("Press Ctrl+C to stop")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

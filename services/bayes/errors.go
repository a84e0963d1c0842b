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
	"context"
	"errors"
	"net/http"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/store"
)

// Sentinel errors for the Bayes service.
var (
	// ErrTooManyRows indicates a dataset larger than ServiceConfig.MaxRows.
	ErrTooManyRows = errors.New("dataset exceeds row limit")

	// ErrTooManySamples indicates an ensemble larger than ServiceConfig.MaxSamples.
	ErrTooManySamples = errors.New("ensemble exceeds sample limit")

	// ErrNoStore indicates a model operation on a service without a store.
	ErrNoStore = errors.New("model store not configured")

	// ErrLearnTimeout indicates learning ran past ServiceConfig.LearnTimeout.
	ErrLearnTimeout = errors.New("learning timed out")

	// ErrRateLimited indicates the learning endpoints are saturated.
	ErrRateLimited = errors.New("too many learning requests")
)

// statusFor maps an error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrTooManyRows), errors.Is(err, ErrTooManySamples):
		return http.StatusRequestEntityTooLarge, "LIMIT_EXCEEDED"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, ErrLearnTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, ErrNoStore):
		return http.StatusServiceUnavailable, "NO_STORE"
	case errors.Is(err, store.ErrInvalidID):
		return http.StatusBadRequest, "INVALID_MODEL_ID"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "MODEL_NOT_FOUND"
	}

	kind, ok := bnerr.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, "INTERNAL"
	}
	switch kind {
	case bnerr.KindStructure:
		return http.StatusUnprocessableEntity, "STRUCTURE_ERROR"
	case bnerr.KindParameter:
		return http.StatusBadRequest, "PARAMETER_ERROR"
	case bnerr.KindQuery:
		return http.StatusBadRequest, "QUERY_ERROR"
	default:
		return http.StatusBadRequest, "DATA_ERROR"
	}
}

// errorKind labels err for the errors_total metric.
func errorKind(err error) string {
	if kind, ok := bnerr.KindOf(err); ok {
		return kind.String()
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidID):
		return "model"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrLearnTimeout):
		return "timeout"
	case errors.Is(err, ErrTooManyRows), errors.Is(err, ErrTooManySamples):
		return "limit"
	default:
		return "internal"
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bnerr defines the failure taxonomy shared by the learning, fitting
// and inference stages.
//
// Every public operation in services/bayes returns either a complete value or
// an *Error. Callers classify failures with errors.Is against the kind
// sentinels:
//
//	net, err := params.Fit(g, data, nil)
//	if errors.Is(err, bnerr.ErrParameter) {
//	    // unseen parent configuration under the fail policy
//	}
//
// The kinds are:
//
//   - KindData: empty dataset, constant column, unknown score or test name,
//     too few rows for a requested conditioning-set size
//   - KindStructure: cyclic or otherwise invalid graph
//   - KindParameter: CPT cannot be estimated or does not match the graph
//   - KindQuery: malformed inference request
package bnerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	// KindData marks problems with the input dataset or learning options.
	KindData Kind = iota

	// KindStructure marks invalid graphs, including cycles produced by orientation.
	KindStructure

	// KindParameter marks CPT estimation failures.
	KindParameter

	// KindQuery marks invalid inference requests.
	KindQuery
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindStructure:
		return "structure"
	case KindParameter:
		return "parameter"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Kind sentinels. An *Error matches the sentinel of its Kind under errors.Is.
var (
	ErrData      = errors.New("data error")
	ErrStructure = errors.New("structure error")
	ErrParameter = errors.New("parameter error")
	ErrQuery     = errors.New("query error")
)

// Error is a classified failure raised at a public operation boundary.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Op names the operation that failed, e.g. "pc.Learn".
	Op string

	// Message is the human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindData:
		return ErrData
	case KindStructure:
		return ErrStructure
	case KindParameter:
		return ErrParameter
	case KindQuery:
		return ErrQuery
	default:
		return nil
	}
}

// Data returns a KindData error.
func Data(op, format string, args ...any) *Error {
	return &Error{Kind: KindData, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Structure returns a KindStructure error.
func Structure(op, format string, args ...any) *Error {
	return &Error{Kind: KindStructure, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Parameter returns a KindParameter error.
func Parameter(op, format string, args ...any) *Error {
	return &Error{Kind: KindParameter, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Query returns a KindQuery error.
func Query(op, format string, args ...any) *Error {
	return &Error{Kind: KindQuery, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. An err that already carries a kind keeps it.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err and whether err is classified at all.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}

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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/bnlearn/services/bayes"
	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
	"github.com/AleutianAI/bnlearn/services/bayes/dag"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"github.com/AleutianAI/bnlearn/services/bayes/params"
	"github.com/AleutianAI/bnlearn/services/bayes/store"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatDOT  = "dot"
)

// Exit codes by error kind.
const (
	ExitSuccess   = 0
	ExitError     = 1
	ExitData      = 2
	ExitStructure = 3
	ExitParameter = 4
	ExitQuery     = 5
)

func exitCode(err error) int {
	kind, ok := bnerr.KindOf(err)
	if !ok {
		return ExitError
	}
	switch kind {
	case bnerr.KindData:
		return ExitData
	case bnerr.KindStructure:
		return ExitStructure
	case bnerr.KindParameter:
		return ExitParameter
	case bnerr.KindQuery:
		return ExitQuery
	default:
		return ExitError
	}
}

// newService builds a Service from the loaded config. With withStore the
// model database is opened and the returned close function closes it.
func newService(withStore bool) (*bayes.Service, func(), error) {
	svc := bayes.NewService(cfg.Service).WithLogger(logger.Slog())
	if !withStore {
		return svc, func() {}, nil
	}

	storeCfg := cfg.Store
	storeCfg.Logger = logger.Slog()
	st, err := store.Open(storeCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open model store: %w", err)
	}
	return svc.WithStore(st), func() { _ = st.Close() }, nil
}

// loadData reads a CSV file, or stdin when path is "-".
func loadData(path string) (*dataset.Dataset, error) {
	opts := &dataset.CSVOptions{Logger: logger.Slog()}
	if path == "-" {
		return dataset.LoadCSV(os.Stdin, opts)
	}
	return dataset.LoadCSVFile(path, opts)
}

// readGraph reads a DAG in {"nodes": [...], "edges": [[from, to], ...]}
// form. A learn response (with a "dag" field) is accepted too.
func readGraph(path string) (*dag.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}

	var wrapped struct {
		DAG *dag.Graph `json:"dag"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.DAG != nil {
		return wrapped.DAG, nil
	}

	var g dag.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		if _, ok := bnerr.KindOf(err); ok {
			return nil, err
		}
		return nil, bnerr.Wrap(bnerr.KindStructure, "readGraph", fmt.Errorf("%s: %w", path, err))
	}
	return &g, nil
}

// readNetwork reads a fitted network written by `fit --out`, or a fit
// response (with a "network" field).
func readNetwork(path string) (*params.Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network: %w", err)
	}

	var wrapped struct {
		Network *params.Network `json:"network"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Network != nil {
		return wrapped.Network, nil
	}

	var net params.Network
	if err := json.Unmarshal(data, &net); err != nil {
		if _, ok := bnerr.KindOf(err); ok {
			return nil, err
		}
		return nil, bnerr.Wrap(bnerr.KindParameter, "readNetwork", fmt.Errorf("%s: %w", path, err))
	}
	return &net, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJSONFile writes v to path, or does nothing when path is empty.
func writeJSONFile(path string, v any) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeJSON(f, v); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// parseEdges parses "A->B" or "A:B" pairs.
func parseEdges(specs []string) ([][2]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	edges := make([][2]string, 0, len(specs))
	for _, s := range specs {
		from, to, ok := strings.Cut(s, "->")
		if !ok {
			from, to, ok = strings.Cut(s, ":")
		}
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, bnerr.Data("parseEdges", "invalid edge %q (want FROM->TO)", s)
		}
		edges = append(edges, [2]string{from, to})
	}
	return edges, nil
}

// parseEvidence parses VAR=STATE assignments.
func parseEvidence(specs []string) (map[string]string, error) {
	evidence := make(map[string]string, len(specs))
	for _, s := range specs {
		name, state, ok := strings.Cut(s, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, bnerr.Query("parseEvidence", "invalid evidence %q (want VAR=STATE)", s)
		}
		if _, dup := evidence[name]; dup {
			return nil, bnerr.Query("parseEvidence", "variable %q observed twice", name)
		}
		evidence[name] = strings.TrimSpace(state)
	}
	return evidence, nil
}

// errFormat reports a format the command cannot produce.
func errFormat(command string) error {
	return fmt.Errorf("%s does not support --format %s", command, outputFormat)
}

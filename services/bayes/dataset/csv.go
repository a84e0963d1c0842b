// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/bnlearn/services/bayes/bnerr"
)

// CSVOptions configures LoadCSV.
type CSVOptions struct {
	// Comma is the field delimiter. Default: ','.
	Comma rune

	// KeepIncomplete keeps rows with empty cells, treating "" as a state.
	// Default: false (such rows are dropped and counted in the log).
	KeepIncomplete bool

	// Logger receives a warning when rows are dropped. Nil uses slog.Default().
	Logger *slog.Logger
}

// LoadCSV reads a header row followed by records and encodes them.
//
// Description:
//
//	The header names the variables. Cells are trimmed of surrounding
//	whitespace. Rows containing an empty cell are dropped unless
//	KeepIncomplete is set, since every learner assumes fully observed rows.
//
// Inputs:
//
//	r - CSV source.
//	opts - Options. Nil uses defaults.
//
// Outputs:
//
//	*Dataset - The encoded table.
//	error - KindData on malformed CSV or an empty header.
func LoadCSV(r io.Reader, opts *CSVOptions) (*Dataset, error) {
	const op = "dataset.LoadCSV"

	if opts == nil {
		opts = &CSVOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reader := csv.NewReader(bufio.NewReader(r))
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, bnerr.Data(op, "missing header row")
	}
	if err != nil {
		return nil, &bnerr.Error{Kind: bnerr.KindData, Op: op, Message: "read header", Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records [][]string
	dropped := 0
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &bnerr.Error{Kind: bnerr.KindData, Op: op, Message: fmt.Sprintf("read line %d", line), Err: err}
		}
		complete := true
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
			if rec[i] == "" {
				complete = false
			}
		}
		if !complete && !opts.KeepIncomplete {
			dropped++
			continue
		}
		records = append(records, rec)
	}

	if dropped > 0 {
		logger.Warn("dropped incomplete rows", "dropped", dropped, "kept", len(records))
	}

	return New(header, records)
}

// LoadCSVFile opens path and calls LoadCSV.
func LoadCSVFile(path string, opts *CSVOptions) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &bnerr.Error{Kind: bnerr.KindData, Op: "dataset.LoadCSVFile", Message: "open " + path, Err: err}
	}
	defer f.Close()
	return LoadCSV(f, opts)
}

// Records decodes the table back into string rows. Used for serialization.
func (d *Dataset) Records() [][]string {
	out := make([][]string, d.rows)
	for r := range out {
		rec := make([]string, len(d.vars))
		for c, v := range d.vars {
			rec[c] = v.States[d.cols[c][r]]
		}
		out[r] = rec
	}
	return out
}

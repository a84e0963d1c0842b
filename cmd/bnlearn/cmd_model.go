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

	"github.com/AleutianAI/bnlearn/pkg/ux"
	"github.com/AleutianAI/bnlearn/services/bayes"
	"github.com/AleutianAI/bnlearn/services/bayes/params"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	// Fit flags
	fitGraph  string
	fitName   string
	fitPrior  string
	fitUnseen string
	fitESS    float64
	fitSave   bool
	fitOut    string

	// Query flags
	queryModel       string
	queryNetwork     string
	queryVars        []string
	queryEvidence    []string
	queryOrdering    string
	queryOrder       []string
	queryInteractive bool
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var fitCmd = &cobra.Command{
	Use:   "fit DATA.csv --graph DAG.json",
	Short: "Fit conditional probability tables for a DAG",
	Long: `Estimate one conditional probability table per variable by maximum
likelihood, optionally smoothed with a Dirichlet prior.

The graph file holds {"nodes": [...], "edges": [["A","B"], ...]}; the
output of 'learn --out' or 'learn --format json' works as-is.

Examples:
  bnlearn fit data.csv --graph dag.json --out network.json
  bnlearn fit data.csv --graph dag.json --prior bdeu --ess 5
  bnlearn fit data.csv --graph dag.json --save --name survey`,
	Args: cobra.ExactArgs(1),
	RunE: runFit,
}

var queryCmd = &cobra.Command{
	Use:   "query (--model ID | --network FILE) --var VAR [--evidence VAR=STATE]...",
	Short: "Compute posteriors by variable elimination",
	Long: `Answer an exact posterior query on a fitted network, either a stored
model or a network file written by 'fit --out'.

Examples:
  bnlearn query --network network.json --var D --evidence A=1
  bnlearn query --model 0b6c... --var B --var C --ordering min_degree
  bnlearn query --network network.json --interactive`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate LEARNED.json REFERENCE.json",
	Short: "Compare a learned DAG with a reference DAG",
	Long: `Report the Hamming distance between directed edge sets, the structural
Hamming distance, and skeleton precision and recall.

Examples:
  bnlearn evaluate learned.json truth.json
  bnlearn evaluate learned.json truth.json --format json`,
	Args: cobra.ExactArgs(2),
	RunE: runEvaluate,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage stored networks",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored networks, newest first",
	Args:  cobra.NoArgs,
	RunE:  runModelsList,
}

var modelsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a stored network",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsShow,
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a stored network",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsDelete,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	fitCmd.Flags().StringVar(&fitGraph, "graph", "", "DAG JSON file (required)")
	fitCmd.Flags().StringVar(&fitName, "name", "", "Name for the stored network")
	fitCmd.Flags().StringVar(&fitPrior, "prior", "", "Prior: none, bdeu, or k2 (default from config)")
	fitCmd.Flags().StringVar(&fitUnseen, "unseen", "", "Unseen parent configurations: uniform or fail")
	fitCmd.Flags().Float64Var(&fitESS, "ess", 10, "BDeu equivalent sample size")
	fitCmd.Flags().BoolVar(&fitSave, "save", false, "Store the network in the model database")
	fitCmd.Flags().StringVar(&fitOut, "out", "", "Write the network as JSON to this file")
	_ = fitCmd.MarkFlagRequired("graph")

	queryCmd.Flags().StringVar(&queryModel, "model", "", "Stored model id")
	queryCmd.Flags().StringVar(&queryNetwork, "network", "", "Network JSON file")
	queryCmd.Flags().StringSliceVar(&queryVars, "var", nil, "Query variable (repeatable)")
	queryCmd.Flags().StringSliceVarP(&queryEvidence, "evidence", "e", nil, "Observation VAR=STATE (repeatable)")
	queryCmd.Flags().StringVar(&queryOrdering, "ordering", "", "Elimination heuristic: min_fill or min_degree")
	queryCmd.Flags().StringSliceVar(&queryOrder, "elimination-order", nil, "Explicit elimination order")
	queryCmd.Flags().BoolVarP(&queryInteractive, "interactive", "i", false, "Choose variables and evidence with prompts")
	queryCmd.MarkFlagsMutuallyExclusive("model", "network")
	queryCmd.MarkFlagsOneRequired("model", "network")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsShowCmd)
	modelsCmd.AddCommand(modelsDeleteCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// runFit executes parameter learning.
func runFit(cmd *cobra.Command, args []string) error {
	if outputFormat == formatDOT {
		return errFormat("fit")
	}
	ctx := context.Background()

	p := cfg.Fit
	if cmd.Flags().Changed("prior") {
		p.Prior = fitPrior
	}
	if cmd.Flags().Changed("unseen") {
		p.Unseen = fitUnseen
	}
	if cmd.Flags().Changed("ess") {
		p.EquivalentSampleSize = fitESS
	}

	g, err := readGraph(fitGraph)
	if err != nil {
		return err
	}
	data, err := loadData(args[0])
	if err != nil {
		return err
	}
	svc, closeSvc, err := newService(fitSave)
	if err != nil {
		return err
	}
	defer closeSvc()

	resp, err := svc.Fit(ctx, data, g, fitName, p)
	if err != nil {
		return err
	}
	if err := writeJSONFile(fitOut, resp.Network); err != nil {
		return fmt.Errorf("write %s: %w", fitOut, err)
	}

	switch outputFormat {
	case formatJSON:
		return writeJSON(cmd.OutOrStdout(), resp)
	default:
		renderFit(resp)
		return nil
	}
}

// runQuery executes a posterior query.
func runQuery(cmd *cobra.Command, args []string) error {
	if outputFormat == formatDOT {
		return errFormat("query")
	}
	ctx := context.Background()

	svc, closeSvc, err := newService(queryModel != "")
	if err != nil {
		return err
	}
	defer closeSvc()

	var net *params.Network
	if queryModel != "" {
		model, err := svc.Model(ctx, queryModel)
		if err != nil {
			return err
		}
		net = model.Network
	} else if net, err = readNetwork(queryNetwork); err != nil {
		return err
	}

	q := bayes.QueryParams{
		Query:            queryVars,
		Ordering:         queryOrdering,
		EliminationOrder: queryOrder,
	}
	if q.Evidence, err = parseEvidence(queryEvidence); err != nil {
		return err
	}
	if queryInteractive {
		if !ux.IsInteractive() {
			return errors.New("--interactive needs a terminal")
		}
		if err := promptQuery(net, &q); err != nil {
			return err
		}
	}
	if len(q.Query) == 0 {
		return errors.New("at least one --var is required")
	}

	res, err := svc.QueryNetwork(ctx, net, q)
	if err != nil {
		return err
	}

	switch outputFormat {
	case formatJSON:
		return writeJSON(cmd.OutOrStdout(), bayes.QueryResponse{
			ModelID:    queryModel,
			Result:     res,
			DurationMs: res.Duration.Milliseconds(),
		})
	default:
		renderQuery(res)
		return nil
	}
}

// promptQuery asks for query variables and evidence, mirroring a
// select-variables-then-states dashboard flow.
func promptQuery(net *params.Network, q *bayes.QueryParams) error {
	vars := net.Variables()
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}

	var observed []string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Query variables").
				Options(huh.NewOptions(names...)...).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return errors.New("select at least one variable")
					}
					return nil
				}).
				Value(&q.Query),
			huh.NewMultiSelect[string]().
				Title("Evidence variables").
				Description("Observed variables; leave empty for prior marginals").
				Options(huh.NewOptions(names...)...).
				Value(&observed),
		),
	).Run()
	if err != nil {
		return err
	}
	if len(observed) == 0 {
		return nil
	}

	states := make([]string, len(observed))
	fields := make([]huh.Field, len(observed))
	for i, name := range observed {
		idx, _ := net.Index(name)
		fields[i] = huh.NewSelect[string]().
			Title(name).
			Options(huh.NewOptions(vars[idx].States...)...).
			Value(&states[i])
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}

	if q.Evidence == nil {
		q.Evidence = make(map[string]string, len(observed))
	}
	for i, name := range observed {
		q.Evidence[name] = states[i]
	}
	return nil
}

// runEvaluate compares two DAG files.
func runEvaluate(cmd *cobra.Command, args []string) error {
	if outputFormat == formatDOT {
		return errFormat("evaluate")
	}
	learned, err := readGraph(args[0])
	if err != nil {
		return err
	}
	reference, err := readGraph(args[1])
	if err != nil {
		return err
	}

	svc, closeSvc, err := newService(false)
	if err != nil {
		return err
	}
	defer closeSvc()

	cmp, err := svc.Evaluate(context.Background(), learned, reference)
	if err != nil {
		return err
	}

	switch outputFormat {
	case formatJSON:
		return writeJSON(cmd.OutOrStdout(), bayes.EvaluateResponse{Comparison: cmp})
	default:
		renderComparison(cmp)
		return nil
	}
}

// runModelsList lists stored networks.
func runModelsList(cmd *cobra.Command, args []string) error {
	svc, closeSvc, err := newService(true)
	if err != nil {
		return err
	}
	defer closeSvc()

	models, err := svc.ListModels(context.Background())
	if err != nil {
		return err
	}
	if outputFormat == formatJSON {
		return writeJSON(cmd.OutOrStdout(), bayes.ModelListResponse{Models: models})
	}
	renderModels(models)
	return nil
}

// runModelsShow prints a stored network.
func runModelsShow(cmd *cobra.Command, args []string) error {
	svc, closeSvc, err := newService(true)
	if err != nil {
		return err
	}
	defer closeSvc()

	model, err := svc.Model(context.Background(), args[0])
	if err != nil {
		return err
	}

	switch outputFormat {
	case formatJSON:
		return writeJSON(cmd.OutOrStdout(), model)
	case formatDOT:
		dot, err := model.Network.Graph().DOT("network")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(dot))
		return err
	default:
		renderModel(model)
		return nil
	}
}

// runModelsDelete removes a stored network.
func runModelsDelete(cmd *cobra.Command, args []string) error {
	svc, closeSvc, err := newService(true)
	if err != nil {
		return err
	}
	defer closeSvc()

	if err := svc.DeleteModel(context.Background(), args[0]); err != nil {
		return err
	}
	ux.Success(fmt.Sprintf("Deleted model %s", args[0]))
	return nil
}

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
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/AleutianAI/bnlearn/pkg/ux"
	"github.com/AleutianAI/bnlearn/services/bayes"
	"github.com/AleutianAI/bnlearn/services/bayes/ensemble"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	// Learn flags
	learnMethod      string
	learnAlpha       float64
	learnCITest      string
	learnMaxCondSize int
	learnScore       string
	learnESS         float64
	learnMaxIndegree int
	learnMaxIter     int
	learnTabu        int
	learnSeed        uint64
	learnBlackList   []string
	learnFixed       []string
	learnTimeBudget  time.Duration
	learnOut         string

	// Sample flags
	sampleCount     int
	sampleSeed      uint64
	sampleMode      string
	sampleWorkers   int
	sampleThreshold float64
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var learnCmd = &cobra.Command{
	Use:   "learn DATA.csv",
	Short: "Learn a DAG from data with PC or hill climbing",
	Long: `Learn a Bayesian network structure from a CSV file whose header row
names the variables. Use "-" to read from stdin.

Methods:
  hill_climb - Greedy score-based search over add, delete and reverse moves
  pc         - Constraint-based search with conditional independence tests

Examples:
  bnlearn learn data.csv
  bnlearn learn data.csv --method pc --alpha 0.01 --ci-test g_test
  bnlearn learn data.csv --score bdeu --black-list "D->A" --out dag.json
  bnlearn learn data.csv --format dot | dot -Tpng > dag.png`,
	Args: cobra.ExactArgs(1),
	RunE: runLearn,
}

var sampleCmd = &cobra.Command{
	Use:   "sample DATA.csv",
	Short: "Estimate edge probabilities with an ensemble of hill-climbing runs",
	Long: `Run hill climbing repeatedly and report, for every pair of variables,
the fraction of runs whose DAG connects them.

Diversity modes:
  bootstrap - Each run learns from a bootstrap resample of the rows
  restart   - Each run starts from a random DAG
  tiebreak  - Each run breaks score ties at random

Examples:
  bnlearn sample data.csv --samples 20 --seed 42
  bnlearn sample data.csv --mode restart --threshold 0.5
  bnlearn sample data.csv --format json > edges.json`,
	Args: cobra.ExactArgs(1),
	RunE: runSample,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	addLearnFlags(learnCmd, true)
	learnCmd.Flags().StringVar(&learnMethod, "method", "", "Learner: hill_climb or pc (default from config)")
	learnCmd.Flags().Float64Var(&learnAlpha, "alpha", 0.05, "PC significance level")
	learnCmd.Flags().StringVar(&learnCITest, "ci-test", "", "PC independence test: chi_square or g_test")
	learnCmd.Flags().IntVar(&learnMaxCondSize, "max-cond-size", -1, "PC maximum conditioning set size (-1 = automatic)")
	learnCmd.Flags().StringVar(&learnOut, "out", "", "Also write the learned DAG as JSON to this file")

	addLearnFlags(sampleCmd, false)
	sampleCmd.Flags().IntVar(&sampleCount, "samples", 0, "Number of hill-climbing runs (default from config)")
	sampleCmd.Flags().Uint64Var(&sampleSeed, "seed", bayes.DefaultSeed, "Ensemble seed")
	sampleCmd.Flags().StringVar(&sampleMode, "mode", "", "Diversity mode: bootstrap, restart, or tiebreak")
	sampleCmd.Flags().IntVar(&sampleWorkers, "workers", 0, "Parallel runs (0 = config default)")
	sampleCmd.Flags().Float64Var(&sampleThreshold, "threshold", 0, "Hide pairs below this probability in text output")
}

// addLearnFlags registers the hill-climbing flags shared by learn and sample.
func addLearnFlags(cmd *cobra.Command, ownSeed bool) {
	cmd.Flags().StringVar(&learnScore, "score", "", "Score: bic, bdeu (alias bde) or k2 (default from config)")
	cmd.Flags().Float64Var(&learnESS, "ess", 10, "BDeu equivalent sample size")
	cmd.Flags().IntVar(&learnMaxIndegree, "max-indegree", 0, "Maximum parents per node (0 = unlimited)")
	cmd.Flags().IntVar(&learnMaxIter, "max-iter", 0, "Maximum hill-climbing iterations (0 = default)")
	cmd.Flags().IntVar(&learnTabu, "tabu", 0, "Tabu list length")
	cmd.Flags().StringSliceVar(&learnBlackList, "black-list", nil, "Forbidden edges, e.g. \"A->B\"")
	cmd.Flags().StringSliceVar(&learnFixed, "fixed", nil, "Edges that must be present, e.g. \"A->B\"")
	cmd.Flags().DurationVar(&learnTimeBudget, "time-budget", 0, "Stop hill climbing after this long (0 = no limit)")
	if ownSeed {
		cmd.Flags().Uint64Var(&learnSeed, "seed", bayes.DefaultSeed, "Random seed for tie breaking and restarts")
	}
}

// learnParams merges the config defaults with the flags set on cmd. The
// --seed flag belongs to the learner only when ownSeed is set.
func learnParams(cmd *cobra.Command, base bayes.LearnParams, ownSeed bool) (bayes.LearnParams, error) {
	p := base
	flags := cmd.Flags()
	if flags.Changed("method") {
		p.Method = learnMethod
	}
	if flags.Changed("alpha") {
		p.Alpha = learnAlpha
	}
	if flags.Changed("ci-test") {
		p.CITest = learnCITest
	}
	if flags.Changed("max-cond-size") && learnMaxCondSize >= 0 {
		size := learnMaxCondSize
		p.MaxCondSize = &size
	}
	if flags.Changed("score") {
		p.Score = learnScore
	}
	if flags.Changed("ess") {
		p.EquivalentSampleSize = learnESS
	}
	if flags.Changed("max-indegree") {
		p.MaxIndegree = learnMaxIndegree
	}
	if flags.Changed("max-iter") {
		p.MaxIterations = learnMaxIter
	}
	if flags.Changed("tabu") {
		p.TabuLength = learnTabu
	}
	if flags.Changed("time-budget") {
		p.TimeBudgetMs = learnTimeBudget.Milliseconds()
	}
	if ownSeed && flags.Changed("seed") {
		seed := learnSeed
		p.Seed = &seed
	}

	var err error
	if flags.Changed("black-list") {
		if p.BlackList, err = parseEdges(learnBlackList); err != nil {
			return p, err
		}
	}
	if flags.Changed("fixed") {
		if p.FixedEdges, err = parseEdges(learnFixed); err != nil {
			return p, err
		}
	}
	return p, nil
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// runLearn executes structure learning.
func runLearn(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p, err := learnParams(cmd, cfg.Learn, true)
	if err != nil {
		return err
	}
	data, err := loadData(args[0])
	if err != nil {
		return err
	}
	svc, closeSvc, err := newService(false)
	if err != nil {
		return err
	}
	defer closeSvc()

	var resp *bayes.LearnResponse
	err = withProgress("Learning structure", func() error {
		resp, err = svc.Learn(ctx, data, p)
		return err
	})
	if err != nil {
		return err
	}
	if err := writeJSONFile(learnOut, resp.DAG); err != nil {
		return fmt.Errorf("write %s: %w", learnOut, err)
	}

	w := cmd.OutOrStdout()
	switch outputFormat {
	case formatJSON:
		return writeJSON(w, resp)
	case formatDOT:
		dot, err := resp.DAG.DOT("learned")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(dot))
		return err
	default:
		renderLearn(resp)
		return nil
	}
}

// runSample executes an ensemble run.
func runSample(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	hc, err := learnParams(cmd, cfg.Sample.HillClimb, false)
	if err != nil {
		return err
	}
	p := cfg.Sample
	p.HillClimb = hc
	if cmd.Flags().Changed("samples") {
		p.Samples = sampleCount
	}
	if cmd.Flags().Changed("seed") || p.Seed == nil {
		seed := sampleSeed
		p.Seed = &seed
	}
	if cmd.Flags().Changed("mode") {
		p.Mode = sampleMode
	}
	if cmd.Flags().Changed("workers") {
		p.Workers = sampleWorkers
	}

	data, err := loadData(args[0])
	if err != nil {
		return err
	}
	svc, closeSvc, err := newService(false)
	if err != nil {
		return err
	}
	defer closeSvc()

	runs := p.Samples
	if runs <= 0 {
		runs = ensemble.DefaultSamples
	}
	var resp *bayes.SampleResponse
	err = withRunProgress("Sampling structures", runs, func(onRun func(done, total int)) error {
		p.OnRunComplete = onRun
		res, err := svc.Sample(ctx, data, p)
		resp = &bayes.SampleResponse{Result: res}
		return err
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch outputFormat {
	case formatJSON:
		return writeJSON(w, resp)
	case formatDOT:
		dot, err := resp.DOT("ensemble")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(dot))
		return err
	default:
		renderSample(resp.Result, sampleThreshold)
		return nil
	}
}

// withProgress shows a spinner for text output only. Errors are left to
// the caller to print.
func withProgress(message string, fn func() error) error {
	if outputFormat != formatText || !ux.ShouldShowProgress() {
		return fn()
	}
	spin := ux.NewSpinner(message)
	spin.Start()
	if err := fn(); err != nil {
		spin.Stop()
		return err
	}
	spin.StopWithSuccess(message)
	return nil
}

// withRunProgress is withProgress with a run counter. fn receives the
// callback to pass as SampleParams.OnRunComplete; it is nil when no spinner
// is shown.
func withRunProgress(message string, total int, fn func(onRun func(done, total int)) error) error {
	if outputFormat != formatText || !ux.ShouldShowProgress() {
		return fn(nil)
	}
	spin := ux.NewProgressSpinner(message, total)
	spin.Start()
	err := fn(func(int, int) { spin.Increment() })
	if err != nil {
		spin.Stop()
		return err
	}
	spin.StopWithSuccess(message)
	return nil
}

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
	"fmt"

	"github.com/AleutianAI/bnlearn/cmd/bnlearn/config"
	"github.com/AleutianAI/bnlearn/pkg/logging"
	"github.com/AleutianAI/bnlearn/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath       string
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	logLevel         string
	outputFormat     string // text, json, or dot

	cfg    *config.BnlearnConfig
	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "bnlearn",
		Short: "Learn, fit and query discrete Bayesian networks",
		Long: `bnlearn learns Bayesian network structure from categorical CSV data
with the PC algorithm or hill climbing, estimates edge confidence with
ensembles, fits conditional probability tables, answers exact queries with
variable elimination, and serves all of it over HTTP.

Examples:
  bnlearn learn data.csv --method pc --alpha 0.01
  bnlearn sample data.csv --samples 50 --format dot > edges.dot
  bnlearn fit data.csv --graph dag.json --save --name survey
  bnlearn query --model 0b6c... --var D --evidence A=1
  bnlearn serve`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ~/.bnlearn/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides the config file)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "text",
		"Output format: text, json, or dot")

	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(fitCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(serveCmd)
}

// setup loads the config and initializes output and logging.
func setup(cmd *cobra.Command, args []string) error {
	if personalityLevel != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
	} else {
		ux.InitPersonality()
	}

	switch outputFormat {
	case formatText, formatJSON, formatDOT:
	default:
		return fmt.Errorf("unknown output format %q (want text, json, or dot)", outputFormat)
	}

	loaded, created, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	if created {
		ux.Muted(fmt.Sprintf("First run detected, created the config at %s", pathOrDefault(configPath)))
	}

	levelName := cfg.Logging.Level
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "bnlearn",
		JSON:    cfg.Logging.JSON,
	})
	return nil
}

func pathOrDefault(path string) string {
	if path == "" {
		return config.DefaultPath()
	}
	return path
}

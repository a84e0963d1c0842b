// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/bnlearn/services/bayes"
	"github.com/AleutianAI/bnlearn/services/bayes/store"
	"github.com/AleutianAI/bnlearn/services/bayes/telemetry"
)

// CurrentConfigVersion is written to new config files.
const CurrentConfigVersion = "1"

// BnlearnConfig is the contents of ~/.bnlearn/config.yaml.
type BnlearnConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Server: the HTTP listener used by `bnlearn serve`
	Server ServerConfig `yaml:"server"`

	// Service: request limits shared by the CLI and the HTTP API
	Service bayes.ServiceConfig `yaml:"service"`

	// Store: where fitted networks are persisted
	Store store.Config `yaml:"store"`

	Telemetry telemetry.Config `yaml:"telemetry"`

	Logging LoggingConfig `yaml:"logging"`

	// Learn: defaults for `bnlearn learn`; flags override them
	Learn bayes.LearnParams `yaml:"learn"`

	// Sample: defaults for `bnlearn sample`
	Sample bayes.SampleParams `yaml:"sample"`

	// Fit: defaults for `bnlearn fit`
	Fit bayes.FitParams `yaml:"fit"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level" validate:"loglevel"`

	// Dir enables JSON file logging when set
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON
	JSON bool `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() BnlearnConfig {
	seed := bayes.DefaultSeed
	return BnlearnConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Server: ServerConfig{
			Address:         "127.0.0.1:12230",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Service:   bayes.DefaultServiceConfig(),
		Store:     store.DefaultConfig(filepath.Join(defaultHome(), "models")),
		Telemetry: telemetry.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
		Learn:     bayes.LearnParams{Method: bayes.MethodHillClimb, Score: "bic"},
		Sample:    bayes.SampleParams{Samples: 20, Seed: &seed, Mode: "bootstrap"},
		Fit:       bayes.FitParams{Prior: "none", Unseen: "uniform"},
	}
}

// defaultHome returns ~/.bnlearn, or .bnlearn when there is no home.
func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bnlearn"
	}
	return filepath.Join(home, ".bnlearn")
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "config.yaml")

	require.NoError(t, createDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg BnlearnConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, CurrentConfigVersion, cfg.Meta.Version)
	assert.Equal(t, "hill_climb", cfg.Learn.Method)
	assert.Equal(t, 20, cfg.Sample.Samples)
	require.NotNil(t, cfg.Sample.Seed)
	assert.Equal(t, uint64(42), *cfg.Sample.Seed)
	assert.Equal(t, 5*time.Minute, cfg.Service.LearnTimeout)
}

func TestLoad_FirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "127.0.0.1:12230", cfg.Server.Address)
	assert.FileExists(t, path)

	_, created, err = Load(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: "0.0.0.0:9000"
store:
  in_memory: true
learn:
  method: pc
  alpha: 0.01
  black_list:
    - [A, B]
service:
  learn_timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Store.InMemory)
	assert.Equal(t, "pc", cfg.Learn.Method)
	assert.InDelta(t, 0.01, cfg.Learn.Alpha, 1e-12)
	assert.Equal(t, [][2]string{{"A", "B"}}, cfg.Learn.BlackList)
	assert.Equal(t, 30*time.Second, cfg.Service.LearnTimeout)
	assert.Equal(t, 500, cfg.Service.MaxSamples)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "server: [unclosed"},
		{"bad address", "server:\n  address: nowhere\n"},
		{"bad log level", "logging:\n  level: chatty\n"},
		{"bad method", "learn:\n  method: annealing\n"},
		{"alpha out of range", "learn:\n  alpha: 1.5\n"},
		{"negative rows", "service:\n  max_rows: -1\n"},
		{"bad exporter", "telemetry:\n  trace_exporter: zipkin\n"},
		{"no store path", "store:\n  path: \"\"\n  in_memory: false\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, _, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestValidate_Default(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, Validate(&cfg))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	assert.Equal(t, filepath.Join(home, "models"), expandPath("~/models"))
	assert.Equal(t, "/srv/models", expandPath("/srv/models"))
}

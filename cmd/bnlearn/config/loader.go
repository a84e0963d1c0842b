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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/bnlearn/pkg/logging"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// configValidate is the validator instance for config files.
// Initialized in init() with custom validators.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()

	// Register custom validator for log level names
	if err := configValidate.RegisterValidation("loglevel", validateLogLevel); err != nil {
		panic(fmt.Sprintf("failed to register loglevel validator: %v", err))
	}
}

func validateLogLevel(fl validator.FieldLevel) bool {
	_, err := logging.ParseLevel(fl.Field().String())
	return err == nil
}

// DefaultPath returns ~/.bnlearn/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultHome(), "config.yaml")
}

// Load reads the config at path, creating it with defaults on first run.
//
// Description:
//
//	An empty path selects DefaultPath. Keys missing from the file keep
//	their default values. A leading ~ in the store path is expanded.
//
// Outputs:
//
//	*BnlearnConfig - The validated configuration.
//	bool - True when the file was created by this call.
//	error - Read, parse, or validation failure.
func Load(path string) (*BnlearnConfig, bool, error) {
	if path == "" {
		path = DefaultPath()
	}

	created := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return nil, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Store.Path = expandPath(cfg.Store.Path)

	if err := Validate(&cfg); err != nil {
		return nil, false, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, created, nil
}

// Validate checks the struct tags of cfg.
func Validate(cfg *BnlearnConfig) error {
	if err := configValidate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if !cfg.Store.InMemory && cfg.Store.Path == "" {
		return errors.New("store.path is required unless store.in_memory is set")
	}
	return nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for user-provided
// names that end up in the model store, log lines and terminal output.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxModelNameLength is the longest accepted model name, in runes.
const MaxModelNameLength = 128

// modelNamePattern matches valid model names.
// Allows: letters and digits in any script, spaces, dots, underscores, hyphens.
// Must start with a letter or digit.
var modelNamePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} ._\-]*$`)

// ValidateModelName validates a stored-network name.
//
// The empty name is valid and means "unnamed". Anything else must match
// modelNamePattern and be at most MaxModelNameLength runes, which rules out
// control characters and terminal escape sequences.
//
// Example:
//
//	if err := validation.ValidateModelName(name); err != nil {
//	    return nil, fmt.Errorf("invalid name: %w", err)
//	}
func ValidateModelName(name string) error {
	if name == "" {
		return nil
	}
	if n := len([]rune(name)); n > MaxModelNameLength {
		return fmt.Errorf("model name is %d characters long (max %d)", n, MaxModelNameLength)
	}
	if !modelNamePattern.MatchString(name) {
		return fmt.Errorf("invalid model name %q (letters, digits, spaces, dots, underscores or hyphens)", name)
	}
	return nil
}

// SanitizeModelName trims surrounding whitespace and validates the result.
//
//	safeName, err := validation.SanitizeModelName(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeModelName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateModelName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

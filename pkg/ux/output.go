// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the bnlearn CLI.
//
// Every printer honors the current Personality: machine mode emits plain
// tab-separated lines for scripts, the other levels render with lipgloss.
package ux

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// bnlearn color palette - deep ocean teals
var (
	// Primary palette (brightest to darkest)
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents

	// Dark palette (for muted elements)
	ColorSlate = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	// Semantic colors
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	// Text styles
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	// Box styles
	WarningBox lipgloss.Style

	// Table styles
	TableBorder lipgloss.Style
	TableHeader lipgloss.Style
	TableCell   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),

	TableBorder: lipgloss.NewStyle().Foreground(ColorTealDeep),
	TableHeader: lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright).Padding(0, 1),
	TableCell:   lipgloss.NewStyle().Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess    Icon = "✓"
	IconWarning    Icon = "⚠"
	IconError      Icon = "✗"
	IconPending    Icon = "○"
	IconArrow      Icon = "→"
	IconUndirected Icon = "—"
	IconBullet     Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Output Destinations
// =============================================================================

var (
	outMu  sync.RWMutex
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
)

// SetOutput redirects the printers. A nil writer keeps the current one.
// Returns a function that restores the previous writers.
func SetOutput(stdout, stderr io.Writer) (restore func()) {
	outMu.Lock()
	defer outMu.Unlock()
	prevOut, prevErr := out, errOut
	if stdout != nil {
		out = stdout
	}
	if stderr != nil {
		errOut = stderr
	}
	return func() {
		outMu.Lock()
		out, errOut = prevOut, prevErr
		outMu.Unlock()
	}
}

func stdout() io.Writer {
	outMu.RLock()
	defer outMu.RUnlock()
	return out
}

func stderr() io.Writer {
	outMu.RLock()
	defer outMu.RUnlock()
	return errOut
}

// =============================================================================
// Print helpers that respect personality level
// =============================================================================

// Title prints a styled title
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(stdout(), Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(stdout(), "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(stdout(), "%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Fprintf(stdout(), "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(stderr(), "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(stderr(), "%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Fprintf(stderr(), "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func Error(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(stderr(), "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(stderr(), "%s %s\n", IconError.Render(), text)
	default:
		fmt.Fprintf(stderr(), "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintln(stdout(), text)
		return
	}
	fmt.Fprintf(stdout(), "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints muted/secondary text
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(stdout(), Styles.Muted.Render(text))
}

// KeyValue prints a labelled value, e.g. "score  -10234.5".
func KeyValue(key, value string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(stdout(), "%s\t%s\n", key, value)
		return
	}
	fmt.Fprintf(stdout(), "  %s %s\n", Styles.Muted.Render(fmt.Sprintf("%-14s", key)), value)
}

// WarningBox prints text in a warning-styled box
func WarningBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(stderr(), "WARN %s: %s\n", title, content)
		return
	}
	titleLine := Styles.Warning.Bold(true).Render(title)
	fmt.Fprintln(stderr(), Styles.WarningBox.Width(60).Render(titleLine+"\n"+content))
}

// =============================================================================
// Tables and Distributions
// =============================================================================

// Table prints rows under headers.
//
// Machine mode prints a tab-separated header line followed by one line per
// row. Other levels draw a bordered lipgloss table.
func Table(headers []string, rows [][]string) {
	w := stdout()
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		return
	}

	border := lipgloss.RoundedBorder()
	if GetPersonality().Level == PersonalityMinimal {
		border = lipgloss.NormalBorder()
	}
	t := table.New().
		Border(border).
		BorderStyle(Styles.TableBorder).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.TableHeader
			}
			return Styles.TableCell
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.String())
}

// Distribution prints one bar per state of a discrete distribution.
func Distribution(variable string, states []string, probs []float64) {
	w := stdout()
	if GetPersonality().Level == PersonalityMachine {
		for i, s := range states {
			fmt.Fprintf(w, "%s\t%s\t%s\n", variable, s, FormatProbability(probs[i]))
		}
		return
	}

	width := 0
	for _, s := range states {
		width = max(width, lipgloss.Width(s))
	}
	fmt.Fprintln(w, Styles.Subtitle.Render(variable))
	for i, s := range states {
		fmt.Fprintf(w, "  %-*s %s %s\n", width, s, ProbabilityBar(probs[i], 30), FormatProbability(probs[i]))
	}
}

// Stat is one entry of a Summary line.
type Stat struct {
	Label string
	Value string

	// Good selects the success color and Bad the error color. Otherwise
	// the value is bold.
	Good bool
	Bad  bool
}

// Summary prints a summary line of labelled values.
func Summary(stats ...Stat) {
	w := stdout()
	if GetPersonality().Level == PersonalityMachine {
		parts := make([]string, len(stats))
		for i, s := range stats {
			parts[i] = s.Label + "=" + s.Value
		}
		fmt.Fprintf(w, "SUMMARY: %s\n", strings.Join(parts, " "))
		return
	}

	parts := make([]string, len(stats))
	for i, s := range stats {
		style := Styles.Bold
		switch {
		case s.Good:
			style = Styles.Success
		case s.Bad:
			style = Styles.Error
		}
		parts[i] = style.Render(s.Value) + " " + Styles.Muted.Render(s.Label)
	}
	fmt.Fprintf(w, "\n%s\n", strings.Join(parts, "  "))
}

// FormatProbability formats p with the personality's precision.
func FormatProbability(p float64) string {
	prec := GetPersonality().Precision
	if prec <= 0 {
		prec = 4
	}
	return strconv.FormatFloat(p, 'f', prec, 64)
}

// ProbabilityBar renders p in [0, 1] as a bar of the given width.
func ProbabilityBar(p float64, width int) string {
	p = min(max(p, 0), 1)
	return ProgressBar(int(p*1000+0.5), 1000, width)
}

// ProgressBar renders a simple progress bar
func ProgressBar(current, total int, width int) string {
	if GetPersonality().Level == PersonalityMachine {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := 0.0
	if total > 0 {
		pct = min(float64(current)/float64(total), 1)
	}
	filled := int(pct * float64(width))
	empty := width - filled

	bar := Styles.Success.Render(repeatChar('█', filled)) +
		Styles.Muted.Render(repeatChar('░', empty))

	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}

func repeatChar(c rune, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(string(c), n)
}

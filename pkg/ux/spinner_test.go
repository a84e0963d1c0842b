// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// withLevel sets the personality level and captures both outputs.
func withLevel(t *testing.T, level PersonalityLevel) (out, errOut *syncBuffer) {
	t.Helper()
	orig := GetPersonality()
	out, errOut = &syncBuffer{}, &syncBuffer{}
	restore := SetOutput(out, errOut)
	SetPersonalityLevel(level)
	t.Cleanup(func() {
		restore()
		SetPersonality(orig)
	})
	return out, errOut
}

// =============================================================================
// NewSpinner Tests
// =============================================================================

func TestNewSpinner_Defaults(t *testing.T) {
	spin := NewSpinner("Learning structure")
	if spin.message != "Learning structure" {
		t.Errorf("expected message 'Learning structure', got %q", spin.message)
	}
	if spin.stop == nil || spin.done == nil {
		t.Error("channels not initialized")
	}
}

// =============================================================================
// Start / Stop Tests
// =============================================================================

func TestSpinner_MachineMode(t *testing.T) {
	_, errOut := withLevel(t, PersonalityMachine)

	spin := NewSpinner("Sampling structures")
	spin.Start()
	spin.Start()
	spin.Stop()
	spin.Stop()

	if got := strings.Count(errOut.String(), "PROGRESS: Sampling structures"); got != 1 {
		t.Errorf("expected one PROGRESS line, got %d: %q", got, errOut.String())
	}
}

func TestSpinner_StartStop_FullMode(t *testing.T) {
	_, errOut := withLevel(t, PersonalityFull)

	spin := NewProgressSpinner("Sampling structures", 3)
	spin.Start()
	time.Sleep(200 * time.Millisecond)
	spin.Increment()
	time.Sleep(200 * time.Millisecond)
	spin.Stop()

	if !strings.Contains(errOut.String(), "Sampling structures [1/3]") {
		t.Errorf("updated message never rendered: %q", errOut.String())
	}
	if !strings.HasSuffix(errOut.String(), "\r\033[K") {
		t.Error("spinner line not cleared on Stop")
	}
}

func TestSpinner_StopWithSuccess_MachineMode(t *testing.T) {
	out, errOut := withLevel(t, PersonalityMachine)

	spin := NewSpinner("Learning structure")
	spin.Start()
	spin.StopWithSuccess("Learning structure")

	if !strings.Contains(errOut.String(), "PROGRESS: Learning structure") {
		t.Errorf("expected progress line, got %q", errOut.String())
	}
	if !strings.Contains(out.String(), "OK: Learning structure") {
		t.Errorf("expected success line, got %q", out.String())
	}
}

// =============================================================================
// ProgressSpinner Tests
// =============================================================================

func TestProgressSpinner(t *testing.T) {
	withLevel(t, PersonalityMachine)

	p := NewProgressSpinner("Sampling", 20)
	if p.current != 0 || p.total != 20 {
		t.Fatalf("unexpected initial state: %d/%d", p.current, p.total)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Increment()
		}()
	}
	wg.Wait()

	if p.current != 20 {
		t.Errorf("expected 20, got %d", p.current)
	}
	if p.message != "Sampling [20/20]" {
		t.Errorf("unexpected message %q", p.message)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"context"
	"testing"
	"time"
)

// TestRateGovernor_EnforcesSpacing tests the minimum spacing guarantee.
//
// # Description
//
// Verifies that the first Throttle call is immediate and the second one
// waits for the configured spacing.
func TestRateGovernor_EnforcesSpacing(t *testing.T) {
	t.Parallel()

	const spacing = 50 * time.Millisecond
	g := NewRateGovernor(spacing)
	ctx := context.Background()

	start := time.Now()
	if err := g.Throttle(ctx); err != nil {
		t.Fatalf("first Throttle returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > spacing/2 {
		t.Errorf("first Throttle blocked for %v", elapsed)
	}

	start = time.Now()
	if err := g.Throttle(ctx); err != nil {
		t.Fatalf("second Throttle returned error: %v", err)
	}
	// Allow a little timer slack below the nominal spacing.
	if elapsed := time.Since(start); elapsed < spacing-10*time.Millisecond {
		t.Errorf("second Throttle waited only %v, want about %v", elapsed, spacing)
	}
}

// TestRateGovernor_CancelledContext tests that waiting respects ctx.
func TestRateGovernor_CancelledContext(t *testing.T) {
	t.Parallel()

	g := NewRateGovernor(time.Hour)
	ctx := context.Background()
	if err := g.Throttle(ctx); err != nil {
		t.Fatalf("first Throttle returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := g.Throttle(ctx); err == nil {
		t.Error("second Throttle returned nil, want a context error")
	}
}

// TestNewRateGovernor_DefaultSpacing tests the zero-value fallback.
func TestNewRateGovernor_DefaultSpacing(t *testing.T) {
	t.Parallel()

	g := NewRateGovernor(0)
	if g == nil || g.limiter == nil {
		t.Fatal("governor not initialized from the zero spacing")
	}
}

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rebalance

import (
	"testing"
	"time"
)

func TestLimiter_Cooldown(t *testing.T) {
	l := NewLimiter(time.Hour, 0, 0)
	start := time.Unix(1_700_000_000, 0)

	if err := l.Reserve(start); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	if err := l.Reserve(start.Add(30 * time.Minute)); err != ErrCooldownActive {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
	if err := l.Reserve(start.Add(time.Hour)); err != nil {
		t.Fatalf("reserve after cooldown failed: %v", err)
	}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l := NewLimiter(0, 24*time.Hour, 3)
	start := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if err := l.Reserve(start.Add(time.Duration(i) * time.Hour)); err != nil {
			t.Fatalf("reserve %d failed: %v", i, err)
		}
	}
	// Fourth inside the window is rejected.
	if err := l.Reserve(start.Add(3 * time.Hour)); err != ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// Once the earliest entry falls outside the window a slot opens.
	if err := l.Reserve(start.Add(25 * time.Hour)); err != nil {
		t.Fatalf("reserve after window slide failed: %v", err)
	}
	if got := l.Pending(start.Add(25 * time.Hour)); got != 3 {
		t.Fatalf("expected 3 retained entries, got %d", got)
	}
}

func TestLimiter_WindowBoundaryRetained(t *testing.T) {
	l := NewLimiter(0, 24*time.Hour, 3)
	start := time.Unix(1_700_000_000, 0)

	if err := l.Reserve(start); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	// An entry aged exactly one window still counts against the limit.
	if got := l.Pending(start.Add(24 * time.Hour)); got != 1 {
		t.Fatalf("expected 1 retained entry at the window boundary, got %d", got)
	}
	if got := l.Pending(start.Add(24*time.Hour + time.Second)); got != 0 {
		t.Fatalf("expected 0 retained entries past the window, got %d", got)
	}
}

func TestLimiter_FailedReserveConsumesNothing(t *testing.T) {
	l := NewLimiter(time.Hour, 24*time.Hour, 1)
	start := time.Unix(1_700_000_000, 0)

	if err := l.Reserve(start); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := l.Reserve(start.Add(time.Minute)); err != ErrCooldownActive {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
	if got := l.Pending(start.Add(time.Minute)); got != 1 {
		t.Fatalf("rejected reserve changed window count: %d", got)
	}
}

func TestLimiter_SetCooldown(t *testing.T) {
	l := NewLimiter(time.Hour, 0, 0)
	start := time.Unix(1_700_000_000, 0)

	if err := l.Reserve(start); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	l.SetCooldown(time.Minute)
	if err := l.Reserve(start.Add(2 * time.Minute)); err != nil {
		t.Fatalf("reserve under shortened cooldown failed: %v", err)
	}
}

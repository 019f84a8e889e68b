// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rebalance

import (
	"sync"
	"time"
)

// Limiter combines the global rebalance cooldown with a sliding-window
// rate limit. A slot must be reserved in the same atomic unit that
// initiates a rebalance, so two rebalances can never race against the
// same capital.
type Limiter struct {
	cooldown time.Duration
	window   time.Duration
	maxMoves int

	lastMove time.Time
	history  []time.Time

	mu sync.Mutex
}

// NewLimiter creates a limiter. maxMoves <= 0 disables the window rate
// limit; cooldown 0 disables the cooldown.
func NewLimiter(cooldown, window time.Duration, maxMoves int) *Limiter {
	return &Limiter{
		cooldown: cooldown,
		window:   window,
		maxMoves: maxMoves,
	}
}

// Reserve checks both gates and, on success, records the move at now.
// Callers hold their own serialization lock around planning and
// dispatch, so a successful reservation commits with the rebalance.
func (l *Limiter) Reserve(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cooldown > 0 && !l.lastMove.IsZero() && now.Sub(l.lastMove) < l.cooldown {
		return ErrCooldownActive
	}

	l.prune(now)
	if l.maxMoves > 0 && len(l.history) >= l.maxMoves {
		return ErrRateLimited
	}

	l.lastMove = now
	if l.maxMoves > 0 {
		l.history = append(l.history, now)
	}
	return nil
}

// prune drops history entries older than the window. An entry aged
// exactly one window is retained. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.history[:0]
	for _, t := range l.history {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	l.history = kept
}

// SetCooldown updates the global cooldown.
func (l *Limiter) SetCooldown(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cooldown = d
}

// Pending returns the retained window count, for inspection.
func (l *Limiter) Pending(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	return len(l.history)
}

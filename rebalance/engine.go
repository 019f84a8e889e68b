// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rebalance

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/escion333/autoUSD-sub002/registry"
)

// Validation errors
var (
	ErrZeroAmount        = errors.New("amount must be positive")
	ErrUnknownTarget     = errors.New("target chain not among active children")
	ErrExceedsDeployable = errors.New("amount exceeds buffer-derived deployable ceiling")
)

// State errors
var (
	ErrCooldownActive           = errors.New("rebalance cooldown active")
	ErrRateLimited              = errors.New("rebalance rate limit exceeded")
	ErrInsufficientDifferential = errors.New("APY differential below minimum")
)

// Config carries the engine parameters.
type Config struct {
	// Cooldown is the minimum gap between rebalances of any kind.
	Cooldown time.Duration
	// Window and MaxPerWindow bound how many rebalances the sliding
	// window admits.
	Window       time.Duration
	MaxPerWindow int
	// MinDifferentialBps is the APY gap required to justify moving
	// capital.
	MinDifferentialBps uint32
}

// Move is a planned capital movement between two children.
type Move struct {
	From   uint32
	To     uint32
	Amount *big.Int
}

// Engine decides whether and how much capital moves between children.
// It consumes registry snapshots, never live records, so planning
// cannot race registry mutation.
type Engine struct {
	limiter            *Limiter
	minDifferentialBps uint32

	mu sync.RWMutex
}

// NewEngine creates an engine with its limiter.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		limiter:            NewLimiter(cfg.Cooldown, cfg.Window, cfg.MaxPerWindow),
		minDifferentialBps: cfg.MinDifferentialBps,
	}
}

// AuthorizeDeploy validates a directed deploy of amount to target and,
// on success, consumes a limiter slot. The target's reported APY must
// beat the capital-weighted average across active children by the
// minimum differential; a hub with no deployed capital yet has no
// average to beat.
func (e *Engine) AuthorizeDeploy(now time.Time, target uint32, amount, deployable *big.Int, children []registry.Snapshot) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if amount.Cmp(deployable) > 0 {
		return ErrExceedsDeployable
	}

	var targetAPY uint32
	found := false
	for _, child := range children {
		if child.Active && child.ChainID == target {
			targetAPY = child.APYBps
			found = true
			break
		}
	}
	if !found {
		return ErrUnknownTarget
	}

	if avg, ok := weightedAverageAPY(children); ok {
		e.mu.RLock()
		minDiff := e.minDifferentialBps
		e.mu.RUnlock()
		if uint64(targetAPY) < avg+uint64(minDiff) {
			return ErrInsufficientDifferential
		}
	}

	return e.limiter.Reserve(now)
}

// PlanRebalance scans active children for the best and worst APY and
// plans a balance-equalizing move from worst to best. A nil move with
// nil error is a silent no-op: fewer than two children, identical
// extremes, an APY gap below the minimum, or a non-positive equalized
// amount. A non-nil move has consumed a limiter slot.
func (e *Engine) PlanRebalance(now time.Time, children []registry.Snapshot) (*Move, error) {
	var best, worst *registry.Snapshot
	for i := range children {
		child := &children[i]
		if !child.Active {
			continue
		}
		if best == nil || child.APYBps > best.APYBps {
			best = child
		}
		if worst == nil || child.APYBps < worst.APYBps {
			worst = child
		}
	}
	if best == nil || worst == nil || best.ChainID == worst.ChainID {
		return nil, nil
	}

	e.mu.RLock()
	minDiff := e.minDifferentialBps
	e.mu.RUnlock()
	if best.APYBps-worst.APYBps < minDiff {
		return nil, nil
	}

	// Equalize balances: move = worst - (worst+best)/2. The APY gap
	// gates the move, it does not size it.
	half := new(big.Int).Add(worst.Deployed, best.Deployed)
	half.Div(half, big.NewInt(2))
	move := new(big.Int).Sub(worst.Deployed, half)
	if move.Sign() <= 0 {
		return nil, nil
	}

	if err := e.limiter.Reserve(now); err != nil {
		return nil, err
	}
	return &Move{From: worst.ChainID, To: best.ChainID, Amount: move}, nil
}

// SetMinDifferential updates the required APY gap.
func (e *Engine) SetMinDifferential(bps uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minDifferentialBps = bps
}

// SetCooldown updates the limiter's global cooldown.
func (e *Engine) SetCooldown(d time.Duration) {
	e.limiter.SetCooldown(d)
}

// weightedAverageAPY is the capital-weighted mean APY over active
// children. ok is false when no capital is deployed.
func weightedAverageAPY(children []registry.Snapshot) (uint64, bool) {
	weighted := new(big.Int)
	total := new(big.Int)
	for _, child := range children {
		if !child.Active || child.Deployed.Sign() == 0 {
			continue
		}
		term := new(big.Int).Mul(child.Deployed, big.NewInt(int64(child.APYBps)))
		weighted.Add(weighted, term)
		total.Add(total, child.Deployed)
	}
	if total.Sign() == 0 {
		return 0, false
	}
	return new(big.Int).Div(weighted, total).Uint64(), true
}

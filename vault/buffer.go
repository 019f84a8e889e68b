// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"
	"sync"

	"github.com/escion333/autoUSD-sub002/registry"
)

// BufferManager derives the minimum idle liquidity the hub must retain
// to serve withdrawals without a cross-chain round trip, and gates both
// deployments and withdrawals against it.
type BufferManager struct {
	ledger    *Ledger
	bufferBps uint32
	enabled   bool

	mu sync.RWMutex
}

// RefillOrder is one proportional withdrawal the buffer wants issued
// against a child to cover a deficit.
type RefillOrder struct {
	ChainID uint32
	Amount  *big.Int
}

// NewBufferManager attaches a buffer to the ledger. The ledger consults
// it on every withdrawal.
func NewBufferManager(l *Ledger, bufferBps uint32) (*BufferManager, error) {
	if bufferBps > MaxBufferBps {
		return nil, ErrInvalidBuffer
	}
	bm := &BufferManager{
		ledger:    l,
		bufferBps: bufferBps,
		enabled:   true,
	}
	l.mu.Lock()
	l.buffer = bm
	l.mu.Unlock()
	return bm, nil
}

// RequiredBuffer is totalAssets * bufferBps / 10_000, or zero while
// disabled.
func (bm *BufferManager) RequiredBuffer() *big.Int {
	return bm.required(bm.ledger.TotalAssets())
}

func (bm *BufferManager) required(totalAssets *big.Int) *big.Int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	if !bm.enabled {
		return big.NewInt(0)
	}
	req := new(big.Int).Mul(totalAssets, big.NewInt(int64(bm.bufferBps)))
	return req.Div(req, big.NewInt(BpsDenominator))
}

// CurrentBuffer is the idle balance.
func (bm *BufferManager) CurrentBuffer() *big.Int {
	return bm.ledger.TotalIdle()
}

// IsSufficient reports whether idle liquidity covers the requirement.
func (bm *BufferManager) IsSufficient() bool {
	return bm.CurrentBuffer().Cmp(bm.RequiredBuffer()) >= 0
}

// DeployableAmount is the idle surplus above the requirement: the
// ceiling on any new deployment.
func (bm *BufferManager) DeployableAmount() *big.Int {
	bm.ledger.mu.RLock()
	defer bm.ledger.mu.RUnlock()
	return bm.availableLocked(bm.ledger.totalAssets(), bm.ledger.totalIdle)
}

// AvailableForWithdrawal applies the identical surplus formula as the
// withdrawal cap. Withdrawals below the threshold are refused by the
// ledger, not queued.
func (bm *BufferManager) AvailableForWithdrawal() *big.Int {
	return bm.DeployableAmount()
}

// availableLocked computes the surplus from totals the caller already
// holds the ledger lock for.
func (bm *BufferManager) availableLocked(totalAssets, totalIdle *big.Int) *big.Int {
	avail := new(big.Int).Sub(totalIdle, bm.required(totalAssets))
	if avail.Sign() < 0 {
		avail.SetInt64(0)
	}
	return avail
}

// PlanRefill computes the proportional withdrawals that would cover the
// current buffer deficit, one per active child carrying capital, each
// capped at that child's deployed balance. Empty when the buffer is
// already sufficient.
func (bm *BufferManager) PlanRefill(children []registry.Snapshot) []RefillOrder {
	bm.ledger.mu.RLock()
	totalAssets := bm.ledger.totalAssets()
	idle := new(big.Int).Set(bm.ledger.totalIdle)
	totalDeployed := new(big.Int).Set(bm.ledger.totalDeployed)
	bm.ledger.mu.RUnlock()

	deficit := new(big.Int).Sub(bm.required(totalAssets), idle)
	if deficit.Sign() <= 0 || totalDeployed.Sign() == 0 {
		return nil
	}

	var orders []RefillOrder
	for _, child := range children {
		if !child.Active || child.Deployed.Sign() == 0 {
			continue
		}
		amt := new(big.Int).Mul(deficit, child.Deployed)
		amt.Div(amt, totalDeployed)
		if amt.Cmp(child.Deployed) > 0 {
			amt.Set(child.Deployed)
		}
		if amt.Sign() == 0 {
			continue
		}
		orders = append(orders, RefillOrder{ChainID: child.ChainID, Amount: amt})
	}
	return orders
}

// SetEnabled toggles buffer enforcement.
func (bm *BufferManager) SetEnabled(enabled bool) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.enabled = enabled
}

// Enabled reports whether the buffer is enforced.
func (bm *BufferManager) Enabled() bool {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.enabled
}

// BufferBps returns the configured ratio.
func (bm *BufferManager) BufferBps() uint32 {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.bufferBps
}

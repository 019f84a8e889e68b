// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/luxfi/geth/common"
)

var (
	ErrChildExists          = errors.New("child already registered for chain")
	ErrChildNotFound        = errors.New("child not found")
	ErrChildInactive        = errors.New("child vault inactive")
	ErrChildHasCapital      = errors.New("child still holds deployed capital")
	ErrInsufficientDeployed = errors.New("amount exceeds child deployed balance")
	ErrZeroAmount           = errors.New("amount must be positive")
	ErrZeroIdentity         = errors.New("zero remote identity")
)

// childVault is the per-remote-chain record. Deployed capital and
// reports are only mutated through registry methods so the deployed
// total stays consistent with the ledger.
type childVault struct {
	chainID    uint32
	remote     common.Address
	deployed   *big.Int
	apyBps     uint32
	totalValue *big.Int
	lastReport int64
	active     bool
}

// Snapshot is a read-only copy of a child record handed to planners.
type Snapshot struct {
	ChainID    uint32
	Remote     common.Address
	Deployed   *big.Int
	APYBps     uint32
	TotalValue *big.Int
	LastReport int64
	Active     bool
}

// ChildRegistry tracks every remote chain the hub deploys capital to.
type ChildRegistry struct {
	children map[uint32]*childVault
	mu       sync.RWMutex
}

// NewChildRegistry creates an empty registry.
func NewChildRegistry() *ChildRegistry {
	return &ChildRegistry{
		children: make(map[uint32]*childVault),
	}
}

// Add registers a child vault on chainID. A chain that was previously
// deactivated may be re-registered; a live duplicate is rejected.
func (r *ChildRegistry) Add(chainID uint32, remote common.Address) error {
	if remote == (common.Address{}) {
		return ErrZeroIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.children[chainID]; existing != nil {
		if existing.active {
			return ErrChildExists
		}
		existing.remote = remote
		existing.active = true
		return nil
	}
	r.children[chainID] = &childVault{
		chainID:    chainID,
		remote:     remote,
		deployed:   big.NewInt(0),
		totalValue: big.NewInt(0),
		active:     true,
	}
	return nil
}

// Remove deactivates a child. Refused while it still holds capital.
func (r *ChildRegistry) Remove(chainID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	child := r.children[chainID]
	if child == nil || !child.active {
		return ErrChildNotFound
	}
	if child.deployed.Sign() != 0 {
		return ErrChildHasCapital
	}
	child.active = false
	return nil
}

// Get returns a snapshot of the child on chainID, active or not.
func (r *ChildRegistry) Get(chainID uint32) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	child := r.children[chainID]
	if child == nil {
		return Snapshot{}, ErrChildNotFound
	}
	return child.snapshot(), nil
}

// ListActive returns snapshots of all active children ordered by chain
// id, so planners iterate deterministically.
func (r *ChildRegistry) ListActive() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.children))
	for _, child := range r.children {
		if child.active {
			out = append(out, child.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// Credit adds deployed capital to an active child.
func (r *ChildRegistry) Credit(chainID uint32, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	child := r.children[chainID]
	if child == nil {
		return ErrChildNotFound
	}
	if !child.active {
		return ErrChildInactive
	}
	child.deployed.Add(child.deployed, amount)
	return nil
}

// Debit removes deployed capital from a child. Allowed on inactive
// records so stuck capital can still be recovered.
func (r *ChildRegistry) Debit(chainID uint32, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	child := r.children[chainID]
	if child == nil {
		return ErrChildNotFound
	}
	if amount.Cmp(child.deployed) > 0 {
		return ErrInsufficientDeployed
	}
	child.deployed.Sub(child.deployed, amount)
	return nil
}

// RecordReport stores the latest yield report for an active child.
func (r *ChildRegistry) RecordReport(chainID uint32, apyBps uint32, totalValue *big.Int, at int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	child := r.children[chainID]
	if child == nil {
		return ErrChildNotFound
	}
	if !child.active {
		return ErrChildInactive
	}
	child.apyBps = apyBps
	if totalValue != nil {
		child.totalValue.Set(totalValue)
	}
	child.lastReport = at
	return nil
}

// TotalDeployed sums deployed capital across active children.
func (r *ChildRegistry) TotalDeployed() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := big.NewInt(0)
	for _, child := range r.children {
		if child.active {
			total.Add(total, child.deployed)
		}
	}
	return total
}

func (c *childVault) snapshot() Snapshot {
	return Snapshot{
		ChainID:    c.chainID,
		Remote:     c.remote,
		Deployed:   new(big.Int).Set(c.deployed),
		APYBps:     c.apyBps,
		TotalValue: new(big.Int).Set(c.totalValue),
		LastReport: c.lastReport,
		Active:     c.active,
	}
}

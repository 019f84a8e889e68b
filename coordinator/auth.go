// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package coordinator

import "github.com/luxfi/geth/common"

// Capability is the bitmask of entry points a principal may call.
// Authorization is an explicit capability check per entry point rather
// than role lookups scattered through the call tree.
type Capability uint8

const (
	// CapManager authorizes capital operations: deploys, withdrawals,
	// rebalances, buffer refills, retries.
	CapManager Capability = 1 << iota
	// CapGuardian authorizes the circuit breaker and emergency paths.
	CapGuardian
	// CapTransport marks the bridge/message collaborator; only it may
	// invoke the inbound callbacks.
	CapTransport
	// CapAdmin authorizes parameter changes, child registration, and
	// capability grants.
	CapAdmin
)

// Grant adds capabilities to a principal. Caller needs CapAdmin.
func (c *Coordinator) Grant(caller, principal common.Address, cap Capability) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapAdmin); err != nil {
		return err
	}
	c.acl[principal] |= cap
	return nil
}

// Revoke removes capabilities from a principal. Caller needs CapAdmin.
func (c *Coordinator) Revoke(caller, principal common.Address, cap Capability) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapAdmin); err != nil {
		return err
	}
	c.acl[principal] &^= cap
	if c.acl[principal] == 0 {
		delete(c.acl, principal)
	}
	return nil
}

// HasCapability reports whether principal holds cap.
func (c *Coordinator) HasCapability(principal common.Address, cap Capability) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acl[principal]&cap == cap
}

// require checks caller holds cap. Caller holds c.mu.
func (c *Coordinator) require(caller common.Address, cap Capability) error {
	if c.acl[caller]&cap != cap {
		return ErrUnauthorized
	}
	return nil
}

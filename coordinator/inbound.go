// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package coordinator

import (
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/escion333/autoUSD-sub002/registry"
	"github.com/escion333/autoUSD-sub002/transport"
)

// OnMessage is the message-transport callback. caller must hold the
// transport capability; sender must be the registered remote identity
// for the origin chain. Redelivery of an applied message is a silent
// no-op. Inbound resolution is not pause-gated: dispatched operations
// keep resolving while the circuit breaker is tripped.
func (c *Coordinator) OnMessage(caller common.Address, origin uint32, sender common.Address, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapTransport); err != nil {
		return err
	}

	msgID := transport.MessageID(origin, sender, body)
	if c.processed[msgID] {
		return nil
	}

	payload, err := transport.DecodePayload(body)
	if err != nil {
		return err
	}

	child, err := c.children.Get(origin)
	if err != nil {
		return err
	}
	if !child.Active {
		return registry.ErrChildInactive
	}
	if sender != child.Remote {
		return ErrUntrustedSender
	}

	switch payload.Kind {
	case transport.PayloadYieldReport:
		return c.applyYieldReport(origin, payload, msgID)
	case transport.PayloadDepositAck:
		return c.applyDepositAck(origin, payload, msgID)
	default:
		return ErrUnexpectedPayload
	}
}

// applyYieldReport updates the child's reported APY. Caller holds c.mu.
func (c *Coordinator) applyYieldReport(origin uint32, payload *transport.Payload, msgID ids.ID) error {
	if err := c.children.RecordReport(origin, payload.APYBps, payload.TotalValue, c.now().Unix()); err != nil {
		return err
	}
	c.markProcessed(msgID)
	c.log.Debug("yield report applied",
		log.Uint32("chain", origin),
		log.Uint32("apyBps", payload.APYBps),
	)
	return nil
}

// applyDepositAck confirms an optimistic deploy. A late ack for an
// already-timed-out operation is rejected, never double-applied.
// Caller holds c.mu.
func (c *Coordinator) applyDepositAck(origin uint32, payload *transport.Payload, msgID ids.ID) error {
	op := c.pending[payload.OpRef]
	if op == nil {
		return ErrUnknownOperation
	}
	if op.Kind != OpDeploy {
		return ErrWrongOperationKind
	}
	if op.ChainID != origin {
		return ErrUntrustedSender
	}
	if op.Status != StatusInitiated {
		return ErrOperationClosed
	}

	op.Status = StatusConfirmed
	c.persist(op)
	c.markProcessed(msgID)
	c.log.Info("deploy confirmed",
		log.Stringer("op", op.ID),
		log.Uint32("chain", origin),
	)
	return nil
}

// OnAssetArrival is the bridge callback for capital returning to the
// hub. It credits idle, releases the deployed principal, and confirms
// the withdrawal operation the proof references. Idempotent per proof;
// not pause-gated.
func (c *Coordinator) OnAssetArrival(caller common.Address, amount *big.Int, sourceChain uint32, proof transport.ArrivalProof) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapTransport); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if !proof.Verify(amount, sourceChain) {
		return ErrInvalidProof
	}

	arrivalID := ids.ID(proof.Digest)
	if c.processed[arrivalID] {
		return nil
	}

	op := c.pending[proof.OpRef]
	if op == nil {
		return ErrUnknownOperation
	}
	if op.Kind != OpWithdraw {
		return ErrWrongOperationKind
	}
	if op.ChainID != sourceChain {
		return ErrUntrustedSender
	}
	if op.Status != StatusInitiated {
		return ErrOperationClosed
	}

	child, err := c.children.Get(sourceChain)
	if err != nil {
		return err
	}
	if !child.Active {
		return registry.ErrChildInactive
	}

	// The child may return principal plus yield; only the recorded
	// principal leaves the deployed total.
	released := new(big.Int).Set(amount)
	if released.Cmp(child.Deployed) > 0 {
		released.Set(child.Deployed)
	}
	if released.Sign() > 0 {
		if err := c.children.Debit(sourceChain, released); err != nil {
			return err
		}
	}
	if err := c.ledger.CreditArrival(amount, released); err != nil {
		if released.Sign() > 0 {
			c.children.Credit(sourceChain, released)
		}
		return err
	}

	op.Status = StatusConfirmed
	c.persist(op)
	c.markProcessed(arrivalID)
	c.log.Info("withdrawal confirmed",
		log.Stringer("op", op.ID),
		log.Uint32("chain", sourceChain),
	)
	return nil
}

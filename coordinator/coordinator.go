// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package coordinator orchestrates cross-chain capital movement for
// the hub ledger: it turns rebalance decisions and admin commands into
// dispatched transport operations, tracks each one as a pending
// operation, applies optimistic or confirmed ledger updates, and
// recovers from timeouts.
package coordinator

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/escion333/autoUSD-sub002/rebalance"
	"github.com/escion333/autoUSD-sub002/registry"
	"github.com/escion333/autoUSD-sub002/store"
	"github.com/escion333/autoUSD-sub002/transport"
	"github.com/escion333/autoUSD-sub002/vault"
)

// Authorization errors
var (
	ErrUnauthorized    = errors.New("caller lacks required capability")
	ErrUntrustedSender = errors.New("sender does not match registered remote identity")
	ErrInvalidProof    = errors.New("arrival proof does not bind amount and source")
)

// Validation errors
var (
	ErrZeroAmount        = errors.New("amount must be positive")
	ErrUnexpectedPayload = errors.New("unexpected payload kind")
)

// State errors
var (
	ErrPaused             = errors.New("coordinator paused")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrOperationClosed    = errors.New("operation already resolved")
	ErrWrongOperationKind = errors.New("operation kind mismatch")
	ErrNotTimedOut        = errors.New("operation has not timed out")
	ErrRetriesExhausted   = errors.New("retry budget exhausted")
)

const (
	// DefaultOperationTimeout is how long a dispatched operation may
	// stay unconfirmed before the sweep reverses it.
	DefaultOperationTimeout = time.Hour
	// DefaultMaxRetries bounds manual re-dispatches per operation
	// chain.
	DefaultMaxRetries = 3
)

// Config carries coordinator parameters.
type Config struct {
	OperationTimeout time.Duration
	MaxRetries       uint8
}

// RebalanceResult reports what an automatic rebalance dispatched.
type RebalanceResult struct {
	Move       rebalance.Move
	WithdrawOp ids.ID
	DeployOp   ids.ID // Empty when idle capital could not fund the deploy leg
}

// Coordinator owns all ledger and registry mutation. Every externally
// triggered operation runs as one serialized unit under its mutex; the
// only concurrency it faces is the external asynchrony between
// dispatch and eventual confirmation.
type Coordinator struct {
	ledger    *vault.Ledger
	buffer    *vault.BufferManager
	children  *registry.ChildRegistry
	engine    *rebalance.Engine
	bridge    transport.AssetBridge
	messenger transport.Messenger
	journal   *store.Journal

	pending   map[ids.ID]*PendingOperation
	order     []ids.ID
	processed map[ids.ID]bool

	acl    map[common.Address]Capability
	paused bool
	nonce  uint64

	opTimeout  time.Duration
	maxRetries uint8

	now func() time.Time
	log log.Logger

	mu sync.Mutex
}

// New wires the coordinator. admin receives every capability except
// CapTransport; the transport principal is granted separately.
func New(
	ledger *vault.Ledger,
	buffer *vault.BufferManager,
	children *registry.ChildRegistry,
	engine *rebalance.Engine,
	bridge transport.AssetBridge,
	messenger transport.Messenger,
	admin common.Address,
	cfg Config,
) *Coordinator {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	c := &Coordinator{
		ledger:     ledger,
		buffer:     buffer,
		children:   children,
		engine:     engine,
		bridge:     bridge,
		messenger:  messenger,
		pending:    make(map[ids.ID]*PendingOperation),
		processed:  make(map[ids.ID]bool),
		acl:        make(map[common.Address]Capability),
		opTimeout:  cfg.OperationTimeout,
		maxRetries: cfg.MaxRetries,
		now:        time.Now,
		log:        log.NoLog{},
	}
	c.acl[admin] = CapManager | CapGuardian | CapAdmin
	return c
}

// SetLogger replaces the no-op logger.
func (c *Coordinator) SetLogger(logger log.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = logger
}

// SetJournal attaches a durable journal for operation records and
// processed ids.
func (c *Coordinator) SetJournal(j *store.Journal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal = j
}

// Restore reloads pending operations and the processed-message set
// from the journal after a restart.
func (c *Coordinator) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.journal == nil {
		return nil
	}
	records, err := c.journal.Operations()
	if err != nil {
		return err
	}
	for _, raw := range records {
		op, err := unmarshalOperation(raw)
		if err != nil {
			return err
		}
		if _, ok := c.pending[op.ID]; !ok {
			c.order = append(c.order, op.ID)
		}
		c.pending[op.ID] = op
	}
	processed, err := c.journal.ProcessedIDs()
	if err != nil {
		return err
	}
	for _, id := range processed {
		c.processed[id] = true
	}
	return nil
}

// DeployToChild moves amount from idle capital to the child on
// chainID: optimistic ledger credit, bridge hand-off, then the deposit
// request message. The returned id tracks the pending operation.
func (c *Coordinator) DeployToChild(caller common.Address, chainID uint32, amount *big.Int) (ids.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapManager); err != nil {
		return ids.Empty, err
	}
	if c.paused {
		return ids.Empty, ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return ids.Empty, ErrZeroAmount
	}

	if err := c.engine.AuthorizeDeploy(c.now(), chainID, amount, c.buffer.DeployableAmount(), c.children.ListActive()); err != nil {
		return ids.Empty, err
	}
	return c.dispatchDeploy(chainID, amount, 0)
}

// WithdrawFromChild asks the child on chainID to return amount to the
// hub. No accounting moves until the asset arrival is confirmed.
func (c *Coordinator) WithdrawFromChild(caller common.Address, chainID uint32, amount *big.Int) (ids.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapManager); err != nil {
		return ids.Empty, err
	}
	if c.paused {
		return ids.Empty, ErrPaused
	}
	return c.dispatchWithdraw(chainID, amount, 0)
}

// AutoRebalance plans an equalizing move between the worst- and
// best-yielding children and dispatches it: a withdrawal from the
// worst, plus a deploy to the best when idle capital above the buffer
// can fund it. A nil result means the plan was a no-op.
func (c *Coordinator) AutoRebalance(caller common.Address) (*RebalanceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapManager); err != nil {
		return nil, err
	}
	if c.paused {
		return nil, ErrPaused
	}

	move, err := c.engine.PlanRebalance(c.now(), c.children.ListActive())
	if err != nil {
		return nil, err
	}
	if move == nil {
		return nil, nil
	}

	withdrawOp, err := c.dispatchWithdraw(move.From, move.Amount, 0)
	if err != nil {
		return nil, err
	}
	result := &RebalanceResult{Move: *move, WithdrawOp: withdrawOp}

	deployAmt := new(big.Int).Set(move.Amount)
	if deployable := c.buffer.DeployableAmount(); deployAmt.Cmp(deployable) > 0 {
		deployAmt.Set(deployable)
	}
	if deployAmt.Sign() > 0 {
		deployOp, err := c.dispatchDeploy(move.To, deployAmt, 0)
		if err != nil {
			// The withdrawal leg is already in flight; surplus capital
			// stays idle until the next rebalance.
			c.log.Warn("rebalance deploy leg failed",
				log.Uint32("chain", move.To),
				log.Err(err),
			)
		} else {
			result.DeployOp = deployOp
		}
	}
	return result, nil
}

// RequestBufferRefill issues proportional withdrawals against every
// active child to cover the current buffer deficit.
func (c *Coordinator) RequestBufferRefill(caller common.Address) ([]ids.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapManager); err != nil {
		return nil, err
	}
	if c.paused {
		return nil, ErrPaused
	}

	var ops []ids.ID
	for _, order := range c.buffer.PlanRefill(c.children.ListActive()) {
		op, err := c.dispatchWithdraw(order.ChainID, order.Amount, 0)
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// EmergencyWithdrawAll pulls every deployed balance back to the hub.
// Guardian action; works while paused.
func (c *Coordinator) EmergencyWithdrawAll(caller common.Address) ([]ids.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapGuardian); err != nil {
		return nil, err
	}

	var ops []ids.ID
	for _, child := range c.children.ListActive() {
		if child.Deployed.Sign() == 0 {
			continue
		}
		op, err := c.dispatchWithdraw(child.ChainID, child.Deployed, 0)
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// SweepTimeouts resolves pending operations older than the timeout:
// deploy optimism is reversed exactly once, the record transitions to
// TimedOut, and the failure is surfaced through the log and status.
// Runs regardless of pause state.
func (c *Coordinator) SweepTimeouts() []ids.ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var swept []ids.ID
	for _, id := range c.order {
		op := c.pending[id]
		if op.Status != StatusInitiated {
			continue
		}
		if now.Unix()-op.InitiatedAt < int64(c.opTimeout/time.Second) {
			continue
		}
		if op.Kind == OpDeploy {
			if err := c.reverseDeploy(op); err != nil {
				c.log.Warn("cannot reverse timed-out deploy",
					log.Stringer("op", op.ID),
					log.Err(err),
				)
				continue
			}
		}
		op.Status = StatusTimedOut
		c.persist(op)
		swept = append(swept, op.ID)
		c.log.Warn("operation timed out",
			log.Stringer("op", op.ID),
			log.String("kind", op.Kind.String()),
			log.Uint32("chain", op.ChainID),
		)
	}
	return swept
}

// RetryOperation re-issues a timed-out operation under a fresh
// transport identifier. The old record keeps its TimedOut status and
// links to the replacement.
func (c *Coordinator) RetryOperation(caller common.Address, opID ids.ID) (ids.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapManager); err != nil {
		return ids.Empty, err
	}
	if c.paused {
		return ids.Empty, ErrPaused
	}
	op := c.pending[opID]
	if op == nil {
		return ids.Empty, ErrUnknownOperation
	}
	if op.Status != StatusTimedOut {
		return ids.Empty, ErrNotTimedOut
	}
	if op.SupersededBy != ids.Empty {
		return ids.Empty, ErrOperationClosed
	}
	attempts := op.Attempts + 1
	if attempts > c.maxRetries {
		return ids.Empty, ErrRetriesExhausted
	}

	var (
		newID ids.ID
		err   error
	)
	switch op.Kind {
	case OpDeploy:
		newID, err = c.dispatchDeploy(op.ChainID, op.Amount, attempts)
	case OpWithdraw:
		newID, err = c.dispatchWithdraw(op.ChainID, op.Amount, attempts)
	default:
		return ids.Empty, ErrWrongOperationKind
	}
	if err != nil {
		return ids.Empty, err
	}
	op.SupersededBy = newID
	c.persist(op)
	c.log.Info("operation retried",
		log.Stringer("old", op.ID),
		log.Stringer("new", newID),
	)
	return newID, nil
}

// RecoverOperation terminates a stuck operation: outstanding deploy
// optimism is reversed so the capital is accounted idle again, and the
// record becomes Recovered. Guardian action; works while paused.
func (c *Coordinator) RecoverOperation(caller common.Address, opID ids.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapGuardian); err != nil {
		return err
	}
	op := c.pending[opID]
	if op == nil {
		return ErrUnknownOperation
	}
	if op.Status != StatusInitiated && op.Status != StatusTimedOut {
		return ErrOperationClosed
	}
	if op.Kind == OpDeploy && op.Status == StatusInitiated {
		if err := c.reverseDeploy(op); err != nil {
			return err
		}
	}
	op.Status = StatusRecovered
	c.persist(op)
	c.log.Warn("operation recovered",
		log.Stringer("op", op.ID),
		log.String("kind", op.Kind.String()),
	)
	return nil
}

// Pause trips the circuit breaker. Already-dispatched operations keep
// resolving; new dispatches are refused.
func (c *Coordinator) Pause(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapGuardian); err != nil {
		return err
	}
	c.paused = true
	c.ledger.Pause()
	c.log.Info("coordinator paused")
	return nil
}

// Unpause clears the circuit breaker.
func (c *Coordinator) Unpause(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapGuardian); err != nil {
		return err
	}
	c.paused = false
	c.ledger.Unpause()
	c.log.Info("coordinator unpaused")
	return nil
}

// Paused reports the circuit-breaker state.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// AddChild registers a child vault.
func (c *Coordinator) AddChild(caller common.Address, chainID uint32, remote common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapAdmin); err != nil {
		return err
	}
	return c.children.Add(chainID, remote)
}

// RemoveChild deactivates a child vault.
func (c *Coordinator) RemoveChild(caller common.Address, chainID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapAdmin); err != nil {
		return err
	}
	return c.children.Remove(chainID)
}

// SetDepositCap updates the ledger deposit cap.
func (c *Coordinator) SetDepositCap(caller common.Address, cap *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapAdmin); err != nil {
		return err
	}
	c.ledger.SetDepositCap(cap)
	return nil
}

// SetManagementFee updates the annual fee rate.
func (c *Coordinator) SetManagementFee(caller common.Address, bps uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapAdmin); err != nil {
		return err
	}
	return c.ledger.SetFeeBps(bps)
}

// SetRebalanceCooldown updates the global cooldown.
func (c *Coordinator) SetRebalanceCooldown(caller common.Address, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapAdmin); err != nil {
		return err
	}
	c.engine.SetCooldown(d)
	return nil
}

// SetMinAPYDifferential updates the required APY gap.
func (c *Coordinator) SetMinAPYDifferential(caller common.Address, bps uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapAdmin); err != nil {
		return err
	}
	c.engine.SetMinDifferential(bps)
	return nil
}

// SetBufferEnabled toggles buffer enforcement.
func (c *Coordinator) SetBufferEnabled(caller common.Address, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(caller, CapAdmin); err != nil {
		return err
	}
	c.buffer.SetEnabled(enabled)
	return nil
}

// Operation returns a copy of a tracked operation.
func (c *Coordinator) Operation(id ids.ID) (PendingOperation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := c.pending[id]
	if op == nil {
		return PendingOperation{}, false
	}
	return op.copyOp(), true
}

// Operations returns every tracked operation in dispatch order.
func (c *Coordinator) Operations() []PendingOperation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PendingOperation, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.pending[id].copyOp())
	}
	return out
}

// dispatchDeploy applies the optimistic accounting and hands the
// capital to the transports. Ledger and registry are mutated before
// any external call, so a reentrant callback observes post-mutation
// state. Caller holds c.mu.
func (c *Coordinator) dispatchDeploy(chainID uint32, amount *big.Int, attempts uint8) (ids.ID, error) {
	child, err := c.children.Get(chainID)
	if err != nil {
		return ids.Empty, err
	}
	if !child.Active {
		return ids.Empty, registry.ErrChildInactive
	}

	if err := c.ledger.DeployIdle(amount); err != nil {
		return ids.Empty, err
	}
	if err := c.children.Credit(chainID, amount); err != nil {
		c.ledger.UndoDeploy(amount)
		return ids.Empty, err
	}

	now := c.now()
	c.nonce++
	op := &PendingOperation{
		ID:          transport.NewOperationRef(byte(OpDeploy), chainID, amount, c.nonce, now.UnixNano()),
		Kind:        OpDeploy,
		ChainID:     chainID,
		Amount:      new(big.Int).Set(amount),
		InitiatedAt: now.Unix(),
		Status:      StatusInitiated,
		Attempts:    attempts,
	}

	if _, err := c.bridge.InitiateTransfer(amount, chainID, child.Remote); err != nil {
		c.children.Debit(chainID, amount)
		c.ledger.UndoDeploy(amount)
		return ids.Empty, err
	}

	payload := &transport.Payload{
		Kind:   transport.PayloadDepositRequest,
		OpRef:  op.ID,
		Amount: amount,
	}
	body, err := payload.Encode()
	if err != nil {
		c.children.Debit(chainID, amount)
		c.ledger.UndoDeploy(amount)
		return ids.Empty, err
	}
	if fee, err := c.messenger.EstimateFee(chainID, body); err == nil {
		c.log.Debug("quoted message fee",
			log.Uint32("chain", chainID),
			log.Uint64("fee", fee),
		)
	}
	msgRef, err := c.messenger.Send(chainID, child.Remote, body)
	if err != nil {
		// The bridge hand-off cannot be recalled; reverse the books and
		// leave the stray transfer to the transport's own recovery.
		c.children.Debit(chainID, amount)
		c.ledger.UndoDeploy(amount)
		c.log.Warn("deposit request send failed after bridge hand-off",
			log.Uint32("chain", chainID),
			log.Err(err),
		)
		return ids.Empty, err
	}
	op.MessageRef = msgRef

	c.track(op)
	c.log.Info("deploy dispatched",
		log.Stringer("op", op.ID),
		log.Uint32("chain", chainID),
	)
	return op.ID, nil
}

// dispatchWithdraw sends a withdrawal request. No accounting moves
// until the asset arrival confirms. Caller holds c.mu.
func (c *Coordinator) dispatchWithdraw(chainID uint32, amount *big.Int, attempts uint8) (ids.ID, error) {
	if amount == nil || amount.Sign() <= 0 {
		return ids.Empty, ErrZeroAmount
	}
	child, err := c.children.Get(chainID)
	if err != nil {
		return ids.Empty, err
	}
	if !child.Active {
		return ids.Empty, registry.ErrChildInactive
	}
	if amount.Cmp(child.Deployed) > 0 {
		return ids.Empty, registry.ErrInsufficientDeployed
	}

	now := c.now()
	c.nonce++
	op := &PendingOperation{
		ID:          transport.NewOperationRef(byte(OpWithdraw), chainID, amount, c.nonce, now.UnixNano()),
		Kind:        OpWithdraw,
		ChainID:     chainID,
		Amount:      new(big.Int).Set(amount),
		InitiatedAt: now.Unix(),
		Status:      StatusInitiated,
		Attempts:    attempts,
	}

	payload := &transport.Payload{
		Kind:   transport.PayloadWithdrawalRequest,
		OpRef:  op.ID,
		Amount: amount,
	}
	body, err := payload.Encode()
	if err != nil {
		return ids.Empty, err
	}
	msgRef, err := c.messenger.Send(chainID, child.Remote, body)
	if err != nil {
		return ids.Empty, err
	}
	op.MessageRef = msgRef

	c.track(op)
	c.log.Info("withdrawal dispatched",
		log.Stringer("op", op.ID),
		log.Uint32("chain", chainID),
	)
	return op.ID, nil
}

// reverseDeploy undoes the optimistic accounting of op. Caller holds
// c.mu.
func (c *Coordinator) reverseDeploy(op *PendingOperation) error {
	if err := c.children.Debit(op.ChainID, op.Amount); err != nil {
		return err
	}
	if err := c.ledger.UndoDeploy(op.Amount); err != nil {
		c.children.Credit(op.ChainID, op.Amount)
		return err
	}
	return nil
}

// track records a fresh pending operation. Caller holds c.mu.
func (c *Coordinator) track(op *PendingOperation) {
	c.pending[op.ID] = op
	c.order = append(c.order, op.ID)
	c.persist(op)
}

// persist writes the operation record to the journal, when configured.
// Journal failures degrade to a warning; the in-memory record is the
// source of truth within a process lifetime.
func (c *Coordinator) persist(op *PendingOperation) {
	if c.journal == nil {
		return
	}
	if err := c.journal.PutOperation(op.ID, op.marshal()); err != nil {
		c.log.Warn("journal write failed",
			log.Stringer("op", op.ID),
			log.Err(err),
		)
	}
}

// markProcessed registers an applied inbound identifier. Caller holds
// c.mu.
func (c *Coordinator) markProcessed(id ids.ID) {
	c.processed[id] = true
	if c.journal != nil {
		if err := c.journal.MarkProcessed(id); err != nil {
			c.log.Warn("journal write failed",
				log.Stringer("msg", id),
				log.Err(err),
			)
		}
	}
}

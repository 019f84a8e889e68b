// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package coordinator

import (
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"

	"github.com/escion333/autoUSD-sub002/rebalance"
	"github.com/escion333/autoUSD-sub002/registry"
	"github.com/escion333/autoUSD-sub002/store"
	"github.com/escion333/autoUSD-sub002/transport"
	"github.com/escion333/autoUSD-sub002/vault"
)

var (
	admin        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	transportSvc = common.HexToAddress("0x0000000000000000000000000000000000000002")
	outsider     = common.HexToAddress("0x0000000000000000000000000000000000000003")
	depositor    = common.HexToAddress("0x0000000000000000000000000000000000000004")
	remote1      = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	remote2      = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

type fixture struct {
	t         *testing.T
	c         *Coordinator
	ledger    *vault.Ledger
	buffer    *vault.BufferManager
	children  *registry.ChildRegistry
	bridge    *transport.MockBridge
	messenger *transport.MockMessenger
	now       time.Time
}

func newFixture(t *testing.T, bufferBps uint32, cfg Config) *fixture {
	t.Helper()

	ledger, err := vault.NewLedger(vault.LedgerConfig{Custody: transport.NewMockCustody()})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	buffer, err := vault.NewBufferManager(ledger, bufferBps)
	if err != nil {
		t.Fatalf("NewBufferManager failed: %v", err)
	}
	children := registry.NewChildRegistry()
	engine := rebalance.NewEngine(rebalance.Config{})
	bridge := transport.NewMockBridge()
	messenger := transport.NewMockMessenger()

	f := &fixture{
		t:         t,
		ledger:    ledger,
		buffer:    buffer,
		children:  children,
		bridge:    bridge,
		messenger: messenger,
		now:       time.Unix(1_700_000_000, 0),
	}
	f.c = New(ledger, buffer, children, engine, bridge, messenger, admin, cfg)
	f.c.now = func() time.Time { return f.now }

	if err := f.c.Grant(admin, transportSvc, CapTransport); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if err := f.c.AddChild(admin, 1, remote1); err != nil {
		t.Fatalf("add child 1 failed: %v", err)
	}
	if err := f.c.AddChild(admin, 2, remote2); err != nil {
		t.Fatalf("add child 2 failed: %v", err)
	}
	return f
}

func (f *fixture) seed(amount int64) {
	f.t.Helper()
	if _, err := f.ledger.Deposit(big.NewInt(amount), depositor); err != nil {
		f.t.Fatalf("seed deposit failed: %v", err)
	}
}

func (f *fixture) deploy(chainID uint32, amount int64) ids.ID {
	f.t.Helper()
	op, err := f.c.DeployToChild(admin, chainID, big.NewInt(amount))
	if err != nil {
		f.t.Fatalf("deploy to %d failed: %v", chainID, err)
	}
	return op
}

func (f *fixture) ackDeploy(origin uint32, remote common.Address, opID ids.ID) error {
	f.t.Helper()
	body, err := (&transport.Payload{Kind: transport.PayloadDepositAck, OpRef: opID}).Encode()
	if err != nil {
		f.t.Fatalf("encode ack failed: %v", err)
	}
	return f.c.OnMessage(transportSvc, origin, remote, body)
}

func (f *fixture) yieldReport(origin uint32, remote common.Address, apyBps uint32) error {
	f.t.Helper()
	body, err := (&transport.Payload{
		Kind:       transport.PayloadYieldReport,
		APYBps:     apyBps,
		TotalValue: big.NewInt(0),
		ReportedAt: f.now.Unix(),
	}).Encode()
	if err != nil {
		f.t.Fatalf("encode report failed: %v", err)
	}
	return f.c.OnMessage(transportSvc, origin, remote, body)
}

func (f *fixture) status(opID ids.ID) OperationStatus {
	f.t.Helper()
	op, ok := f.c.Operation(opID)
	if !ok {
		f.t.Fatalf("operation %s not tracked", opID)
	}
	return op.Status
}

func TestCoordinator_DeployOptimisticAccounting(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)

	opID := f.deploy(1, 10_000)

	// Books move before any confirmation arrives.
	if f.ledger.TotalIdle().Cmp(big.NewInt(990_000)) != 0 {
		t.Fatalf("expected idle 990000, got %s", f.ledger.TotalIdle())
	}
	if f.ledger.TotalDeployed().Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected deployed 10000, got %s", f.ledger.TotalDeployed())
	}
	child, _ := f.children.Get(1)
	if child.Deployed.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected child deployed 10000, got %s", child.Deployed)
	}
	if got := f.status(opID); got != StatusInitiated {
		t.Fatalf("expected Initiated, got %s", got)
	}

	// Both transports were exercised: asset hand-off plus the request.
	if len(f.bridge.Transfers) != 1 || f.bridge.Transfers[0].DestChain != 1 {
		t.Fatalf("unexpected bridge transfers: %+v", f.bridge.Transfers)
	}
	sent, err := transport.DecodePayload(f.messenger.LastPayload())
	if err != nil {
		t.Fatalf("decode sent payload failed: %v", err)
	}
	if sent.Kind != transport.PayloadDepositRequest || sent.OpRef != opID {
		t.Fatalf("unexpected request payload: %+v", sent)
	}

	// The remote vault's ack closes the operation.
	if err := f.ackDeploy(1, remote1, opID); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if got := f.status(opID); got != StatusConfirmed {
		t.Fatalf("expected Confirmed, got %s", got)
	}
}

func TestCoordinator_DeployGates(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)

	if _, err := f.c.DeployToChild(outsider, 1, big.NewInt(100)); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.c.DeployToChild(admin, 1, big.NewInt(0)); err != ErrZeroAmount {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := f.c.DeployToChild(admin, 9, big.NewInt(100)); err != rebalance.ErrUnknownTarget {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}

	if err := f.c.Pause(admin); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if _, err := f.c.DeployToChild(admin, 1, big.NewInt(100)); err != ErrPaused {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if _, err := f.c.WithdrawFromChild(admin, 1, big.NewInt(100)); err != ErrPaused {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
}

func TestCoordinator_DeployDispatchFailureUnwinds(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)

	f.messenger.NextErr = transport.ErrShortPayload
	if _, err := f.c.DeployToChild(admin, 1, big.NewInt(10_000)); err == nil {
		t.Fatal("expected dispatch error")
	}

	// Failed dispatch leaves no trace in the books.
	if f.ledger.TotalIdle().Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("idle changed after failed dispatch: %s", f.ledger.TotalIdle())
	}
	if f.ledger.TotalDeployed().Sign() != 0 {
		t.Fatalf("deployed changed after failed dispatch: %s", f.ledger.TotalDeployed())
	}
	child, _ := f.children.Get(1)
	if child.Deployed.Sign() != 0 {
		t.Fatalf("child credited after failed dispatch: %s", child.Deployed)
	}
	if len(f.c.Operations()) != 0 {
		t.Fatal("failed dispatch left a tracked operation")
	}
}

func TestCoordinator_WithdrawConfirmedOnArrival(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)
	f.deploy(1, 10_000)

	opID, err := f.c.WithdrawFromChild(admin, 1, big.NewInt(4_000))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	// No accounting moves at dispatch.
	if f.ledger.TotalDeployed().Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("deployed moved at dispatch: %s", f.ledger.TotalDeployed())
	}

	// The child returns principal plus yield; only principal leaves the
	// deployed totals.
	amount := big.NewInt(4_100)
	proof := transport.NewArrivalProof(amount, 1, opID)
	if err := f.c.OnAssetArrival(transportSvc, amount, 1, proof); err != nil {
		t.Fatalf("arrival failed: %v", err)
	}
	if got := f.status(opID); got != StatusConfirmed {
		t.Fatalf("expected Confirmed, got %s", got)
	}
	if f.ledger.TotalIdle().Cmp(big.NewInt(994_100)) != 0 {
		t.Fatalf("expected idle 994100, got %s", f.ledger.TotalIdle())
	}
	if f.ledger.TotalDeployed().Cmp(big.NewInt(5_900)) != 0 {
		t.Fatalf("expected deployed 5900, got %s", f.ledger.TotalDeployed())
	}
	child, _ := f.children.Get(1)
	if child.Deployed.Cmp(big.NewInt(5_900)) != 0 {
		t.Fatalf("expected child deployed 5900, got %s", child.Deployed)
	}
}

func TestCoordinator_WithdrawExceedsDeployed(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)
	f.deploy(1, 10_000)

	if _, err := f.c.WithdrawFromChild(admin, 1, big.NewInt(20_000)); err != registry.ErrInsufficientDeployed {
		t.Fatalf("expected ErrInsufficientDeployed, got %v", err)
	}
}

func TestCoordinator_SweepTimeoutsReversesDeploy(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)
	opID := f.deploy(1, 10_000)

	// Within the window nothing sweeps.
	if swept := f.c.SweepTimeouts(); len(swept) != 0 {
		t.Fatalf("premature sweep: %v", swept)
	}

	f.now = f.now.Add(2 * time.Hour)
	swept := f.c.SweepTimeouts()
	if len(swept) != 1 || swept[0] != opID {
		t.Fatalf("unexpected sweep result: %v", swept)
	}
	if got := f.status(opID); got != StatusTimedOut {
		t.Fatalf("expected TimedOut, got %s", got)
	}
	// The optimistic deploy is reversed exactly once.
	if f.ledger.TotalIdle().Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected idle restored, got %s", f.ledger.TotalIdle())
	}
	child, _ := f.children.Get(1)
	if child.Deployed.Sign() != 0 {
		t.Fatalf("child still credited: %s", child.Deployed)
	}

	// A second sweep finds nothing to do.
	if swept := f.c.SweepTimeouts(); len(swept) != 0 {
		t.Fatalf("double sweep: %v", swept)
	}

	// A late ack must not resurrect the operation.
	if err := f.ackDeploy(1, remote1, opID); err != ErrOperationClosed {
		t.Fatalf("expected ErrOperationClosed, got %v", err)
	}
	if f.ledger.TotalDeployed().Sign() != 0 {
		t.Fatalf("late ack moved capital: %s", f.ledger.TotalDeployed())
	}
}

func TestCoordinator_SweepLeavesWithdrawAccountingAlone(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)
	f.deploy(1, 10_000)

	opID, err := f.c.WithdrawFromChild(admin, 1, big.NewInt(4_000))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	f.now = f.now.Add(2 * time.Hour)
	f.c.SweepTimeouts()

	if got := f.status(opID); got != StatusTimedOut {
		t.Fatalf("expected TimedOut, got %s", got)
	}
	// Withdrawals carry no optimism, so the sweep moves nothing. The
	// deploy itself timed out in the same sweep and was reversed.
	if f.ledger.TotalIdle().Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("unexpected idle: %s", f.ledger.TotalIdle())
	}
}

func TestCoordinator_RetrySpawnsReplacement(t *testing.T) {
	f := newFixture(t, 0, Config{MaxRetries: 1})
	f.seed(1_000_000)
	opID := f.deploy(1, 10_000)

	if _, err := f.c.RetryOperation(admin, opID); err != ErrNotTimedOut {
		t.Fatalf("expected ErrNotTimedOut, got %v", err)
	}

	f.now = f.now.Add(2 * time.Hour)
	f.c.SweepTimeouts()

	newID, err := f.c.RetryOperation(admin, opID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if newID == opID {
		t.Fatal("retry reused the old identifier")
	}
	old, _ := f.c.Operation(opID)
	if old.Status != StatusTimedOut || old.SupersededBy != newID {
		t.Fatalf("old record not linked: %+v", old)
	}
	replacement, _ := f.c.Operation(newID)
	if replacement.Status != StatusInitiated || replacement.Attempts != 1 {
		t.Fatalf("unexpected replacement: %+v", replacement)
	}
	// Optimism is re-applied for the replacement deploy.
	if f.ledger.TotalDeployed().Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected deployed 10000, got %s", f.ledger.TotalDeployed())
	}

	// The superseded record cannot be retried twice.
	if _, err := f.c.RetryOperation(admin, opID); err != ErrOperationClosed {
		t.Fatalf("expected ErrOperationClosed, got %v", err)
	}

	// The replacement exhausts the retry budget.
	f.now = f.now.Add(2 * time.Hour)
	f.c.SweepTimeouts()
	if _, err := f.c.RetryOperation(admin, newID); err != ErrRetriesExhausted {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestCoordinator_RecoverOperation(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)
	opID := f.deploy(1, 10_000)

	if err := f.c.RecoverOperation(outsider, opID); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.c.RecoverOperation(admin, opID); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if got := f.status(opID); got != StatusRecovered {
		t.Fatalf("expected Recovered, got %s", got)
	}
	if f.ledger.TotalIdle().Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected idle restored, got %s", f.ledger.TotalIdle())
	}
	// Terminal states stay terminal.
	if err := f.c.RecoverOperation(admin, opID); err != ErrOperationClosed {
		t.Fatalf("expected ErrOperationClosed, got %v", err)
	}
}

func TestCoordinator_AutoRebalance(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)
	f.deploy(1, 400)
	f.deploy(2, 200)
	if err := f.yieldReport(1, remote1, 500); err != nil {
		t.Fatalf("report 1 failed: %v", err)
	}
	if err := f.yieldReport(2, remote2, 1_000); err != nil {
		t.Fatalf("report 2 failed: %v", err)
	}
	if err := f.c.SetMinAPYDifferential(admin, 100); err != nil {
		t.Fatalf("set differential failed: %v", err)
	}

	result, err := f.c.AutoRebalance(admin)
	if err != nil {
		t.Fatalf("rebalance failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a dispatched rebalance")
	}
	if result.Move.From != 1 || result.Move.To != 2 {
		t.Fatalf("expected move 1 -> 2, got %d -> %d", result.Move.From, result.Move.To)
	}
	if result.Move.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected amount 100, got %s", result.Move.Amount)
	}
	if result.WithdrawOp == ids.Empty || result.DeployOp == ids.Empty {
		t.Fatalf("expected both legs dispatched: %+v", result)
	}

	// The deploy leg is funded optimistically from idle.
	child2, _ := f.children.Get(2)
	if child2.Deployed.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected chain 2 deployed 300, got %s", child2.Deployed)
	}
	if got := f.status(result.WithdrawOp); got != StatusInitiated {
		t.Fatalf("withdraw leg not pending: %s", got)
	}
}

func TestCoordinator_AutoRebalanceNoOp(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)
	f.deploy(1, 400)

	result, err := f.c.AutoRebalance(admin)
	if err != nil {
		t.Fatalf("rebalance failed: %v", err)
	}
	if result != nil {
		t.Fatalf("expected no-op with a single child, got %+v", result)
	}
}

func TestCoordinator_RequestBufferRefill(t *testing.T) {
	f := newFixture(t, 1_000, Config{})
	f.seed(10_000)

	// Deploy past the buffer with enforcement suspended, then restore it
	// to open a deficit.
	if err := f.c.SetBufferEnabled(admin, false); err != nil {
		t.Fatalf("disable buffer failed: %v", err)
	}
	f.deploy(1, 6_400)
	f.deploy(2, 3_200)
	if err := f.c.SetBufferEnabled(admin, true); err != nil {
		t.Fatalf("enable buffer failed: %v", err)
	}

	ops, err := f.c.RequestBufferRefill(admin)
	if err != nil {
		t.Fatalf("refill failed: %v", err)
	}
	// Deficit 600 split proportionally: 400 from chain 1, 200 from 2.
	if len(ops) != 2 {
		t.Fatalf("expected 2 refill ops, got %d", len(ops))
	}
	first, _ := f.c.Operation(ops[0])
	second, _ := f.c.Operation(ops[1])
	if first.Kind != OpWithdraw || first.Amount.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected first refill op: %+v", first)
	}
	if second.Kind != OpWithdraw || second.Amount.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected second refill op: %+v", second)
	}
}

func TestCoordinator_EmergencyWithdrawAllWhilePaused(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)
	f.deploy(1, 10_000)
	f.deploy(2, 5_000)

	if err := f.c.Pause(admin); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	ops, err := f.c.EmergencyWithdrawAll(admin)
	if err != nil {
		t.Fatalf("emergency withdraw failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(ops))
	}
	for _, id := range ops {
		op, _ := f.c.Operation(id)
		if op.Kind != OpWithdraw || op.Status != StatusInitiated {
			t.Fatalf("unexpected emergency op: %+v", op)
		}
	}

	// Resolution still works while paused: the full balance comes home.
	op, _ := f.c.Operation(ops[0])
	proof := transport.NewArrivalProof(op.Amount, op.ChainID, op.ID)
	if err := f.c.OnAssetArrival(transportSvc, op.Amount, op.ChainID, proof); err != nil {
		t.Fatalf("arrival while paused failed: %v", err)
	}
	if got := f.status(op.ID); got != StatusConfirmed {
		t.Fatalf("expected Confirmed, got %s", got)
	}
}

func TestCoordinator_RestoreFromJournal(t *testing.T) {
	f := newFixture(t, 0, Config{})
	db := memdb.New()
	f.c.SetJournal(store.New(db))
	f.seed(1_000_000)

	opID := f.deploy(1, 10_000)
	if err := f.yieldReport(1, remote1, 500); err != nil {
		t.Fatalf("report failed: %v", err)
	}

	// A fresh coordinator over the same journal sees the pending
	// operation and the processed-message set.
	g := newFixture(t, 0, Config{})
	g.c.SetJournal(store.New(db))
	if err := g.c.Restore(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	op, ok := g.c.Operation(opID)
	if !ok {
		t.Fatal("operation not restored")
	}
	if op.Status != StatusInitiated || op.Amount.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("restored record mismatch: %+v", op)
	}
	if len(g.c.processed) == 0 {
		t.Fatal("processed set not restored")
	}
}

func TestCoordinator_AdminGates(t *testing.T) {
	f := newFixture(t, 0, Config{})

	if err := f.c.SetDepositCap(outsider, big.NewInt(1)); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.c.SetManagementFee(outsider, 100); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.c.AddChild(outsider, 3, remote1); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.c.Grant(outsider, outsider, CapAdmin); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Grants and revokes round-trip.
	if err := f.c.Grant(admin, outsider, CapManager); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if !f.c.HasCapability(outsider, CapManager) {
		t.Fatal("grant not applied")
	}
	if err := f.c.Revoke(admin, outsider, CapManager); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if f.c.HasCapability(outsider, CapManager) {
		t.Fatal("revoke not applied")
	}
}

func TestCoordinator_PauseUnpausePropagatesToLedger(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.seed(1_000_000)

	if err := f.c.Pause(admin); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if !f.c.Paused() {
		t.Fatal("coordinator not paused")
	}
	if _, err := f.ledger.Deposit(big.NewInt(100), depositor); err != vault.ErrLedgerPaused {
		t.Fatalf("expected ErrLedgerPaused, got %v", err)
	}

	if err := f.c.Unpause(admin); err != nil {
		t.Fatalf("unpause failed: %v", err)
	}
	if _, err := f.ledger.Deposit(big.NewInt(100), depositor); err != nil {
		t.Fatalf("deposit after unpause failed: %v", err)
	}
}

func TestOperationRecord_RoundTrip(t *testing.T) {
	in := &PendingOperation{
		ID:           transport.NewOperationRef(byte(OpDeploy), 7, big.NewInt(5_000), 3, 99),
		Kind:         OpDeploy,
		ChainID:      7,
		Amount:       big.NewInt(5_000),
		InitiatedAt:  1_700_000_000,
		Status:       StatusTimedOut,
		Attempts:     2,
		SupersededBy: transport.NewOperationRef(byte(OpDeploy), 7, big.NewInt(5_000), 4, 100),
		MessageRef:   transport.NewOperationRef(0xee, 7, big.NewInt(1), 1, 1),
	}
	out, err := unmarshalOperation(in.marshal())
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.ID != in.ID || out.Kind != in.Kind || out.Status != in.Status ||
		out.ChainID != in.ChainID || out.InitiatedAt != in.InitiatedAt ||
		out.Attempts != in.Attempts || out.SupersededBy != in.SupersededBy ||
		out.MessageRef != in.MessageRef {
		t.Fatalf("record mismatch: %+v", out)
	}
	if out.Amount.Cmp(in.Amount) != 0 {
		t.Fatalf("amount mismatch: %s", out.Amount)
	}

	if _, err := unmarshalOperation([]byte{1, 2, 3}); err != ErrBadOperationRecord {
		t.Fatalf("expected ErrBadOperationRecord, got %v", err)
	}
}

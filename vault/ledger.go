// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
)

// Ledger is the hub accounting record for the stable-value asset. It
// owns idle and deployed totals, the share supply, and the management
// fee clock. All amount/share conversions happen here; the coordinator
// moves capital between idle and deployed through the Deploy/Credit
// hooks and never touches the fields directly.
type Ledger struct {
	totalIdle     *big.Int
	totalDeployed *big.Int
	shareSupply   *big.Int
	balances      map[common.Address]*big.Int

	feeBps            uint32
	feeRecipient      common.Address
	lastFeeCollection int64
	feesCollected     *big.Int

	depositCap      *big.Int
	bootstrapShares *big.Int
	paused          bool

	custody AssetCustody
	buffer  *BufferManager

	now func() time.Time

	mu sync.RWMutex
}

// LedgerConfig carries the initial ledger parameters.
type LedgerConfig struct {
	FeeBps          uint32
	FeeRecipient    common.Address
	DepositCap      *big.Int // nil means uncapped
	BootstrapShares *big.Int // nil means DefaultBootstrapShares
	Custody         AssetCustody
}

// NewLedger creates an empty ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.FeeBps > MaxManagementFeeBps {
		return nil, ErrInvalidFee
	}
	bootstrap := cfg.BootstrapShares
	if bootstrap == nil {
		bootstrap = big.NewInt(DefaultBootstrapShares)
	}
	cap := cfg.DepositCap
	if cap == nil {
		cap = new(big.Int)
	}
	l := &Ledger{
		totalIdle:       big.NewInt(0),
		totalDeployed:   big.NewInt(0),
		shareSupply:     big.NewInt(0),
		balances:        make(map[common.Address]*big.Int),
		feeBps:          cfg.FeeBps,
		feeRecipient:    cfg.FeeRecipient,
		feesCollected:   big.NewInt(0),
		depositCap:      new(big.Int).Set(cap),
		bootstrapShares: new(big.Int).Set(bootstrap),
		custody:         cfg.Custody,
		now:             time.Now,
	}
	l.lastFeeCollection = l.now().Unix()
	return l, nil
}

// TotalAssets returns totalIdle + totalDeployed.
func (l *Ledger) TotalAssets() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalAssets()
}

func (l *Ledger) totalAssets() *big.Int {
	return new(big.Int).Add(l.totalIdle, l.totalDeployed)
}

// TotalIdle returns the on-hub idle balance.
func (l *Ledger) TotalIdle() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalIdle)
}

// TotalDeployed returns the capital deployed to child vaults.
func (l *Ledger) TotalDeployed() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalDeployed)
}

// ShareSupply returns the outstanding share supply.
func (l *Ledger) ShareSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.shareSupply)
}

// BalanceOf returns holder's share balance.
func (l *Ledger) BalanceOf(holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b := l.balances[holder]; b != nil {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// FeesCollected returns the cumulative collected management fee.
func (l *Ledger) FeesCollected() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.feesCollected)
}

// MaxDeposit returns the remaining deposit headroom. A nil result
// means the cap is unset and headroom is unlimited; callers must check
// for nil before comparing against it. A non-nil zero means deposits
// are refused: the ledger is paused or the cap is reached.
func (l *Ledger) MaxDeposit() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.maxDeposit()
}

func (l *Ledger) maxDeposit() *big.Int {
	if l.paused {
		return big.NewInt(0)
	}
	if l.depositCap.Sign() == 0 {
		return nil
	}
	room := new(big.Int).Sub(l.depositCap, l.totalAssets())
	if room.Sign() < 0 {
		room.SetInt64(0)
	}
	return room
}

// ConvertToShares floors assets into shares at the current rate.
func (l *Ledger) ConvertToShares(assets *big.Int) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.convertToShares(assets)
}

func (l *Ledger) convertToShares(assets *big.Int) *big.Int {
	if l.shareSupply.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	shares := new(big.Int).Mul(assets, l.shareSupply)
	return shares.Div(shares, l.totalAssets())
}

// ConvertToAssets floors shares into assets at the current rate.
func (l *Ledger) ConvertToAssets(shares *big.Int) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.convertToAssets(shares)
}

func (l *Ledger) convertToAssets(shares *big.Int) *big.Int {
	if l.shareSupply.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	assets := new(big.Int).Mul(shares, l.totalAssets())
	return assets.Div(assets, l.shareSupply)
}

// sharesForAssetsCeil is the ceiling-rounded share cost of withdrawing
// assets, so the vault never under-charges the withdrawing party.
func (l *Ledger) sharesForAssetsCeil(assets *big.Int) *big.Int {
	if l.shareSupply.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	num := new(big.Int).Mul(assets, l.shareSupply)
	q, r := num.QuoRem(num, l.totalAssets(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// Deposit credits assets to the idle balance and mints shares to
// receiver, floor-rounded. The first deposit mints 1:1 and diverts the
// bootstrap offset to the burn identity.
func (l *Ledger) Deposit(assets *big.Int, receiver common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return nil, ErrLedgerPaused
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if receiver == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if room := l.maxDeposit(); room != nil && assets.Cmp(room) > 0 {
		return nil, ErrDepositCapExceeded
	}

	var shares *big.Int
	if l.shareSupply.Sign() == 0 {
		if assets.Cmp(l.bootstrapShares) <= 0 {
			return nil, ErrFirstDepositSmall
		}
		l.mint(BurnAddress, l.bootstrapShares)
		shares = new(big.Int).Sub(assets, l.bootstrapShares)
	} else {
		shares = l.convertToShares(assets)
		if shares.Sign() == 0 {
			return nil, ErrZeroShares
		}
	}

	l.mint(receiver, shares)
	l.totalIdle.Add(l.totalIdle, assets)
	return shares, nil
}

// Withdraw pays out exactly assets to receiver, burning the
// ceiling-rounded share cost from owner. Capped by the buffer-derived
// withdrawal limit; refused, never queued.
func (l *Ledger) Withdraw(assets *big.Int, owner, receiver common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return nil, ErrLedgerPaused
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := l.checkWithdrawable(assets); err != nil {
		return nil, err
	}

	shares := l.sharesForAssetsCeil(assets)
	if err := l.burn(owner, shares); err != nil {
		return nil, err
	}
	l.totalIdle.Sub(l.totalIdle, assets)

	// Effects before interaction: accounting is final before custody
	// sees the transfer.
	if l.custody != nil {
		if err := l.custody.Transfer(receiver, assets); err != nil {
			// Roll the accounting back so the caller sees an atomic failure.
			l.totalIdle.Add(l.totalIdle, assets)
			l.mint(owner, shares)
			return nil, err
		}
	}
	return shares, nil
}

// Redeem burns exactly shares from owner and pays out the
// floor-rounded asset value to receiver.
func (l *Ledger) Redeem(shares *big.Int, owner, receiver common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return nil, ErrLedgerPaused
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	assets := l.convertToAssets(shares)
	if assets.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if err := l.checkWithdrawable(assets); err != nil {
		return nil, err
	}
	if err := l.burn(owner, shares); err != nil {
		return nil, err
	}
	l.totalIdle.Sub(l.totalIdle, assets)

	if l.custody != nil {
		if err := l.custody.Transfer(receiver, assets); err != nil {
			l.totalIdle.Add(l.totalIdle, assets)
			l.mint(owner, shares)
			return nil, err
		}
	}
	return assets, nil
}

func (l *Ledger) checkWithdrawable(assets *big.Int) error {
	if assets.Cmp(l.totalIdle) > 0 {
		return ErrInsufficientIdle
	}
	if l.buffer != nil {
		if assets.Cmp(l.buffer.availableLocked(l.totalAssets(), l.totalIdle)) > 0 {
			return ErrWithdrawalLimited
		}
	}
	return nil
}

// CollectManagementFees accrues feeBps of total assets over the
// elapsed period and pays it to the fee recipient out of idle funds.
// The fee clock only advances on success; there is no partial
// collection.
func (l *Ledger) CollectManagementFees() (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().Unix()
	elapsed := now - l.lastFeeCollection
	if elapsed <= 0 {
		return big.NewInt(0), nil
	}

	fee := new(big.Int).Mul(l.totalAssets(), big.NewInt(int64(l.feeBps)))
	fee.Mul(fee, big.NewInt(elapsed))
	fee.Div(fee, big.NewInt(int64(BpsDenominator)*int64(SecondsPerYear)))

	if fee.Cmp(l.totalIdle) > 0 {
		return nil, ErrFeeExceedsIdle
	}

	l.totalIdle.Sub(l.totalIdle, fee)
	l.feesCollected.Add(l.feesCollected, fee)
	l.lastFeeCollection = now

	if l.custody != nil && fee.Sign() > 0 {
		if err := l.custody.Transfer(l.feeRecipient, fee); err != nil {
			l.totalIdle.Add(l.totalIdle, fee)
			l.feesCollected.Sub(l.feesCollected, fee)
			return nil, err
		}
	}
	return fee, nil
}

// DeployIdle moves amount from idle to deployed. Coordinator hook; the
// buffer ceiling is enforced by the caller before dispatch.
func (l *Ledger) DeployIdle(amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if amount.Cmp(l.totalIdle) > 0 {
		return ErrInsufficientIdle
	}
	l.totalIdle.Sub(l.totalIdle, amount)
	l.totalDeployed.Add(l.totalDeployed, amount)
	return nil
}

// CreditArrival credits arrived assets to idle and releases undeployed
// from the deployed total. The two differ when a child returns more
// than its recorded principal.
func (l *Ledger) CreditArrival(credited, undeployed *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if credited == nil || credited.Sign() <= 0 {
		return ErrZeroAmount
	}
	if undeployed.Cmp(l.totalDeployed) > 0 {
		return ErrExceedsDeployed
	}
	l.totalIdle.Add(l.totalIdle, credited)
	l.totalDeployed.Sub(l.totalDeployed, undeployed)
	return nil
}

// UndoDeploy reverses the optimistic accounting of a deploy that never
// confirmed.
func (l *Ledger) UndoDeploy(amount *big.Int) error {
	return l.CreditArrival(amount, amount)
}

// SetFeeBps updates the management fee rate.
func (l *Ledger) SetFeeBps(bps uint32) error {
	if bps > MaxManagementFeeBps {
		return ErrInvalidFee
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeBps = bps
	return nil
}

// SetDepositCap updates the deposit cap. Zero means uncapped.
func (l *Ledger) SetDepositCap(cap *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cap == nil {
		l.depositCap.SetInt64(0)
		return
	}
	l.depositCap.Set(cap)
}

// Pause blocks deposits and withdrawals.
func (l *Ledger) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

// Unpause re-enables deposits and withdrawals.
func (l *Ledger) Unpause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
}

// Paused reports the circuit-breaker state.
func (l *Ledger) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused
}

func (l *Ledger) mint(to common.Address, shares *big.Int) {
	bal := l.balances[to]
	if bal == nil {
		bal = big.NewInt(0)
		l.balances[to] = bal
	}
	bal.Add(bal, shares)
	l.shareSupply.Add(l.shareSupply, shares)
}

func (l *Ledger) burn(from common.Address, shares *big.Int) error {
	bal := l.balances[from]
	if bal == nil || bal.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	bal.Sub(bal, shares)
	if bal.Sign() == 0 {
		delete(l.balances, from)
	}
	l.shareSupply.Sub(l.shareSupply, shares)
	return nil
}

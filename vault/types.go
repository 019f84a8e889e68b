// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

const (
	// BpsDenominator is the basis-point scale used for all rates.
	BpsDenominator = 10_000

	// SecondsPerYear is the accrual period for the management fee.
	SecondsPerYear = 365 * 24 * 60 * 60

	// MaxManagementFeeBps caps the annual management fee at 5%.
	MaxManagementFeeBps = 500

	// MaxBufferBps caps the idle-liquidity buffer at 50%.
	MaxBufferBps = 5_000

	// DefaultBootstrapShares is the share offset minted to the burn
	// identity on the very first deposit. Keeping these shares
	// unrecoverable bounds the price-per-share manipulation achievable
	// by donating assets before a second depositor arrives.
	DefaultBootstrapShares = 1_000
)

// BurnAddress receives the bootstrap shares. Nothing can spend from it.
var BurnAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// Validation errors
var (
	ErrZeroAmount         = errors.New("amount must be positive")
	ErrZeroShares         = errors.New("conversion rounds to zero shares")
	ErrZeroAddress        = errors.New("zero receiver address")
	ErrDepositCapExceeded = errors.New("deposit exceeds cap")
	ErrFirstDepositSmall  = errors.New("first deposit below bootstrap offset")
	ErrInvalidFee         = errors.New("invalid fee")
	ErrInvalidBuffer      = errors.New("invalid buffer ratio")
)

// State errors
var (
	ErrLedgerPaused       = errors.New("ledger paused")
	ErrInsufficientShares = errors.New("insufficient share balance")
	ErrInsufficientIdle   = errors.New("insufficient idle liquidity")
	ErrExceedsDeployed    = errors.New("amount exceeds deployed capital")
	ErrWithdrawalLimited  = errors.New("withdrawal exceeds buffer-derived limit")
	ErrFeeExceedsIdle     = errors.New("accrued fee exceeds idle liquidity")
)

// AssetCustody abstracts the asset store the ledger pays out of. The
// ledger mutates its own accounting before calling into custody.
type AssetCustody interface {
	// Transfer moves amount of the vault asset to recipient.
	Transfer(recipient common.Address, amount *big.Int) error
}

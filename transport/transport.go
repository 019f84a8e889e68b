// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport defines the external collaborators the coordinator
// dispatches through: the asset-custody bridge and the message layer.
// Both are fire-and-forget at dispatch; failures surface later as
// operation timeouts, never synchronously.
package transport

import (
	"math/big"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
)

// AssetBridge is the token-custody transport. InitiateTransfer hands
// the asset off toward destChain and returns the transport-level
// operation reference.
type AssetBridge interface {
	InitiateTransfer(amount *big.Int, destChain uint32, recipient common.Address) (ids.ID, error)
}

// Messenger is the cross-chain message transport.
type Messenger interface {
	Send(destChain uint32, recipient common.Address, payload []byte) (ids.ID, error)
	EstimateFee(destChain uint32, payload []byte) (uint64, error)
}

// ArrivalProof authenticates an inbound asset arrival. The bridge
// echoes the originating operation ref and binds it to the delivered
// amount and source chain with a keccak digest.
type ArrivalProof struct {
	OpRef  ids.ID
	Digest common.Hash
}

// NewArrivalProof builds the proof the bridge attaches to a delivery.
func NewArrivalProof(amount *big.Int, sourceChain uint32, opRef ids.ID) ArrivalProof {
	return ArrivalProof{
		OpRef:  opRef,
		Digest: ArrivalDigest(amount, sourceChain, opRef),
	}
}

// Verify checks the digest binding for the given amount and source.
func (p ArrivalProof) Verify(amount *big.Int, sourceChain uint32) bool {
	return p.Digest == ArrivalDigest(amount, sourceChain, p.OpRef)
}

// ArrivalDigest binds (amount, sourceChain, opRef) into one hash.
func ArrivalDigest(amount *big.Int, sourceChain uint32, opRef ids.ID) common.Hash {
	var buf [68]byte
	amount.FillBytes(buf[:32])
	buf[32] = byte(sourceChain >> 24)
	buf[33] = byte(sourceChain >> 16)
	buf[34] = byte(sourceChain >> 8)
	buf[35] = byte(sourceChain)
	copy(buf[36:], opRef[:])
	return common.BytesToHash(crypto.Keccak256(buf[:]))
}

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	safemath "github.com/luxfi/math"
)

// MockBridge records initiated transfers for tests.
type MockBridge struct {
	Transfers []BridgeTransfer
	NextErr   error

	nonce uint64
	mu    sync.Mutex
}

// BridgeTransfer is one recorded InitiateTransfer call.
type BridgeTransfer struct {
	Ref       ids.ID
	Amount    *big.Int
	DestChain uint32
	Recipient common.Address
}

// NewMockBridge creates an empty mock bridge.
func NewMockBridge() *MockBridge {
	return &MockBridge{}
}

func (m *MockBridge) InitiateTransfer(amount *big.Int, destChain uint32, recipient common.Address) (ids.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NextErr != nil {
		err := m.NextErr
		m.NextErr = nil
		return ids.Empty, err
	}
	m.nonce++
	ref := NewOperationRef(0xb0, destChain, amount, m.nonce, 0)
	m.Transfers = append(m.Transfers, BridgeTransfer{
		Ref:       ref,
		Amount:    new(big.Int).Set(amount),
		DestChain: destChain,
		Recipient: recipient,
	})
	return ref, nil
}

// SentMessage is one recorded Send call.
type SentMessage struct {
	Ref       ids.ID
	DestChain uint32
	Recipient common.Address
	Payload   []byte
}

// MockMessenger records sent messages and quotes a flat byte fee.
type MockMessenger struct {
	Sent    []SentMessage
	NextErr error

	BaseFee    uint64
	PerByteFee uint64

	nonce uint64
	mu    sync.Mutex
}

// NewMockMessenger creates a mock messenger with nominal fees.
func NewMockMessenger() *MockMessenger {
	return &MockMessenger{BaseFee: 1_000, PerByteFee: 10}
}

func (m *MockMessenger) Send(destChain uint32, recipient common.Address, payload []byte) (ids.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NextErr != nil {
		err := m.NextErr
		m.NextErr = nil
		return ids.Empty, err
	}
	m.nonce++
	body := append([]byte(nil), payload...)
	ref := MessageID(destChain, recipient, append(body, byte(m.nonce)))
	m.Sent = append(m.Sent, SentMessage{
		Ref:       ref,
		DestChain: destChain,
		Recipient: recipient,
		Payload:   append([]byte(nil), payload...),
	})
	return ref, nil
}

func (m *MockMessenger) EstimateFee(destChain uint32, payload []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	perByte, err := safemath.Mul(m.PerByteFee, uint64(len(payload)))
	if err != nil {
		return 0, err
	}
	return safemath.Add(m.BaseFee, perByte)
}

// LastPayload returns the most recently sent payload, or nil.
func (m *MockMessenger) LastPayload() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	return m.Sent[len(m.Sent)-1].Payload
}

// MockCustody is an in-memory asset store for tests.
type MockCustody struct {
	balances map[common.Address]*uint256.Int
	NextErr  error
	mu       sync.Mutex
}

// NewMockCustody creates an empty custody store.
func NewMockCustody() *MockCustody {
	return &MockCustody{balances: make(map[common.Address]*uint256.Int)}
}

func (m *MockCustody) Transfer(recipient common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NextErr != nil {
		err := m.NextErr
		m.NextErr = nil
		return err
	}
	u, overflow := uint256.FromBig(amount)
	if overflow {
		return errors.New("amount overflows uint256")
	}
	bal := m.balances[recipient]
	if bal == nil {
		bal = uint256.NewInt(0)
		m.balances[recipient] = bal
	}
	bal.Add(bal, u)
	return nil
}

// BalanceOf returns the accumulated transfers to recipient.
func (m *MockCustody) BalanceOf(recipient common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal := m.balances[recipient]; bal != nil {
		return bal.ToBig()
	}
	return big.NewInt(0)
}

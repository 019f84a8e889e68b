// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package coordinator

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/luxfi/ids"
)

// OperationKind tags a cross-chain operation.
type OperationKind uint8

const (
	OpDeploy OperationKind = iota + 1
	OpWithdraw
)

func (k OperationKind) String() string {
	switch k {
	case OpDeploy:
		return "deploy"
	case OpWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// OperationStatus is the lifecycle state of a pending operation.
//
//	Initiated -> Confirmed            success
//	Initiated -> TimedOut             no confirmation within the window
//	TimedOut  -> (retry spawns a new Initiated, old keeps TimedOut)
//	Initiated/TimedOut -> Recovered   accounting reversed, terminal
type OperationStatus uint8

const (
	StatusInitiated OperationStatus = iota + 1
	StatusConfirmed
	StatusTimedOut
	StatusRecovered
)

func (s OperationStatus) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusConfirmed:
		return "confirmed"
	case StatusTimedOut:
		return "timed_out"
	case StatusRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// PendingOperation is the coordinator's record of a dispatched,
// not-yet-resolved cross-chain action. Records are append-only; a
// superseded record keeps its terminal status and links forward.
type PendingOperation struct {
	ID           ids.ID
	Kind         OperationKind
	ChainID      uint32
	Amount       *big.Int
	InitiatedAt  int64
	Status       OperationStatus
	Attempts     uint8
	SupersededBy ids.ID
	MessageRef   ids.ID
}

const (
	opRecordVersion = 1
	opRecordLen     = 1 + ids.IDLen + 1 + 1 + 4 + 32 + 8 + 1 + ids.IDLen + ids.IDLen
)

var ErrBadOperationRecord = errors.New("malformed operation record")

// marshal encodes the record for the journal: fixed-width big-endian
// fields, same framing style as the wire payloads.
func (op *PendingOperation) marshal() []byte {
	buf := make([]byte, opRecordLen)
	i := 0
	buf[i] = opRecordVersion
	i++
	copy(buf[i:], op.ID[:])
	i += ids.IDLen
	buf[i] = byte(op.Kind)
	i++
	buf[i] = byte(op.Status)
	i++
	binary.BigEndian.PutUint32(buf[i:], op.ChainID)
	i += 4
	op.Amount.FillBytes(buf[i : i+32])
	i += 32
	binary.BigEndian.PutUint64(buf[i:], uint64(op.InitiatedAt))
	i += 8
	buf[i] = op.Attempts
	i++
	copy(buf[i:], op.SupersededBy[:])
	i += ids.IDLen
	copy(buf[i:], op.MessageRef[:])
	return buf
}

func unmarshalOperation(raw []byte) (*PendingOperation, error) {
	if len(raw) != opRecordLen || raw[0] != opRecordVersion {
		return nil, ErrBadOperationRecord
	}
	op := &PendingOperation{}
	i := 1
	copy(op.ID[:], raw[i:])
	i += ids.IDLen
	op.Kind = OperationKind(raw[i])
	i++
	op.Status = OperationStatus(raw[i])
	i++
	op.ChainID = binary.BigEndian.Uint32(raw[i:])
	i += 4
	op.Amount = new(big.Int).SetBytes(raw[i : i+32])
	i += 32
	op.InitiatedAt = int64(binary.BigEndian.Uint64(raw[i:]))
	i += 8
	op.Attempts = raw[i]
	i++
	copy(op.SupersededBy[:], raw[i:])
	i += ids.IDLen
	copy(op.MessageRef[:], raw[i:])
	return op, nil
}

// copyOp returns a defensive copy for queries.
func (op *PendingOperation) copyOp() PendingOperation {
	out := *op
	out.Amount = new(big.Int).Set(op.Amount)
	return out
}

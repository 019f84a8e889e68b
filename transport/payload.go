// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/zeebo/blake3"
)

// PayloadVersion is the wire version of the remote-vault message body.
const PayloadVersion = 1

// PayloadKind tags a remote-vault message body.
type PayloadKind uint8

const (
	// PayloadDepositRequest asks the remote vault to accept deployed
	// capital arriving via the bridge.
	PayloadDepositRequest PayloadKind = iota + 1
	// PayloadWithdrawalRequest asks the remote vault to return capital
	// to the hub.
	PayloadWithdrawalRequest
	// PayloadDepositAck is the remote vault's acknowledgement of a
	// deposit request, echoing the operation ref.
	PayloadDepositAck
	// PayloadYieldReport carries the remote vault's APY and total
	// value.
	PayloadYieldReport
)

var (
	ErrShortPayload       = errors.New("payload too short")
	ErrBadPayloadVersion  = errors.New("unsupported payload version")
	ErrUnknownPayloadKind = errors.New("unknown payload kind")
	ErrAmountTooLarge     = errors.New("amount exceeds 32 bytes")
)

// Payload is the decoded remote-vault message body. Fields are
// populated per kind: Amount for requests, APYBps/TotalValue/ReportedAt
// for yield reports; OpRef rides on every kind.
type Payload struct {
	Kind       PayloadKind
	OpRef      ids.ID
	Amount     *big.Int
	APYBps     uint32
	TotalValue *big.Int
	ReportedAt int64
}

const payloadHeaderLen = 2 + ids.IDLen

// Encode frames the payload as version, kind, op ref, then fixed-width
// big-endian fields per kind.
func (p *Payload) Encode() ([]byte, error) {
	buf := make([]byte, payloadHeaderLen, payloadHeaderLen+76)
	buf[0] = PayloadVersion
	buf[1] = byte(p.Kind)
	copy(buf[2:], p.OpRef[:])

	switch p.Kind {
	case PayloadDepositRequest, PayloadWithdrawalRequest:
		word, err := amountWord(p.Amount)
		if err != nil {
			return nil, err
		}
		buf = append(buf, word[:]...)
	case PayloadDepositAck:
		// Header only.
	case PayloadYieldReport:
		var apy [4]byte
		binary.BigEndian.PutUint32(apy[:], p.APYBps)
		buf = append(buf, apy[:]...)
		word, err := amountWord(p.TotalValue)
		if err != nil {
			return nil, err
		}
		buf = append(buf, word[:]...)
		var at [8]byte
		binary.BigEndian.PutUint64(at[:], uint64(p.ReportedAt))
		buf = append(buf, at[:]...)
	default:
		return nil, ErrUnknownPayloadKind
	}
	return buf, nil
}

// DecodePayload parses a framed payload.
func DecodePayload(raw []byte) (*Payload, error) {
	if len(raw) < payloadHeaderLen {
		return nil, ErrShortPayload
	}
	if raw[0] != PayloadVersion {
		return nil, ErrBadPayloadVersion
	}
	p := &Payload{Kind: PayloadKind(raw[1])}
	copy(p.OpRef[:], raw[2:payloadHeaderLen])
	body := raw[payloadHeaderLen:]

	switch p.Kind {
	case PayloadDepositRequest, PayloadWithdrawalRequest:
		if len(body) != 32 {
			return nil, ErrShortPayload
		}
		p.Amount = new(big.Int).SetBytes(body)
	case PayloadDepositAck:
		if len(body) != 0 {
			return nil, ErrShortPayload
		}
	case PayloadYieldReport:
		if len(body) != 44 {
			return nil, ErrShortPayload
		}
		p.APYBps = binary.BigEndian.Uint32(body[:4])
		p.TotalValue = new(big.Int).SetBytes(body[4:36])
		p.ReportedAt = int64(binary.BigEndian.Uint64(body[36:44]))
	default:
		return nil, ErrUnknownPayloadKind
	}
	return p, nil
}

// NewOperationRef derives a fresh operation id from the dispatch
// parameters plus a nonce, teleport-style.
func NewOperationRef(kind byte, chainID uint32, amount *big.Int, nonce uint64, at int64) ids.ID {
	h := blake3.New()
	h.Write([]byte{kind})
	var word [52]byte
	binary.BigEndian.PutUint32(word[:4], chainID)
	amount.FillBytes(word[4:36])
	binary.BigEndian.PutUint64(word[36:44], nonce)
	binary.BigEndian.PutUint64(word[44:52], uint64(at))
	h.Write(word[:])
	var id ids.ID
	copy(id[:], h.Sum(nil))
	return id
}

// MessageID identifies an inbound message for at-most-once
// application: a hash over origin, sender, and the raw body, so an
// exact redelivery maps to the same id.
func MessageID(origin uint32, sender common.Address, payload []byte) ids.ID {
	h := blake3.New()
	var head [4]byte
	binary.BigEndian.PutUint32(head[:], origin)
	h.Write(head[:])
	h.Write(sender[:])
	h.Write(payload)
	var id ids.ID
	copy(id[:], h.Sum(nil))
	return id
}

func amountWord(amount *big.Int) ([32]byte, error) {
	var word [32]byte
	if amount == nil {
		return word, nil
	}
	if amount.BitLen() > 256 {
		return word, ErrAmountTooLarge
	}
	amount.FillBytes(word[:])
	return word, nil
}

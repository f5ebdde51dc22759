// Package parser implements C4: turning one raw webhook payload into zero
// or more TransferEvents for the configured target token mint.
package parser

import (
	"encoding/json"
	"fmt"

	"github.com/cryptoKingdom88/chainwatch/internal/domain"
	"github.com/cryptoKingdom88/chainwatch/internal/pipelineerr"
)

// TokenTransfer is one entry of a payload's tokenTransfers array.
type TokenTransfer struct {
	FromUserAccount string   `json:"fromUserAccount"`
	ToUserAccount   string   `json:"toUserAccount"`
	Mint            string   `json:"mint"`
	TokenAmount     float64  `json:"tokenAmount"`
	Decimals        *int     `json:"decimals,omitempty"`
}

// Payload is one raw webhook element.
type Payload struct {
	Signature      string          `json:"signature"`
	Timestamp      *int64          `json:"timestamp"`
	FeePayer       string          `json:"feePayer"`
	TokenTransfers []TokenTransfer `json:"tokenTransfers"`
}

// ParseRaw unmarshals one raw JSON payload and extracts its TransferEvents.
// Input that is not valid JSON is rejected with ErrMalformedInput; a
// payload missing signature or timestamp is rejected the same way by
// ParsePayload.
func ParseRaw(raw json.RawMessage, targetMint string) ([]domain.TransferEvent, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", pipelineerr.ErrMalformedInput, err)
	}
	return ParsePayload(p, targetMint)
}

// ParsePayload extracts the ordered list of TransferEvents for targetMint
// from a single payload, per the detection algorithm:
//  1. find the first transfer whose mint matches targetMint; none ⇒ empty.
//  2. if its destination is the fee payer, that's a buy.
//  3. else if its source is the fee payer, that's a sell.
//  4. otherwise, the fee payer is neither party and nothing is emitted.
func ParsePayload(p Payload, targetMint string) ([]domain.TransferEvent, error) {
	if p.Signature == "" || p.Timestamp == nil {
		return nil, fmt.Errorf("%w: missing signature or timestamp", pipelineerr.ErrMalformedInput)
	}

	var transfer *TokenTransfer
	for i := range p.TokenTransfers {
		if p.TokenTransfers[i].Mint == targetMint {
			transfer = &p.TokenTransfers[i]
			break
		}
	}
	if transfer == nil {
		return nil, nil
	}

	decimals := 0
	if transfer.Decimals != nil {
		decimals = *transfer.Decimals
	}

	var direction domain.Direction
	var wallet string
	switch {
	case transfer.ToUserAccount == p.FeePayer:
		direction = domain.DirectionBuy
		wallet = transfer.ToUserAccount
	case transfer.FromUserAccount == p.FeePayer:
		direction = domain.DirectionSell
		wallet = transfer.FromUserAccount
	default:
		return nil, nil
	}

	event := domain.TransferEvent{
		Wallet:    wallet,
		TokenMint: targetMint,
		RawAmount: uint64(transfer.TokenAmount),
		Decimals:  decimals,
		Signature: p.Signature,
		Timestamp: *p.Timestamp,
		Direction: direction,
	}
	return []domain.TransferEvent{event}, nil
}

package source

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"ursus-market/internal/domain"
)

// signatureLen is the byte length of an ed25519 transaction signature.
const signatureLen = 64

// Decode errors.
var (
	ErrAmbiguousSide = errors.New("event names both buyer and seller")
	ErrMissingSide   = errors.New("event names neither buyer nor seller")
	ErrBadSignature  = errors.New("tx hash is not a valid transaction signature")
)

// RawTradeEvent is the wire shape of an upstream trade event. Exactly one
// of Buyer or Seller is set; which one determines the trade side.
type RawTradeEvent struct {
	AgentAddress string  `json:"agentAddress"`
	Buyer        string  `json:"buyer,omitempty"`
	Seller       string  `json:"seller,omitempty"`
	BaseAmount   float64 `json:"baseAmount"`
	QuoteAmount  float64 `json:"quoteAmount"`
	BlockHeight  int64   `json:"blockHeight"`
	TxHash       string  `json:"txHash"`
	Timestamp    int64   `json:"timestamp"`
}

// Decode resolves the raw event into a domain trade. The buyer/seller
// union is resolved here, once, so the rest of the system only ever sees
// a tagged side.
func (e *RawTradeEvent) Decode() (*domain.Trade, error) {
	var side domain.Side
	var trader string
	switch {
	case e.Buyer != "" && e.Seller != "":
		return nil, ErrAmbiguousSide
	case e.Buyer != "":
		side, trader = domain.SideBuy, e.Buyer
	case e.Seller != "":
		side, trader = domain.SideSell, e.Seller
	default:
		return nil, ErrMissingSide
	}

	if err := ValidateSignature(e.TxHash); err != nil {
		return nil, err
	}

	return &domain.Trade{
		AgentID:     e.AgentAddress,
		TraderID:    trader,
		Side:        side,
		BaseAmount:  e.BaseAmount,
		QuoteAmount: e.QuoteAmount,
		BlockHeight: e.BlockHeight,
		TxHash:      e.TxHash,
		Timestamp:   e.Timestamp,
	}, nil
}

// ValidateSignature checks that s is a base58-encoded 64-byte signature.
func ValidateSignature(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrBadSignature)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(raw) != signatureLen {
		return fmt.Errorf("%w: decoded length %d, want %d", ErrBadSignature, len(raw), signatureLen)
	}
	return nil
}

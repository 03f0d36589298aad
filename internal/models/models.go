// Package models holds the persisted entities of the indexer (products,
// subscriptions, merchant bindings, subscription logs) together with their
// derived billing-cycle state and JSON projections.
package models

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/paybeaver/beaver-indexer/internal/chains"
)

// Subscription lifecycle statuses as surfaced over the API.
const (
	StatusPaid       = "paid"
	StatusPending    = "pending"
	StatusExpired    = "expired"
	StatusTerminated = "terminated"
)

// Subscription log types.
const (
	LogTypePaymentIssue = "payment-issue"
	LogTypePaymentMade  = "payment-made"
)

// Product is the immutable merchant-defined subscription template. It is
// created when the first subscription referencing it is observed on chain and
// never mutated afterwards.
type Product struct {
	Hash            string
	Chain           chains.Chain
	MerchantAddress string
	TokenAddress    string
	TokenSymbol     string
	TokenDecimals   int32
	UintAmount      *big.Int
	Period          int64
	FreeTrialLength int64
	PaymentPeriod   int64
	MetadataCID     string
	MerchantDomain  string
	ProductName     string
}

// HumanAmount is the billing amount shifted by the token's decimals.
func (p *Product) HumanAmount() float64 {
	if p.UintAmount == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(p.UintAmount, -p.TokenDecimals).Float64()
	return f
}

// Subscription is a user's instantiation of a product with its own payment
// lifecycle.
type Subscription struct {
	Hash           string
	Product        *Product
	UserAddress    string
	StartTs        int64
	PaymentsMade   int64
	Terminated     bool
	MetadataCID    string
	SubscriptionID *string
	UserID         *string
}

// NextPaymentAt is the timestamp at which the next billing cycle opens.
func (s *Subscription) NextPaymentAt() int64 {
	return s.StartTs + s.Product.Period*s.PaymentsMade
}

// Status reports the lifecycle state of the subscription at the given time.
func (s *Subscription) Status(now int64) string {
	if s.Terminated {
		return StatusTerminated
	}

	nextPaymentTs := s.NextPaymentAt()
	if now > nextPaymentTs+s.Product.PaymentPeriod {
		return StatusExpired
	}
	if now > nextPaymentTs {
		return StatusPending
	}
	return StatusPaid
}

// IsActive reports whether the subscription entitles the user to the product
// at the given time. A terminated subscription stays active until the billing
// period it already paid for runs out.
func (s *Subscription) IsActive(now int64) bool {
	return now <= s.NextPaymentAt()+s.Product.PaymentPeriod
}

// SubscriptionLog is an append-only record of a payment attempt outcome.
// PaymentNumber is the 1-indexed billing cycle the record pertains to.
type SubscriptionLog struct {
	ID               int64
	LogType          string
	SubscriptionHash string
	PaymentNumber    int64
	Message          string
	Timestamp        int64
}

// MerchantBinding maps a merchant to the account authorized to initiate its
// recurring payments on a given chain.
type MerchantBinding struct {
	MerchantAddress string
	Chain           chains.Chain
	Initiator       string
}

// Package store persists the indexer's durable state: products,
// subscriptions, merchant bindings, subscription logs, metadata blobs and the
// per-chain scan cursors. All writers go through this package; the HTTP query
// surface only reads.
package store

import (
	"context"

	"github.com/paybeaver/beaver-indexer/internal/chains"
	"github.com/paybeaver/beaver-indexer/internal/models"
)

// EventKind identifies one of the per-chain scan cursors.
type EventKind string

const (
	EventKindSubscriptions EventKind = "subscriptions"
	EventKindPayments      EventKind = "payments"
	EventKindTerminations  EventKind = "terminations"
	EventKindInitiators    EventKind = "initiators"
)

// Store is the persistence contract consumed by the indexer and the HTTP
// handlers. *Postgres is the production implementation; tests use the
// in-memory one from the storetest package.
type Store interface {
	// Cursors and the per-chain initiator flag.
	GetCursor(ctx context.Context, chain chains.Chain, kind EventKind, minBlock uint64) (uint64, error)
	SetCursor(ctx context.Context, chain chains.Chain, kind EventKind, block uint64) error
	InitiatorAvailable(ctx context.Context, chain chains.Chain) (bool, error)
	DisableInitiator(ctx context.Context, chain chains.Chain) error

	// Products.
	AddProduct(ctx context.Context, product *models.Product) error
	GetProductByHash(ctx context.Context, productHash string) (*models.Product, error)

	// Subscriptions.
	AddSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdatePaymentsMade(ctx context.Context, subscriptionHash string, paymentsMade int64) error
	TerminateSubscription(ctx context.Context, subscriptionHash string) error
	GetSubscriptionByHash(ctx context.Context, subscriptionHash string) (*models.Subscription, error)
	GetAllSubscriptions(ctx context.Context) ([]*models.Subscription, error)
	GetSubscriptionsByUser(ctx context.Context, userAddress string) ([]*models.Subscription, error)
	GetSubscriptionsByMerchant(ctx context.Context, merchantDomain string) ([]*models.Subscription, error)
	GetSubscriptionsByMerchantAndUser(ctx context.Context, merchantDomain, userID string) ([]*models.Subscription, error)
	GetSubscriptionByMerchantAndSubscriptionID(ctx context.Context, merchantDomain, subscriptionID string) (*models.Subscription, error)
	GetPayableSubscriptions(ctx context.Context, chain chains.Chain, now int64, initiator string) ([]*models.Subscription, error)

	// Merchant bindings.
	SetMerchantInitiator(ctx context.Context, merchantAddress string, chain chains.Chain, initiator string) error
	GetMerchantInitiator(ctx context.Context, merchantAddress string, chain chains.Chain) (string, error)

	// Subscription logs.
	AddSubscriptionLog(ctx context.Context, log *models.SubscriptionLog) error
	GetSubscriptionLogs(ctx context.Context, subscriptionHash string) ([]*models.SubscriptionLog, error)

	// Metadata cache.
	StoreMetadata(ctx context.Context, ipfsCID, content string) error
	GetMetadataByCID(ctx context.Context, ipfsCID string) (string, bool, error)
	GetMetadataCIDByContent(ctx context.Context, content string) (string, bool, error)
}

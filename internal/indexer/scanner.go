package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/metadata"
	"github.com/paybeaver/beaver-indexer/internal/models"
	"github.com/paybeaver/beaver-indexer/internal/router"
	"github.com/paybeaver/beaver-indexer/internal/store"
)

// DiscoverSubscriptions scans for SubscriptionStarted events and ingests new
// products and subscriptions.
func (ix *ChainIndexer) DiscoverSubscriptions(ctx context.Context) error {
	return ix.scan(ctx, store.EventKindSubscriptions, router.SubscriptionStartedTopic, ix.handleSubscriptionStarted)
}

// DiscoverPayments scans for PaymentMade events and advances payment counts.
func (ix *ChainIndexer) DiscoverPayments(ctx context.Context) error {
	return ix.scan(ctx, store.EventKindPayments, router.PaymentMadeTopic, ix.handlePaymentMade)
}

// DiscoverTerminations scans for SubscriptionTerminated events.
func (ix *ChainIndexer) DiscoverTerminations(ctx context.Context) error {
	return ix.scan(ctx, store.EventKindTerminations, router.SubscriptionTerminatedTopic, ix.handleSubscriptionTerminated)
}

// DiscoverInitiatorChanges scans for InitiatorChanged events and updates
// merchant bindings.
func (ix *ChainIndexer) DiscoverInitiatorChanges(ctx context.Context) error {
	return ix.scan(ctx, store.EventKindInitiators, router.InitiatorChangedTopic, ix.handleInitiatorChanged)
}

// errSkipSlice aborts the current scan without advancing the cursor. The next
// tick re-observes the same slice. Used for transient RPC and metadata-fetch
// failures.
var errSkipSlice = errors.New("skip slice")

// scan walks [cursor+1, head] in maxBlockRange chunks, dispatching each log
// to handle. The cursor advances to the chunk's end block only after every
// log in the chunk was handled, so a crash replays the chunk and handlers
// must be idempotent.
func (ix *ChainIndexer) scan(ctx context.Context, kind store.EventKind, topic common.Hash, handle func(context.Context, types.Log) error) error {
	head, err := ix.backend.BlockNumber(ctx)
	if err != nil {
		ix.logger.Warn("fetching chain head failed, skipping scan",
			zap.String("kind", string(kind)), zap.Error(err))
		return nil
	}
	cursor, err := ix.store.GetCursor(ctx, ix.chain, kind, ix.cfg.MinBlock)
	if err != nil {
		return err
	}
	from := cursor + 1
	if from > head {
		return nil
	}

	for start := from; start <= head; start += maxBlockRange {
		end := start + maxBlockRange - 1
		if end > head {
			end = head
		}
		logs, err := ix.backend.FilterLogs(ctx, ix.router.FilterQuery(start, end, topic))
		if err != nil {
			ix.logger.Warn("fetching logs failed, aborting scan",
				zap.String("kind", string(kind)),
				zap.Uint64("from", start), zap.Uint64("to", end),
				zap.Error(err))
			return nil
		}
		for _, lg := range logs {
			if lg.Removed {
				continue
			}
			if err := handle(ctx, lg); err != nil {
				if errors.Is(err, errSkipSlice) {
					return nil
				}
				return fmt.Errorf("handling %s log at block %d: %w", kind, lg.BlockNumber, err)
			}
		}
		if err := ix.store.SetCursor(ctx, ix.chain, kind, end); err != nil {
			return err
		}
	}
	return nil
}

func (ix *ChainIndexer) handleSubscriptionStarted(ctx context.Context, lg types.Log) error {
	ev, err := router.ParseSubscriptionStarted(lg)
	if err != nil {
		return err
	}
	subscriptionHash := common.Hash(ev.SubscriptionHash).Hex()
	productHash := common.Hash(ev.ProductHash).Hex()

	product, err := ix.store.GetProductByHash(ctx, productHash)
	if err != nil {
		return err
	}
	if product == nil {
		product, err = ix.ingestProduct(ctx, productHash, ev.ProductHash)
		if err != nil {
			return err
		}
		if product == nil {
			// Mandatory product metadata is unusable; the subscription is
			// dropped and the cursor still advances.
			return nil
		}
	}

	subscription := &models.Subscription{
		Hash:        subscriptionHash,
		Product:     product,
		UserAddress: ev.User.Hex(),
		StartTs:     ev.Start.Int64(),
	}
	if len(ev.SubscriptionMetadata) > 0 {
		cid, obj, err := ix.metadata.Resolve(ctx, ev.SubscriptionMetadata)
		var fetchErr *metadata.FetchError
		switch {
		case errors.As(err, &fetchErr):
			return fmt.Errorf("%w: %s", errSkipSlice, err)
		case err != nil:
			// Subscription metadata is optional; an unusable reference
			// degrades to an empty object.
			ix.logger.Warn("ignoring unusable subscription metadata",
				zap.String("subscription_hash", subscriptionHash), zap.Error(err))
		default:
			subscription.MetadataCID = cid
			meta := metadata.ParseSubscriptionMetadata(obj)
			subscription.SubscriptionID = meta.SubscriptionID
			subscription.UserID = meta.UserID
		}
	}

	if err := ix.store.AddSubscription(ctx, subscription); err != nil {
		return err
	}
	ix.logger.Info("discovered subscription",
		zap.String("subscription_hash", subscriptionHash),
		zap.String("product_hash", productHash),
		zap.String("user", subscription.UserAddress))
	return nil
}

// ingestProduct reads the product tuple and merchant binding from the router,
// hydrates token and metadata details and persists both. Returns nil without
// error when the mandatory product metadata is missing a required key.
func (ix *ChainIndexer) ingestProduct(ctx context.Context, productHash string, rawHash [32]byte) (*models.Product, error) {
	view, err := ix.router.Products(ctx, rawHash)
	if err != nil {
		ix.logger.Warn("reading product from router failed", zap.String("product_hash", productHash), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", errSkipSlice, err)
	}

	token := router.NewERC20(view.Token, ix.backend)
	decimals, err := token.Decimals(ctx)
	if err != nil {
		ix.logger.Warn("reading token decimals failed", zap.String("token", view.Token.Hex()), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", errSkipSlice, err)
	}
	symbol, err := token.Symbol(ctx)
	if err != nil {
		ix.logger.Warn("reading token symbol failed", zap.String("token", view.Token.Hex()), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", errSkipSlice, err)
	}

	cid, obj, err := ix.metadata.Resolve(ctx, view.Metadata)
	var fetchErr *metadata.FetchError
	switch {
	case errors.As(err, &fetchErr):
		ix.logger.Error("fetching product metadata failed", zap.String("product_hash", productHash), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", errSkipSlice, err)
	case err != nil:
		ix.logger.Error("product metadata is unusable, skipping subscription",
			zap.String("product_hash", productHash), zap.Error(err))
		return nil, nil
	}
	productMeta, err := metadata.ParseProductMetadata(cid, obj)
	if err != nil {
		ix.logger.Error("product metadata is missing a required key, skipping subscription",
			zap.String("product_hash", productHash), zap.Error(err))
		return nil, nil
	}

	initiator, err := ix.router.MerchantInitiator(ctx, view.Merchant)
	if err != nil {
		ix.logger.Warn("reading merchant settings failed", zap.String("merchant", view.Merchant.Hex()), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", errSkipSlice, err)
	}

	product := &models.Product{
		Hash:            productHash,
		Chain:           ix.chain,
		MerchantAddress: view.Merchant.Hex(),
		TokenAddress:    view.Token.Hex(),
		TokenSymbol:     symbol,
		TokenDecimals:   int32(decimals),
		UintAmount:      view.Amount,
		Period:          view.Period.Int64(),
		FreeTrialLength: view.FreeTrialLength.Int64(),
		PaymentPeriod:   view.PaymentPeriod.Int64(),
		MetadataCID:     cid,
		MerchantDomain:  productMeta.MerchantDomain,
		ProductName:     productMeta.ProductName,
	}
	if err := ix.store.AddProduct(ctx, product); err != nil {
		return nil, err
	}
	if err := ix.store.SetMerchantInitiator(ctx, product.MerchantAddress, ix.chain, initiator.Hex()); err != nil {
		return nil, err
	}
	ix.logger.Info("discovered product",
		zap.String("product_hash", productHash),
		zap.String("merchant", product.MerchantAddress),
		zap.String("token", product.TokenSymbol))
	return product, nil
}

func (ix *ChainIndexer) handlePaymentMade(ctx context.Context, lg types.Log) error {
	ev, err := router.ParsePaymentMade(lg)
	if err != nil {
		return err
	}
	return ix.store.UpdatePaymentsMade(ctx, common.Hash(ev.SubscriptionHash).Hex(), ev.PaymentNumber.Int64())
}

func (ix *ChainIndexer) handleSubscriptionTerminated(ctx context.Context, lg types.Log) error {
	ev, err := router.ParseSubscriptionTerminated(lg)
	if err != nil {
		return err
	}
	return ix.store.TerminateSubscription(ctx, common.Hash(ev.SubscriptionHash).Hex())
}

func (ix *ChainIndexer) handleInitiatorChanged(ctx context.Context, lg types.Log) error {
	ev, err := router.ParseInitiatorChanged(lg)
	if err != nil {
		return err
	}
	return ix.store.SetMerchantInitiator(ctx, ev.Merchant.Hex(), ix.chain, ev.NewInitiator.Hex())
}

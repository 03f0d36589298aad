// Package indexer drives the per-chain event scanning and recurring payment
// submission loops against the subscription router contract.
package indexer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/chains"
	"github.com/paybeaver/beaver-indexer/internal/config"
	"github.com/paybeaver/beaver-indexer/internal/logger"
	"github.com/paybeaver/beaver-indexer/internal/router"
	"github.com/paybeaver/beaver-indexer/internal/store"
)

const (
	// maxBlockRange bounds a single eth_getLogs request.
	maxBlockRange = 100

	// gasPerPayment is the gas budget for a regular recurring payment.
	// secondPaymentGas covers payment #2, which additionally pays the
	// storage-initialization overhead the first payment deferred.
	gasPerPayment    = 100_000
	secondPaymentGas = 120_000

	defaultReceiptTimeout = 120 * time.Second
	defaultReceiptPoll    = 2 * time.Second
)

// Oracle prices a subscription token against the chain's native currency.
type Oracle interface {
	TokenPerNative(ctx context.Context, chain chains.Chain, tokenAddress string) (decimal.Decimal, error)
}

// MetadataResolver maps a raw on-chain metadata reference to its CID and
// decoded JSON object.
type MetadataResolver interface {
	Resolve(ctx context.Context, raw []byte) (string, map[string]interface{}, error)
}

// ChainIndexer scans one chain's router deployment and initiates the
// payments that are due on it.
type ChainIndexer struct {
	chain    chains.Chain
	cfg      config.ChainConfig
	store    store.Store
	backend  router.Backend
	router   *router.Router
	metadata MetadataResolver
	oracle   Oracle
	signer   *Signer
	logger   *zap.Logger

	receiptTimeout time.Duration
	receiptPoll    time.Duration
}

// New returns a ChainIndexer for the deployment described by cfg.
func New(cfg config.ChainConfig, st store.Store, backend router.Backend, rtr *router.Router, resolver MetadataResolver, oracle Oracle, signer *Signer) *ChainIndexer {
	return &ChainIndexer{
		chain:          cfg.Chain,
		cfg:            cfg,
		store:          st,
		backend:        backend,
		router:         rtr,
		metadata:       resolver,
		oracle:         oracle,
		signer:         signer,
		logger:         logger.Log.With(zap.String("chain", cfg.Chain.String())),
		receiptTimeout: defaultReceiptTimeout,
		receiptPoll:    defaultReceiptPoll,
	}
}

// Chain reports which chain this indexer follows.
func (ix *ChainIndexer) Chain() chains.Chain {
	return ix.chain
}

// The indexer binary follows the subscription router on every configured
// chain, initiates recurring payments and serves the query API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/config"
	"github.com/paybeaver/beaver-indexer/internal/indexer"
	"github.com/paybeaver/beaver-indexer/internal/logger"
	"github.com/paybeaver/beaver-indexer/internal/metadata"
	"github.com/paybeaver/beaver-indexer/internal/pricing"
	"github.com/paybeaver/beaver-indexer/internal/router"
	"github.com/paybeaver/beaver-indexer/internal/server"
	"github.com/paybeaver/beaver-indexer/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.InitLogger("local")
		logger.Fatal("loading configuration failed", zap.Error(err))
	}
	logger.InitLogger(cfg.Stage)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connecting to database failed", zap.Error(err))
	}
	defer st.Close()

	signer, err := indexer.NewSigner(cfg.InitiatorPrivateKey)
	if err != nil {
		logger.Fatal("loading initiator key failed", zap.Error(err))
	}
	logger.Info("initiator account loaded", zap.String("address", signer.Address().Hex()))

	resolver := metadata.NewResolver(st, cfg.PinataBaseURL)
	pinner := metadata.NewPinner(st, cfg.PinataAPIKey, "")
	oracle := pricing.NewBinanceOracle("")

	var indexers []*indexer.ChainIndexer
	for _, cc := range cfg.Chains {
		client, err := ethclient.DialContext(ctx, cc.RPCURL)
		if err != nil {
			logger.Fatal("connecting to chain RPC failed",
				zap.String("chain", cc.Chain.String()), zap.Error(err))
		}
		defer client.Close()

		rtr := router.New(common.HexToAddress(cc.RouterAddress), client)
		indexers = append(indexers, indexer.New(cc, st, client, rtr, resolver, oracle, signer))
		logger.Info("chain configured",
			zap.String("chain", cc.Chain.String()),
			zap.String("router", cc.RouterAddress),
			zap.Uint64("min_block", cc.MinBlock))
	}

	scheduler := indexer.NewScheduler(indexers)
	go scheduler.Run(ctx)

	engine := server.NewRouter(st, pinner, cfg.Stage)
	srv := server.NewHTTPServer(cfg.ListenAddr, engine)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}

// Package server wires the HTTP query surface: routes, CORS and the shared
// middleware stack.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/paybeaver/beaver-indexer/internal/handlers"
	"github.com/paybeaver/beaver-indexer/internal/middleware"
	"github.com/paybeaver/beaver-indexer/internal/store"
)

// NewRouter builds the gin engine with every query endpoint registered.
func NewRouter(st store.Store, pinner handlers.MetadataPinner, stage string) *gin.Engine {
	if stage == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(configureCORS())
	router.Use(middleware.CorrelationID())

	subscriptionHandler := handlers.NewSubscriptionHandler(st)
	metadataHandler := handlers.NewMetadataHandler(pinner)
	productHandler := handlers.NewProductHandler()

	router.GET("/healthcheck", subscriptionHandler.Healthcheck)

	router.GET("/subscriptions", subscriptionHandler.GetAllSubscriptions)
	router.GET("/subscriptions/user/:user_address", subscriptionHandler.GetSubscriptionsByUser)
	router.GET("/subscriptions/merchant/:merchant_domain", subscriptionHandler.GetSubscriptionsByMerchant)
	router.GET("/subscriptions/merchant/:merchant_domain/user/:user_id", subscriptionHandler.GetSubscriptionsByMerchantAndUser)

	router.GET("/subscription/:subscription_hash", subscriptionHandler.GetSubscription)
	router.GET("/subscription/:subscription_hash/logs", subscriptionHandler.GetSubscriptionLogs)
	router.GET("/subscription/:subscription_hash/is_active", subscriptionHandler.GetIsActive)
	router.GET("/subscription-by-id/:merchant_domain/:subscription_id", subscriptionHandler.GetSubscriptionByMerchantAndID)
	router.GET("/is_active/merchant/:merchant_domain/userid/:user_id", subscriptionHandler.GetIsActiveByMerchantAndUser)

	router.POST("/metadata", metadataHandler.SaveMetadata)
	router.POST("/product-hash", productHandler.ComputeProductHash)

	return router
}

// NewHTTPServer wraps the engine in an http.Server with sane timeouts.
func NewHTTPServer(addr string, engine *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func configureCORS() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", middleware.CorrelationIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	return cors.New(corsConfig)
}

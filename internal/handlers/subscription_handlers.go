package handlers

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/paybeaver/beaver-indexer/internal/models"
	"github.com/paybeaver/beaver-indexer/internal/store"
)

// SubscriptionHandler serves the read-only subscription projections.
type SubscriptionHandler struct {
	store store.Store
	// now is replaceable so tests can pin derived fields.
	now func() int64
}

// NewSubscriptionHandler returns a handler reading from st.
func NewSubscriptionHandler(st store.Store) *SubscriptionHandler {
	return &SubscriptionHandler{
		store: st,
		now:   func() int64 { return time.Now().Unix() },
	}
}

func toResponses(subs []*models.Subscription, now int64) []models.SubscriptionResponse {
	out := make([]models.SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.ToResponse(now))
	}
	return out
}

// GetSubscription returns the subscription stored under a hash.
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	hash := c.Param("subscription_hash")
	sub, err := h.store.GetSubscriptionByHash(c.Request.Context(), hash)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to load subscription", err)
		return
	}
	if sub == nil {
		sendError(c, http.StatusNotFound, "Subscription not found", nil)
		return
	}
	sendSuccess(c, http.StatusOK, sub.ToResponse(h.now()))
}

// GetAllSubscriptions returns every stored subscription, newest first.
func (h *SubscriptionHandler) GetAllSubscriptions(c *gin.Context) {
	subs, err := h.store.GetAllSubscriptions(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to load subscriptions", err)
		return
	}
	sendSuccess(c, http.StatusOK, toResponses(subs, h.now()))
}

// GetSubscriptionsByUser returns a user's subscriptions across merchants.
func (h *SubscriptionHandler) GetSubscriptionsByUser(c *gin.Context) {
	address := c.Param("user_address")
	if !common.IsHexAddress(address) {
		sendError(c, http.StatusBadRequest, "Invalid user address", nil)
		return
	}
	subs, err := h.store.GetSubscriptionsByUser(c.Request.Context(), common.HexToAddress(address).Hex())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to load subscriptions", err)
		return
	}
	sendSuccess(c, http.StatusOK, toResponses(subs, h.now()))
}

// GetSubscriptionsByMerchant returns a merchant's subscriptions keyed by its
// metadata domain.
func (h *SubscriptionHandler) GetSubscriptionsByMerchant(c *gin.Context) {
	domain := c.Param("merchant_domain")
	subs, err := h.store.GetSubscriptionsByMerchant(c.Request.Context(), domain)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to load subscriptions", err)
		return
	}
	sendSuccess(c, http.StatusOK, toResponses(subs, h.now()))
}

// GetSubscriptionsByMerchantAndUser returns the subscriptions a merchant's
// own user ID maps to.
func (h *SubscriptionHandler) GetSubscriptionsByMerchantAndUser(c *gin.Context) {
	domain := c.Param("merchant_domain")
	userID := c.Param("user_id")
	subs, err := h.store.GetSubscriptionsByMerchantAndUser(c.Request.Context(), domain, userID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to load subscriptions", err)
		return
	}
	sendSuccess(c, http.StatusOK, toResponses(subs, h.now()))
}

// GetSubscriptionByMerchantAndID returns the subscription a merchant stored
// under its own subscription ID.
func (h *SubscriptionHandler) GetSubscriptionByMerchantAndID(c *gin.Context) {
	domain := c.Param("merchant_domain")
	subscriptionID := c.Param("subscription_id")
	sub, err := h.store.GetSubscriptionByMerchantAndSubscriptionID(c.Request.Context(), domain, subscriptionID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to load subscription", err)
		return
	}
	if sub == nil {
		sendError(c, http.StatusNotFound, "Subscription not found", nil)
		return
	}
	sendSuccess(c, http.StatusOK, sub.ToResponse(h.now()))
}

// GetSubscriptionLogs returns a subscription's payment attempt history.
func (h *SubscriptionHandler) GetSubscriptionLogs(c *gin.Context) {
	hash := c.Param("subscription_hash")
	logs, err := h.store.GetSubscriptionLogs(c.Request.Context(), hash)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to load subscription logs", err)
		return
	}
	out := make([]models.SubscriptionLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.ToResponse())
	}
	sendSuccess(c, http.StatusOK, out)
}

// IsActiveResponse answers whether a subscription is inside a paid-for
// window.
type IsActiveResponse struct {
	SubscriptionHash string `json:"subscription_hash"`
	IsActive         bool   `json:"is_active"`
}

// GetIsActive reports whether the subscription currently grants access.
func (h *SubscriptionHandler) GetIsActive(c *gin.Context) {
	hash := c.Param("subscription_hash")
	sub, err := h.store.GetSubscriptionByHash(c.Request.Context(), hash)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to load subscription", err)
		return
	}
	if sub == nil {
		sendError(c, http.StatusNotFound, "Subscription not found", nil)
		return
	}
	sendSuccess(c, http.StatusOK, IsActiveResponse{
		SubscriptionHash: sub.Hash,
		IsActive:         sub.IsActive(h.now()),
	})
}

// MerchantUserActiveResponse answers whether a merchant's user holds any
// active subscription.
type MerchantUserActiveResponse struct {
	MerchantDomain string `json:"merchant_domain"`
	UserID         string `json:"user_id"`
	IsActive       bool   `json:"is_active"`
}

// GetIsActiveByMerchantAndUser reports whether any of the user's
// subscriptions with the merchant currently grants access. Merchants poll
// this to gate their product.
func (h *SubscriptionHandler) GetIsActiveByMerchantAndUser(c *gin.Context) {
	domain := c.Param("merchant_domain")
	userID := c.Param("user_id")
	subs, err := h.store.GetSubscriptionsByMerchantAndUser(c.Request.Context(), domain, userID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to load subscriptions", err)
		return
	}

	now := h.now()
	active := false
	for _, sub := range subs {
		if sub.IsActive(now) {
			active = true
			break
		}
	}
	sendSuccess(c, http.StatusOK, MerchantUserActiveResponse{
		MerchantDomain: domain,
		UserID:         userID,
		IsActive:       active,
	})
}

// Healthcheck reports liveness.
func (h *SubscriptionHandler) Healthcheck(c *gin.Context) {
	sendSuccess(c, http.StatusOK, gin.H{"status": "ok"})
}

package handlers

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mr-tron/base58"

	"github.com/paybeaver/beaver-indexer/internal/router"
)

// ProductHandler serves the product-hash computation helper.
type ProductHandler struct{}

// NewProductHandler returns a handler.
func NewProductHandler() *ProductHandler {
	return &ProductHandler{}
}

// ProductHashRequest carries the product parameter tuple. Amount is a
// base-10 string of atomic units; MetadataCID is the base58 CID the product
// metadata was pinned under.
type ProductHashRequest struct {
	MerchantAddress string `json:"merchant_address" binding:"required"`
	TokenAddress    string `json:"token_address" binding:"required"`
	UintAmount      string `json:"uint_amount" binding:"required"`
	Period          int64  `json:"period" binding:"required"`
	FreeTrialLength int64  `json:"free_trial_length"`
	PaymentPeriod   int64  `json:"payment_period" binding:"required"`
	MetadataCID     string `json:"metadata_cid" binding:"required"`
}

// ProductHashResponse carries the keccak256 of the packed tuple.
type ProductHashResponse struct {
	ProductHash string `json:"product_hash"`
}

// ComputeProductHash mirrors the router contract's packed-tuple hashing so
// merchants can derive a product hash off chain.
func (h *ProductHandler) ComputeProductHash(c *gin.Context) {
	var req ProductHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !common.IsHexAddress(req.MerchantAddress) {
		sendError(c, http.StatusBadRequest, "Invalid merchant address", nil)
		return
	}
	if !common.IsHexAddress(req.TokenAddress) {
		sendError(c, http.StatusBadRequest, "Invalid token address", nil)
		return
	}
	amount, ok := new(big.Int).SetString(req.UintAmount, 10)
	if !ok || amount.Sign() < 0 {
		sendError(c, http.StatusBadRequest, "Invalid uint amount", nil)
		return
	}
	if req.Period <= 0 || req.PaymentPeriod <= 0 || req.FreeTrialLength < 0 {
		sendError(c, http.StatusBadRequest, "Invalid period parameters", nil)
		return
	}
	metadata, err := base58.Decode(req.MetadataCID)
	if err != nil {
		sendError(c, http.StatusBadRequest, "Invalid metadata CID", err)
		return
	}

	hash := router.ComputeProductHash(
		common.HexToAddress(req.MerchantAddress),
		common.HexToAddress(req.TokenAddress),
		amount,
		big.NewInt(req.Period),
		big.NewInt(req.FreeTrialLength),
		big.NewInt(req.PaymentPeriod),
		metadata,
	)
	sendSuccess(c, http.StatusOK, ProductHashResponse{ProductHash: hash.Hex()})
}

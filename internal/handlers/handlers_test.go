package handlers

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paybeaver/beaver-indexer/internal/chains"
	"github.com/paybeaver/beaver-indexer/internal/logger"
	"github.com/paybeaver/beaver-indexer/internal/models"
	"github.com/paybeaver/beaver-indexer/internal/store/storetest"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

const (
	subHash = "0x00000000000000000000000000000000000000000000000000000000000000aa"
	userHex = "0x3333333333333333333333333333333333333333"
)

func seedStore(t *testing.T) *storetest.Memory {
	t.Helper()
	ctx := context.Background()
	st := storetest.New()

	product := &models.Product{
		Hash:            "0xbb",
		Chain:           chains.Sepolia,
		MerchantAddress: "0x1111111111111111111111111111111111111111",
		TokenAddress:    "0x2222222222222222222222222222222222222222",
		TokenSymbol:     "USDC",
		TokenDecimals:   6,
		UintAmount:      big.NewInt(1_000_000),
		Period:          100,
		PaymentPeriod:   50,
		MerchantDomain:  "paybeaver.xyz",
		ProductName:     "Pro",
	}
	require.NoError(t, st.AddProduct(ctx, product))

	subID := "sub-1"
	userID := "user-1"
	require.NoError(t, st.AddSubscription(ctx, &models.Subscription{
		Hash:           subHash,
		Product:        product,
		UserAddress:    userHex,
		StartTs:        1000,
		SubscriptionID: &subID,
		UserID:         &userID,
	}))
	require.NoError(t, st.AddSubscriptionLog(ctx, &models.SubscriptionLog{
		LogType:          models.LogTypePaymentIssue,
		SubscriptionHash: subHash,
		PaymentNumber:    1,
		Message:          "user allowance 0 is below the billing amount 1000000 USDC",
		Timestamp:        1030,
	}))
	return st
}

func testEngine(st *storetest.Memory) (*gin.Engine, *SubscriptionHandler) {
	engine := gin.New()
	h := NewSubscriptionHandler(st)
	h.now = func() int64 { return 1030 }

	engine.GET("/subscription/:subscription_hash", h.GetSubscription)
	engine.GET("/subscription/:subscription_hash/logs", h.GetSubscriptionLogs)
	engine.GET("/subscription/:subscription_hash/is_active", h.GetIsActive)
	engine.GET("/subscriptions", h.GetAllSubscriptions)
	engine.GET("/subscriptions/user/:user_address", h.GetSubscriptionsByUser)
	engine.GET("/subscriptions/merchant/:merchant_domain", h.GetSubscriptionsByMerchant)
	engine.GET("/subscriptions/merchant/:merchant_domain/user/:user_id", h.GetSubscriptionsByMerchantAndUser)
	engine.GET("/subscription-by-id/:merchant_domain/:subscription_id", h.GetSubscriptionByMerchantAndID)
	engine.GET("/is_active/merchant/:merchant_domain/userid/:user_id", h.GetIsActiveByMerchantAndUser)
	return engine, h
}

func doRequest(engine *gin.Engine, method, path string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestGetSubscription(t *testing.T) {
	engine, _ := testEngine(seedStore(t))

	w := doRequest(engine, http.MethodGet, "/subscription/"+subHash, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SubscriptionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, subHash, resp.SubscriptionHash)
	assert.Equal(t, models.StatusPending, resp.Status)
	assert.True(t, resp.IsActive)
	assert.Equal(t, "Pro", resp.Product.ProductName)
	assert.Equal(t, 1.0, resp.Product.HumanAmount)
}

func TestGetSubscriptionNotFound(t *testing.T) {
	engine, _ := testEngine(seedStore(t))

	w := doRequest(engine, http.MethodGet, "/subscription/0xdeadbeef", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSubscriptionsByUser(t *testing.T) {
	engine, _ := testEngine(seedStore(t))

	w := doRequest(engine, http.MethodGet, "/subscriptions/user/"+userHex, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp []models.SubscriptionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, subHash, resp[0].SubscriptionHash)
}

func TestGetSubscriptionsByUserInvalidAddress(t *testing.T) {
	engine, _ := testEngine(seedStore(t))

	w := doRequest(engine, http.MethodGet, "/subscriptions/user/not-an-address", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSubscriptionsByMerchant(t *testing.T) {
	engine, _ := testEngine(seedStore(t))

	w := doRequest(engine, http.MethodGet, "/subscriptions/merchant/paybeaver.xyz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp []models.SubscriptionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp, 1)

	w = doRequest(engine, http.MethodGet, "/subscriptions/merchant/other.xyz", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp)
}

func TestGetSubscriptionByMerchantAndID(t *testing.T) {
	engine, _ := testEngine(seedStore(t))

	w := doRequest(engine, http.MethodGet, "/subscription-by-id/paybeaver.xyz/sub-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SubscriptionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, subHash, resp.SubscriptionHash)

	w = doRequest(engine, http.MethodGet, "/subscription-by-id/paybeaver.xyz/no-such-id", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSubscriptionLogs(t *testing.T) {
	engine, _ := testEngine(seedStore(t))

	w := doRequest(engine, http.MethodGet, "/subscription/"+subHash+"/logs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp []models.SubscriptionLogResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, models.LogTypePaymentIssue, resp[0].LogType)
	assert.Equal(t, int64(1), resp[0].PaymentNumber)
}

func TestGetIsActive(t *testing.T) {
	st := seedStore(t)
	engine, h := testEngine(st)

	w := doRequest(engine, http.MethodGet, "/subscription/"+subHash+"/is_active", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp IsActiveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsActive)

	// Past the unpaid window the subscription lapses.
	h.now = func() int64 { return 1051 }
	w = doRequest(engine, http.MethodGet, "/subscription/"+subHash+"/is_active", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsActive)
}

func TestGetIsActiveByMerchantAndUser(t *testing.T) {
	st := seedStore(t)
	engine, h := testEngine(st)

	w := doRequest(engine, http.MethodGet, "/is_active/merchant/paybeaver.xyz/userid/user-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp MerchantUserActiveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsActive)

	// Unknown user has no subscriptions and is inactive.
	w = doRequest(engine, http.MethodGet, "/is_active/merchant/paybeaver.xyz/userid/nobody", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsActive)

	// After the unpaid window lapses the user goes inactive.
	h.now = func() int64 { return 1051 }
	w = doRequest(engine, http.MethodGet, "/is_active/merchant/paybeaver.xyz/userid/user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsActive)
}

type fakePinner struct {
	cid     string
	err     error
	content []byte
}

func (f *fakePinner) Pin(_ context.Context, content []byte) (string, error) {
	f.content = content
	return f.cid, f.err
}

func TestSaveMetadata(t *testing.T) {
	pinner := &fakePinner{cid: "QmPinned"}
	engine := gin.New()
	engine.POST("/metadata", NewMetadataHandler(pinner).SaveMetadata)

	w := doRequest(engine, http.MethodPost, "/metadata",
		`{"metadata":{"merchantDomain":"paybeaver.xyz","productName":"Pro"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SaveMetadataResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "QmPinned", resp.IpfsCID)
	assert.JSONEq(t, `{"merchantDomain":"paybeaver.xyz","productName":"Pro"}`, string(pinner.content))
}

func TestSaveMetadataRejectsBadBody(t *testing.T) {
	engine := gin.New()
	engine.POST("/metadata", NewMetadataHandler(&fakePinner{}).SaveMetadata)

	w := doRequest(engine, http.MethodPost, "/metadata", `{"something":"else"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestComputeProductHash(t *testing.T) {
	engine := gin.New()
	engine.POST("/product-hash", NewProductHandler().ComputeProductHash)

	body := `{
		"merchant_address": "0x1111111111111111111111111111111111111111",
		"token_address": "0x2222222222222222222222222222222222222222",
		"uint_amount": "1000000",
		"period": 2592000,
		"payment_period": 604800,
		"metadata_cid": "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	}`
	w := doRequest(engine, http.MethodPost, "/product-hash", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ProductHashResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.ProductHash, 66)
	assert.Equal(t, "0x", resp.ProductHash[:2])

	// Same input, same hash.
	w2 := doRequest(engine, http.MethodPost, "/product-hash", body)
	var resp2 ProductHashResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp2))
	assert.Equal(t, resp.ProductHash, resp2.ProductHash)
}

func TestComputeProductHashValidation(t *testing.T) {
	engine := gin.New()
	engine.POST("/product-hash", NewProductHandler().ComputeProductHash)

	tests := []struct {
		name string
		body string
	}{
		{
			name: "bad merchant address",
			body: `{"merchant_address":"nope","token_address":"0x2222222222222222222222222222222222222222","uint_amount":"1","period":1,"payment_period":1,"metadata_cid":"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"}`,
		},
		{
			name: "negative amount",
			body: `{"merchant_address":"0x1111111111111111111111111111111111111111","token_address":"0x2222222222222222222222222222222222222222","uint_amount":"-5","period":1,"payment_period":1,"metadata_cid":"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"}`,
		},
		{
			name: "missing period",
			body: `{"merchant_address":"0x1111111111111111111111111111111111111111","token_address":"0x2222222222222222222222222222222222222222","uint_amount":"1","payment_period":1,"metadata_cid":"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"}`,
		},
		{
			name: "bad metadata cid",
			body: `{"merchant_address":"0x1111111111111111111111111111111111111111","token_address":"0x2222222222222222222222222222222222222222","uint_amount":"1","period":1,"payment_period":1,"metadata_cid":"l0lI"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(engine, http.MethodPost, "/product-hash", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

package metadata

import (
	"context"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paybeaver/beaver-indexer/internal/logger"
	"github.com/paybeaver/beaver-indexer/internal/store/storetest"
)

func init() {
	logger.InitLogger("test")
}

// cidBytes builds the raw multihash reference (sha2-256 CIDv0) a contract
// would hold for the given content.
func cidBytes(content string) []byte {
	digest := sha256.Sum256([]byte(content))
	return append([]byte{0x12, 0x20}, digest[:]...)
}

func TestCIDFromBytes(t *testing.T) {
	raw := cidBytes(`{"a":1}`)
	cidStr, err := CIDFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(raw), cidStr)
	assert.Equal(t, "Qm", cidStr[:2])

	_, err = CIDFromBytes(nil)
	assert.Error(t, err)

	_, err = CIDFromBytes([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestResolveFetchesAndCaches(t *testing.T) {
	const blob = `{"merchantDomain":"paybeaver.xyz","productName":"Pro"}`
	raw := cidBytes(blob)

	var hits int
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/"+base58.Encode(raw), r.URL.Path)
		w.Write([]byte(blob))
	}))
	defer gateway.Close()

	st := storetest.New()
	resolver := NewResolver(st, gateway.URL)

	cidStr, obj, err := resolver.Resolve(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(raw), cidStr)
	assert.Equal(t, "paybeaver.xyz", obj["merchantDomain"])

	// Second resolve is served from the cache.
	_, obj, err = resolver.Resolve(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Pro", obj["productName"])
	assert.Equal(t, 1, hits)
}

func TestResolveGatewayError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer gateway.Close()

	resolver := NewResolver(storetest.New(), gateway.URL)
	_, _, err := resolver.Resolve(context.Background(), cidBytes("missing"))

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusBadGateway, fetchErr.StatusCode)
}

func TestResolveInvalidJSON(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer gateway.Close()

	resolver := NewResolver(storetest.New(), gateway.URL)
	_, _, err := resolver.Resolve(context.Background(), cidBytes("x"))
	assert.Error(t, err)
}

func TestParseProductMetadata(t *testing.T) {
	tests := []struct {
		name       string
		obj        map[string]interface{}
		wantDomain string
		wantKey    string
	}{
		{
			name:       "both keys present",
			obj:        map[string]interface{}{"merchantDomain": "paybeaver.xyz", "productName": "Pro"},
			wantDomain: "paybeaver.xyz",
		},
		{
			name:    "missing merchantDomain",
			obj:     map[string]interface{}{"productName": "Pro"},
			wantKey: "merchantDomain",
		},
		{
			name:    "missing productName",
			obj:     map[string]interface{}{"merchantDomain": "paybeaver.xyz"},
			wantKey: "productName",
		},
		{
			name:    "non-string value",
			obj:     map[string]interface{}{"merchantDomain": 42, "productName": "Pro"},
			wantKey: "merchantDomain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := ParseProductMetadata("QmTest", tt.obj)
			if tt.wantKey != "" {
				var missing *MissingKeyError
				require.ErrorAs(t, err, &missing)
				assert.Equal(t, tt.wantKey, missing.Key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDomain, meta.MerchantDomain)
		})
	}
}

func TestParseSubscriptionMetadata(t *testing.T) {
	meta := ParseSubscriptionMetadata(map[string]interface{}{
		"subscriptionId": "sub-1",
		"userId":         "user-1",
	})
	require.NotNil(t, meta.SubscriptionID)
	assert.Equal(t, "sub-1", *meta.SubscriptionID)
	require.NotNil(t, meta.UserID)
	assert.Equal(t, "user-1", *meta.UserID)

	empty := ParseSubscriptionMetadata(map[string]interface{}{})
	assert.Nil(t, empty.SubscriptionID)
	assert.Nil(t, empty.UserID)
}

func TestPinnerPinsAndDeduplicates(t *testing.T) {
	const blob = `{"merchantDomain":"paybeaver.xyz"}`

	var hits int
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		err := r.ParseMultipartForm(1 << 20)
		require.NoError(t, err)
		_, _, err = r.FormFile("file")
		require.NoError(t, err)

		w.Write([]byte(`{"IpfsHash":"QmPinned"}`))
	}))
	defer service.Close()

	pinner := NewPinner(storetest.New(), "test-key", service.URL)

	cidStr, err := pinner.Pin(context.Background(), []byte(blob))
	require.NoError(t, err)
	assert.Equal(t, "QmPinned", cidStr)

	// Same content resolves from the cache without another upload.
	cidStr, err = pinner.Pin(context.Background(), []byte(blob))
	require.NoError(t, err)
	assert.Equal(t, "QmPinned", cidStr)
	assert.Equal(t, 1, hits)
}

func TestPinnerServiceError(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer service.Close()

	pinner := NewPinner(storetest.New(), "bad-key", service.URL)
	_, err := pinner.Pin(context.Background(), []byte("{}"))
	assert.Error(t, err)
}

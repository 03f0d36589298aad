// Package metadata turns raw on-chain metadata references into JSON objects.
// References are IPFS CIDs; blobs are cached in the database and fetched from
// the pinning service's gateway on a cache miss.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/logger"
	"github.com/paybeaver/beaver-indexer/internal/store"
)

const defaultFetchTimeout = 30 * time.Second

// FetchError reports a non-200 response from the pinning service gateway.
// Fetches are not retried within a tick; the next scan of the same event
// retries naturally.
type FetchError struct {
	CID        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching metadata %s: gateway returned status %d", e.CID, e.StatusCode)
}

// MissingKeyError reports product metadata lacking a required field.
type MissingKeyError struct {
	CID string
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("metadata %s is missing required key %q", e.CID, e.Key)
}

// CIDFromBytes interprets raw event bytes as a base58 multihash and returns
// the CID string.
func CIDFromBytes(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("empty metadata reference")
	}
	encoded := base58.Encode(raw)
	if _, err := cid.Decode(encoded); err != nil {
		return "", fmt.Errorf("metadata reference %s is not a valid CID: %w", encoded, err)
	}
	return encoded, nil
}

// Resolver maps metadata references to JSON objects, caching blobs in the
// store.
type Resolver struct {
	store      store.Store
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewResolver returns a resolver fetching uncached blobs from
// {baseURL}/{cid}.
func NewResolver(st store.Store, baseURL string) *Resolver {
	return &Resolver{
		store:      st,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultFetchTimeout},
		logger:     logger.Log,
	}
}

// Resolve returns the CID of the reference and the decoded JSON object. The
// blob is served from the cache when present, otherwise fetched from the
// gateway and cached. A non-200 gateway response surfaces as *FetchError.
func (r *Resolver) Resolve(ctx context.Context, raw []byte) (string, map[string]interface{}, error) {
	cidStr, err := CIDFromBytes(raw)
	if err != nil {
		return "", nil, err
	}

	content, cached, err := r.store.GetMetadataByCID(ctx, cidStr)
	if err != nil {
		return cidStr, nil, err
	}
	if !cached {
		content, err = r.fetch(ctx, cidStr)
		if err != nil {
			return cidStr, nil, err
		}
		if err := r.store.StoreMetadata(ctx, cidStr, content); err != nil {
			return cidStr, nil, err
		}
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return cidStr, nil, fmt.Errorf("metadata %s is not a JSON object: %w", cidStr, err)
	}
	return cidStr, obj, nil
}

func (r *Resolver) fetch(ctx context.Context, cidStr string) (string, error) {
	url := fmt.Sprintf("%s/%s", r.baseURL, cidStr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building metadata request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching metadata %s: %w", cidStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{CID: cidStr, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading metadata %s: %w", cidStr, err)
	}
	r.logger.Debug("fetched metadata blob", zap.String("cid", cidStr), zap.Int("bytes", len(body)))
	return string(body), nil
}

// ProductMetadata is the required product-level metadata.
type ProductMetadata struct {
	MerchantDomain string
	ProductName    string
}

// ParseProductMetadata extracts the required product fields. A missing or
// non-string field surfaces as *MissingKeyError and the caller must skip the
// subscription.
func ParseProductMetadata(cidStr string, obj map[string]interface{}) (*ProductMetadata, error) {
	domain, ok := obj["merchantDomain"].(string)
	if !ok {
		return nil, &MissingKeyError{CID: cidStr, Key: "merchantDomain"}
	}
	name, ok := obj["productName"].(string)
	if !ok {
		return nil, &MissingKeyError{CID: cidStr, Key: "productName"}
	}
	return &ProductMetadata{MerchantDomain: domain, ProductName: name}, nil
}

// SubscriptionMetadata is the optional subscription-level metadata.
type SubscriptionMetadata struct {
	SubscriptionID *string
	UserID         *string
}

// ParseSubscriptionMetadata extracts the optional subscription fields. All
// fields may be absent; a nil object behaves like an empty one.
func ParseSubscriptionMetadata(obj map[string]interface{}) *SubscriptionMetadata {
	var meta SubscriptionMetadata
	if id, ok := obj["subscriptionId"].(string); ok {
		meta.SubscriptionID = &id
	}
	if id, ok := obj["userId"].(string); ok {
		meta.UserID = &id
	}
	return &meta
}

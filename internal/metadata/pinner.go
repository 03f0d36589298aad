package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/logger"
	"github.com/paybeaver/beaver-indexer/internal/store"
)

// DefaultPinURL is Pinata's pinning endpoint.
const DefaultPinURL = "https://api.pinata.cloud/pinning/pinFileToIPFS"

// Pinner stores blobs on IPFS through the pinning service, deduplicating by
// content through the metadata cache.
type Pinner struct {
	store      store.Store
	apiKey     string
	pinURL     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPinner returns a pinner authenticating with apiKey. An empty pinURL
// selects DefaultPinURL.
func NewPinner(st store.Store, apiKey, pinURL string) *Pinner {
	if pinURL == "" {
		pinURL = DefaultPinURL
	}
	return &Pinner{
		store:      st,
		apiKey:     apiKey,
		pinURL:     pinURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.Log,
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Pin returns the CID for content, pinning it to IPFS unless the exact blob
// was pinned before.
func (p *Pinner) Pin(ctx context.Context, content []byte) (string, error) {
	cached, ok, err := p.store.GetMetadataCIDByContent(ctx, string(content))
	if err != nil {
		return "", err
	}
	if ok {
		return cached, nil
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "metadata.json")
	if err != nil {
		return "", fmt.Errorf("building pin request: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("building pin request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("building pin request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.pinURL, &body)
	if err != nil {
		return "", fmt.Errorf("building pin request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinning metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("pinning metadata: service returned status %d: %s", resp.StatusCode, respBody)
	}

	var parsed pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding pin response: %w", err)
	}
	if parsed.IpfsHash == "" {
		return "", fmt.Errorf("pin response is missing IpfsHash")
	}

	if err := p.store.StoreMetadata(ctx, parsed.IpfsHash, string(content)); err != nil {
		return "", err
	}
	p.logger.Info("pinned metadata blob", zap.String("cid", parsed.IpfsHash), zap.Int("bytes", len(content)))
	return parsed.IpfsHash, nil
}

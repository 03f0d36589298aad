package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MetadataPinner pins a blob to IPFS and returns its CID. Implemented by
// metadata.Pinner.
type MetadataPinner interface {
	Pin(ctx context.Context, content []byte) (string, error)
}

// MetadataHandler serves the metadata-ingestion endpoint.
type MetadataHandler struct {
	pinner MetadataPinner
}

// NewMetadataHandler returns a handler pinning through pinner.
func NewMetadataHandler(pinner MetadataPinner) *MetadataHandler {
	return &MetadataHandler{pinner: pinner}
}

// SaveMetadataRequest carries the JSON object to pin.
type SaveMetadataRequest struct {
	Metadata json.RawMessage `json:"metadata" binding:"required"`
}

// SaveMetadataResponse carries the CID of the pinned blob.
type SaveMetadataResponse struct {
	IpfsCID string `json:"ipfs_cid"`
}

// SaveMetadata pins the posted JSON object, deduplicating by content, and
// returns the CID the chain should reference.
func (h *MetadataHandler) SaveMetadata(c *gin.Context) {
	var req SaveMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cid, err := h.pinner.Pin(c.Request.Context(), req.Metadata)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to pin metadata", err)
		return
	}
	sendSuccess(c, http.StatusOK, SaveMetadataResponse{IpfsCID: cid})
}

// Package handlers implements the HTTP query surface: read-only projections
// of the indexed entities plus the metadata-ingestion and product-hash
// helpers.
package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/logger"
	"github.com/paybeaver/beaver-indexer/internal/middleware"
)

// ErrorResponse is the JSON shape of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func sendError(c *gin.Context, statusCode int, message string, err error) {
	correlationID := middleware.GetCorrelationID(c)

	logger.Log.Error(message,
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.String("correlation_id", correlationID),
	)

	c.JSON(statusCode, ErrorResponse{
		Error:         message,
		CorrelationID: correlationID,
	})
}

func sendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

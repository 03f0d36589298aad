// Package middleware holds the HTTP middleware shared by the query surface.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/logger"
)

const (
	// CorrelationIDHeader carries the request correlation ID.
	CorrelationIDHeader = "X-Correlation-ID"
	correlationIDKey    = "correlationID"
)

// CorrelationID tags every request with a correlation ID, generating one
// when the caller did not send one, and logs the request.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set(correlationIDKey, correlationID)
		c.Header(CorrelationIDHeader, correlationID)

		if logger.Log != nil {
			logger.Log.Info("request received",
				zap.String("correlation_id", correlationID),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
		}

		c.Next()
	}
}

// GetCorrelationID returns the request's correlation ID, or "" outside a
// request handled by CorrelationID.
func GetCorrelationID(c *gin.Context) string {
	if id, exists := c.Get(correlationIDKey); exists {
		if correlationID, ok := id.(string); ok {
			return correlationID
		}
	}
	return ""
}

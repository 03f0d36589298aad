package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/paybeaver/beaver-indexer/internal/logger"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

func TestCorrelationID(t *testing.T) {
	tests := []struct {
		name        string
		requestID   string
		expectNewID bool
	}{
		{
			name:        "generates an ID when the header is absent",
			expectNewID: true,
		},
		{
			name:      "preserves a caller-provided ID",
			requestID: "test-correlation-id-123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := gin.New()
			engine.Use(CorrelationID())

			var seen string
			engine.GET("/test", func(c *gin.Context) {
				seen = GetCorrelationID(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.requestID != "" {
				req.Header.Set(CorrelationIDHeader, tt.requestID)
			}
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.NotEmpty(t, seen)
			assert.Equal(t, seen, w.Header().Get(CorrelationIDHeader))
			if tt.expectNewID {
				assert.NotEqual(t, "test-correlation-id-123", seen)
			} else {
				assert.Equal(t, tt.requestID, seen)
			}
		})
	}
}

func TestGetCorrelationIDOutsideRequest(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetCorrelationID(c))
}

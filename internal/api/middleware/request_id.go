// Package middleware provides Gin middleware shared across the API surface:
// request-id threading and request logging.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader is the header carrying the per-request correlation id.
const RequestIDHeader = "X-Request-Id"

// ContextKeyRequestID is the gin context key holding the request id.
const ContextKeyRequestID = "requestID"

// RequestID assigns every request a UUID (or adopts the client-provided one)
// and reflects it on the response so errors can be correlated with logs.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

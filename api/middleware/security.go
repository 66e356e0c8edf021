package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SecurityMiddleware struct {
	logger *zap.Logger
}

func NewSecurityMiddleware(logger *zap.Logger) *SecurityMiddleware {
	return &SecurityMiddleware{logger: logger}
}

// BearerAuth guards an endpoint with a static bearer token. The token is
// compared in constant time; empty configuration locks the endpoint.
func (m *SecurityMiddleware) BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			m.logger.Error("Bearer-guarded endpoint has no token configured",
				zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusForbidden, gin.H{"error": "Endpoint disabled"})
			c.Abort()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			m.logger.Warn("Missing bearer token", zap.String("ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			c.Abort()
			return
		}

		presented := strings.TrimPrefix(header, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			m.logger.Warn("Invalid bearer token", zap.String("ip", c.ClientIP()))
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid bearer token"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (m *SecurityMiddleware) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "3600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

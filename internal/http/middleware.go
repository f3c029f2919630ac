package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"phonewatch-service/internal/service"
)

// AuthMiddleware rejects requests without a valid bearer token. The
// verified username lands in the context under "username".
func AuthMiddleware(monitorService *service.MonitorService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("missing bearer token"))
			return
		}

		username, err := monitorService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid token"))
			return
		}

		c.Set("username", username)
		c.Next()
	}
}

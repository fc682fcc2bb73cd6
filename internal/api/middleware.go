package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CapabilitySync is the portal capability required for every sync admin
// endpoint.
const CapabilitySync = "data_management.sync"

// SessionValidator checks a bearer token against the portal's session store.
type SessionValidator interface {
	HasCapability(ctx context.Context, token, capability string) (bool, error)
}

// RequireCapability gates a route group behind a session capability. A nil
// validator disables the check, for standalone deployments where the engine
// runs behind an already authenticated proxy.
func RequireCapability(validator SessionValidator, capability string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}

		ok, err := validator.HasCapability(c.Request.Context(), token, capability)
		if err != nil {
			logger.WithField("error", err.Error()).Error("Session validation failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Session validation failed"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

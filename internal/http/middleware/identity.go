// README: Driver identity middleware; the upstream gateway authenticates and forwards the driver id.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"courier/internal/types"
)

const (
	DriverIDHeader = "X-Driver-ID"
	driverIDKey    = "driver_id"
	maxDriverIDLen = 64
)

// Identity rejects requests without a usable driver id and stores it on the context.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(DriverIDHeader))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + DriverIDHeader + " header"})
			return
		}
		if !validDriverID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid driver id"})
			return
		}
		c.Set(driverIDKey, types.ID(id))
		c.Next()
	}
}

// DriverID returns the id stored by Identity, or "" outside it.
func DriverID(c *gin.Context) types.ID {
	v, ok := c.Get(driverIDKey)
	if !ok {
		return ""
	}
	id, _ := v.(types.ID)
	return id
}

// uuids and opaque alphanumeric ids
func validDriverID(v string) bool {
	if len(v) > maxDriverIDLen {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

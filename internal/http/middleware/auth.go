// README: Firebase ID token authentication and role gating.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"diomy/internal/infra"
	"diomy/internal/types"
)

const (
	ctxCallerUID  = "caller_uid"
	ctxCallerRole = "caller_role"
)

// Auth verifies the bearer token and stores the caller uid and role claim on
// the context. Browsers cannot set headers on a websocket handshake, so an
// upgrade request may pass the token as access_token instead.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok && websocket.IsWebSocketUpgrade(c.Request) {
			raw = c.Query("access_token")
			ok = raw != ""
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		role, _ := token.Claims["role"].(string)
		c.Set(ctxCallerUID, token.UID)
		c.Set(ctxCallerRole, role)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(prefix):])
	return raw, raw != ""
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxCallerUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxCallerRole)
}

// CallerID is the caller uid as an actor id.
func CallerID(c *gin.Context) types.ID {
	return types.ID(CallerUID(c))
}

// RequireRole rejects callers whose role claim is not role.
func RequireRole(role types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) != string(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "requires role " + string(role)})
			return
		}
		c.Next()
	}
}

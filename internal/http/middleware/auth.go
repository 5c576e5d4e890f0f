// README: Bearer token authentication and role gates for gin routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

const callerKey = "caller"

// Auth rejects requests without a valid "Authorization: Bearer" token and stores the
// caller identity on the context.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		ident, err := verifier.VerifyToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(callerKey, *ident)
		c.Next()
	}
}

// RequireRole lets the request through only for the listed roles. It must run after Auth.
func RequireRole(roles ...infra.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not allowed"})
	}
}

func Caller(c *gin.Context) infra.Identity {
	v, ok := c.Get(callerKey)
	if !ok {
		return infra.Identity{}
	}
	ident, _ := v.(infra.Identity)
	return ident
}

func CallerID(c *gin.Context) types.ID { return Caller(c).ID }

func CallerRole(c *gin.Context) infra.Role { return Caller(c).Role }

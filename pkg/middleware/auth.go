package middleware

import (
	"net/http"
	"strings"

	"github.com/cacatua/cacatua/backend/go-services/internal/tokens"
	"github.com/gin-gonic/gin"
)

// ContextUID is the context key AuthMiddleware stores the subject under.
const ContextUID = "uid"

// AccessVerifier is the minimal interface the middleware depends on.
// It is satisfied by *tokens.Codec.
type AccessVerifier interface {
	Verify(raw string) (*tokens.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthMiddleware verifies the bearer access token. Every failure yields the
// same 401 body so callers cannot tell why a token was refused.
func AuthMiddleware(ver AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := BearerToken(c)
		if !ok {
			abortUnauthorized(c)
			return
		}
		claims, err := ver.Verify(raw)
		if err != nil {
			abortUnauthorized(c)
			return
		}
		c.Set(ContextUID, claims.Subject)
		c.Next()
	}
}

// UID returns the authenticated subject, or "" outside AuthMiddleware.
func UID(c *gin.Context) string {
	return c.GetString(ContextUID)
}

func abortUnauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="cacatua"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "unauthorized"})
}

package devserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey = "devserver.userID"
	tokenContextKey  = "devserver.token"
)

// requireAuth rejects requests without a valid bearer token.
func requireAuth(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		userID, err := store.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid or expired token"})
			return
		}
		c.Set(userIDContextKey, userID)
		c.Set(tokenContextKey, token)
		c.Next()
	}
}

// optionalAuth resolves a bearer token when present but lets anonymous
// requests through. A bad token is treated as anonymous rather than
// rejected, matching how guests and logged-in users share the upload
// and delete endpoints.
func optionalAuth(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token != "" {
			if userID, err := store.ValidateToken(c.Request.Context(), token); err == nil {
				c.Set(userIDContextKey, userID)
				c.Set(tokenContextKey, token)
			}
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// currentUserID returns the authenticated user id, or "" for guests.
func currentUserID(c *gin.Context) string {
	if v, ok := c.Get(userIDContextKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func currentToken(c *gin.Context) string {
	if v, ok := c.Get(tokenContextKey); ok {
		if t, ok := v.(string); ok {
			return t
		}
	}
	return ""
}

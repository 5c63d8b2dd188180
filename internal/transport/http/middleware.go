package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/metrics"
)

const identityKey = "identity"

type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*domain.Identity, error)
}

type AuthMiddleware struct {
	auth IdentityResolver
	log  domain.Logger
}

func NewAuthMiddleware(a IdentityResolver, log domain.Logger) *AuthMiddleware {
	return &AuthMiddleware{auth: a, log: log}
}

// bearerToken accepts the token from the query string (browsers cannot set
// headers on a websocket upgrade) or an Authorization header.
func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			metrics.ConnectionsRejected.Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		identity, err := m.auth.Resolve(c.Request.Context(), token)
		if err != nil {
			metrics.ConnectionsRejected.Inc()
			m.log.Warn("handshake rejected", "remote_addr", c.ClientIP(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityFrom(c *gin.Context) *domain.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*domain.Identity)
	return id
}

package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fleet-monitor/realtime/internal/config"
	"fleet-monitor/realtime/internal/domain"
)

// SessionSource looks up a token issued by the primary API. A nil identity
// with a nil error means the token is unknown.
type SessionSource interface {
	GetSession(ctx context.Context, token string) (*domain.Identity, error)
}

type cacheEntry struct {
	identity  domain.Identity
	expiresAt time.Time
}

type Authenticator struct {
	localCache sync.Map
	sessions   SessionSource
	ttl        time.Duration
	static     map[string]domain.Identity
	now        func() time.Time
}

func NewAuthenticator(cfg *config.Config, sessions SessionSource) *Authenticator {
	static := make(map[string]domain.Identity, len(cfg.StaticTokens))
	for token, spec := range cfg.StaticTokens {
		if id, ok := parseStatic(spec); ok && token != "" {
			static[token] = id
		}
	}

	return &Authenticator{
		sessions: sessions,
		ttl:      cfg.AuthCacheTTL,
		static:   static,
		now:      time.Now,
	}
}

// parseStatic reads "subject:role:space".
func parseStatic(spec string) (domain.Identity, bool) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) != 3 {
		return domain.Identity{}, false
	}
	id := domain.Identity{SubjectID: parts[0], Role: domain.Role(parts[1]), SpaceID: parts[2]}
	return id, id.Valid()
}

// Resolve maps a bearer token to the identity behind it.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", domain.ErrAuth)
	}

	// Level 0: static config tokens
	if id, ok := a.static[token]; ok {
		return &id, nil
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(token); ok {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			id := entry.identity
			return &id, nil
		}
		a.localCache.Delete(token)
	}

	// Level 2: session store
	if a.sessions == nil {
		return nil, fmt.Errorf("%w: unknown token", domain.ErrAuth)
	}
	id, err := a.sessions.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	if !id.Valid() {
		return nil, fmt.Errorf("%w: unknown token", domain.ErrAuth)
	}

	a.localCache.Store(token, cacheEntry{
		identity:  *id,
		expiresAt: a.now().Add(a.ttl),
	})

	return id, nil
}

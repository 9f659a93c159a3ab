package directory

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/Jnavarr56/authentication-api/cache"
)

// DefaultAdminTokenTTL bounds how long a minted admin token is honoured.
const DefaultAdminTokenTTL = time.Minute

// AdminTokenSource mints a one-off bearer token for each token request and
// registers it in a cache shared with the user service, which accepts any
// token it finds there.
type AdminTokenSource struct {
	cache cache.Cache
	ttl   time.Duration
}

var _ oauth2.TokenSource = (*AdminTokenSource)(nil)

// NewAdminTokenSource creates a token source backed by c.
func NewAdminTokenSource(c cache.Cache, ttl time.Duration) (*AdminTokenSource, error) {
	if c == nil {
		return nil, fmt.Errorf("admin token cache is required")
	}
	if ttl <= 0 {
		ttl = DefaultAdminTokenTTL
	}
	return &AdminTokenSource{cache: c, ttl: ttl}, nil
}

// Token mints and registers a new token.
func (s *AdminTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	value := oauth2.GenerateVerifier()
	if err := s.cache.Set(ctx, value, []byte("true"), s.ttl); err != nil {
		return nil, fmt.Errorf("failed to register admin token: %w", err)
	}
	return &oauth2.Token{
		AccessToken: value,
		TokenType:   "Bearer",
		// Renewed at half the registration TTL.
		Expiry: time.Now().Add(s.ttl / 2),
	}, nil
}

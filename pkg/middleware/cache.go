package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingVerifier remembers successful verifications so repeated requests
// with the same token skip signature checks. Rejections are never cached.
type CachingVerifier struct {
	next  TokenVerifier
	cache *expirable.LRU[string, *Identity]
	now   func() time.Time
}

// NewCachingVerifier wraps next with an LRU of size entries kept for ttl
func NewCachingVerifier(next TokenVerifier, size int, ttl time.Duration) *CachingVerifier {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachingVerifier{
		next:  next,
		cache: expirable.NewLRU[string, *Identity](size, nil, ttl),
		now:   time.Now,
	}
}

// Verify implements TokenVerifier
func (c *CachingVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	key := tokenKey(rawToken)
	if identity, ok := c.cache.Get(key); ok {
		if identity.ExpiresAt.IsZero() || c.now().Before(identity.ExpiresAt) {
			return identity, nil
		}
		c.cache.Remove(key)
	}

	identity, err := c.next.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, identity)
	return identity, nil
}

// Len returns the number of cached identities
func (c *CachingVerifier) Len() int {
	return c.cache.Len()
}

// tokens are hashed so the cache never holds a usable credential
func tokenKey(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

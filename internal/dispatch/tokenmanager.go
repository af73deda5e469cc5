package dispatch

import (
	"context"
	"sync"

	"github.com/lattice-run/cloudcode-gateway/internal/pool"
	"github.com/lattice-run/cloudcode-gateway/internal/token"
)

// tokenCache holds a live access token per identity in-process, since
// Identity itself only carries the composite refresh secret: access
// tokens are runtime-only and never persisted.
type tokenCache struct {
	mu    sync.Mutex
	byID  map[*pool.Identity]token.AuthDetails
	fresh *token.Refresher
}

func newTokenCache(refresher *token.Refresher) *tokenCache {
	return &tokenCache{byID: make(map[*pool.Identity]token.AuthDetails), fresh: refresher}
}

// ensure returns a non-expired AuthDetails for id, refreshing it first
// if necessary. A *token.RefreshError with Code "invalid_grant"
// indicates the identity must be evicted by the caller; any other
// error return means the refresh was inconclusive (network failure,
// malformed response) and the caller should advance to the next
// identity rather than hard-fail.
func (c *tokenCache) ensure(ctx context.Context, id *pool.Identity) (*token.AuthDetails, error) {
	c.mu.Lock()
	cached, ok := c.byID[id]
	c.mu.Unlock()

	if ok && !token.IsExpired(cached) {
		return &cached, nil
	}

	current := pool.ToAuthDetails(id)
	if ok {
		current = cached
	}

	refreshed, err := c.fresh.Refresh(ctx, current)
	if err != nil {
		return nil, err
	}
	if refreshed == nil {
		return nil, nil
	}

	c.mu.Lock()
	c.byID[id] = *refreshed
	c.mu.Unlock()
	return refreshed, nil
}

// evict drops any cached token for id, e.g. after removal from the pool.
func (c *tokenCache) evict(id *pool.Identity) {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()
}

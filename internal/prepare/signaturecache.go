package prepare

import (
	"context"
	"sync"
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/pkg/redis"
)

// SignatureCache remembers Gemini thoughtSignatures keyed by tool-use
// id, and the model family a thinking-block signature was minted
// under, so both can be restored on the next turn of a multi-turn
// conversation after a client strips the non-standard field. It
// prefers Redis when configured so the cache survives process
// restarts and is shared across gateway instances, and falls back to
// an in-process TTL map otherwise.
type SignatureCache struct {
	mu    sync.RWMutex
	redis *redis.Client

	signatures map[string]cacheEntry
	thinking   map[string]cacheEntry
}

type cacheEntry struct {
	value   string
	expires time.Time
}

// NewSignatureCache wraps an optional Redis client; pass nil to run
// entirely in-process.
func NewSignatureCache(client *redis.Client) *SignatureCache {
	return &SignatureCache{
		redis:      client,
		signatures: make(map[string]cacheEntry),
		thinking:   make(map[string]cacheEntry),
	}
}

func ttl() time.Duration {
	return time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
}

// CacheSignature stores a tool-call signature under toolUseID.
func (c *SignatureCache) CacheSignature(toolUseID, signature string) {
	if toolUseID == "" || signature == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.redis != nil {
		_ = c.redis.SetString(context.Background(), redis.PrefixSignatureTool+toolUseID, signature, ttl())
		return
	}
	c.signatures[toolUseID] = cacheEntry{value: signature, expires: time.Now().Add(ttl())}
}

// Signature returns the cached signature for toolUseID, or "" if
// absent or expired.
func (c *SignatureCache) Signature(toolUseID string) string {
	if toolUseID == "" {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.redis != nil {
		v, err := c.redis.GetString(context.Background(), redis.PrefixSignatureTool+toolUseID)
		if err != nil {
			return ""
		}
		return v
	}
	entry, ok := c.signatures[toolUseID]
	if !ok || time.Now().After(entry.expires) {
		return ""
	}
	return entry.value
}

// CacheThinkingFamily remembers which model family minted a thinking
// signature, so a later turn can tell whether it's replaying a Claude
// or Gemini thought block.
func (c *SignatureCache) CacheThinkingFamily(signature, family string) {
	if len(signature) < config.MinSignatureLength {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.redis != nil {
		_ = c.redis.SetString(context.Background(), redis.PrefixSignatureThinking+signature, family, ttl())
		return
	}
	c.thinking[signature] = cacheEntry{value: family, expires: time.Now().Add(ttl())}
}

// ThinkingFamily returns the model family a thinking signature was
// cached under, or "" if unknown.
func (c *SignatureCache) ThinkingFamily(signature string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.redis != nil {
		v, err := c.redis.GetString(context.Background(), redis.PrefixSignatureThinking+signature)
		if err != nil {
			return ""
		}
		return v
	}
	entry, ok := c.thinking[signature]
	if !ok || time.Now().After(entry.expires) {
		return ""
	}
	return entry.value
}

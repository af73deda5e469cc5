package selector

import (
	"math"
	"sync"
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
)

// tokenBucketTracker gives each identity a regenerating bucket of
// tokens as a client-side throttle independent of upstream rate
// limits, so the hybrid strategy can deprioritize an identity that's
// being hit unusually hard even before the upstream complains.
type tokenBucketTracker struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	preset  config.TokenBucketPreset
}

type bucket struct {
	tokens      float64
	lastUpdated time.Time
}

func newTokenBucketTracker(preset config.TokenBucketPreset) *tokenBucketTracker {
	return &tokenBucketTracker{buckets: make(map[string]*bucket), preset: preset}
}

func (t *tokenBucketTracker) tokensUnlocked(email string) float64 {
	b, ok := t.buckets[email]
	if !ok {
		return t.preset.InitialTokens
	}
	minutes := time.Since(b.lastUpdated).Minutes()
	current := b.tokens + minutes*t.preset.TokensPerMinute
	if current > t.preset.MaxTokens {
		return t.preset.MaxTokens
	}
	return current
}

func (t *tokenBucketTracker) GetTokens(email string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokensUnlocked(email)
}

func (t *tokenBucketTracker) HasTokens(email string) bool {
	return t.GetTokens(email) >= 1
}

func (t *tokenBucketTracker) Consume(email string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.tokensUnlocked(email)
	if current < 1 {
		return false
	}
	t.buckets[email] = &bucket{tokens: current - 1, lastUpdated: time.Now()}
	return true
}

func (t *tokenBucketTracker) Refund(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.tokensUnlocked(email) + 1
	if current > t.preset.MaxTokens {
		current = t.preset.MaxTokens
	}
	t.buckets[email] = &bucket{tokens: current, lastUpdated: time.Now()}
}

func (t *tokenBucketTracker) GetMaxTokens() float64 {
	return t.preset.MaxTokens
}

func (t *tokenBucketTracker) timeUntilNextToken(email string) int64 {
	current := t.GetTokens(email)
	if current >= 1 {
		return 0
	}
	needed := (1 - current) / t.preset.TokensPerMinute
	return int64(math.Ceil(needed * 60 * 1000))
}

func (t *tokenBucketTracker) minTimeUntilToken(emails []string) int64 {
	if len(emails) == 0 {
		return 0
	}
	min := int64(math.MaxInt64)
	for _, email := range emails {
		wait := t.timeUntilNextToken(email)
		if wait == 0 {
			return 0
		}
		if wait < min {
			min = wait
		}
	}
	if min == int64(math.MaxInt64) {
		return 0
	}
	return min
}

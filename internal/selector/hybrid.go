package selector

import (
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/pool"
)

// fallbackLevel records which filter tier produced the candidate set,
// so the caller can be throttled proportionally to how degraded the
// pool is.
type fallbackLevel int

const (
	fallbackNormal fallbackLevel = iota
	fallbackEmergency
	fallbackLastResort
)

// hybridStrategy scores every usable identity on health, token
// headroom, and idle time, and picks the best one — adapted from the
// teacher's HybridStrategy, minus the quota-threshold tier (this
// gateway tracks quota exhaustion as a hard rate-limit window, not a
// soft fractional threshold, so there's nothing for that tier to read).
type hybridStrategy struct {
	health  *healthTracker
	tokens  *tokenBucketTracker
	weights config.WeightsPreset
}

func newHybridStrategy(preset config.StrategyPreset) *hybridStrategy {
	return &hybridStrategy{
		health:  newHealthTracker(preset.HealthScore),
		tokens:  newTokenBucketTracker(preset.TokenBucket),
		weights: preset.Weights,
	}
}

type candidate struct {
	id    *pool.Identity
	score float64
}

func (s *hybridStrategy) Select(identities []*pool.Identity, family pool.Family, model string) Result {
	if len(identities) == 0 {
		return Result{}
	}

	candidates, level := s.candidates(identities, family, model)
	if len(candidates) == 0 {
		return Result{WaitMs: s.diagnoseWait(identities, family, model)}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}
	best.id.LastUsed = time.Now().UnixMilli()
	if level != fallbackLastResort {
		s.tokens.Consume(best.id.Email)
	}

	var wait int64
	switch level {
	case fallbackLastResort:
		wait = 500
	case fallbackEmergency:
		wait = 250
	}
	return Result{Identity: best.id, WaitMs: wait}
}

// candidates applies filters in progressively looser tiers: usable +
// healthy + tokens, then usable + tokens (health bypassed), then
// usable alone (both bypassed) as a last resort.
func (s *hybridStrategy) candidates(identities []*pool.Identity, family pool.Family, model string) ([]candidate, fallbackLevel) {
	normal := make([]candidate, 0, len(identities))
	for _, id := range identities {
		if !isUsable(id, family, model) {
			continue
		}
		if !s.health.IsUsable(id.Email) {
			continue
		}
		if !s.tokens.HasTokens(id.Email) {
			continue
		}
		normal = append(normal, candidate{id: id, score: s.score(id)})
	}
	if len(normal) > 0 {
		return normal, fallbackNormal
	}

	emergency := make([]candidate, 0)
	for _, id := range identities {
		if !isUsable(id, family, model) {
			continue
		}
		if !s.tokens.HasTokens(id.Email) {
			continue
		}
		emergency = append(emergency, candidate{id: id, score: s.score(id)})
	}
	if len(emergency) > 0 {
		return emergency, fallbackEmergency
	}

	lastResort := make([]candidate, 0)
	for _, id := range identities {
		if !isUsable(id, family, model) {
			continue
		}
		lastResort = append(lastResort, candidate{id: id, score: s.score(id)})
	}
	return lastResort, fallbackLastResort
}

func (s *hybridStrategy) score(id *pool.Identity) float64 {
	health := s.health.GetScore(id.Email)
	healthComponent := health * s.weights.Health

	tokens := s.tokens.GetTokens(id.Email)
	tokenRatio := tokens / s.tokens.GetMaxTokens()
	tokenComponent := (tokenRatio * 100) * s.weights.Tokens

	sinceLastUse := time.Now().UnixMilli() - id.LastUsed
	if sinceLastUse > 3600000 {
		sinceLastUse = 3600000
	}
	lruComponent := (float64(sinceLastUse) / 1000) * s.weights.LRU

	return healthComponent + tokenComponent + lruComponent
}

func (s *hybridStrategy) diagnoseWait(identities []*pool.Identity, family pool.Family, model string) int64 {
	noTokens := make([]string, 0)
	for _, id := range identities {
		if isUsable(id, family, model) && !s.tokens.HasTokens(id.Email) {
			noTokens = append(noTokens, id.Email)
		}
	}
	return s.tokens.minTimeUntilToken(noTokens)
}

func (s *hybridStrategy) OnSuccess(id *pool.Identity) {
	if id != nil && id.Email != "" {
		s.health.RecordSuccess(id.Email)
	}
}

func (s *hybridStrategy) OnRateLimit(id *pool.Identity) {
	if id != nil && id.Email != "" {
		s.health.RecordRateLimit(id.Email)
	}
}

func (s *hybridStrategy) OnFailure(id *pool.Identity) {
	if id != nil && id.Email != "" {
		s.health.RecordFailure(id.Email)
		s.tokens.Refund(id.Email)
	}
}

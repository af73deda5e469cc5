// Package selector holds the optional, pluggable account-selection
// strategies. The dispatch loop's own sticky algorithm
// (pool.CurrentOrNext) is the unconditional default; a
// selector.Strategy is only consulted when a gateway is configured
// with a non-default "strategy" (round-robin or hybrid), for
// operators who'd rather spread load evenly or score accounts on
// multiple signals than pin a session to one identity.
package selector

import (
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/pool"
)

// Strategy names, matching config.Config.Strategy values.
const (
	StrategySticky     = "sticky"
	StrategyRoundRobin = "round-robin"
	StrategyHybrid     = "hybrid"
)

// Result is what a Strategy hands back to the dispatch loop.
type Result struct {
	Identity *pool.Identity
	WaitMs   int64
}

// Strategy selects which identity should serve the next request for a
// family/model pair, and is told the outcome afterward so it can
// update whatever internal bookkeeping it keeps (health scores, token
// buckets).
type Strategy interface {
	Select(identities []*pool.Identity, family pool.Family, model string) Result
	OnSuccess(id *pool.Identity)
	OnRateLimit(id *pool.Identity)
	OnFailure(id *pool.Identity)
}

// New builds a Strategy by name, falling back to hybrid for an
// unrecognized name.
func New(name string, preset config.StrategyPreset) Strategy {
	switch name {
	case StrategySticky:
		return newStickyStrategy()
	case StrategyRoundRobin:
		return newRoundRobinStrategy()
	case StrategyHybrid:
		return newHybridStrategy(preset)
	default:
		return newHybridStrategy(preset)
	}
}

// isUsable mirrors pool's own rate-limit/cooldown check over a bare
// Identity, since these strategies run outside the pool's mutex and
// only need a read-only view of already-loaded state.
func isUsable(id *pool.Identity, family pool.Family, model string) bool {
	if id == nil {
		return false
	}
	now := nowMs()
	if id.CoolingDownUntil != 0 && id.CoolingDownUntil > now {
		return false
	}
	if family == pool.FamilyClaude {
		return id.RateLimitResetTimes["claude"] <= now
	}
	agReset := id.RateLimitResetTimes[pool.QuotaKey(family, pool.StyleAntigravity, model)]
	cliReset := id.RateLimitResetTimes[pool.QuotaKey(family, pool.StyleGeminiCLI, model)]
	return agReset <= now || cliReset <= now
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

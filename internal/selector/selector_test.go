package selector

import (
	"testing"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/pool"
)

func testPreset() config.StrategyPreset {
	return config.DefaultPresets()[0]
}

func newIdentity(email string) *pool.Identity {
	return &pool.Identity{Email: email, RateLimitResetTimes: make(map[string]int64)}
}

func TestNewFallsBackToHybridForUnknownName(t *testing.T) {
	s := New("bogus", testPreset())
	if _, ok := s.(*hybridStrategy); !ok {
		t.Fatalf("expected hybrid fallback, got %T", s)
	}
}

func TestNewBuildsEachNamedStrategy(t *testing.T) {
	if _, ok := New(StrategySticky, testPreset()).(*stickyStrategy); !ok {
		t.Fatal("expected *stickyStrategy")
	}
	if _, ok := New(StrategyRoundRobin, testPreset()).(*roundRobinStrategy); !ok {
		t.Fatal("expected *roundRobinStrategy")
	}
	if _, ok := New(StrategyHybrid, testPreset()).(*hybridStrategy); !ok {
		t.Fatal("expected *hybridStrategy")
	}
}

func TestIsUsableNilIdentity(t *testing.T) {
	if isUsable(nil, pool.FamilyClaude, "") {
		t.Fatal("nil identity should never be usable")
	}
}

func TestIsUsableCoolingDown(t *testing.T) {
	id := newIdentity("a@example.com")
	id.CoolingDownUntil = nowMs() + 60_000
	if isUsable(id, pool.FamilyClaude, "") {
		t.Fatal("cooling-down identity should not be usable")
	}
}

func TestIsUsableGeminiEitherStyle(t *testing.T) {
	id := newIdentity("a@example.com")
	id.RateLimitResetTimes[pool.QuotaKey(pool.FamilyGemini, pool.StyleAntigravity, "")] = nowMs() + 60_000
	if !isUsable(id, pool.FamilyGemini, "") {
		t.Fatal("expected usable via the still-open gemini-cli style")
	}
	id.RateLimitResetTimes[pool.QuotaKey(pool.FamilyGemini, pool.StyleGeminiCLI, "")] = nowMs() + 60_000
	if isUsable(id, pool.FamilyGemini, "") {
		t.Fatal("expected unusable once both styles are exhausted")
	}
}

func TestStickyStrategyPrefersCurrentCursor(t *testing.T) {
	ids := []*pool.Identity{newIdentity("a"), newIdentity("b")}
	s := newStickyStrategy()
	r := s.Select(ids, pool.FamilyClaude, "")
	if r.Identity != ids[0] {
		t.Fatalf("expected first identity, got %v", r.Identity)
	}
}

func TestStickyStrategySkipsUnusable(t *testing.T) {
	a, b := newIdentity("a"), newIdentity("b")
	a.RateLimitResetTimes["claude"] = nowMs() + 60_000
	s := newStickyStrategy()
	r := s.Select([]*pool.Identity{a, b}, pool.FamilyClaude, "")
	if r.Identity != b {
		t.Fatalf("expected fallback to usable identity b, got %v", r.Identity)
	}
}

func TestStickyStrategyEmptyPool(t *testing.T) {
	s := newStickyStrategy()
	r := s.Select(nil, pool.FamilyClaude, "")
	if r.Identity != nil {
		t.Fatalf("expected nil identity, got %v", r.Identity)
	}
}

func TestRoundRobinAdvancesEachCall(t *testing.T) {
	ids := []*pool.Identity{newIdentity("a"), newIdentity("b"), newIdentity("c")}
	s := newRoundRobinStrategy()

	first := s.Select(ids, pool.FamilyClaude, "")
	second := s.Select(ids, pool.FamilyClaude, "")
	if first.Identity == second.Identity {
		t.Fatal("expected round robin to rotate between calls")
	}
}

func TestRoundRobinSkipsUnusable(t *testing.T) {
	a, b := newIdentity("a"), newIdentity("b")
	b.RateLimitResetTimes["claude"] = nowMs() + 60_000
	s := newRoundRobinStrategy()
	for i := 0; i < 3; i++ {
		r := s.Select([]*pool.Identity{a, b}, pool.FamilyClaude, "")
		if r.Identity != a {
			t.Fatalf("expected to always land on usable identity a, got %v", r.Identity)
		}
	}
}

func TestHealthTrackerRecoversOverTimeCap(t *testing.T) {
	h := newHealthTracker(testPreset().HealthScore)
	h.RecordFailure("a@example.com")
	scoreAfterFailure := h.GetScore("a@example.com")
	if scoreAfterFailure >= testPreset().HealthScore.Initial {
		t.Fatalf("expected score to drop after failure, got %v", scoreAfterFailure)
	}
}

func TestHealthTrackerIsUsableThreshold(t *testing.T) {
	preset := testPreset().HealthScore
	h := newHealthTracker(preset)
	if !h.IsUsable("fresh@example.com") {
		t.Fatal("a fresh identity should start usable")
	}
	for i := 0; i < 10; i++ {
		h.RecordFailure("bad@example.com")
	}
	if h.IsUsable("bad@example.com") {
		t.Fatal("expected repeated failures to push the score below MinUsable")
	}
}

func TestTokenBucketConsumeAndRefund(t *testing.T) {
	preset := testPreset().TokenBucket
	tb := newTokenBucketTracker(preset)
	if !tb.HasTokens("a@example.com") {
		t.Fatal("expected a fresh bucket to have tokens")
	}
	before := tb.GetTokens("a@example.com")
	if !tb.Consume("a@example.com") {
		t.Fatal("expected consume to succeed")
	}
	after := tb.GetTokens("a@example.com")
	if after >= before {
		t.Fatalf("expected tokens to decrease after consume, before=%v after=%v", before, after)
	}
	tb.Refund("a@example.com")
	refunded := tb.GetTokens("a@example.com")
	if refunded <= after {
		t.Fatalf("expected tokens to increase after refund, after=%v refunded=%v", after, refunded)
	}
}

func TestTokenBucketConsumeFailsWhenExhausted(t *testing.T) {
	preset := config.TokenBucketPreset{MaxTokens: 1, TokensPerMinute: 0, InitialTokens: 1}
	tb := newTokenBucketTracker(preset)
	if !tb.Consume("a@example.com") {
		t.Fatal("expected first consume to succeed")
	}
	if tb.Consume("a@example.com") {
		t.Fatal("expected second consume to fail with no regeneration")
	}
}

func TestHybridStrategySelectsFromNormalTier(t *testing.T) {
	ids := []*pool.Identity{newIdentity("a@example.com"), newIdentity("b@example.com")}
	s := newHybridStrategy(testPreset())
	r := s.Select(ids, pool.FamilyClaude, "")
	if r.Identity == nil {
		t.Fatal("expected a selected identity from a healthy pool")
	}
}

func TestHybridStrategyEmptyPoolReturnsNil(t *testing.T) {
	s := newHybridStrategy(testPreset())
	r := s.Select(nil, pool.FamilyClaude, "")
	if r.Identity != nil {
		t.Fatalf("expected nil identity, got %v", r.Identity)
	}
}

func TestHybridStrategyFallsBackWhenNoTokens(t *testing.T) {
	preset := testPreset()
	preset.TokenBucket = config.TokenBucketPreset{MaxTokens: 1, TokensPerMinute: 0, InitialTokens: 0}
	s := newHybridStrategy(preset)
	id := newIdentity("a@example.com")
	r := s.Select([]*pool.Identity{id}, pool.FamilyClaude, "")
	if r.Identity != id {
		t.Fatalf("expected last-resort fallback to still return the only usable identity, got %v", r.Identity)
	}
}

func TestHybridStrategyOnFailureRefundsTokenAndPenalizesHealth(t *testing.T) {
	s := newHybridStrategy(testPreset())
	id := newIdentity("a@example.com")
	s.tokens.Consume(id.Email)
	before := s.tokens.GetTokens(id.Email)
	s.OnFailure(id)
	after := s.tokens.GetTokens(id.Email)
	if after <= before {
		t.Fatalf("expected OnFailure to refund a token, before=%v after=%v", before, after)
	}
}

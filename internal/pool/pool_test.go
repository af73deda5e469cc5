package pool

import (
	"testing"

	"github.com/lattice-run/cloudcode-gateway/internal/storage"
)

func newTestPool(n int) *Pool {
	p := fromDocument(storage.NewDocument())
	for i := 0; i < n; i++ {
		p.EnsureExists("refresh-token", "proj", "", "")
	}
	return p
}

func TestEnsureExistsDedupsByRefreshToken(t *testing.T) {
	p := fromDocument(storage.NewDocument())
	a := p.EnsureExists("rt-1", "p1", "", "a@example.com")
	b := p.EnsureExists("rt-1", "p1", "", "a@example.com")
	if a != b {
		t.Fatal("expected same identity for duplicate refresh token")
	}
	if p.Count() != 1 {
		t.Fatalf("expected 1 identity, got %d", p.Count())
	}
}

func TestEnsureExistsDedupsByEmailAndUpdatesSecret(t *testing.T) {
	p := fromDocument(storage.NewDocument())
	first := p.EnsureExists("rt-old", "p1", "", "a@example.com")
	second := p.EnsureExists("rt-new", "p2", "mp2", "a@example.com")
	if first != second {
		t.Fatal("expected email match to return existing identity")
	}
	if first.RefreshToken != "rt-new" || first.ProjectID != "p2" || first.ManagedProjectID != "mp2" {
		t.Fatalf("expected in-place secret update, got %+v", first)
	}
}

func TestQuotaKey(t *testing.T) {
	if got := QuotaKey(FamilyClaude, StyleAntigravity, "claude-opus"); got != "claude" {
		t.Fatalf("claude family should ignore style/model, got %q", got)
	}
	if got := QuotaKey(FamilyGemini, StyleAntigravity, ""); got != "gemini-antigravity" {
		t.Fatalf("got %q", got)
	}
	if got := QuotaKey(FamilyGemini, StyleGeminiCLI, "gemini-3-pro"); got != "gemini-cli:gemini-3-pro" {
		t.Fatalf("got %q", got)
	}
}

func TestIsRateLimitedGeminiRequiresBothStylesExhausted(t *testing.T) {
	p := newTestPool(1)
	id := p.identities[0]

	p.MarkRateLimited(id, 60_000, FamilyGemini, StyleAntigravity, "")
	if p.IsRateLimited(id, FamilyGemini, "") {
		t.Fatal("should still be usable via gemini-cli style")
	}

	p.MarkRateLimited(id, 60_000, FamilyGemini, StyleGeminiCLI, "")
	if !p.IsRateLimited(id, FamilyGemini, "") {
		t.Fatal("expected rate-limited once both styles are exhausted")
	}
}

func TestIsRateLimitedClaudeSingleKey(t *testing.T) {
	p := newTestPool(1)
	id := p.identities[0]
	if p.IsRateLimited(id, FamilyClaude, "") {
		t.Fatal("fresh identity should not be rate-limited")
	}
	p.MarkRateLimited(id, 60_000, FamilyClaude, StyleAntigravity, "")
	if !p.IsRateLimited(id, FamilyClaude, "") {
		t.Fatal("expected claude rate limit to take effect immediately")
	}
}

func TestCoolingDownOverridesAvailability(t *testing.T) {
	p := newTestPool(1)
	id := p.identities[0]
	p.MarkCoolingDown(id, 60_000, "auth-failure")
	if !p.IsRateLimited(id, FamilyClaude, "") {
		t.Fatal("cooling-down identity should count as rate-limited regardless of family")
	}
	if id.CooldownReason != "auth-failure" {
		t.Fatalf("got reason %q", id.CooldownReason)
	}
}

func TestAvailableStylePrefersAntigravity(t *testing.T) {
	p := newTestPool(1)
	id := p.identities[0]
	if got := p.AvailableStyle(id, FamilyGemini, ""); got != StyleAntigravity {
		t.Fatalf("expected antigravity preferred, got %q", got)
	}
	p.MarkRateLimited(id, 60_000, FamilyGemini, StyleAntigravity, "")
	if got := p.AvailableStyle(id, FamilyGemini, ""); got != StyleGeminiCLI {
		t.Fatalf("expected fallback to gemini-cli, got %q", got)
	}
	p.MarkRateLimited(id, 60_000, FamilyGemini, StyleGeminiCLI, "")
	if got := p.AvailableStyle(id, FamilyGemini, ""); got != "" {
		t.Fatalf("expected no style available, got %q", got)
	}
}

func TestNextSkipsRateLimitedAndAdvancesSticky(t *testing.T) {
	p := newTestPool(3)
	first := p.identities[0]
	p.MarkRateLimited(first, 60_000, FamilyClaude, StyleAntigravity, "")

	next := p.Next(FamilyClaude, "")
	if next == nil || next == first {
		t.Fatalf("expected rotation past the rate-limited identity, got %v", next)
	}
	if p.Current(FamilyClaude) != next {
		t.Fatal("sticky pointer should advance to the returned identity")
	}
}

func TestNextReturnsNilWhenAllRateLimited(t *testing.T) {
	p := newTestPool(2)
	for _, id := range p.identities {
		p.MarkRateLimited(id, 60_000, FamilyClaude, StyleAntigravity, "")
	}
	if got := p.Next(FamilyClaude, ""); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestCurrentOrNextSticksWhenCurrentUsable(t *testing.T) {
	p := newTestPool(2)
	current := p.Current(FamilyGemini)
	got := p.CurrentOrNext(FamilyGemini, "", StyleAntigravity)
	if got != current {
		t.Fatal("expected to stick with the current identity")
	}
}

func TestCurrentOrNextRotatesWhenCurrentExhausted(t *testing.T) {
	p := newTestPool(2)
	current := p.Current(FamilyGemini)
	p.MarkRateLimited(current, 60_000, FamilyGemini, StyleAntigravity, "")
	p.MarkRateLimited(current, 60_000, FamilyGemini, StyleGeminiCLI, "")

	got := p.CurrentOrNext(FamilyGemini, "", StyleAntigravity)
	if got == nil || got == current {
		t.Fatalf("expected rotation away from exhausted identity, got %v", got)
	}
}

func TestMinWaitZeroWhenSomeoneUsable(t *testing.T) {
	p := newTestPool(2)
	p.MarkRateLimited(p.identities[0], 60_000, FamilyClaude, StyleAntigravity, "")
	if got := p.MinWait(FamilyClaude, ""); got != 0 {
		t.Fatalf("expected 0 since identity[1] is usable, got %d", got)
	}
}

func TestMinWaitUsesSoonestResetAcrossFamily(t *testing.T) {
	p := newTestPool(1)
	id := p.identities[0]
	p.MarkRateLimited(id, 5_000, FamilyClaude, StyleAntigravity, "")
	wait := p.MinWait(FamilyClaude, "")
	if wait <= 0 || wait > 5_000 {
		t.Fatalf("expected wait in (0, 5000], got %d", wait)
	}
}

func TestMinWaitFallsBackToDefaultWhenEmpty(t *testing.T) {
	p := fromDocument(storage.NewDocument())
	if got := p.MinWait(FamilyClaude, ""); got == 0 {
		t.Fatal("expected non-zero fallback wait for an empty pool")
	}
}

func TestRemoveReindexesAndClampsActivePointer(t *testing.T) {
	p := newTestPool(3)
	last := p.identities[2]
	p.activeIndexByFamily[FamilyClaude] = 2

	if !p.Remove(last) {
		t.Fatal("expected Remove to report success")
	}
	if p.Count() != 2 {
		t.Fatalf("expected 2 identities remaining, got %d", p.Count())
	}
	if p.activeIndexByFamily[FamilyClaude] != 1 {
		t.Fatalf("expected active pointer clamped to 1, got %d", p.activeIndexByFamily[FamilyClaude])
	}
	for i, id := range p.identities {
		if id.Index != i {
			t.Fatalf("expected re-indexed identity at %d, got %d", i, id.Index)
		}
	}
}

func TestRemoveUnknownIdentityReturnsFalse(t *testing.T) {
	p := newTestPool(1)
	other := &Identity{}
	if p.Remove(other) {
		t.Fatal("expected false for an identity not in the pool")
	}
}

func TestToAuthDetailsAndUpdateFromAuthRoundTrip(t *testing.T) {
	p := newTestPool(1)
	id := p.identities[0]
	id.RefreshToken = "rt-1"
	id.ProjectID = "proj-1"
	id.ManagedProjectID = "mproj-1"

	auth := ToAuthDetails(id)
	if auth.Access != "" || auth.Expires != 0 {
		t.Fatal("expected ToAuthDetails to carry no access token")
	}

	auth.Refresh = "rt-2|proj-2|mproj-2"
	auth.Email = "new@example.com"
	p.UpdateFromAuth(id, auth)

	if id.RefreshToken != "rt-2" || id.ProjectID != "proj-2" || id.ManagedProjectID != "mproj-2" {
		t.Fatalf("unexpected identity after UpdateFromAuth: %+v", id)
	}
	if id.Email != "new@example.com" {
		t.Fatalf("expected email to update, got %q", id.Email)
	}
}

func TestDescribePrefersEmailThenIndex(t *testing.T) {
	if got := Describe(nil); got != "<none>" {
		t.Fatalf("got %q", got)
	}
	id := &Identity{Index: 3}
	if got := Describe(id); got != "identity#3" {
		t.Fatalf("got %q", got)
	}
	id.Email = "a@example.com"
	if got := Describe(id); got != "a@example.com" {
		t.Fatalf("got %q", got)
	}
}

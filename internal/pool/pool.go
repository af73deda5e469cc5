// Package pool implements the Account Pool: an in-memory, mutex-guarded
// view over the persisted storage document, providing sticky-preferred
// rotation, rate-limit and cooldown tracking, and quota-key bookkeeping
// across the two model families and two header styles.
package pool

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/storage"
	"github.com/lattice-run/cloudcode-gateway/internal/token"
)

// Family and Style are local aliases over the config package's wire
// types, kept distinct here because pool logic only ever reasons about
// them as plain strings/keys.
type Family = config.ModelFamily
type Style = config.HeaderStyle

const (
	FamilyClaude = config.FamilyClaude
	FamilyGemini = config.FamilyGemini

	StyleAntigravity = config.StyleAntigravity
	StyleGeminiCLI   = config.StyleGeminiCLI
)

// Identity is one managed account with its runtime rate-limit state.
type Identity struct {
	Index              int
	Email              string
	RefreshToken       string
	ProjectID          string
	ManagedProjectID   string
	AddedAt            int64
	LastUsed           int64
	RateLimitResetTimes map[string]int64
	CoolingDownUntil   int64 // 0 means not cooling down
	CooldownReason     string
	ConsecutiveFailures int
}

func fromMetadata(index int, m storage.AccountMetadata) *Identity {
	resets := make(map[string]int64)
	if m.RateLimitResetTimes.Claude != nil {
		resets["claude"] = *m.RateLimitResetTimes.Claude
	}
	if m.RateLimitResetTimes.GeminiAntigravity != nil {
		resets["gemini-antigravity"] = *m.RateLimitResetTimes.GeminiAntigravity
	}
	if m.RateLimitResetTimes.GeminiCLI != nil {
		resets["gemini-cli"] = *m.RateLimitResetTimes.GeminiCLI
	}
	var cooling int64
	if m.CoolingDownUntil != nil {
		cooling = *m.CoolingDownUntil
	}
	return &Identity{
		Index:               index,
		Email:               m.Email,
		RefreshToken:        m.RefreshToken,
		ProjectID:           m.ProjectID,
		ManagedProjectID:    m.ManagedProjectID,
		AddedAt:             m.AddedAt,
		LastUsed:            m.LastUsed,
		RateLimitResetTimes: resets,
		CoolingDownUntil:    cooling,
		CooldownReason:      m.CooldownReason,
	}
}

func (id *Identity) toMetadata() storage.AccountMetadata {
	m := storage.AccountMetadata{
		RefreshToken:     id.RefreshToken,
		Email:            id.Email,
		ProjectID:        id.ProjectID,
		ManagedProjectID: id.ManagedProjectID,
		AddedAt:          id.AddedAt,
		LastUsed:         id.LastUsed,
		CooldownReason:   id.CooldownReason,
	}
	if v, ok := id.RateLimitResetTimes["claude"]; ok {
		m.RateLimitResetTimes.Claude = &v
	}
	if v, ok := id.RateLimitResetTimes["gemini-antigravity"]; ok {
		m.RateLimitResetTimes.GeminiAntigravity = &v
	}
	if v, ok := id.RateLimitResetTimes["gemini-cli"]; ok {
		m.RateLimitResetTimes.GeminiCLI = &v
	}
	if id.CoolingDownUntil != 0 {
		m.CoolingDownUntil = &id.CoolingDownUntil
	}
	return m
}

func nowMs() int64 { return time.Now().UnixMilli() }

// QuotaKey builds the rate-limit tracking key: rotation and marking
// both use the model-suffixed key; min-wait aggregates across all
// keys of the family.
func QuotaKey(family Family, style Style, model string) string {
	if family == FamilyClaude {
		return "claude"
	}
	base := "gemini-antigravity"
	if style == StyleGeminiCLI {
		base = "gemini-cli"
	}
	if model != "" {
		return base + ":" + model
	}
	return base
}

// Pool is the mutex-guarded in-memory account pool. Every mutation is
// serialized by mu; no network or disk I/O happens while held (disk
// persistence is a separate explicit Save() call).
type Pool struct {
	mu                  sync.Mutex
	identities          []*Identity
	activeIndexByFamily map[Family]int
}

// Load reads the persisted document (if any) and builds a Pool.
func Load(store *storage.Store) (*Pool, error) {
	doc, err := store.Load()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = storage.NewDocument()
	}
	return fromDocument(doc), nil
}

func fromDocument(doc *storage.Document) *Pool {
	p := &Pool{
		identities: make([]*Identity, 0, len(doc.Accounts)),
		activeIndexByFamily: map[Family]int{
			FamilyGemini: doc.ActiveIndexByFamily.Gemini,
			FamilyClaude: doc.ActiveIndexByFamily.Claude,
		},
	}
	for i, m := range doc.Accounts {
		p.identities = append(p.identities, fromMetadata(i, m))
	}
	return p
}

// Save persists the pool's current state.
func (p *Pool) Save(store *storage.Store) error {
	p.mu.Lock()
	doc := &storage.Document{
		Version:  storage.StorageVersion,
		Accounts: make([]storage.AccountMetadata, len(p.identities)),
		ActiveIndexByFamily: storage.ActiveIndexByFamily{
			Gemini: p.activeIndexByFamily[FamilyGemini],
			Claude: p.activeIndexByFamily[FamilyClaude],
		},
		ActiveIndex: p.activeIndexByFamily[FamilyGemini],
	}
	for i, id := range p.identities {
		doc.Accounts[i] = id.toMetadata()
	}
	p.mu.Unlock()
	return store.Save(doc)
}

// Count returns the number of identities in the pool.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.identities)
}

// Snapshot returns a debugging view of all identities.
func (p *Pool) Snapshot() []Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Identity, len(p.identities))
	for i, id := range p.identities {
		out[i] = *id
	}
	return out
}

// Identities returns the live identity pointers backing the pool, for
// callers (the optional selector strategies) that need to mutate
// LastUsed directly rather than through a copy. Callers must not
// retain these across a Remove.
func (p *Pool) Identities() []*Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Identity, len(p.identities))
	copy(out, p.identities)
	return out
}

// EnsureExists adds an identity (dedup by refresh token then email) or
// returns the existing match, updating its secret components in place.
func (p *Pool) EnsureExists(refreshToken, projectID, managedProjectID, email string) *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.identities {
		if id.RefreshToken == refreshToken {
			return id
		}
	}
	if email != "" {
		for _, id := range p.identities {
			if id.Email == email {
				id.RefreshToken = refreshToken
				if projectID != "" {
					id.ProjectID = projectID
				}
				if managedProjectID != "" {
					id.ManagedProjectID = managedProjectID
				}
				return id
			}
		}
	}

	now := nowMs()
	id := &Identity{
		Index:               len(p.identities),
		Email:               email,
		RefreshToken:        refreshToken,
		ProjectID:           projectID,
		ManagedProjectID:    managedProjectID,
		AddedAt:             now,
		LastUsed:            now,
		RateLimitResetTimes: make(map[string]int64),
	}
	p.identities = append(p.identities, id)
	return id
}

// IsRateLimited reports whether an identity is unavailable for family
// (and, for Gemini, requires BOTH quota keys exhausted before counting
// as rate-limited — i.e. available if either style still has capacity).
func (p *Pool) IsRateLimited(id *Identity, family Family, model string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRateLimitedLocked(id, family, model)
}

func (p *Pool) isRateLimitedLocked(id *Identity, family Family, model string) bool {
	now := nowMs()
	if id.CoolingDownUntil != 0 && id.CoolingDownUntil > now {
		return true
	}
	if family == FamilyClaude {
		return id.RateLimitResetTimes["claude"] > now
	}
	agReset := id.RateLimitResetTimes[QuotaKey(family, StyleAntigravity, model)]
	cliReset := id.RateLimitResetTimes[QuotaKey(family, StyleGeminiCLI, model)]
	return agReset > now && cliReset > now
}

// IsRateLimitedForStyle checks a single quota key plus cooldown.
func (p *Pool) IsRateLimitedForStyle(id *Identity, family Family, style Style, model string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRateLimitedForStyleLocked(id, family, style, model)
}

func (p *Pool) isRateLimitedForStyleLocked(id *Identity, family Family, style Style, model string) bool {
	now := nowMs()
	if id.CoolingDownUntil != 0 && id.CoolingDownUntil > now {
		return true
	}
	return id.RateLimitResetTimes[QuotaKey(family, style, model)] > now
}

// AvailableStyle returns the preferred usable header style for id,
// preferring antigravity and falling back to gemini-cli for Gemini;
// returns "" if none is available.
func (p *Pool) AvailableStyle(id *Identity, family Family, model string) Style {
	p.mu.Lock()
	defer p.mu.Unlock()

	if family == FamilyClaude {
		if !p.isRateLimitedForStyleLocked(id, family, StyleAntigravity, model) {
			return StyleAntigravity
		}
		return ""
	}
	if !p.isRateLimitedForStyleLocked(id, family, StyleAntigravity, model) {
		return StyleAntigravity
	}
	if !p.isRateLimitedForStyleLocked(id, family, StyleGeminiCLI, model) {
		return StyleGeminiCLI
	}
	return ""
}

// Current returns the sticky-current identity for family, or nil if the
// pool is empty.
func (p *Pool) Current(family Family) *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked(family)
}

func (p *Pool) currentLocked(family Family) *Identity {
	if len(p.identities) == 0 {
		return nil
	}
	index := p.activeIndexByFamily[family]
	if index >= 0 && index < len(p.identities) {
		return p.identities[index]
	}
	return p.identities[0]
}

// Next scans every identity starting at the current index and returns
// the first not rate-limited for family, advancing the sticky pointer
// to it. Returns nil if all are rate-limited.
func (p *Pool) Next(family Family, model string) *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.identities)
	if n == 0 {
		return nil
	}
	current := p.activeIndexByFamily[family]
	for offset := 0; offset < n; offset++ {
		index := (current + offset) % n
		id := p.identities[index]
		if !p.isRateLimitedLocked(id, family, model) {
			p.activeIndexByFamily[family] = index
			id.LastUsed = nowMs()
			return id
		}
	}
	return nil
}

// CurrentOrNext implements the sticky rotation policy: stick with the
// current identity if it still has capacity for the preferred header
// style, else scan for the next available one.
func (p *Pool) CurrentOrNext(family Family, model string, preferredStyle Style) *Identity {
	p.mu.Lock()
	current := p.currentLocked(family)
	if current != nil && !p.isRateLimitedForStyleLocked(current, family, preferredStyle, model) {
		current.LastUsed = nowMs()
		p.mu.Unlock()
		return current
	}
	p.mu.Unlock()
	return p.Next(family, model)
}

// MarkRateLimited overwrites the reset time for the given quota key:
// overwrite semantics are preserved, a later shorter retry-after can
// reduce a previously-announced reset.
func (p *Pool) MarkRateLimited(id *Identity, retryAfterMs int64, family Family, style Style, model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := QuotaKey(family, style, model)
	id.RateLimitResetTimes[key] = nowMs() + retryAfterMs
}

// MarkCoolingDown puts id on cooldown for cooldownMs with the given
// reason (e.g. "auth-failure", "network-error", "project-error").
func (p *Pool) MarkCoolingDown(id *Identity, cooldownMs int64, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id.CoolingDownUntil = nowMs() + cooldownMs
	id.CooldownReason = reason
}

// MinWait returns the minimum wait (ms) until some identity becomes
// available for family: 0 if one already is, else the soonest of any
// cooldown/reset deltas across family-matching quota keys, or
// DefaultFallbackWaitMs if unbounded (no identities or no recorded times).
func (p *Pool) MinWait(family Family, model string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := nowMs()
	var minWait int64 = -1 // -1 sentinel for "unset"

	for _, id := range p.identities {
		if !p.isRateLimitedLocked(id, family, model) {
			return 0
		}
		if id.CoolingDownUntil != 0 {
			wait := id.CoolingDownUntil - now
			if wait < 0 {
				wait = 0
			}
			if minWait == -1 || wait < minWait {
				minWait = wait
			}
		}
		for key, resetTime := range id.RateLimitResetTimes {
			if family == FamilyClaude && !strings.HasPrefix(key, "claude") {
				continue
			}
			if family == FamilyGemini && strings.HasPrefix(key, "claude") {
				continue
			}
			wait := resetTime - now
			if wait < 0 {
				wait = 0
			}
			if minWait == -1 || wait < minWait {
				minWait = wait
			}
		}
	}
	if minWait == -1 {
		return config.DefaultFallbackWaitMs
	}
	return minWait
}

// Remove deletes id from the pool, re-indexing remaining identities and
// clamping active-family pointers. Returns false if id was not found.
func (p *Pool) Remove(id *Identity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, cand := range p.identities {
		if cand == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	p.identities = append(p.identities[:idx], p.identities[idx+1:]...)
	for i, acc := range p.identities {
		acc.Index = i
	}
	for _, family := range []Family{FamilyGemini, FamilyClaude} {
		if p.activeIndexByFamily[family] >= len(p.identities) {
			if len(p.identities) == 0 {
				p.activeIndexByFamily[family] = 0
			} else {
				p.activeIndexByFamily[family] = len(p.identities) - 1
			}
		}
	}
	return true
}

// UpdateFromAuth applies a refreshed composite secret back onto id.
func (p *Pool) UpdateFromAuth(id *Identity, auth token.AuthDetails) {
	p.mu.Lock()
	defer p.mu.Unlock()
	parts := token.ParseRefreshParts(auth.Refresh)
	id.RefreshToken = parts.RefreshToken
	if parts.ProjectID != "" {
		id.ProjectID = parts.ProjectID
	}
	if parts.ManagedProjectID != "" {
		id.ManagedProjectID = parts.ManagedProjectID
	}
	if auth.Email != "" {
		id.Email = auth.Email
	}
}

// ToAuthDetails builds a fresh AuthDetails carrying id's composite
// secret and no access token (it must be refreshed by the caller).
func ToAuthDetails(id *Identity) token.AuthDetails {
	parts := token.RefreshParts{
		RefreshToken:     id.RefreshToken,
		ProjectID:        id.ProjectID,
		ManagedProjectID: id.ManagedProjectID,
	}
	return token.AuthDetails{
		Refresh: token.FormatRefreshParts(parts),
		Access:  "",
		Expires: 0,
		Email:   id.Email,
	}
}

// Describe renders an identity's email for logging, never leaking the
// secret itself.
func Describe(id *Identity) string {
	if id == nil {
		return "<none>"
	}
	if id.Email != "" {
		return id.Email
	}
	return fmt.Sprintf("identity#%d", id.Index)
}

package selector

import (
	"sync"
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
)

// healthTracker scores each identity on a 0..MaxScore scale, rewarding
// consecutive successes and penalizing rate limits/failures, with
// slow linear recovery over time. No teacher file named "health.go"
// survived into the retrieved tree, so this is authored directly from
// the hybrid strategy's own use of a HealthTracker (GetScore,
// IsUsable, RecordSuccess/RateLimit/Failure) in hybrid.go.
type healthTracker struct {
	mu     sync.Mutex
	scores map[string]*healthState
	preset config.HealthScorePreset
}

type healthState struct {
	score               float64
	consecutiveFailures int
	lastUpdated         time.Time
}

func newHealthTracker(preset config.HealthScorePreset) *healthTracker {
	return &healthTracker{scores: make(map[string]*healthState), preset: preset}
}

func (h *healthTracker) state(email string) *healthState {
	st, ok := h.scores[email]
	if !ok {
		st = &healthState{score: h.preset.Initial, lastUpdated: time.Now()}
		h.scores[email] = st
	} else {
		elapsedHours := time.Since(st.lastUpdated).Hours()
		st.score += elapsedHours * h.preset.RecoveryPerHour
		if st.score > h.preset.MaxScore {
			st.score = h.preset.MaxScore
		}
		st.lastUpdated = time.Now()
	}
	return st
}

func (h *healthTracker) GetScore(email string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state(email).score
}

func (h *healthTracker) IsUsable(email string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state(email).score >= h.preset.MinUsable
}

func (h *healthTracker) RecordSuccess(email string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(email)
	st.score += h.preset.SuccessReward
	if st.score > h.preset.MaxScore {
		st.score = h.preset.MaxScore
	}
	st.consecutiveFailures = 0
}

func (h *healthTracker) RecordRateLimit(email string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(email)
	st.score += h.preset.RateLimitPenalty
	if st.score < 0 {
		st.score = 0
	}
}

func (h *healthTracker) RecordFailure(email string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(email)
	st.score += h.preset.FailurePenalty
	if st.score < 0 {
		st.score = 0
	}
	st.consecutiveFailures++
}

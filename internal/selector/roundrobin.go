package selector

import (
	"sync"
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/pool"
)

// roundRobinStrategy rotates to the next usable identity on every
// request, trading cache affinity for even spread across the pool.
type roundRobinStrategy struct {
	mu     sync.Mutex
	cursor int
}

func newRoundRobinStrategy() *roundRobinStrategy {
	return &roundRobinStrategy{}
}

func (s *roundRobinStrategy) Select(identities []*pool.Identity, family pool.Family, model string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(identities) == 0 {
		return Result{}
	}
	if s.cursor >= len(identities) {
		s.cursor = 0
	}
	start := (s.cursor + 1) % len(identities)
	for i := 0; i < len(identities); i++ {
		idx := (start + i) % len(identities)
		id := identities[idx]
		if isUsable(id, family, model) {
			id.LastUsed = time.Now().UnixMilli()
			s.cursor = idx
			return Result{Identity: id}
		}
	}
	return Result{}
}

func (s *roundRobinStrategy) OnSuccess(id *pool.Identity)   {}
func (s *roundRobinStrategy) OnRateLimit(id *pool.Identity) {}
func (s *roundRobinStrategy) OnFailure(id *pool.Identity)   {}

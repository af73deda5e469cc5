package selector

import "github.com/lattice-run/cloudcode-gateway/internal/pool"

// stickyStrategy re-exposes the dispatch loop's default behavior
// behind the Strategy interface, for callers that enumerate
// strategies uniformly (e.g. the admin surface) without special-casing
// "sticky".
type stickyStrategy struct {
	cursor int
}

func newStickyStrategy() *stickyStrategy {
	return &stickyStrategy{}
}

func (s *stickyStrategy) Select(identities []*pool.Identity, family pool.Family, model string) Result {
	if len(identities) == 0 {
		return Result{}
	}
	if s.cursor >= len(identities) {
		s.cursor = 0
	}
	if isUsable(identities[s.cursor], family, model) {
		return Result{Identity: identities[s.cursor]}
	}
	for i := 0; i < len(identities); i++ {
		idx := (s.cursor + i) % len(identities)
		if isUsable(identities[idx], family, model) {
			s.cursor = idx
			return Result{Identity: identities[idx]}
		}
	}
	return Result{}
}

func (s *stickyStrategy) OnSuccess(id *pool.Identity)   {}
func (s *stickyStrategy) OnRateLimit(id *pool.Identity) {}
func (s *stickyStrategy) OnFailure(id *pool.Identity)   {}

// Package dispatch implements the Dispatch Loop: binds the account
// pool, token manager, request preparer, and streaming adapter
// together with endpoint fallback, short-vs-long retry discrimination,
// and quota-style fallback.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/gwerrors"
	"github.com/lattice-run/cloudcode-gateway/internal/logging"
	"github.com/lattice-run/cloudcode-gateway/internal/pool"
	"github.com/lattice-run/cloudcode-gateway/internal/prepare"
	"github.com/lattice-run/cloudcode-gateway/internal/selector"
	"github.com/lattice-run/cloudcode-gateway/internal/storage"
	"github.com/lattice-run/cloudcode-gateway/internal/stream"
	"github.com/lattice-run/cloudcode-gateway/internal/token"
	"github.com/lattice-run/cloudcode-gateway/pkg/redis"
)

// Loop binds the engine together for one gateway instance.
type Loop struct {
	Pool       *pool.Pool
	Store      *storage.Store
	HTTPClient *http.Client
	tokens     *tokenCache
	cfg        *config.Config
	strategy   selector.Strategy // nil unless cfg.Strategy picks a non-default policy
	signatures *prepare.SignatureCache
}

// New constructs a Loop over an already-loaded pool. When cfg.Strategy
// names anything other than "sticky", the corresponding selector
// strategy is consulted for identity selection instead of the pool's
// own sticky-preferred rotation; the pool's rate-limit/cooldown
// bookkeeping (and the sticky algorithm itself) always remain the
// spec-mandated fallback. redisClient may be nil, in which case the
// signature cache runs in-process only.
func New(p *pool.Pool, store *storage.Store, cfg *config.Config, redisClient *redis.Client) *Loop {
	if cfg == nil {
		cfg = config.Default()
	}
	l := &Loop{
		Pool:       p,
		Store:      store,
		HTTPClient: newHTTPClient(cfg.AttemptTimeoutSeconds),
		tokens:     newTokenCache(token.NewRefresher()),
		cfg:        cfg,
		signatures: prepare.NewSignatureCache(redisClient),
	}
	if cfg.Strategy != "" && cfg.Strategy != selector.StrategySticky {
		presets, err := config.LoadPresets()
		preset := config.DefaultPresets()[0]
		if err == nil {
			for _, p := range presets {
				if p.Strategy == cfg.Strategy {
					preset = p
					break
				}
			}
		}
		l.strategy = selector.New(cfg.Strategy, preset)
	}
	return l
}

// selectIdentity picks the identity for this attempt: the configured
// selector strategy if one is active, else the pool's sticky
// algorithm. preferredStyle only applies to the sticky path, since the
// selector strategies don't yet distinguish header style.
func (l *Loop) selectIdentity(family pool.Family, model string, preferredStyle pool.Style) (*pool.Identity, int64) {
	if l.strategy == nil {
		id := l.Pool.CurrentOrNext(family, model, preferredStyle)
		if id == nil {
			return nil, l.Pool.MinWait(family, model)
		}
		return id, 0
	}
	result := l.strategy.Select(l.Pool.Identities(), family, model)
	return result.Identity, result.WaitMs
}

func (l *Loop) maxRetries() int {
	if l.cfg.MaxRetries > 0 {
		return l.cfg.MaxRetries
	}
	return config.DefaultMaxRetries
}

func (l *Loop) maxWaitMs() int64 {
	if l.cfg.MaxWaitMs > 0 {
		return l.cfg.MaxWaitMs
	}
	return config.DefaultMaxWaitMs
}

// persist saves the pool, logging (not failing the request) on error —
// a persistence hiccup must not turn into a user-visible failure for an
// otherwise-successful exchange.
func (l *Loop) persist() {
	if err := l.Pool.Save(l.Store); err != nil {
		logging.Warn("[dispatch] pool persist failed: %v", err)
	}
}

// captureSignatures records any thought/tool-call signatures in a
// decoded response body, ahead of the body being collapsed into plain
// text. The read side (prepare.SignatureCache.Signature/ThinkingFamily)
// has no caller yet: the front-end this engine serves is text-only
// (see pkg/anthropic's scope note), so there is no wire path for a
// client to echo a signature back on a later turn for this cache to
// restore. It is kept write-only rather than deleted, since a richer
// front-end is the only thing standing between here and full
// round-trip use.
func (l *Loop) captureSignatures(family pool.Family, body []byte) {
	if l.signatures == nil || len(body) == 0 {
		return
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return
	}
	prepare.CaptureSignatures(l.signatures, family, prepare.ExtractParts(decoded))
}

// Execute runs the non-streaming (or collect-mode) retry state machine
// and returns the decoded text.
func (l *Loop) Execute(ctx context.Context, req prepare.Request) (string, error) {
	family := prepare.FamilyOf(req.Model)
	style := prepare.HeaderStyleFor(req.Model)
	wireModel, tier := prepare.NormalizeModel(req.Model)

	var lastErr error
	tries := 0
	capacityRetries := 0
	for tries < l.maxRetries() {
		id, wait := l.selectIdentity(family, req.Model, style)
		if id == nil {
			if wait > l.maxWaitMs() {
				return "", &gwerrors.AllRateLimitedError{WaitMs: wait}
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(wait) * time.Millisecond):
			}
			continue
		}

		auth, err := l.tokens.ensure(ctx, id)
		if token.IsRevoked(err) {
			email := id.Email
			l.Pool.Remove(id)
			l.tokens.evict(id)
			l.persist()
			lastErr = &gwerrors.TokenRevokedError{Email: email}
			tries++
			continue
		}
		if err != nil || auth == nil || auth.Access == "" {
			tries++
			continue
		}
		l.Pool.UpdateFromAuth(id, *auth)

		env := prepare.BuildEnvelope(req, wireModel, tier, id.ProjectID, style)
		headers := prepare.BuildHeaders(auth.Access, req.Model, false, style)
		initialBase := prepare.InitialEndpoint(style)

		result, _ := execute(ctx, l.HTTPClient, env, headers, initialBase, "generateContent", false)

		if result.Err != nil {
			if l.strategy != nil {
				l.strategy.OnFailure(id)
			}
			lastErr = &gwerrors.TransportError{Reason: result.Err.Error()}
			tries++
			continue
		}

		switch {
		case result.Status == http.StatusTooManyRequests:
			if l.strategy != nil {
				l.strategy.OnRateLimit(id)
			}
			delayMs, found := prepare.ExtractRetryAfterMs(result.Headers, result.Body)
			if !found {
				delayMs = config.DefaultFallbackWaitMs
			}
			if delayMs <= config.ShortRetryThresholdMs {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(time.Duration(delayMs) * time.Millisecond):
				}
				continue
			}
			l.Pool.MarkRateLimited(id, delayMs, family, style, req.Model)
			l.persist()

			if l.cfg.QuotaFallback && family == config.FamilyGemini {
				if alt := l.Pool.AvailableStyle(id, family, req.Model); alt != "" && alt != style {
					style = alt
					continue
				}
			}
			lastErr = &gwerrors.UpstreamError{Status: result.Status, Message: "rate limited"}
			tries++
			continue

		case result.Status >= 200 && result.Status < 300:
			id.ConsecutiveFailures = 0
			if l.strategy != nil {
				l.strategy.OnSuccess(id)
			}
			l.persist()
			l.captureSignatures(family, result.Body)
			return stream.DecodeNonStreaming(result.Body)

		case (result.Status == 503 || result.Status == 529) && isModelCapacityExhausted(result.Body) && capacityRetries < config.MaxCapacityRetries:
			tierIndex := capacityRetries
			if tierIndex >= len(config.CapacityBackoffTiersMs) {
				tierIndex = len(config.CapacityBackoffTiersMs) - 1
			}
			waitMs := config.CapacityBackoffTiersMs[tierIndex]
			capacityRetries++
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(waitMs) * time.Millisecond):
			}
			continue

		default:
			if l.strategy != nil {
				l.strategy.OnFailure(id)
			}
			lastErr = &gwerrors.UpstreamError{Status: result.Status, Message: string(result.Body)}
			tries++
			continue
		}
	}

	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("exhausted retries with no recorded error")
}

// ExecuteStream runs the live-streaming variant: it returns a channel
// of decoded text events and an error channel. A 429 before any byte
// is received retries through the same marking/fallback logic as
// Execute; once the stream has started, errors are
// surfaced to the caller and the identity is marked appropriately
// before the channels close.
func (l *Loop) ExecuteStream(ctx context.Context, req prepare.Request) (<-chan stream.Event, <-chan error) {
	events := make(chan stream.Event)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errc)

		family := prepare.FamilyOf(req.Model)
		style := prepare.HeaderStyleFor(req.Model)
		wireModel, tier := prepare.NormalizeModel(req.Model)

		var lastErr error
		tries := 0
		capacityRetries := 0
		for tries < l.maxRetries() {
			id, wait := l.selectIdentity(family, req.Model, style)
			if id == nil {
				if wait > l.maxWaitMs() {
					errc <- &gwerrors.AllRateLimitedError{WaitMs: wait}
					return
				}
				select {
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				case <-time.After(time.Duration(wait) * time.Millisecond):
				}
				continue
			}

			auth, err := l.tokens.ensure(ctx, id)
			if token.IsRevoked(err) {
				email := id.Email
				l.Pool.Remove(id)
				l.tokens.evict(id)
				l.persist()
				lastErr = &gwerrors.TokenRevokedError{Email: email}
				tries++
				continue
			}
			if err != nil || auth == nil || auth.Access == "" {
				tries++
				continue
			}
			l.Pool.UpdateFromAuth(id, *auth)

			env := prepare.BuildEnvelope(req, wireModel, tier, id.ProjectID, style)
			headers := prepare.BuildHeaders(auth.Access, req.Model, true, style)
			initialBase := prepare.InitialEndpoint(style)

			resp, result, _ := executeStreaming(ctx, l.HTTPClient, env, headers, initialBase)

			if resp == nil {
				if result.Status == http.StatusTooManyRequests {
					if l.strategy != nil {
						l.strategy.OnRateLimit(id)
					}
					delayMs, found := prepare.ExtractRetryAfterMs(result.Headers, result.Body)
					if !found {
						delayMs = config.DefaultFallbackWaitMs
					}
					if delayMs <= config.ShortRetryThresholdMs {
						time.Sleep(time.Duration(delayMs) * time.Millisecond)
						continue
					}
					l.Pool.MarkRateLimited(id, delayMs, family, style, req.Model)
					l.persist()
					if l.cfg.QuotaFallback && family == config.FamilyGemini {
						if alt := l.Pool.AvailableStyle(id, family, req.Model); alt != "" && alt != style {
							style = alt
							continue
						}
					}
					lastErr = &gwerrors.UpstreamError{Status: result.Status, Message: "rate limited"}
					tries++
					continue
				}
				if (result.Status == 503 || result.Status == 529) && isModelCapacityExhausted(result.Body) && capacityRetries < config.MaxCapacityRetries {
					tierIndex := capacityRetries
					if tierIndex >= len(config.CapacityBackoffTiersMs) {
						tierIndex = len(config.CapacityBackoffTiersMs) - 1
					}
					waitMs := config.CapacityBackoffTiersMs[tierIndex]
					capacityRetries++
					time.Sleep(time.Duration(waitMs) * time.Millisecond)
					continue
				}
				if result.Err != nil {
					if l.strategy != nil {
						l.strategy.OnFailure(id)
					}
					lastErr = &gwerrors.TransportError{Reason: result.Err.Error()}
					tries++
					continue
				}
				if l.strategy != nil {
					l.strategy.OnFailure(id)
				}
				lastErr = &gwerrors.UpstreamError{Status: result.Status, Message: string(result.Body)}
				tries++
				continue
			}

			// Stream has started: propagate events; once begun, errors
			// surface to the caller rather than triggering a retry.
			func() {
				defer resp.Body.Close()
				liveEvents, liveErrc := stream.Live(resp.Body)
				for ev := range liveEvents {
					prepare.CaptureSignatures(l.signatures, family, prepare.ExtractAllParts(ev.Body))
					events <- ev
				}
				if err := <-liveErrc; err != nil {
					l.Pool.MarkCoolingDown(id, config.FailureCooldownMs, "network-error")
					if l.strategy != nil {
						l.strategy.OnFailure(id)
					}
					l.persist()
					errc <- &gwerrors.TransportError{Reason: err.Error()}
					return
				}
				id.ConsecutiveFailures = 0
				if l.strategy != nil {
					l.strategy.OnSuccess(id)
				}
				l.persist()
			}()
			return
		}

		if lastErr != nil {
			errc <- lastErr
		} else {
			errc <- fmt.Errorf("exhausted retries with no recorded error")
		}
	}()

	return events, errc
}

// Package usage tracks per-hour, per-model request counts for the
// operator-facing history surfaced alongside account health. Counting
// is best-effort and never blocks or fails a request: a missing or
// unreachable Redis client degrades to an in-memory, process-lifetime
// tally rather than an error.
package usage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/pool"
	"github.com/lattice-run/cloudcode-gateway/pkg/redis"
)

const hourLayout = "2006-01-02T15"

// retentionHours bounds how long hourly buckets are kept before the
// background prune sweeps them, matching a month of hourly history.
const retentionHours = 24 * 30

// FamilyAndModel splits a wire model name into its family bucket and
// the remainder used as the per-model counter field.
func FamilyAndModel(model string) (family, short string) {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "claude"):
		family = string(pool.FamilyClaude)
	case strings.Contains(lower, "gemini"):
		family = string(pool.FamilyGemini)
	default:
		family = "other"
	}
	prefix := family + "-"
	if strings.HasPrefix(lower, prefix) {
		short = model[len(prefix):]
	} else {
		short = model
	}
	return family, short
}

type hourBucket struct {
	total    int64
	families map[string]map[string]int64 // family -> short model -> count
}

// Tracker accumulates request counts keyed by hour and model, with an
// optional Redis-backed store for persistence across restarts.
type Tracker struct {
	redis *redis.Client

	mu      sync.Mutex
	buckets map[string]*hourBucket // hour key -> bucket, used only without redis

	stop chan struct{}
}

// New returns a Tracker. client may be nil, in which case counts are
// kept in memory only and lost on process restart.
func New(client *redis.Client) *Tracker {
	return &Tracker{
		redis:   client,
		buckets: make(map[string]*hourBucket),
		stop:    make(chan struct{}),
	}
}

// StartPruning launches the background hourly sweep that discards
// buckets older than the retention window. Callers should invoke this
// once at startup and rely on process exit to stop it; there is no
// long-running server state that needs a clean Stop() beyond that.
func (t *Tracker) StartPruning() {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.prune()
			}
		}
	}()
}

// Stop ends the background pruning goroutine.
func (t *Tracker) Stop() { close(t.stop) }

// Track records one request against model, bucketed by the current
// hour (UTC).
func (t *Tracker) Track(model string) {
	family, short := FamilyAndModel(model)
	hourKey := time.Now().UTC().Format(hourLayout)

	if t.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		totalKey := redis.PrefixStats + hourKey + ":total"
		_, _ = t.redis.IncrBy(ctx, totalKey, 1)
		modelKey := redis.PrefixStats + hourKey + ":" + family
		_, _ = t.redis.HIncrBy(ctx, modelKey, short, 1)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[hourKey]
	if !ok {
		b = &hourBucket{families: make(map[string]map[string]int64)}
		t.buckets[hourKey] = b
	}
	b.total++
	fam, ok := b.families[family]
	if !ok {
		fam = make(map[string]int64)
		b.families[family] = fam
	}
	fam[short]++
}

// HourSummary is one hour's counts, keyed by RFC3339 hour boundary.
type HourSummary struct {
	Hour     string                     `json:"hour"`
	Total    int64                      `json:"total"`
	Families map[string]map[string]int64 `json:"families"`
}

// History returns every retained hour's counts, oldest first.
func (t *Tracker) History(ctx context.Context) ([]HourSummary, error) {
	if t.redis != nil {
		return t.historyFromRedis(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.buckets))
	for k := range t.buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]HourSummary, 0, len(keys))
	for _, k := range keys {
		b := t.buckets[k]
		out = append(out, HourSummary{Hour: isoHour(k), Total: b.total, Families: cloneFamilies(b.families)})
	}
	return out, nil
}

func (t *Tracker) historyFromRedis(ctx context.Context) ([]HourSummary, error) {
	keys, err := t.redis.ScanKeys(ctx, redis.PrefixStats+"*:total")
	if err != nil {
		return nil, fmt.Errorf("scan stats keys: %w", err)
	}

	hours := make([]string, 0, len(keys))
	for _, k := range keys {
		rest := strings.TrimPrefix(k, redis.PrefixStats)
		hour := strings.TrimSuffix(rest, ":total")
		hours = append(hours, hour)
	}
	sort.Strings(hours)

	out := make([]HourSummary, 0, len(hours))
	for _, hour := range hours {
		totalStr, err := t.redis.GetString(ctx, redis.PrefixStats+hour+":total")
		if err != nil && !redis.IsNil(err) {
			return nil, err
		}
		total, _ := strconv.ParseInt(totalStr, 10, 64)

		families := make(map[string]map[string]int64)
		for _, family := range []string{string(pool.FamilyClaude), string(pool.FamilyGemini), "other"} {
			counts, err := t.redis.HGetAll(ctx, redis.PrefixStats+hour+":"+family)
			if err != nil || len(counts) == 0 {
				continue
			}
			models := make(map[string]int64, len(counts))
			for model, v := range counts {
				n, _ := strconv.ParseInt(v, 10, 64)
				models[model] = n
			}
			families[family] = models
		}

		out = append(out, HourSummary{Hour: isoHour(hour), Total: total, Families: families})
	}
	return out, nil
}

func (t *Tracker) prune() {
	cutoff := time.Now().UTC().Add(-retentionHours * time.Hour)

	if t.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		keys, err := t.redis.ScanKeys(ctx, redis.PrefixStats+"*")
		if err != nil {
			return
		}
		for _, k := range keys {
			rest := strings.TrimPrefix(k, redis.PrefixStats)
			hourKey := rest
			if idx := strings.Index(rest, ":"); idx >= 0 {
				hourKey = rest[:idx]
			}
			hourTime, err := time.Parse(hourLayout, hourKey)
			if err != nil || hourTime.After(cutoff) {
				continue
			}
			_ = t.redis.Delete(ctx, k)
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.buckets {
		hourTime, err := time.Parse(hourLayout, k)
		if err != nil || hourTime.After(cutoff) {
			continue
		}
		delete(t.buckets, k)
	}
}

func isoHour(hourKey string) string {
	t, err := time.Parse(hourLayout, hourKey)
	if err != nil {
		return hourKey
	}
	return t.Format(time.RFC3339)
}

func cloneFamilies(in map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(in))
	for family, models := range in {
		m := make(map[string]int64, len(models))
		for k, v := range models {
			m[k] = v
		}
		out[family] = m
	}
	return out
}

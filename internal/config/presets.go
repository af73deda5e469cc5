package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// HealthScorePreset configures the hybrid strategy's health tracker.
type HealthScorePreset struct {
	Initial          float64 `yaml:"initial"`
	SuccessReward    float64 `yaml:"successReward"`
	RateLimitPenalty float64 `yaml:"rateLimitPenalty"`
	FailurePenalty   float64 `yaml:"failurePenalty"`
	RecoveryPerHour  float64 `yaml:"recoveryPerHour"`
	MinUsable        float64 `yaml:"minUsable"`
	MaxScore         float64 `yaml:"maxScore"`
}

// TokenBucketPreset configures the hybrid strategy's token bucket.
type TokenBucketPreset struct {
	MaxTokens       float64 `yaml:"maxTokens"`
	TokensPerMinute float64 `yaml:"tokensPerMinute"`
	InitialTokens   float64 `yaml:"initialTokens"`
}

// WeightsPreset configures the hybrid strategy's composite score.
type WeightsPreset struct {
	Health float64 `yaml:"health"`
	Tokens float64 `yaml:"tokens"`
	Quota  float64 `yaml:"quota"`
	LRU    float64 `yaml:"lru"`
}

// StrategyPreset bundles a named selection-strategy configuration,
// stored as YAML rather than embedded Go literals, matching the
// config-file convention used across the sibling proxy repos.
type StrategyPreset struct {
	Name        string             `yaml:"name"`
	Strategy    string             `yaml:"strategy"`
	HealthScore HealthScorePreset  `yaml:"healthScore"`
	TokenBucket TokenBucketPreset  `yaml:"tokenBucket"`
	Weights     WeightsPreset      `yaml:"weights"`
}

// DefaultPresets holds the three built-in server presets (Default,
// Many Accounts, Conservative), expressed as the hybrid strategy's
// tunables only; retry/backoff configuration lives in Config directly.
func DefaultPresets() []StrategyPreset {
	return []StrategyPreset{
		{
			Name:     "default",
			Strategy: "hybrid",
			HealthScore: HealthScorePreset{
				Initial: 70, SuccessReward: 1, RateLimitPenalty: -10,
				FailurePenalty: -20, RecoveryPerHour: 2, MinUsable: 50, MaxScore: 100,
			},
			TokenBucket: TokenBucketPreset{MaxTokens: 50, TokensPerMinute: 6, InitialTokens: 50},
			Weights:     WeightsPreset{Health: 2, Tokens: 5, Quota: 3, LRU: 0.1},
		},
		{
			Name:     "many-accounts",
			Strategy: "hybrid",
			HealthScore: HealthScorePreset{
				Initial: 70, SuccessReward: 1, RateLimitPenalty: -15,
				FailurePenalty: -25, RecoveryPerHour: 5, MinUsable: 40, MaxScore: 100,
			},
			TokenBucket: TokenBucketPreset{MaxTokens: 30, TokensPerMinute: 8, InitialTokens: 30},
			Weights:     WeightsPreset{Health: 5, Tokens: 2, Quota: 3, LRU: 0.01},
		},
		{
			Name:     "conservative",
			Strategy: "sticky",
			HealthScore: HealthScorePreset{
				Initial: 80, SuccessReward: 2, RateLimitPenalty: -5,
				FailurePenalty: -10, RecoveryPerHour: 3, MinUsable: 50, MaxScore: 100,
			},
			TokenBucket: TokenBucketPreset{MaxTokens: 80, TokensPerMinute: 4, InitialTokens: 80},
			Weights:     WeightsPreset{Health: 3, Tokens: 4, Quota: 2, LRU: 0.05},
		},
	}
}

// PresetsPath is the optional on-disk YAML file a user can drop
// presets into, overriding/extending DefaultPresets.
func PresetsPath() string {
	return filepath.Join(appConfigDir(), "presets.yaml")
}

// LoadPresets reads PresetsPath() if present, else returns the
// built-in defaults.
func LoadPresets() ([]StrategyPreset, error) {
	data, err := os.ReadFile(PresetsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPresets(), nil
		}
		return nil, err
	}
	var presets []StrategyPreset
	if err := yaml.Unmarshal(data, &presets); err != nil {
		return nil, err
	}
	if len(presets) == 0 {
		return DefaultPresets(), nil
	}
	return presets, nil
}

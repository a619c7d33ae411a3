package resolver

import (
	"fmt"
	"math"

	"github.com/Ramsey-B/juniper/pkg/quality"
	"github.com/Ramsey-B/juniper/pkg/scoring"
)

// weightSumTolerance absorbs float drift when checking that field weights
// sum to one
const weightSumTolerance = 1e-9

// Config controls merge decisions for a resolution run
type Config struct {
	// MatchThreshold is the minimum overall ensemble score for a fuzzy merge
	MatchThreshold float64
	// FieldWeights are the per-field record weights, must sum to 1.0
	FieldWeights map[string]float64
	// TierBaseWeights is the base confidence per fingerprint tier
	TierBaseWeights [5]float64
	// SingletonConfidence is the base confidence for unmatched singletons
	SingletonConfidence float64
	// FuzzyWorkers bounds the parallel scoring workers in the fuzzy phase
	FuzzyWorkers int
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MatchThreshold:      0.65,
		FieldWeights:        scoring.DefaultWeights(),
		TierBaseWeights:     quality.DefaultTierBaseWeights(),
		SingletonConfidence: quality.DefaultSingletonConfidence,
		FuzzyWorkers:        4,
	}
}

// ConfigError reports an invalid resolver configuration. Nothing produced
// under a bad configuration is trustworthy, so it aborts a run before any
// record is touched
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid resolver config: %s: %s", e.Field, e.Reason)
}

// Validate checks the configuration, returning a ConfigError on the first
// violation
func (c Config) Validate() error {
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		return &ConfigError{Field: "match_threshold", Reason: fmt.Sprintf("must be within [0, 1], got %v", c.MatchThreshold)}
	}

	var sum float64
	for field, weight := range c.FieldWeights {
		if weight < 0 {
			return &ConfigError{Field: "field_weights", Reason: fmt.Sprintf("weight for %s must not be negative", field)}
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return &ConfigError{Field: "field_weights", Reason: fmt.Sprintf("must sum to 1.0, got %v", sum)}
	}

	for i, weight := range c.TierBaseWeights {
		if weight <= 0 || weight > 1 {
			return &ConfigError{Field: "tier_base_weights", Reason: fmt.Sprintf("tier %d weight must be within (0, 1], got %v", i+1, weight)}
		}
	}

	if c.SingletonConfidence < 0 || c.SingletonConfidence > 1 {
		return &ConfigError{Field: "singleton_confidence", Reason: fmt.Sprintf("must be within [0, 1], got %v", c.SingletonConfidence)}
	}

	if c.FuzzyWorkers < 1 {
		return &ConfigError{Field: "fuzzy_workers", Reason: "must be at least 1"}
	}

	return nil
}

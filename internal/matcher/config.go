// Package matcher scores candidate system shipments against an
// extracted invoice shipment and selects a best match with a confidence
// value.
//
// Matching runs in two phases:
//  1. Exact identifier equality across the identifier fields of both
//     records, which short-circuits with full confidence.
//  2. Weighted composite scoring over seven independent dimensions
//     (references, carrier, company, address, package/weight,
//     financial, temporal) with a 200 point ceiling.
//
// Example usage:
//
//	engine := matcher.NewEngine(matcher.DefaultConfig())
//	result := engine.Match(invoiceShipment, candidatePool)
//	if result.Matched {
//		// accepted automatically (confidence >= threshold)
//	}
package matcher

import (
	"fmt"
)

// DimensionCaps holds the maximum contribution of each scoring
// dimension. The defaults sum to 200, the composite ceiling the
// confidence percentage is computed against.
type DimensionCaps struct {
	References    float64 `json:"references"`
	Carrier       float64 `json:"carrier"`
	Company       float64 `json:"company"`
	Address       float64 `json:"address"`
	PackageWeight float64 `json:"package_weight"`
	Financial     float64 `json:"financial"`
	Temporal      float64 `json:"temporal"`
}

// Total returns the sum of all dimension caps.
func (dc DimensionCaps) Total() float64 {
	return dc.References + dc.Carrier + dc.Company + dc.Address +
		dc.PackageWeight + dc.Financial + dc.Temporal
}

// Config holds the matching engine configuration: dimension caps and
// the qualification/acceptance thresholds.
type Config struct {
	Caps DimensionCaps `json:"caps"`

	// MinQualifyingScore is the minimum composite score a candidate
	// needs to be considered a match at all.
	MinQualifyingScore float64 `json:"min_qualifying_score"`

	// AutoAcceptConfidence is the confidence at or above which a match
	// is accepted without manual confirmation. Below it (but above
	// zero) the match surfaces as a low-confidence suggestion.
	AutoAcceptConfidence float64 `json:"auto_accept_confidence"`
}

// DefaultConfig returns the production matching configuration.
func DefaultConfig() *Config {
	return &Config{
		Caps: DimensionCaps{
			References:    60,
			Carrier:       40,
			Company:       35,
			Address:       25,
			PackageWeight: 20,
			Financial:     15,
			Temporal:      5,
		},
		MinQualifyingScore:   15,
		AutoAcceptConfidence: 80,
	}
}

// StrictConfig returns a configuration that only auto-accepts very
// strong composites.
func StrictConfig() *Config {
	config := DefaultConfig()
	config.MinQualifyingScore = 40
	config.AutoAcceptConfidence = 90
	return config
}

// RelaxedConfig returns a configuration for exploratory matching where
// weak suggestions are still worth surfacing.
func RelaxedConfig() *Config {
	config := DefaultConfig()
	config.MinQualifyingScore = 10
	config.AutoAcceptConfidence = 70
	return config
}

// Validate checks if the matching configuration is valid
func (c *Config) Validate() error {
	if c.Caps.Total() <= 0 {
		return fmt.Errorf("dimension caps must sum to a positive total, got %.1f", c.Caps.Total())
	}

	if c.MinQualifyingScore < 0 || c.MinQualifyingScore > c.Caps.Total() {
		return fmt.Errorf("min qualifying score must be between 0 and %.1f: %.1f",
			c.Caps.Total(), c.MinQualifyingScore)
	}

	if c.AutoAcceptConfidence < 0 || c.AutoAcceptConfidence > 100 {
		return fmt.Errorf("auto accept confidence must be between 0 and 100: %.1f",
			c.AutoAcceptConfidence)
	}

	return nil
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("MatchingConfig{MaxScore: %.0f, MinQualifying: %.0f, AutoAccept: %.0f%%}",
		c.Caps.Total(), c.MinQualifyingScore, c.AutoAcceptConfidence)
}

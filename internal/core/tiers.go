package core

import (
	"math"
	"strings"
)

// RateTier is a named rate-budget profile matching a provider-side plan.
// PerSecond and PerMinute are the provider's advertised limits; the
// effective budget is always these values scaled by a safety margin.
type RateTier struct {
	Name      string `yaml:"name"`
	PerSecond int    `yaml:"per_second"`
	PerMinute int    `yaml:"per_minute"`
}

// BuiltInTiers lists the provider's advertised plan limits. Revisions of the
// provider docs disagree on safe margins, so the margin is applied separately
// and is never baked into these numbers.
var BuiltInTiers = map[string]RateTier{
	"small":  {Name: "small", PerSecond: 3, PerMinute: 60},
	"medium": {Name: "medium", PerSecond: 10, PerMinute: 150},
	"large":  {Name: "large", PerSecond: 75, PerMinute: 700},
	"xl":     {Name: "xl", PerSecond: 350, PerMinute: 3500},
}

// FindTier resolves a tier by name, case-insensitively.
func FindTier(name string) (RateTier, bool) {
	tier, ok := BuiltInTiers[strings.ToLower(strings.TrimSpace(name))]
	return tier, ok
}

// WithMargin scales the tier's limits by a ratio in (0, 1], flooring to
// whole requests with a minimum of 1 per window.
func (t RateTier) WithMargin(margin float64) RateTier {
	if margin <= 0 || margin > 1 {
		return t
	}
	t.PerSecond = scaledLimit(t.PerSecond, margin)
	t.PerMinute = scaledLimit(t.PerMinute, margin)
	return t
}

func scaledLimit(limit int, margin float64) int {
	adjusted := int(math.Floor(float64(limit) * margin))
	if adjusted < 1 {
		return 1
	}
	return adjusted
}

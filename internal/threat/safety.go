package threat

import (
	"strings"

	"github.com/andresmejia3/skyguard/internal/types"
)

var (
	dangerLabels = map[string]struct{}{
		"airplane":    {},
		"helicopter":  {},
		"bird":        {},
		"kite":        {},
		"balloon":     {},
		"drone":       {},
		"paraglider":  {},
		"hang glider": {},
	}
	mediumLabels = map[string]struct{}{
		"car":           {},
		"truck":         {},
		"bus":           {},
		"train":         {},
		"boat":          {},
		"ship":          {},
		"motorcycle":    {},
		"bicycle":       {},
		"parking meter": {},
	}
)

// Classify maps a detector label to its safety tier. Matching is exact after
// trimming and lower-casing; anything unrecognized is safe.
func Classify(label string) types.SafetyTier {
	name := strings.ToLower(strings.TrimSpace(label))
	if _, ok := dangerLabels[name]; ok {
		return types.TierDanger
	}
	if _, ok := mediumLabels[name]; ok {
		return types.TierMedium
	}
	return types.TierSafe
}

// SafetyBias is the scoring bias for a tier.
func SafetyBias(tier types.SafetyTier) float64 {
	switch tier {
	case types.TierDanger:
		return 0.20
	case types.TierMedium:
		return 0.10
	}
	return 0
}

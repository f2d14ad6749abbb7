package config

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ScoringWeights holds the weighting applied to each sub-score when composing
// the final match score. Weights must sum to 1.0 within a small tolerance.
type ScoringWeights struct {
	Quality  float64
	Price    float64
	Delivery float64
	Risk     float64
}

// Sum returns the sum of the four weights.
func (w ScoringWeights) Sum() float64 {
	return w.Quality + w.Price + w.Delivery + w.Risk
}

// CommodityOverride holds per-commodity overrides for scoring weights and
// the minimum score threshold used by the matching pipeline's cap step.
type CommodityOverride struct {
	Weights        ScoringWeights
	MinScoreThreshold float64
}

const weightSumTolerance = 1e-3

// DefaultCommodityOverrides returns the built-in per-commodity defaults
// described in the scoring configuration: cotton 0.6, gold 0.7, wheat 0.5,
// rice 0.5, oil 0.6, with a 0.6 fallback for anything unlisted.
func DefaultCommodityOverrides() map[string]CommodityOverride {
	defaultWeights := ScoringWeights{Quality: 0.40, Price: 0.30, Delivery: 0.15, Risk: 0.15}
	return map[string]CommodityOverride{
		"cotton": {Weights: defaultWeights, MinScoreThreshold: 0.6},
		"gold":   {Weights: defaultWeights, MinScoreThreshold: 0.7},
		"wheat":  {Weights: defaultWeights, MinScoreThreshold: 0.5},
		"rice":   {Weights: defaultWeights, MinScoreThreshold: 0.5},
		"oil":    {Weights: defaultWeights, MinScoreThreshold: 0.6},
	}
}

// DefaultMinScoreThreshold is used for commodities with no explicit override.
const DefaultMinScoreThreshold = 0.6

// ParseCommodityOverrides parses a JSON document of the shape:
//
//	{
//	  "cotton": {"weights": {"quality": 0.4, "price": 0.3, "delivery": 0.15, "risk": 0.15}, "min_score_threshold": 0.6},
//	  "gold":   {"min_score_threshold": 0.7}
//	}
//
// into a map keyed by lowercased commodity code. Fields omitted from a
// commodity's object fall back to the built-in defaults for that commodity
// (or the global defaults if the commodity itself is unlisted). Every
// resulting weight set is validated to sum to 1.0 within tolerance;
// ParseCommodityOverrides returns an error naming the offending commodity
// rather than silently normalizing the weights.
func ParseCommodityOverrides(raw string) (map[string]CommodityOverride, error) {
	base := DefaultCommodityOverrides()
	result := make(map[string]CommodityOverride, len(base))
	for code, override := range base {
		result[code] = override
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return result, nil
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("config: invalid commodity overrides JSON")
	}

	parsed := gjson.Parse(raw)
	var parseErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		code := strings.ToLower(strings.TrimSpace(key.String()))
		if code == "" {
			return true
		}

		existing, ok := result[code]
		if !ok {
			existing = CommodityOverride{
				Weights:           ScoringWeights{Quality: 0.40, Price: 0.30, Delivery: 0.15, Risk: 0.15},
				MinScoreThreshold: DefaultMinScoreThreshold,
			}
		}

		if w := value.Get("weights"); w.Exists() {
			weights := existing.Weights
			if q := w.Get("quality"); q.Exists() {
				weights.Quality = q.Float()
			}
			if p := w.Get("price"); p.Exists() {
				weights.Price = p.Float()
			}
			if d := w.Get("delivery"); d.Exists() {
				weights.Delivery = d.Float()
			}
			if r := w.Get("risk"); r.Exists() {
				weights.Risk = r.Float()
			}
			existing.Weights = weights
		}

		if t := value.Get("min_score_threshold"); t.Exists() {
			existing.MinScoreThreshold = t.Float()
		}

		if sum := existing.Weights.Sum(); sum < 1.0-weightSumTolerance || sum > 1.0+weightSumTolerance {
			parseErr = fmt.Errorf("config: commodity %q scoring weights sum to %.4f, want 1.0 (±%.3f)", code, sum, weightSumTolerance)
			return false
		}

		result[code] = existing
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return result, nil
}

// LookupCommodityOverride returns the override for a commodity code,
// falling back to the global default weights/threshold if the code is
// unknown to the override set.
func LookupCommodityOverride(overrides map[string]CommodityOverride, code string) CommodityOverride {
	code = strings.ToLower(strings.TrimSpace(code))
	if override, ok := overrides[code]; ok {
		return override
	}
	return CommodityOverride{
		Weights:           ScoringWeights{Quality: 0.40, Price: 0.30, Delivery: 0.15, Risk: 0.15},
		MinScoreThreshold: DefaultMinScoreThreshold,
	}
}

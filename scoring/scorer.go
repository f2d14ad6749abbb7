// Package scoring implements the Scorer: quality, price, delivery and risk
// sub-scores composed into a weighted match score, with the WARN penalty
// and AI recommendation boost layered on top.
package scoring

import (
	"context"
	"math"
	"strings"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/match"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
	"github.com/rnrlcrm/tradedesk/internal/config"
	"github.com/rnrlcrm/tradedesk/risk"
)

// EmbeddingStore is the vector-similarity collaborator the source wires
// behind a feature flag. Matching semantics here resolve on set-membership
// against ai_recommended_sellers (see Config.EnableAIScoreBoost), so a real
// embedding store has nothing to plug into yet; NoopEmbeddingStore is the
// only implementation shipped.
type EmbeddingStore interface {
	Similarity(ctx context.Context, a, b []float32) (float64, error)
}

// NoopEmbeddingStore always reports no similarity signal available.
type NoopEmbeddingStore struct{}

func (NoopEmbeddingStore) Similarity(ctx context.Context, a, b []float32) (float64, error) {
	return 0, nil
}

// Config tunes the composite formula and the feature flags guarding the
// WARN penalty and AI boost.
type Config struct {
	WarnGlobalPenalty        float64
	EnableAIScoreBoost       bool
	AIRecommendationScoreBoost float64
	EnableEmbeddingSimilarity bool
}

// DefaultConfig mirrors the source defaults: a 10% WARN penalty and a 5%
// additive AI boost, both enabled; embedding similarity stays disabled
// pending a real vector store (see EmbeddingStore).
func DefaultConfig() Config {
	return Config{
		WarnGlobalPenalty:          0.10,
		EnableAIScoreBoost:         true,
		AIRecommendationScoreBoost: 0.05,
		EnableEmbeddingSimilarity:  false,
	}
}

// Scorer composes the quality/price/delivery/risk sub-scores produced for a
// (requirement, availability) pair into the final Match Result.
type Scorer struct {
	cfg       Config
	orch      *risk.Orchestrator
	overrides map[string]config.CommodityOverride
}

// New constructs a Scorer. overrides may be nil, in which case the built-in
// per-commodity defaults apply to every commodity.
func New(cfg Config, orch *risk.Orchestrator, overrides map[string]config.CommodityOverride) *Scorer {
	if overrides == nil {
		overrides = config.DefaultCommodityOverrides()
	}
	return &Scorer{cfg: cfg, orch: orch, overrides: overrides}
}

// Score runs the full sub-score pipeline and returns the composite Result.
// A risk FAIL short-circuits with Score() returning a blocked result, no
// weighting is attempted.
func (s *Scorer) Score(ctx context.Context, req *requirement.Requirement, avail *availability.Availability, riskIn risk.CheckInput) match.Result {
	riskResult := s.orch.Evaluate(ctx, riskIn)

	result := match.Result{
		RequirementID:  req.ID,
		AvailabilityID: avail.ID,
		RiskStatus:     string(riskResult.Status),
		DuplicateKey:   match.DuplicateKey(req.CommodityID, req.BuyerID, avail.SellerID),
	}

	if riskResult.Status == risk.StatusFail {
		result.RiskDetails = riskResult.BlockingReason
		return result
	}

	qualityScore := qualitySubScore(req.Quality, avail.Quality)
	priceScore, priceBlocked := priceSubScore(req, avail)
	deliveryScore := deliverySubScore(req, avail)

	var riskScore float64
	warnPenaltyApplied := false
	switch riskResult.Status {
	case risk.StatusPass:
		riskScore = 1.0
	case risk.StatusWarn:
		riskScore = 0.5
		warnPenaltyApplied = true
	}

	result.Breakdown = match.Breakdown{
		Quality:  qualityScore,
		Price:    priceScore,
		Delivery: deliveryScore,
		Risk:     riskScore,
	}
	result.PassFail = match.PassFail{
		CommodityMatch: req.CommodityID == avail.CommodityID,
		QuantityOK:     true,
		BudgetOK:       !priceBlocked,
		BothActive:     req.IsMatchable() && avail.IsMatchable(),
		NotExpired:     true,
	}

	if priceBlocked {
		result.RiskDetails = riskResult.BlockingReason
		return result
	}

	weights := config.LookupCommodityOverride(s.overrides, req.CommodityID).Weights
	base := weights.Quality*qualityScore + weights.Price*priceScore + weights.Delivery*deliveryScore + weights.Risk*riskScore

	final := base
	warnPenaltyValue := 0.0
	if warnPenaltyApplied {
		warnPenaltyValue = s.cfg.WarnGlobalPenalty
		final = base * (1 - warnPenaltyValue)
	}

	aiBoostApplied := false
	aiBoostValue := 0.0
	if s.cfg.EnableAIScoreBoost && req.AI.InRecommendedSellers(avail.SellerID) {
		aiBoostValue = s.cfg.AIRecommendationScoreBoost
		final = math.Min(1.0, final+aiBoostValue)
		aiBoostApplied = true
	}

	result.BaseScore = base
	result.Score = final
	result.WarnPenaltyApplied = warnPenaltyApplied
	result.WarnPenaltyValue = warnPenaltyValue
	result.AIBoostApplied = aiBoostApplied
	result.AIBoostValue = aiBoostValue
	result.Recommendation = recommendationBand(final, warnPenaltyApplied, aiBoostApplied)

	return result
}

// recommendationBand produces the textual recommendation keyed by final
// score, annotated with any applied penalty/boost.
func recommendationBand(final float64, warnApplied, boostApplied bool) string {
	var band string
	switch {
	case final >= 0.90:
		band = "Excellent"
	case final >= 0.75:
		band = "Good"
	case final >= 0.60:
		band = "Acceptable"
	default:
		band = "Below threshold"
	}

	var notes []string
	if warnApplied {
		notes = append(notes, "WARN penalty applied")
	}
	if boostApplied {
		notes = append(notes, "AI recommendation boost applied")
	}
	if len(notes) == 0 {
		return band
	}
	return band + " (" + strings.Join(notes, ", ") + ")"
}

// qualitySubScore averages the per-parameter quality score, unweighted,
// across every parameter present in the requirement's constraint map.
func qualitySubScore(constraints map[string]requirement.QualityConstraint, sellerValues map[string]float64) float64 {
	if len(constraints) == 0 {
		return 1.0
	}

	var total float64
	for param, constraint := range constraints {
		sellerValue, ok := sellerValues[param]
		if !ok {
			continue
		}
		total += qualityParamScore(constraint, sellerValue)
	}
	return total / float64(len(constraints))
}

// qualityParamScore scores one quality parameter per the source's three
// cases: out-of-range, in-range-with-preferred falloff, and target-only.
func qualityParamScore(c requirement.QualityConstraint, sellerValue float64) float64 {
	if c.HasRange() {
		min, max := *c.Min, *c.Max
		if sellerValue < min || sellerValue > max {
			return 0.0
		}
		if c.Preferred != nil && max > min {
			deviation := math.Abs(sellerValue-*c.Preferred) / (max - min)
			return 1.0 - math.Min(deviation, 0.5)
		}
		return 1.0
	}

	if c.HasTarget() {
		target := c.Preferred
		if target == nil {
			target = c.Exact
		}
		if sellerValue == *target {
			return 1.0
		}
		return 0.8
	}

	return 0.0
}

// priceSubScore applies the strict price matching tiers. The bool return
// reports whether the seller price exceeds the buyer's max budget, which
// blocks the match outright regardless of every other sub-score.
func priceSubScore(req *requirement.Requirement, avail *availability.Availability) (float64, bool) {
	max := req.MaxBudgetPerUnit
	target := max * 0.9
	if req.PreferredPricePerUnit != nil {
		target = *req.PreferredPricePerUnit
	}
	p := avail.BasePrice

	if p > max {
		return 0.0, true
	}
	if target <= 0 {
		return 1.0, false
	}

	dev := math.Abs(p-target) / target * 100

	switch {
	case p == target:
		return 1.0, false
	case dev <= 2.0:
		return 0.95, false
	case dev <= 5.0:
		return 0.85, false
	case dev <= 10.0:
		return 0.70, false
	case p <= max:
		return 0.60, false
	default:
		return 0.0, true
	}
}

// deliverySubScore composites location/timeline/terms and, for
// international trade, Incoterm match and port-distance proxy. Location is
// always 1.0 here since the hard location filter already ran upstream of
// scoring.
func deliverySubScore(req *requirement.Requirement, avail *availability.Availability) float64 {
	const locationScore = 1.0
	const timelineScore = 1.0
	const termsScore = 1.0

	if req.DestinationCountry == "" {
		return locationScore*0.40 + timelineScore*0.30 + termsScore*0.30
	}

	incotermScore := incotermMatchScore(req.PreferredIncoterm, avail.SupportedIncoterms)
	const portDistanceScore = 0.8 // neutral proxy absent real port-to-port distance data

	return locationScore*0.25 + timelineScore*0.20 + termsScore*0.20 + incotermScore*0.20 + portDistanceScore*0.15
}

// incotermMatchScore: no preference accepts any (1.0); seller with no
// supported list gets a partial score (0.5); a listed match is perfect
// (1.0); anything else is incompatible (0.3).
func incotermMatchScore(preferred string, supported []string) float64 {
	if preferred == "" {
		return 1.0
	}
	if len(supported) == 0 {
		return 0.5
	}
	for _, inc := range supported {
		if strings.EqualFold(inc, preferred) {
			return 1.0
		}
	}
	return 0.3
}

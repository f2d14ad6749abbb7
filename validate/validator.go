// Package validate implements the fail-fast ordered Validator that gates a
// (requirement, availability) candidate before it reaches the Scorer.
package validate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/party"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
	"github.com/rnrlcrm/tradedesk/risk"
)

// Config tunes the Validator. MinPartialQuantityPercent feeds the step-2
// quantity floor and BlockInternalBranchTrading makes trades between parties
// of the same organization fail; the two AI thresholds only add advisory
// warnings and never block on their own.
type Config struct {
	MinPartialQuantityPercent float64
	MinAIConfidenceThreshold  int
	AIPriceDeviationWarnPercent float64
	BlockInternalBranchTrading bool
}

// DefaultConfig mirrors the recognized configuration defaults.
func DefaultConfig() Config {
	return Config{
		MinPartialQuantityPercent:  0.10,
		MinAIConfidenceThreshold:   60,
		AIPriceDeviationWarnPercent: 10.0,
		BlockInternalBranchTrading: true,
	}
}

// Result is the Validator's output: is_valid plus the reasons, warnings and
// AI-advisory notes collected along the way, and the risk verdict attached
// by step 10.
type Result struct {
	IsValid    bool
	Reasons    []string
	Warnings   []string
	AIAlerts   []string
	RiskStatus string
	RiskScore  int
}

func (r *Result) fail(reason string) *Result {
	r.IsValid = false
	r.Reasons = append(r.Reasons, reason)
	return r
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *Result) alert(msg string) {
	r.AIAlerts = append(r.AIAlerts, msg)
}

// Validator runs the fail-fast ordered sequence described in the matching
// core: hard commodity/quantity/budget/lifecycle gates first, then AI
// advisories, then the Risk Orchestrator, then the internal-trading block.
type Validator struct {
	cfg  Config
	orch *risk.Orchestrator
}

// New constructs a Validator bound to a Risk Orchestrator instance.
func New(cfg Config, orch *risk.Orchestrator) *Validator {
	return &Validator{cfg: cfg, orch: orch}
}

// Validate runs all eleven steps against the given pair. riskIn carries the
// fields the Risk Orchestrator needs to evaluate this specific pair;
// buyerParty/sellerParty carry organization identity for the final
// internal-trading check.
func (v *Validator) Validate(
	ctx context.Context,
	req *requirement.Requirement,
	avail *availability.Availability,
	buyerParty, sellerParty party.Party,
	riskIn risk.CheckInput,
) Result {
	result := Result{IsValid: true}

	// 1. Commodity ids match.
	if req.CommodityID != avail.CommodityID {
		result.fail("COMMODITY_MISMATCH")
		return result
	}

	// 2. availability.available >= max(requirement.min_qty, 10% * preferred_qty)
	minRequired := math.Max(req.Quantity.Min, v.cfg.MinPartialQuantityPercent*req.Quantity.Preferred)
	if avail.Quantities.Available < minRequired {
		result.fail("INSUFFICIENT_QUANTITY")
		return result
	}

	// 3. availability.base_price <= requirement.max_budget_per_unit
	if avail.BasePrice > req.MaxBudgetPerUnit {
		result.fail("OVER_BUDGET")
		return result
	}

	// 4. Both entities ACTIVE.
	if !req.IsMatchable() || !avail.IsMatchable() {
		result.fail("NOT_ACTIVE")
		return result
	}

	// 5. Neither expired.
	now := time.Now()
	if req.ValidUntil != nil && req.ValidUntil.Before(now) {
		result.fail("REQUIREMENT_EXPIRED")
		return result
	}
	if avail.ExpiryDate != nil && avail.ExpiryDate.Before(now) {
		result.fail("AVAILABILITY_EXPIRED")
		return result
	}

	// 6. AI price-alert flag — warning only.
	if req.AI.AlertFlag {
		result.warn(fmt.Sprintf("AI_PRICE_ALERT: %s", req.AI.AlertReason))
	}

	// 7. Requirement AI confidence threshold — warning only.
	if req.AI.Confidence > 0 && req.AI.Confidence < v.cfg.MinAIConfidenceThreshold {
		result.warn(fmt.Sprintf("AI_CONFIDENCE_BELOW_THRESHOLD: %d < %d", req.AI.Confidence, v.cfg.MinAIConfidenceThreshold))
	}

	// 8. ai_suggested_max_price exceeded — warning with deviation percentage.
	if req.AI.SuggestedMaxPrice != nil && *req.AI.SuggestedMaxPrice > 0 && avail.BasePrice > *req.AI.SuggestedMaxPrice {
		deviation := (avail.BasePrice - *req.AI.SuggestedMaxPrice) / *req.AI.SuggestedMaxPrice * 100
		result.warn(fmt.Sprintf("AI_SUGGESTED_PRICE_EXCEEDED: %.2f%% over suggested max", deviation))
	}

	// 9. ai_recommended_sellers membership — positive/negative advisory.
	if len(req.AI.RecommendedSellers) > 0 {
		if req.AI.InRecommendedSellers(avail.SellerID) {
			result.alert("SELLER_IN_AI_RECOMMENDED_SET")
		} else {
			result.alert("SELLER_NOT_IN_AI_RECOMMENDED_SET")
		}
	}

	// 10. Risk compliance: FAIL blocks, WARN adds a warning only.
	riskResult := v.orch.Evaluate(ctx, riskIn)
	result.RiskStatus = string(riskResult.Status)
	result.RiskScore = riskResult.FinalScore
	if riskResult.Status == risk.StatusFail {
		result.fail(fmt.Sprintf("RISK_BLOCKED: %s", riskResult.BlockingReason))
		return result
	}
	if riskResult.Status == risk.StatusWarn {
		result.warn("RISK_STATUS_WARN")
	}

	// 11. Internal-branch-trading block.
	if v.cfg.BlockInternalBranchTrading && buyerParty.OrganizationID != "" &&
		buyerParty.OrganizationID == sellerParty.OrganizationID {
		result.fail("INTERNAL_BRANCH_TRADING_BLOCKED")
		return result
	}

	return result
}

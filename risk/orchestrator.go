// Package risk implements the two-tier Risk Orchestrator that gates the
// Scorer: a deterministic tier-1 rule gate that can block outright, and an
// advisory tier-2 ML layer fused into a final 0-100 score.
package risk

import (
	"context"
	"time"

	"github.com/rnrlcrm/tradedesk/internal/resilience"
)

// Status is the orchestrator's final compliance verdict.
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// Tier identifies which stage produced a blocking decision.
type Tier string

const (
	TierSanctions        Tier = "SANCTIONS_COMPLIANCE"
	TierExportLicense    Tier = "EXPORT_IMPORT_LICENSE"
	TierDomesticCompliance Tier = "DOMESTIC_COMPLIANCE"
	TierCircularTrading  Tier = "CIRCULAR_TRADING"
	TierWashTrading      Tier = "WASH_TRADING"
	TierPartyLinks       Tier = "PARTY_LINKS"
)

// CheckInput is everything tier-1 and tier-2 need about the candidate pair
// being assessed. It is deliberately narrow — the orchestrator reads no
// aggregate directly, only the fields callers project into this struct.
type CheckInput struct {
	BuyerID         string
	SellerID        string
	CommodityID     string
	TradeValue      float64
	BuyerCountry    string
	SellerCountry   string
	BuyerState      string
	SellerState     string
	IsSanctionedCommodityCountry bool
	BuyerHasExportLicense  bool
	SellerHasImportLicense bool
	BuyerHasGST     bool
	SellerHasGST    bool
	BuyerHasPAN     bool
	SellerHasPAN    bool
	SameDayOpposingPosition bool
	OpposingPositionSimilarity float64 // 0-1, used against WashTradeSimilarityThreshold
	PartyLinked     bool
	RelatedOrganization bool
}

// IsInternational reports whether the buyer and seller are in different
// countries, which gates the sanctions/license tier-1 checks.
func (in CheckInput) IsInternational() bool {
	return in.BuyerCountry != "" && in.SellerCountry != "" && in.BuyerCountry != in.SellerCountry
}

// RuleResult is tier-1's deterministic verdict.
type RuleResult struct {
	Blocked       bool
	Tier          Tier
	ViolationType string
	Reason        string
	Score         int // 85 default when all checks pass, 0 when blocked
}

// MLResult is tier-2's advisory score, 0-100, higher is better.
type MLResult struct {
	Score               int
	PaymentDefaultRisk  float64
	QualityDeviationRisk float64
	FraudRisk           float64
	PriceVolatilityRisk float64
	KYCCompletenessScore float64
	TrustScore          float64
	AnomalyScore        float64
}

// MLEngine is the tier-2 predictive collaborator. Model inference itself is
// out of scope for the matching core (external collaborator, consumed via
// this narrow interface); NoopMLEngine below is the only implementation
// shipped here.
type MLEngine interface {
	Predict(ctx context.Context, in CheckInput) (MLResult, error)
}

// NoopMLEngine always returns a neutral score. It exists so the
// orchestrator is exercisable without a real ML backend wired in; a
// production deployment replaces this with a real model-serving client.
type NoopMLEngine struct{}

func (NoopMLEngine) Predict(ctx context.Context, in CheckInput) (MLResult, error) {
	return MLResult{Score: 70}, nil
}

// WashTradeSimilarityThreshold is the cutoff above which two same-day
// opposing positions are treated as wash trading.
//
// TODO(compliance): the source placed this behind a TODO with no agreed
// threshold; 0.95 is a conservative placeholder pending a compliance
// sign-off on the comparison window and exact similarity metric.
var WashTradeSimilarityThreshold = 0.95

// Config tunes the orchestrator's fusion and circuit-breaker behavior.
type Config struct {
	RuleWeight          float64
	MLWeight            float64
	PassThreshold       int
	WarnThreshold       int
	DefaultPassRuleScore int
	MLCircuitMaxFailures int
}

// DefaultConfig mirrors the fusion formula and thresholds: 70% rules,
// 30% ML, PASS ≥ 80, WARN ≥ 60, rule_score defaults to 85 when tier-1
// passes entirely.
func DefaultConfig() Config {
	return Config{
		RuleWeight:           0.70,
		MLWeight:             0.30,
		PassThreshold:        80,
		WarnThreshold:        60,
		DefaultPassRuleScore: 85,
		MLCircuitMaxFailures: 5,
	}
}

// FusionResult is the orchestrator's unified output.
type FusionResult struct {
	Status          Status
	FinalScore      int
	Blocked         bool
	BlockingReason  string
	BlockingTier    Tier
	BlockingViolation string
	RuleScore       int
	MLScore         int
	MLAvailable     bool
	Tier1Duration   time.Duration
	Tier2Duration   time.Duration
}

// Orchestrator runs tier-1 then, if not blocked, tier-2, and fuses both.
type Orchestrator struct {
	cfg     Config
	ml      MLEngine
	breaker *resilience.CircuitBreaker
}

// New constructs an Orchestrator. The ML circuit breaker opens after
// MLCircuitMaxFailures consecutive tier-2 failures; while open, tier 2 is
// skipped until 24h have passed since the last failure, with no
// clock-driven half-open probing. It closes again when a tier-2 call
// succeeds (see Evaluate) or when Reset is called.
func New(cfg Config, ml MLEngine) *Orchestrator {
	if ml == nil {
		ml = NoopMLEngine{}
	}
	return &Orchestrator{
		cfg: cfg,
		ml:  ml,
		breaker: resilience.New(resilience.Config{
			MaxFailures: cfg.MLCircuitMaxFailures,
			Timeout:     24 * time.Hour,
			HalfOpenMax: 1,
		}),
	}
}

// Reset clears the ML circuit breaker, intended for operator use.
func (o *Orchestrator) Reset() {
	o.breaker.Reset()
}

// Evaluate runs the full two-tier check and returns the fused result.
func (o *Orchestrator) Evaluate(ctx context.Context, in CheckInput) FusionResult {
	tier1Start := time.Now()
	rule := EvaluateTier1(in)
	tier1Duration := time.Since(tier1Start)

	if rule.Blocked {
		return FusionResult{
			Status:            StatusFail,
			FinalScore:        0,
			Blocked:           true,
			BlockingReason:    rule.Reason,
			BlockingTier:      rule.Tier,
			BlockingViolation: rule.ViolationType,
			RuleScore:         rule.Score,
			Tier1Duration:     tier1Duration,
		}
	}

	ruleScore := rule.Score
	if ruleScore == 0 {
		ruleScore = o.cfg.DefaultPassRuleScore
	}
	result := FusionResult{
		RuleScore:     ruleScore,
		Tier1Duration: tier1Duration,
	}

	if o.breaker.ShouldSkip() {
		result.FinalScore = ruleScore
		result.MLAvailable = false
	} else {
		tier2Start := time.Now()
		mlResult, err := o.ml.Predict(ctx, in)
		result.Tier2Duration = time.Since(tier2Start)
		if err != nil {
			o.breaker.RecordFailure()
			result.FinalScore = ruleScore
			result.MLAvailable = false
		} else {
			o.breaker.RecordSuccess()
			if o.breaker.State() != resilience.StateClosed {
				o.breaker.Reset()
			}
			result.MLScore = mlResult.Score
			result.MLAvailable = true
			result.FinalScore = int(float64(ruleScore)*o.cfg.RuleWeight) + int(float64(mlResult.Score)*o.cfg.MLWeight)
		}
	}

	switch {
	case result.FinalScore >= o.cfg.PassThreshold:
		result.Status = StatusPass
	case result.FinalScore >= o.cfg.WarnThreshold:
		result.Status = StatusWarn
	default:
		result.Status = StatusFail
	}

	return result
}

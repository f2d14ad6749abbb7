package scoring

import (
	"context"
	"math"
	"testing"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
	"github.com/rnrlcrm/tradedesk/internal/config"
	"github.com/rnrlcrm/tradedesk/risk"
)

type fixedML struct {
	score int
}

func (f fixedML) Predict(ctx context.Context, in risk.CheckInput) (risk.MLResult, error) {
	return risk.MLResult{Score: f.score}, nil
}

func cleanRiskInput() risk.CheckInput {
	return risk.CheckInput{
		BuyerCountry: "IN", SellerCountry: "IN",
		BuyerHasGST: true, SellerHasGST: true,
		BuyerHasPAN: true, SellerHasPAN: true,
	}
}

func baseReq() *requirement.Requirement {
	r := requirement.New("req-1", "REQ-0001", "buyer-1", "cotton", requirement.QuantityRange{Min: 10, Max: 100, Preferred: 50}, 100.0)
	r.Status = requirement.StatusActive
	return r
}

func baseAvail() *availability.Availability {
	a := availability.New("avail-1", "seller-1", "cotton", "loc-1", 200, 90.0)
	a.Status = availability.StatusActive
	return a
}

func f64(v float64) *float64 { return &v }

func TestQualitySubScore_NoConstraints(t *testing.T) {
	score := qualitySubScore(nil, map[string]float64{"staple_length": 30})
	if score != 1.0 {
		t.Fatalf("expected 1.0 for no constraints, got %v", score)
	}
}

func TestQualitySubScore_MissingParameterScoresZero(t *testing.T) {
	constraints := map[string]requirement.QualityConstraint{
		"moisture": {Min: f64(5), Max: f64(10)},
	}
	score := qualitySubScore(constraints, map[string]float64{})
	if score != 0.0 {
		t.Fatalf("expected 0.0 for missing seller value, got %v", score)
	}
}

func TestQualitySubScore_RangeWithPreferredFalloff(t *testing.T) {
	constraints := map[string]requirement.QualityConstraint{
		"moisture": {Min: f64(0), Max: f64(10), Preferred: f64(5)},
	}
	// seller=7.5 -> deviation = |7.5-5|/10 = 0.25 -> score = 0.75
	score := qualitySubScore(constraints, map[string]float64{"moisture": 7.5})
	if math.Abs(score-0.75) > 1e-9 {
		t.Fatalf("expected 0.75, got %v", score)
	}
}

func TestQualitySubScore_OutOfRangeIsZero(t *testing.T) {
	constraints := map[string]requirement.QualityConstraint{
		"moisture": {Min: f64(0), Max: f64(10)},
	}
	score := qualitySubScore(constraints, map[string]float64{"moisture": 15})
	if score != 0.0 {
		t.Fatalf("expected 0.0 out of range, got %v", score)
	}
}

func TestQualitySubScore_TargetOnlyExactVsOtherwise(t *testing.T) {
	constraints := map[string]requirement.QualityConstraint{
		"color_grade": {Exact: f64(3)},
	}
	exact := qualitySubScore(constraints, map[string]float64{"color_grade": 3})
	if exact != 1.0 {
		t.Fatalf("expected 1.0 for exact match, got %v", exact)
	}
	other := qualitySubScore(constraints, map[string]float64{"color_grade": 4})
	if other != 0.8 {
		t.Fatalf("expected 0.8 for non-exact match, got %v", other)
	}
}

func TestPriceSubScore_ExactMatch(t *testing.T) {
	req := baseReq()
	req.PreferredPricePerUnit = f64(90)
	avail := baseAvail()
	avail.BasePrice = 90
	score, blocked := priceSubScore(req, avail)
	if blocked || score != 1.0 {
		t.Fatalf("expected exact match score 1.0, got %v blocked=%v", score, blocked)
	}
}

func TestPriceSubScore_Tiers(t *testing.T) {
	req := baseReq()
	req.PreferredPricePerUnit = f64(100)
	req.MaxBudgetPerUnit = 200
	cases := []struct {
		price   float64
		want    float64
		blocked bool
	}{
		{100, 1.0, false},
		{101.5, 0.95, false}, // 1.5% dev
		{104, 0.85, false},   // 4% dev
		{109, 0.70, false},   // 9% dev
		{100.1, 0.95, false}, // 0.1% dev, inside 2% tier
	}
	for _, c := range cases {
		avail := baseAvail()
		avail.BasePrice = c.price
		score, blocked := priceSubScore(req, avail)
		if blocked != c.blocked || math.Abs(score-c.want) > 1e-9 {
			t.Fatalf("price %v: expected score=%v blocked=%v, got score=%v blocked=%v", c.price, c.want, c.blocked, score, blocked)
		}
	}
}

func TestPriceSubScore_OverBudgetBlocks(t *testing.T) {
	req := baseReq()
	req.MaxBudgetPerUnit = 100
	avail := baseAvail()
	avail.BasePrice = 150
	score, blocked := priceSubScore(req, avail)
	if !blocked || score != 0.0 {
		t.Fatalf("expected over-budget block, got score=%v blocked=%v", score, blocked)
	}
}

func TestDeliverySubScore_NationalWeights(t *testing.T) {
	req := baseReq()
	avail := baseAvail()
	score := deliverySubScore(req, avail)
	if math.Abs(score-1.0) > 1e-9 {
		t.Fatalf("expected full national delivery score 1.0, got %v", score)
	}
}

func TestDeliverySubScore_InternationalIncotermMismatch(t *testing.T) {
	req := baseReq()
	req.DestinationCountry = "US"
	req.PreferredIncoterm = "FOB"
	avail := baseAvail()
	avail.SupportedIncoterms = []string{"CIF"}
	score := deliverySubScore(req, avail)
	// 1.0*0.25 + 1.0*0.20 + 1.0*0.20 + 0.3*0.20 + 0.8*0.15 = 0.25+0.20+0.20+0.06+0.12 = 0.83
	if math.Abs(score-0.83) > 1e-9 {
		t.Fatalf("expected 0.83, got %v", score)
	}
}

func TestIncotermMatchScore(t *testing.T) {
	if incotermMatchScore("", []string{"CIF"}) != 1.0 {
		t.Fatal("expected 1.0 for no preference")
	}
	if incotermMatchScore("FOB", nil) != 0.5 {
		t.Fatal("expected 0.5 for seller with no list")
	}
	if incotermMatchScore("FOB", []string{"fob"}) != 1.0 {
		t.Fatal("expected case-insensitive match 1.0")
	}
	if incotermMatchScore("FOB", []string{"CIF"}) != 0.3 {
		t.Fatal("expected 0.3 for mismatch")
	}
}

func TestScorer_HappyPathComposite(t *testing.T) {
	orch := risk.New(risk.DefaultConfig(), fixedML{score: 90})
	s := New(DefaultConfig(), orch, config.DefaultCommodityOverrides())

	req := baseReq()
	req.PreferredPricePerUnit = f64(90)
	avail := baseAvail()
	avail.BasePrice = 90

	result := s.Score(context.Background(), req, avail, cleanRiskInput())

	if result.Score < 0 || result.Score > 1 {
		t.Fatalf("score out of bounds: %v", result.Score)
	}
	if result.WarnPenaltyApplied {
		t.Fatal("expected no warn penalty on a clean PASS")
	}
	if result.RiskStatus != string(risk.StatusPass) {
		t.Fatalf("expected PASS, got %s", result.RiskStatus)
	}
}

func TestScorer_WarnPenaltyArithmetic(t *testing.T) {
	// Construct a scorer whose composite sub-scores are all 1.0 except risk's
	// 0.5 WARN value, so base_score lands at a round number we can assert
	// the exact 0.90 -> 0.81 penalty arithmetic against.
	orch := risk.New(risk.DefaultConfig(), fixedML{score: 40}) // fusion: int(85*.7)+int(40*.3)=59+12=71 -> WARN
	overrides := map[string]config.CommodityOverride{
		"cotton": {Weights: config.ScoringWeights{Quality: 0.40, Price: 0.30, Delivery: 0.10, Risk: 0.20}, MinScoreThreshold: 0.6},
	}
	s := New(DefaultConfig(), orch, overrides)

	req := baseReq()
	req.PreferredPricePerUnit = f64(90)
	avail := baseAvail()
	avail.BasePrice = 90

	result := s.Score(context.Background(), req, avail, cleanRiskInput())
	if !result.WarnPenaltyApplied {
		t.Fatal("expected WARN penalty applied")
	}
	// base = 0.40*1 + 0.30*1 + 0.10*1 + 0.20*0.5 = 0.40+0.30+0.10+0.10 = 0.90
	if math.Abs(result.BaseScore-0.90) > 1e-9 {
		t.Fatalf("expected base_score 0.90, got %v", result.BaseScore)
	}
	// final = 0.90 * (1 - 0.10) = 0.81
	if math.Abs(result.Score-0.81) > 1e-9 {
		t.Fatalf("expected final score 0.81, got %v", result.Score)
	}
}

func TestScorer_AIBoostCappedAtOne(t *testing.T) {
	orch := risk.New(risk.DefaultConfig(), fixedML{score: 90})
	s := New(DefaultConfig(), orch, config.DefaultCommodityOverrides())

	req := baseReq()
	req.PreferredPricePerUnit = f64(90)
	req.AI.RecommendedSellers = []string{"seller-1"}
	avail := baseAvail()
	avail.BasePrice = 90

	result := s.Score(context.Background(), req, avail, cleanRiskInput())
	if !result.AIBoostApplied {
		t.Fatal("expected AI boost applied for recommended seller")
	}
	if result.Score > 1.0 {
		t.Fatalf("score must be capped at 1.0, got %v", result.Score)
	}
}

func TestScorer_RiskFailBlocksWithEmptyBreakdown(t *testing.T) {
	orch := risk.New(risk.DefaultConfig(), fixedML{score: 90})
	s := New(DefaultConfig(), orch, config.DefaultCommodityOverrides())

	req := baseReq()
	avail := baseAvail()
	blockedRiskInput := risk.CheckInput{
		BuyerCountry: "IN", SellerCountry: "US",
		IsSanctionedCommodityCountry: true,
	}

	result := s.Score(context.Background(), req, avail, blockedRiskInput)
	if result.RiskStatus != string(risk.StatusFail) {
		t.Fatalf("expected FAIL, got %s", result.RiskStatus)
	}
	if result.Score != 0 {
		t.Fatalf("expected score 0 on blocked result, got %v", result.Score)
	}
}

func TestScorer_OverBudgetBlocksDespitePass(t *testing.T) {
	orch := risk.New(risk.DefaultConfig(), fixedML{score: 90})
	s := New(DefaultConfig(), orch, config.DefaultCommodityOverrides())

	req := baseReq()
	req.MaxBudgetPerUnit = 100
	avail := baseAvail()
	avail.BasePrice = 150

	result := s.Score(context.Background(), req, avail, cleanRiskInput())
	if result.Score != 0 {
		t.Fatalf("expected over-budget match to score 0, got %v", result.Score)
	}
	if result.PassFail.BudgetOK {
		t.Fatal("expected BudgetOK=false")
	}
}

package risk

import (
	"context"
	"errors"
	"testing"
)

type stubML struct {
	score int
	err   error
}

func (s stubML) Predict(ctx context.Context, in CheckInput) (MLResult, error) {
	return MLResult{Score: s.score}, s.err
}

func TestEvaluateTier1_PassesCleanDomesticInput(t *testing.T) {
	in := CheckInput{
		BuyerCountry: "IN", SellerCountry: "IN",
		BuyerHasGST: true, SellerHasGST: true,
		BuyerHasPAN: true, SellerHasPAN: true,
	}
	result := EvaluateTier1(in)
	if result.Blocked {
		t.Fatalf("expected pass, got blocked: %+v", result)
	}
	if result.Score != 85 {
		t.Fatalf("expected default pass score 85, got %d", result.Score)
	}
}

func TestEvaluateTier1_BlocksSanctionedInternational(t *testing.T) {
	in := CheckInput{
		BuyerCountry: "IN", SellerCountry: "US",
		IsSanctionedCommodityCountry: true,
	}
	result := EvaluateTier1(in)
	if !result.Blocked || result.Tier != TierSanctions {
		t.Fatalf("expected sanctions block, got %+v", result)
	}
}

func TestEvaluateTier1_BlocksMissingDomesticGST(t *testing.T) {
	in := CheckInput{
		BuyerCountry: "IN", SellerCountry: "IN",
		BuyerHasGST: false, SellerHasGST: true,
		BuyerHasPAN: true, SellerHasPAN: true,
	}
	result := EvaluateTier1(in)
	if !result.Blocked || result.Tier != TierDomesticCompliance {
		t.Fatalf("expected domestic compliance block, got %+v", result)
	}
}

func TestEvaluateTier1_BlocksPartyLinks(t *testing.T) {
	in := CheckInput{
		BuyerCountry: "IN", SellerCountry: "IN",
		BuyerHasGST: true, SellerHasGST: true,
		BuyerHasPAN: true, SellerHasPAN: true,
		PartyLinked: true,
	}
	result := EvaluateTier1(in)
	if !result.Blocked || result.Tier != TierPartyLinks {
		t.Fatalf("expected party links block, got %+v", result)
	}
}

func TestEvaluateTier1_BlocksWashTrading(t *testing.T) {
	in := CheckInput{
		BuyerCountry: "IN", SellerCountry: "IN",
		BuyerHasGST: true, SellerHasGST: true,
		BuyerHasPAN: true, SellerHasPAN: true,
		SameDayOpposingPosition:   true,
		OpposingPositionSimilarity: 0.99,
	}
	result := EvaluateTier1(in)
	if !result.Blocked || result.Tier != TierWashTrading {
		t.Fatalf("expected wash trading block, got %+v", result)
	}
}

func cleanInput() CheckInput {
	return CheckInput{
		BuyerCountry: "IN", SellerCountry: "IN",
		BuyerHasGST: true, SellerHasGST: true,
		BuyerHasPAN: true, SellerHasPAN: true,
	}
}

func TestOrchestrator_FusionFormula(t *testing.T) {
	o := New(DefaultConfig(), stubML{score: 90})
	result := o.Evaluate(context.Background(), cleanInput())

	// final = int(85*0.7) + int(90*0.3) = 59 + 27 = 86
	if result.FinalScore != 86 {
		t.Fatalf("expected final score 86, got %d", result.FinalScore)
	}
	if result.Status != StatusPass {
		t.Fatalf("expected PASS, got %s", result.Status)
	}
	if !result.MLAvailable {
		t.Fatal("expected ML available")
	}
}

func TestOrchestrator_WarnBand(t *testing.T) {
	o := New(DefaultConfig(), stubML{score: 40})
	result := o.Evaluate(context.Background(), cleanInput())

	// final = int(85*0.7) + int(40*0.3) = 59 + 12 = 71 -> WARN
	if result.Status != StatusWarn {
		t.Fatalf("expected WARN, got %s (%d)", result.Status, result.FinalScore)
	}
}

func TestOrchestrator_BlockedByTier1SkipsTier2(t *testing.T) {
	o := New(DefaultConfig(), stubML{score: 100})
	result := o.Evaluate(context.Background(), CheckInput{
		BuyerCountry: "IN", SellerCountry: "US",
		IsSanctionedCommodityCountry: true,
	})

	if !result.Blocked || result.Status != StatusFail {
		t.Fatalf("expected blocked FAIL, got %+v", result)
	}
	if result.MLAvailable {
		t.Fatal("expected tier-2 to be skipped entirely")
	}
}

func TestOrchestrator_MLUnavailableFallsBackToRulesOnly(t *testing.T) {
	o := New(DefaultConfig(), stubML{err: errors.New("model down")})
	result := o.Evaluate(context.Background(), cleanInput())

	if result.MLAvailable {
		t.Fatal("expected ML unavailable")
	}
	if result.FinalScore != 85 {
		t.Fatalf("expected rules-only score 85, got %d", result.FinalScore)
	}
	if result.Status != StatusPass {
		t.Fatalf("expected PASS from rules-only score, got %s", result.Status)
	}
}

func TestOrchestrator_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	o := New(DefaultConfig(), stubML{err: errors.New("model down")})

	for i := 0; i < 5; i++ {
		o.Evaluate(context.Background(), cleanInput())
	}

	// 6th call should skip ML entirely because the breaker is now open.
	result := o.Evaluate(context.Background(), cleanInput())
	if result.MLAvailable {
		t.Fatal("expected ML circuit breaker to be open and skip tier 2")
	}
}

func TestOrchestrator_ResetClosesCircuitBreaker(t *testing.T) {
	o := New(DefaultConfig(), stubML{err: errors.New("model down")})
	for i := 0; i < 5; i++ {
		o.Evaluate(context.Background(), cleanInput())
	}

	o.Reset()
	o2 := New(DefaultConfig(), stubML{score: 90})
	o2.breaker = o.breaker
	result := o2.Evaluate(context.Background(), cleanInput())
	if !result.MLAvailable {
		t.Fatal("expected ML to be attempted again after reset")
	}
}

// Package matching implements the Matching Engine: the location hard
// filter, duplicate suppression, and the pipeline that turns a requirement
// or availability into a ranked set of Match Results, plus the
// pessimistic-locked Allocator (allocator.go).
package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/match"
	"github.com/rnrlcrm/tradedesk/domain/party"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
	"github.com/rnrlcrm/tradedesk/internal/cache"
	svcerrors "github.com/rnrlcrm/tradedesk/internal/svcerrors"
	"github.com/rnrlcrm/tradedesk/risk"
	"github.com/rnrlcrm/tradedesk/scoring"
	"github.com/rnrlcrm/tradedesk/storage"
	"github.com/rnrlcrm/tradedesk/validate"
)

// DefaultMaxResults is the cap applied when the caller does not specify one.
const DefaultMaxResults = 50

// DuplicateWindow is the rolling window within which a repeated
// commodity:buyer:seller triple is suppressed.
const DuplicateWindow = 5 * time.Minute

// PartyLookup resolves the party record behind a buyer/seller id. It is an
// external collaborator (partner management) the engine depends on only
// through this narrow interface.
type PartyLookup interface {
	GetParty(ctx context.Context, id string) (party.Party, error)
}

// RiskInputBuilder projects a (requirement, availability, buyer, seller)
// tuple into the CheckInput the Risk Orchestrator evaluates. Kept as a
// collaborator so the engine never hard-codes which fields feed tier-1.
type RiskInputBuilder func(req *requirement.Requirement, avail *availability.Availability, buyer, seller party.Party) risk.CheckInput

// Engine runs the matching pipeline for either side of a requirement or
// availability.
type Engine struct {
	gw        storage.Gateway
	parties   PartyLookup
	scorer    *scoring.Scorer
	validator *validate.Validator
	buildRisk RiskInputBuilder
	overrides map[string]float64 // commodity code (lowercased) -> min_score_threshold
	dedup     *cache.DedupSet
}

// NewEngine constructs a matching Engine.
func NewEngine(gw storage.Gateway, parties PartyLookup, scorer *scoring.Scorer, validator *validate.Validator, buildRisk RiskInputBuilder, thresholds map[string]float64) *Engine {
	return &Engine{
		gw:        gw,
		parties:   parties,
		scorer:    scorer,
		validator: validator,
		buildRisk: buildRisk,
		overrides: thresholds,
		dedup:     cache.NewDedupSet(DuplicateWindow),
	}
}

func (e *Engine) minScoreThreshold(commodityID string, override *float64) float64 {
	if override != nil {
		return *override
	}
	if t, ok := e.overrides[commodityID]; ok {
		return t
	}
	return 0.6
}

// FindMatchesForRequirement runs the full pipeline for the buyer side.
func (e *Engine) FindMatchesForRequirement(ctx context.Context, requirementID string, minScore *float64, maxResults int) ([]match.Result, error) {
	req, err := e.gw.GetRequirement(ctx, requirementID, true)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, svcerrors.NotFound("requirement", requirementID)
		}
		return nil, svcerrors.DependencyUnavailable("storage", err)
	}
	if !req.IsMatchable() {
		return nil, svcerrors.InvalidState("requirement", requirementID, string(req.Status))
	}

	threshold := e.minScoreThreshold(req.CommodityID, minScore)
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	locationIDs := req.LocationIDs()
	if len(locationIDs) == 0 {
		return nil, nil
	}

	candidates, err := e.gw.AvailabilitiesByLocation(ctx, locationIDs, req.CommodityID, availability.StatusActive)
	if err != nil {
		return nil, svcerrors.DependencyUnavailable("storage", err)
	}

	buyer, err := e.parties.GetParty(ctx, req.BuyerID)
	if err != nil {
		return nil, svcerrors.DependencyUnavailable("parties", err)
	}

	var results []match.Result
	var auditRecords []match.AuditRecord
	invocationSeen := make(map[string]bool)

	for _, avail := range candidates {
		if !locationMatches(req, avail) {
			auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, match.Breakdown{}, true, match.ExclusionLocationFilterRejected))
			continue
		}

		dupKey := match.DuplicateKey(req.CommodityID, req.BuyerID, avail.SellerID)
		if invocationSeen[dupKey] || e.dedup.Seen(dupKey) {
			auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, match.Breakdown{}, true, match.ExclusionDuplicate))
			continue
		}
		invocationSeen[dupKey] = true

		seller, err := e.parties.GetParty(ctx, avail.SellerID)
		if err != nil {
			return nil, svcerrors.DependencyUnavailable("parties", err)
		}

		riskIn := e.buildRisk(req, avail, buyer, seller)

		valResult := e.validator.Validate(ctx, req, avail, buyer, seller, riskIn)
		if !valResult.IsValid {
			auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, match.Breakdown{}, true, match.ExclusionValidationFailed))
			continue
		}

		scored := e.scorer.Score(ctx, req, avail, riskIn)
		if scored.RiskStatus == string(risk.StatusFail) {
			auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, scored.Breakdown, true, match.ExclusionRiskBlocked))
			continue
		}

		if scored.Score < threshold {
			auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, scored.Breakdown, true, match.ExclusionBelowThreshold))
			continue
		}

		e.dedup.Mark(dupKey)
		scored.MatchedAt = time.Now()
		results = append(results, scored)
		auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, scored.Breakdown, false, match.ExclusionNone))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].AvailabilityID < results[j].AvailabilityID
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	// Audit persistence is fire-and-forget: the write runs in its own
	// goroutine and its error is discarded.
	go func() {
		_ = e.gw.AppendMatchAudit(context.Background(), auditRecords)
	}()

	return results, nil
}

// FindMatchesForAvailability runs the symmetric pipeline for the seller
// side: starting from a posted availability, it finds compatible
// requirements at the same delivery location and ranks them the same way.
func (e *Engine) FindMatchesForAvailability(ctx context.Context, availabilityID string, minScore *float64, maxResults int) ([]match.Result, error) {
	avail, err := e.gw.GetAvailability(ctx, availabilityID, true)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, svcerrors.NotFound("availability", availabilityID)
		}
		return nil, svcerrors.DependencyUnavailable("storage", err)
	}
	if !avail.IsMatchable() {
		return nil, svcerrors.InvalidState("availability", availabilityID, string(avail.Status))
	}

	threshold := e.minScoreThreshold(avail.CommodityID, minScore)
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	candidates, err := e.gw.RequirementsByDeliveryLocation(ctx, avail.LocationID, avail.CommodityID, requirement.StatusActive)
	if err != nil {
		return nil, svcerrors.DependencyUnavailable("storage", err)
	}

	seller, err := e.parties.GetParty(ctx, avail.SellerID)
	if err != nil {
		return nil, svcerrors.DependencyUnavailable("parties", err)
	}

	var results []match.Result
	var auditRecords []match.AuditRecord
	invocationSeen := make(map[string]bool)

	for _, req := range candidates {
		if !req.IsMatchable() {
			continue
		}
		if !locationMatches(req, avail) {
			auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, match.Breakdown{}, true, match.ExclusionLocationFilterRejected))
			continue
		}

		dupKey := match.DuplicateKey(req.CommodityID, req.BuyerID, avail.SellerID)
		if invocationSeen[dupKey] || e.dedup.Seen(dupKey) {
			auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, match.Breakdown{}, true, match.ExclusionDuplicate))
			continue
		}
		invocationSeen[dupKey] = true

		buyer, err := e.parties.GetParty(ctx, req.BuyerID)
		if err != nil {
			return nil, svcerrors.DependencyUnavailable("parties", err)
		}

		riskIn := e.buildRisk(req, avail, buyer, seller)

		valResult := e.validator.Validate(ctx, req, avail, buyer, seller, riskIn)
		if !valResult.IsValid {
			auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, match.Breakdown{}, true, match.ExclusionValidationFailed))
			continue
		}

		scored := e.scorer.Score(ctx, req, avail, riskIn)
		if scored.RiskStatus == string(risk.StatusFail) {
			auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, scored.Breakdown, true, match.ExclusionRiskBlocked))
			continue
		}

		if scored.Score < threshold {
			auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, scored.Breakdown, true, match.ExclusionBelowThreshold))
			continue
		}

		e.dedup.Mark(dupKey)
		scored.MatchedAt = time.Now()
		results = append(results, scored)
		auditRecords = append(auditRecords, e.auditFor(req.ID, avail.ID, scored.Breakdown, false, match.ExclusionNone))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].RequirementID < results[j].RequirementID
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	go func() {
		_ = e.gw.AppendMatchAudit(context.Background(), auditRecords)
	}()

	return results, nil
}

func (e *Engine) auditFor(requirementID, availabilityID string, breakdown match.Breakdown, excluded bool, reason match.ExclusionReason) match.AuditRecord {
	fingerprint := match.Fingerprint(requirementID, availabilityID, breakdown, excluded, reason)
	return match.AuditRecord{
		ID:              fmt.Sprintf("%s-%s", requirementID, availabilityID),
		RequirementID:   requirementID,
		AvailabilityID:  availabilityID,
		Breakdown:       breakdown,
		Excluded:        excluded,
		ExclusionReason: reason,
		Fingerprint:     fingerprint,
		CreatedAt:       time.Now(),
	}
}

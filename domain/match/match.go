// Package match holds the matching pipeline's derived output: the immutable
// Match Result returned to callers and the append-only audit record
// persisted for every candidate considered, pass or reject.
package match

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"golang.org/x/crypto/blake2b"
)

// PassFail captures the hard-gate verdicts the Validator produced for a
// candidate, independent of the scoring breakdown.
type PassFail struct {
	CommodityMatch bool
	QuantityOK     bool
	BudgetOK       bool
	BothActive     bool
	NotExpired     bool
}

// Breakdown is the per-dimension sub-score composing the final score.
type Breakdown struct {
	Quality  float64
	Price    float64
	Delivery float64
	Risk     float64
}

// Result is the immutable match produced for one (requirement, availability)
// pair. Once constructed it is never mutated.
type Result struct {
	RequirementID     string
	AvailabilityID    string
	Score             float64
	BaseScore         float64
	WarnPenaltyApplied bool
	WarnPenaltyValue  float64
	AIBoostApplied    bool
	AIBoostValue      float64
	Breakdown         Breakdown
	PassFail          PassFail
	RiskStatus        string
	RiskDetails        string
	Recommendation    string
	DuplicateKey      string
	MatchedAt         time.Time
}

// DuplicateKey computes the `commodity_id:buyer_id:seller_id` dedup key.
func DuplicateKey(commodityID, buyerID, sellerID string) string {
	return commodityID + ":" + buyerID + ":" + sellerID
}

// ExclusionReason enumerates why a considered candidate did not become a
// Result, recorded on the audit trail even when no match was produced.
type ExclusionReason string

const (
	ExclusionNone                   ExclusionReason = ""
	ExclusionLocationFilterRejected ExclusionReason = "LOCATION_FILTER_REJECTED"
	ExclusionDuplicate              ExclusionReason = "DUPLICATE_SUPPRESSED"
	ExclusionValidationFailed       ExclusionReason = "VALIDATION_FAILED"
	ExclusionRiskBlocked            ExclusionReason = "RISK_BLOCKED"
	ExclusionBelowThreshold         ExclusionReason = "BELOW_THRESHOLD"
)

// AuditRecord is the append-only per-candidate trail: every candidate
// considered, whether it became a Result or was excluded, with the reason.
type AuditRecord struct {
	ID              string
	RequirementID   string
	AvailabilityID  string
	Breakdown       Breakdown
	RiskStatus      string
	RiskDetails     string
	Excluded        bool
	ExclusionReason ExclusionReason
	Score           float64
	Fingerprint     string
	CreatedAt       time.Time
}

// Fingerprint computes a deterministic, fixed-width identity for an audit
// record's breakdown, used as an idempotency key so a worker restart
// replaying the same candidate does not append a duplicate audit row.
func Fingerprint(requirementID, availabilityID string, b Breakdown, excluded bool, reason ExclusionReason) string {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s|%s|%t|%s", requirementID, availabilityID, excluded, reason)

	var buf [8]byte
	for _, v := range []float64{b.Quality, b.Price, b.Delivery, b.Risk} {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

package risk

// EvaluateTier1 runs the deterministic rule gate in the strict order the
// source specifies: sanctions, then license, then domestic compliance,
// then circular trading, wash trading, and party links. The first failing
// check blocks; later checks never run.
func EvaluateTier1(in CheckInput) RuleResult {
	if in.IsInternational() {
		if in.IsSanctionedCommodityCountry {
			return RuleResult{
				Blocked:       true,
				Tier:          TierSanctions,
				ViolationType: "SANCTIONED_COMMODITY_COUNTRY_PAIR",
				Reason:        "commodity/country pair is subject to sanctions",
			}
		}

		if !in.BuyerHasExportLicense || !in.SellerHasImportLicense {
			return RuleResult{
				Blocked:       true,
				Tier:          TierExportLicense,
				ViolationType: "MISSING_EXPORT_IMPORT_LICENSE",
				Reason:        "export or import license missing or invalid for international trade",
			}
		}
	} else {
		if !in.BuyerHasGST || !in.SellerHasGST {
			return RuleResult{
				Blocked:       true,
				Tier:          TierDomesticCompliance,
				ViolationType: "MISSING_GST_REGISTRATION",
				Reason:        "GST registration missing for buyer or seller state pair",
			}
		}
		if !in.BuyerHasPAN || !in.SellerHasPAN {
			return RuleResult{
				Blocked:       true,
				Tier:          TierDomesticCompliance,
				ViolationType: "MISSING_PAN",
				Reason:        "PAN card missing for buyer or seller",
			}
		}
	}

	if in.SameDayOpposingPosition && in.OpposingPositionSimilarity < WashTradeSimilarityThreshold {
		return RuleResult{
			Blocked:       true,
			Tier:          TierCircularTrading,
			ViolationType: "CIRCULAR_TRADING",
			Reason:        "same-day opposing position detected for the same commodity and partner",
		}
	}

	if in.SameDayOpposingPosition && in.OpposingPositionSimilarity >= WashTradeSimilarityThreshold {
		return RuleResult{
			Blocked:       true,
			Tier:          TierWashTrading,
			ViolationType: "WASH_TRADING",
			Reason:        "same-day near-identical opposite position detected",
		}
	}

	if in.PartyLinked || in.RelatedOrganization {
		return RuleResult{
			Blocked:       true,
			Tier:          TierPartyLinks,
			ViolationType: "PARTY_LINKS",
			Reason:        "buyer and counterparty identified as related entities",
		}
	}

	return RuleResult{Blocked: false, Score: 85}
}

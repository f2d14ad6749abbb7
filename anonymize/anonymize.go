// Package anonymize is the privacy layer that projects a Party/Availability/
// Requirement view down to what a given disclosure level permits: anonymous
// browsing before a match, progressively more identity as a match moves
// through negotiation, full detail once a deal is accepted or for the
// listing's own owner.
package anonymize

import (
	"strings"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/party"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
)

// LocationView is the disclosure-filtered projection of a delivery location.
type LocationView struct {
	LocationID string
	City       string
	Region     string
}

// anonymizeLocation applies the three location disclosure tiers: TRADE keeps
// everything, NEGOTIATING and MATCHED drop the precise location id, and any
// other level (BROWSE) keeps only the region, defaulting it to "India".
func anonymizeLocation(locationID, city, region string, level party.DisclosureLevel) LocationView {
	switch level {
	case party.DisclosureTrade:
		return LocationView{LocationID: locationID, City: city, Region: region}
	case party.DisclosureNegotiating, party.DisclosureMatched:
		return LocationView{City: city, Region: region}
	default: // BROWSE
		if region == "" {
			region = "India"
		}
		return LocationView{Region: region}
	}
}

// PartyView is the disclosure-filtered projection of a counterparty's
// identity, attached to an AvailabilityView or RequirementView.
type PartyView struct {
	PartyID    string
	Name       string
	Rating     float64
	ShowRating bool
	Contact    *ContactView
}

// ContactView is populated only at DisclosureTrade.
type ContactView struct {
	CompanyName string
	Email       string
	Phone       string
}

// resolveLevel upgrades the requested level to TRADE when the viewer owns
// the listing — the owner always sees full data regardless of what the
// caller asked for.
func resolveLevel(isOwner bool, requested party.DisclosureLevel) party.DisclosureLevel {
	if isOwner {
		return party.DisclosureTrade
	}
	return requested
}

// AvailabilityView is the anonymized shape of an Availability for a given
// viewer and disclosure level.
type AvailabilityView struct {
	ID                string
	CommodityID       string
	TotalQuantity     float64
	AvailableQuantity float64
	Quality           map[string]float64
	BasePrice         float64
	Status            string
	Seller            PartyView
	Location          LocationView
}

// Availability projects avail through the given disclosure level for
// viewerPartyID. The seller party supplies the name/rating/contact fields
// the aggregate itself does not carry.
func Availability(avail *availability.Availability, seller party.Party, location LocationView, viewerPartyID string, level party.DisclosureLevel) AvailabilityView {
	isOwner := avail.SellerID == viewerPartyID
	effective := resolveLevel(isOwner, level)

	view := AvailabilityView{
		ID:                avail.ID,
		CommodityID:       avail.CommodityID,
		TotalQuantity:     avail.Quantities.Total,
		AvailableQuantity: avail.Quantities.Available,
		Quality:           avail.Quality,
		BasePrice:         avail.BasePrice,
		Status:            string(avail.Status),
	}

	view.Location = anonymizeLocation(location.LocationID, location.City, location.Region, effective)

	switch effective {
	case party.DisclosureBrowse:
		view.Seller = PartyView{}
	case party.DisclosureMatched:
		view.Seller = PartyView{Name: "Verified Seller", Rating: roundRating(seller.Rating), ShowRating: seller.Rating > 0}
	case party.DisclosureNegotiating:
		name := seller.CompanyName
		if name == "" {
			name = "Verified Seller"
		}
		view.Seller = PartyView{Name: name, Rating: seller.Rating, ShowRating: true}
	case party.DisclosureTrade:
		view.Seller = PartyView{
			PartyID:    avail.SellerID,
			Name:       seller.CompanyName,
			Rating:     seller.Rating,
			ShowRating: true,
			Contact:    contactFor(seller),
		}
	}

	return view
}

// RequirementView is the anonymized shape of a Requirement for a given
// viewer and disclosure level.
type RequirementView struct {
	ID            string
	CommodityID   string
	MinQuantity   float64
	MaxQuantity   float64
	Quality       map[string]requirement.QualityConstraint
	MaxBudgetPerUnit float64
	Status        string
	Buyer         PartyView
	Locations     []LocationView
}

// Requirement projects req through the given disclosure level for
// viewerPartyID, with buyer identity and per-location disclosure supplied
// by the caller (delivery locations come from the aggregate; city/region
// enrichment is an external collaborator's lookup).
func Requirement(req *requirement.Requirement, buyer party.Party, locations []LocationView, viewerPartyID string, level party.DisclosureLevel) RequirementView {
	isOwner := req.BuyerID == viewerPartyID
	effective := resolveLevel(isOwner, level)

	view := RequirementView{
		ID:               req.ID,
		CommodityID:      req.CommodityID,
		MinQuantity:      req.Quantity.Min,
		MaxQuantity:      req.Quantity.Max,
		Quality:          req.Quality,
		MaxBudgetPerUnit: req.MaxBudgetPerUnit,
		Status:           string(req.Status),
	}

	view.Locations = make([]LocationView, 0, len(locations))
	for _, loc := range locations {
		view.Locations = append(view.Locations, anonymizeLocation(loc.LocationID, loc.City, loc.Region, effective))
	}

	switch effective {
	case party.DisclosureBrowse:
		view.Buyer = PartyView{}
	case party.DisclosureMatched:
		view.Buyer = PartyView{Name: "Verified Buyer", Rating: roundRating(buyer.Rating), ShowRating: buyer.Rating > 0}
	case party.DisclosureNegotiating:
		name := buyer.CompanyName
		if name == "" {
			name = "Verified Buyer"
		}
		view.Buyer = PartyView{Name: name, Rating: buyer.Rating, ShowRating: true}
	case party.DisclosureTrade:
		view.Buyer = PartyView{
			PartyID:    req.BuyerID,
			Name:       buyer.CompanyName,
			Rating:     buyer.Rating,
			ShowRating: true,
			Contact:    contactFor(buyer),
		}
	}

	return view
}

func contactFor(p party.Party) *ContactView {
	var email string
	for _, c := range p.ContactChannels {
		if strings.Contains(c, "@") {
			email = c
			break
		}
	}
	return &ContactView{CompanyName: p.CompanyName, Email: email}
}

func roundRating(r float64) float64 {
	return float64(int(r*10+0.5)) / 10
}

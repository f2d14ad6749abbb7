package matching

import (
	"math"
	"strings"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
)

const earthRadiusKm = 6371.0

// DefaultMaxDistanceKm is the fallback radius when a buyer location omits
// its own max_distance_km.
const DefaultMaxDistanceKm = 50.0

// haversineKm computes the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// locationMatches implements the buyer-location predicate: an exact
// location_id match always accepts; otherwise each buyer location is tried
// in turn — a state mismatch rejects that location outright, a city match
// accepts, and matching coordinates within max_distance_km (Haversine)
// accepts. No buyer location accepting rejects the candidate entirely.
func locationMatches(req *requirement.Requirement, avail *availability.Availability) bool {
	for _, loc := range req.DeliveryLocations {
		if loc.LocationID != "" && loc.LocationID == avail.LocationID {
			return true
		}
	}

	for _, loc := range req.DeliveryLocations {
		if loc.State != "" && avail.LocationState != "" && !strings.EqualFold(loc.State, avail.LocationState) {
			continue
		}
		if loc.City != "" && avail.LocationCity != "" && strings.EqualFold(loc.City, avail.LocationCity) {
			return true
		}
		if loc.Latitude != nil && loc.Longitude != nil && avail.Latitude != nil && avail.Longitude != nil {
			maxDist := DefaultMaxDistanceKm
			if loc.MaxDistanceKm != nil {
				maxDist = *loc.MaxDistanceKm
			}
			dist := haversineKm(*loc.Latitude, *loc.Longitude, *avail.Latitude, *avail.Longitude)
			if dist <= maxDist {
				return true
			}
		}
	}

	return false
}

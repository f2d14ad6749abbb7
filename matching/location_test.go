package matching

import (
	"testing"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
)

func f64ptr(v float64) *float64 { return &v }

func TestHaversineKm_ZeroForSamePoint(t *testing.T) {
	d := haversineKm(19.0760, 72.8777, 19.0760, 72.8777)
	if d > 0.001 {
		t.Fatalf("expected ~0 distance, got %v", d)
	}
}

func TestLocationMatches_ExactLocationIDAccepts(t *testing.T) {
	req := &requirement.Requirement{DeliveryLocations: []requirement.DeliveryLocation{{LocationID: "loc-1"}}}
	avail := &availability.Availability{LocationID: "loc-1"}
	if !locationMatches(req, avail) {
		t.Fatal("expected exact location id match to accept")
	}
}

func TestLocationMatches_StateMismatchRejects(t *testing.T) {
	req := &requirement.Requirement{DeliveryLocations: []requirement.DeliveryLocation{{LocationID: "other", State: "Gujarat"}}}
	avail := &availability.Availability{LocationID: "loc-9", LocationState: "Maharashtra"}
	if locationMatches(req, avail) {
		t.Fatal("expected cross-state mismatch to reject")
	}
}

func TestLocationMatches_CityMatchAccepts(t *testing.T) {
	req := &requirement.Requirement{DeliveryLocations: []requirement.DeliveryLocation{{LocationID: "other", State: "Maharashtra", City: "Mumbai"}}}
	avail := &availability.Availability{LocationID: "loc-9", LocationState: "Maharashtra", LocationCity: "mumbai"}
	if !locationMatches(req, avail) {
		t.Fatal("expected case-insensitive city match to accept")
	}
}

func TestLocationMatches_WithinMaxDistanceAccepts(t *testing.T) {
	req := &requirement.Requirement{DeliveryLocations: []requirement.DeliveryLocation{
		{LocationID: "other", Latitude: f64ptr(19.0760), Longitude: f64ptr(72.8777), MaxDistanceKm: f64ptr(50)},
	}}
	avail := &availability.Availability{LocationID: "loc-9", Latitude: f64ptr(19.10), Longitude: f64ptr(72.90)}
	if !locationMatches(req, avail) {
		t.Fatal("expected nearby coordinates within max distance to accept")
	}
}

func TestLocationMatches_BeyondMaxDistanceRejects(t *testing.T) {
	req := &requirement.Requirement{DeliveryLocations: []requirement.DeliveryLocation{
		{LocationID: "other", Latitude: f64ptr(19.0760), Longitude: f64ptr(72.8777), MaxDistanceKm: f64ptr(50)},
	}}
	avail := &availability.Availability{LocationID: "loc-9", Latitude: f64ptr(28.7041), Longitude: f64ptr(77.1025)} // Delhi
	if locationMatches(req, avail) {
		t.Fatal("expected distant coordinates to reject")
	}
}

func TestLocationMatches_NoAcceptingLocationRejects(t *testing.T) {
	req := &requirement.Requirement{DeliveryLocations: []requirement.DeliveryLocation{{LocationID: "other", State: "Gujarat", City: "Surat"}}}
	avail := &availability.Availability{LocationID: "loc-9", LocationState: "Gujarat", LocationCity: "Ahmedabad"}
	if locationMatches(req, avail) {
		t.Fatal("expected no accepting buyer location to reject")
	}
}

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rnrlcrm/tradedesk/domain/match"
	"github.com/rnrlcrm/tradedesk/internal/logging"
	"github.com/rnrlcrm/tradedesk/storage"
)

func testLogger() *logging.Logger {
	return logging.New("notify-test", "error", "text")
}

type recordingSender struct {
	sends []string
}

func (s *recordingSender) Send(ctx context.Context, userID, messageType string, channels []string, m match.Result) error {
	s.sends = append(s.sends, userID)
	return nil
}

func TestDispatcher_SecondNotifyWithinWindowIsSkipped(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	sender := &recordingSender{}
	d := New(gw, staticPreferences{}, sender, time.Minute, testLogger())

	m := match.Result{RequirementID: "req-1", AvailabilityID: "avail-1"}
	d.Notify(context.Background(), "seller-1", "new_buyer_match", m)
	d.Notify(context.Background(), "seller-1", "new_buyer_match", m)

	if len(sender.sends) != 1 {
		t.Fatalf("expected exactly 1 send within the rate window, got %d", len(sender.sends))
	}
	if d.Sent() != 1 {
		t.Fatalf("expected Sent()=1, got %d", d.Sent())
	}
	if d.Skipped() != 1 {
		t.Fatalf("expected Skipped()=1, got %d", d.Skipped())
	}
}

func TestDispatcher_DistinctRecipientsNotRateLimitedAgainstEachOther(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	sender := &recordingSender{}
	d := New(gw, staticPreferences{}, sender, time.Minute, testLogger())

	m := match.Result{RequirementID: "req-1", AvailabilityID: "avail-1"}
	d.Notify(context.Background(), "seller-1", "new_buyer_match", m)
	d.Notify(context.Background(), "seller-2", "new_buyer_match", m)

	if len(sender.sends) != 2 {
		t.Fatalf("expected 2 sends across distinct recipients, got %d", len(sender.sends))
	}
}

func TestDispatcher_ResolveBuyerAndSeller(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	d := New(gw, staticPreferences{}, &recordingSender{}, time.Minute, testLogger())

	if _, err := d.ResolveBuyer(context.Background(), "missing"); err == nil {
		t.Fatal("expected error resolving a missing requirement")
	}
	if _, err := d.ResolveSeller(context.Background(), "missing"); err == nil {
		t.Fatal("expected error resolving a missing availability")
	}
}

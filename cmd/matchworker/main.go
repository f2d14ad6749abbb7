// Command matchworker is the composition root for the Bilateral Matching
// Core: it wires storage, the risk orchestrator, the scorer, the validator,
// and the matching engine into the event-driven dispatcher (matchservice),
// then serves the ambient ops mux (health/ready/metrics) alongside it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/party"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
	"github.com/rnrlcrm/tradedesk/internal/config"
	"github.com/rnrlcrm/tradedesk/internal/events"
	"github.com/rnrlcrm/tradedesk/internal/logging"
	"github.com/rnrlcrm/tradedesk/internal/metrics"
	"github.com/rnrlcrm/tradedesk/internal/opsmux"
	"github.com/rnrlcrm/tradedesk/internal/runtime"
	"github.com/rnrlcrm/tradedesk/matching"
	"github.com/rnrlcrm/tradedesk/matchservice"
	"github.com/rnrlcrm/tradedesk/notify"
	"github.com/rnrlcrm/tradedesk/risk"
	"github.com/rnrlcrm/tradedesk/scoring"
	"github.com/rnrlcrm/tradedesk/storage"
	"github.com/rnrlcrm/tradedesk/validate"
)

const serviceName = "matchworker"

func main() {
	log := logging.NewFromEnv(serviceName)
	met := metrics.New(serviceName)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, parties, closeDB, err := buildStorage(ctx, log)
	if err != nil {
		log.WithError(err).Error("matchworker: storage init failed")
		os.Exit(1)
	}
	if closeDB != nil {
		defer closeDB()
	}

	orch := risk.New(risk.DefaultConfig(), risk.NoopMLEngine{})
	overrides := config.DefaultCommodityOverrides()
	scorer := scoring.New(scoring.DefaultConfig(), orch, overrides)
	validator := validate.New(validate.DefaultConfig(), orch)
	thresholds := make(map[string]float64, len(overrides))
	for commodityID, o := range overrides {
		thresholds[commodityID] = o.MinScoreThreshold
	}

	engine := matching.NewEngine(gw, parties, scorer, validator, buildRiskInput(parties), thresholds)

	bus := events.NewBus()
	notifier := notify.NewDefault(gw, log)

	svc := matchservice.New(gw, engine, notifier, bus, buildServiceConfig(), log, met)
	if err := svc.Start(ctx); err != nil {
		log.WithError(err).Error("matchworker: dispatcher start failed")
		os.Exit(1)
	}
	defer svc.Stop()

	mux := opsmux.New(config.GetEnv("MATCHWORKER_ADDR", ":8081"), log, func(context.Context) error {
		if healthy, detail := svc.HealthCheck(); !healthy {
			return fmt.Errorf("matchworker: %s", detail)
		}
		return nil
	})
	mux.Route("/debug/match/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(svc.Snapshot())
	})

	go func() {
		if err := mux.Start(); err != nil {
			log.WithError(err).Error("matchworker: ops mux stopped")
		}
	}()

	<-ctx.Done()
	log.WithFields(map[string]interface{}{}).Info("matchworker: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = mux.Shutdown(shutdownCtx)
}

// fullGateway is the gateway surface the composition root needs: the core
// storage.Gateway the matching engine reads/writes through, plus the
// recently-active lookups matchservice's safety-sweep cron uses. Both
// PostgresGateway and InMemoryGateway satisfy it structurally.
type fullGateway interface {
	storage.Gateway
	matchservice.SafetySweepGateway
}

// buildStorage wires either the Postgres-backed gateway/party store or, when
// DATABASE_URL is unset, the in-memory gateway — useful for local runs
// without a database.
func buildStorage(ctx context.Context, log *logging.Logger) (fullGateway, matching.PartyLookup, func(), error) {
	dsn := config.GetEnv("DATABASE_URL", "")
	if strings.TrimSpace(dsn) == "" {
		log.WithFields(map[string]interface{}{}).Info("matchworker: DATABASE_URL unset, using in-memory storage")
		mem := storage.NewInMemoryGateway()
		return mem, mem, nil, nil
	}

	sqlxDB, err := storage.Open(ctx, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	rawDB := sqlxDB.DB
	gw := storage.NewPostgresGateway(sqlxDB)
	partyStore := storage.NewPostgresPartyStore(rawDB)
	return gw, partyStore, func() { _ = sqlxDB.Close() }, nil
}

// buildServiceConfig starts from matchservice's defaults and applies
// MATCH_* env overrides via internal/runtime's Resolve helpers, so the
// safety-sweep cadence and batching can be tuned per deployment.
func buildServiceConfig() matchservice.Config {
	cfg := matchservice.DefaultConfig()
	cfg.BatchDelay = runtime.ResolveDuration(0, "MATCH_BATCH_DELAY", cfg.BatchDelay)
	cfg.MaxRetries = runtime.ResolveInt(0, "MATCH_MAX_RETRIES", cfg.MaxRetries)
	cfg.MaxMatchesToNotify = runtime.ResolveInt(0, "MATCH_MAX_MATCHES_TO_NOTIFY", cfg.MaxMatchesToNotify)
	cfg.SafetyCronEnabled = runtime.ResolveBool(cfg.SafetyCronEnabled, "MATCH_SAFETY_CRON_ENABLED")
	cfg.SafetyCronSchedule = runtime.ResolveString("", "MATCH_SAFETY_CRON_SCHEDULE", cfg.SafetyCronSchedule)
	cfg.SafetyLookback = runtime.ResolveDuration(0, "MATCH_SAFETY_LOOKBACK", cfg.SafetyLookback)
	return cfg
}

// buildRiskInput projects a requirement/availability/buyer/seller tuple into
// the Risk Orchestrator's CheckInput, reading GST/PAN/sanction/relation
// fields off the resolved party records instead of the canned test fixture
// values used in matching's own unit tests.
func buildRiskInput(parties matching.PartyLookup) matching.RiskInputBuilder {
	return func(req *requirement.Requirement, avail *availability.Availability, buyer, seller party.Party) risk.CheckInput {
		related := false
		for _, id := range buyer.RelatedPartyIDs {
			if id == seller.ID {
				related = true
				break
			}
		}
		return risk.CheckInput{
			BuyerID:                buyer.ID,
			SellerID:               seller.ID,
			CommodityID:            req.CommodityID,
			BuyerCountry:           buyer.Country,
			SellerCountry:          seller.Country,
			BuyerState:             buyer.State,
			SellerState:            seller.State,
			BuyerHasGST:            buyer.GSTNumber != "",
			SellerHasGST:           seller.GSTNumber != "",
			BuyerHasPAN:            buyer.PANNumber != "",
			SellerHasPAN:           seller.PANNumber != "",
			BuyerHasExportLicense:  buyer.ExportLicenseNo != "",
			SellerHasImportLicense: seller.ImportLicenseNo != "",
			IsSanctionedCommodityCountry: buyer.IsSanctioned || seller.IsSanctioned,
			PartyLinked:            related,
			RelatedOrganization:    buyer.OrganizationID != "" && buyer.OrganizationID == seller.OrganizationID,
		}
	}
}

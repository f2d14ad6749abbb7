package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/match"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
)

// PostgresGateway is the production Gateway backed by Postgres via sqlx.
// Table shapes are defined in the migrations package; this adapter issues
// plain parameterized SQL rather than an ORM.
type PostgresGateway struct {
	db *sqlx.DB
}

// NewPostgresGateway wraps an already-opened sqlx connection.
func NewPostgresGateway(db *sqlx.DB) *PostgresGateway {
	return &PostgresGateway{db: db}
}

// Open dials Postgres and verifies connectivity before returning.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	return db, nil
}

type requirementRow struct {
	ID               string          `db:"id"`
	Number           string          `db:"number"`
	BuyerID          string          `db:"buyer_id"`
	CommodityID      string          `db:"commodity_id"`
	VarietyID        sql.NullString  `db:"variety_id"`
	MinQty           float64         `db:"min_qty"`
	MaxQty           float64         `db:"max_qty"`
	PreferredQty     float64         `db:"preferred_qty"`
	QuantityUnit     string          `db:"quantity_unit"`
	Quality          json.RawMessage `db:"quality"`
	MaxBudgetPerUnit float64         `db:"max_budget_per_unit"`
	CurrencyCode     string          `db:"currency_code"`
	Status           string          `db:"status"`
	DestinationCountry sql.NullString `db:"destination_country"`
	PreferredIncoterm  sql.NullString `db:"preferred_incoterm"`
}

func (g *PostgresGateway) GetRequirement(ctx context.Context, id string, withRelations bool) (*requirement.Requirement, error) {
	var row requirementRow
	err := g.db.GetContext(ctx, &row, `
		SELECT id, number, buyer_id, commodity_id, variety_id, min_qty, max_qty,
		       preferred_qty, quantity_unit, quality, max_budget_per_unit,
		       currency_code, status, destination_country, preferred_incoterm
		FROM requirements WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get requirement: %w", err)
	}

	req := &requirement.Requirement{
		ID:           row.ID,
		Number:       row.Number,
		BuyerID:      row.BuyerID,
		CommodityID:  row.CommodityID,
		VarietyID:    row.VarietyID.String,
		Quantity: requirement.QuantityRange{
			Min: row.MinQty, Max: row.MaxQty, Preferred: row.PreferredQty, Unit: row.QuantityUnit,
		},
		MaxBudgetPerUnit:   row.MaxBudgetPerUnit,
		CurrencyCode:       row.CurrencyCode,
		Status:             requirement.Status(row.Status),
		DestinationCountry: row.DestinationCountry.String,
		PreferredIncoterm:  row.PreferredIncoterm.String,
	}
	if len(row.Quality) > 0 {
		var quality map[string]requirement.QualityConstraint
		if err := json.Unmarshal(row.Quality, &quality); err != nil {
			return nil, fmt.Errorf("storage: decode requirement quality: %w", err)
		}
		req.Quality = quality
	}

	if withRelations {
		locs, err := g.deliveryLocationsFor(ctx, id)
		if err != nil {
			return nil, err
		}
		req.DeliveryLocations = locs
	}

	return req, nil
}

func (g *PostgresGateway) deliveryLocationsFor(ctx context.Context, requirementID string) ([]requirement.DeliveryLocation, error) {
	rows, err := g.db.QueryxContext(ctx, `
		SELECT location_id, latitude, longitude, state, city, max_distance_km
		FROM requirement_delivery_locations WHERE requirement_id = $1`, requirementID)
	if err != nil {
		return nil, fmt.Errorf("storage: delivery locations: %w", err)
	}
	defer rows.Close()

	var out []requirement.DeliveryLocation
	for rows.Next() {
		var loc requirement.DeliveryLocation
		var lat, lon, maxDist sql.NullFloat64
		if err := rows.Scan(&loc.LocationID, &lat, &lon, &loc.State, &loc.City, &maxDist); err != nil {
			return nil, fmt.Errorf("storage: scan delivery location: %w", err)
		}
		if lat.Valid {
			loc.Latitude = &lat.Float64
		}
		if lon.Valid {
			loc.Longitude = &lon.Float64
		}
		if maxDist.Valid {
			loc.MaxDistanceKm = &maxDist.Float64
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

type availabilityRow struct {
	ID          string  `db:"id"`
	SellerID    string  `db:"seller_id"`
	CommodityID string  `db:"commodity_id"`
	LocationID  string  `db:"location_id"`
	Total       float64 `db:"total_qty"`
	Available   float64 `db:"available_qty"`
	Reserved    float64 `db:"reserved_qty"`
	Sold        float64 `db:"sold_qty"`
	BasePrice   float64 `db:"base_price"`
	Status      string  `db:"status"`
}

func (g *PostgresGateway) GetAvailability(ctx context.Context, id string, withRelations bool) (*availability.Availability, error) {
	var row availabilityRow
	err := g.db.GetContext(ctx, &row, `
		SELECT id, seller_id, commodity_id, location_id, total_qty, available_qty,
		       reserved_qty, sold_qty, base_price, status
		FROM availabilities WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get availability: %w", err)
	}

	return &availability.Availability{
		ID:          row.ID,
		SellerID:    row.SellerID,
		CommodityID: row.CommodityID,
		LocationID:  row.LocationID,
		Quantities: availability.Quantities{
			Total: row.Total, Available: row.Available, Reserved: row.Reserved, Sold: row.Sold,
		},
		BasePrice: row.BasePrice,
		Status:    availability.Status(row.Status),
	}, nil
}

// AvailabilitiesByLocation relies on an index on (location_id, commodity_id,
// status) (see migrations) to stay sub-linear; the query plan is a bitmap
// index scan, not a sequential scan of the table.
func (g *PostgresGateway) AvailabilitiesByLocation(ctx context.Context, locationIDs []string, commodityID string, status availability.Status) ([]*availability.Availability, error) {
	var rows []availabilityRow
	query, args, err := sqlxIn(`
		SELECT id, seller_id, commodity_id, location_id, total_qty, available_qty,
		       reserved_qty, sold_qty, base_price, status
		FROM availabilities
		WHERE location_id IN (?) AND commodity_id = ? AND status = ?`,
		locationIDs, commodityID, string(status))
	if err != nil {
		return nil, err
	}
	if err := g.db.SelectContext(ctx, &rows, g.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("storage: availabilities by location: %w", err)
	}

	out := make([]*availability.Availability, 0, len(rows))
	for _, row := range rows {
		out = append(out, &availability.Availability{
			ID: row.ID, SellerID: row.SellerID, CommodityID: row.CommodityID, LocationID: row.LocationID,
			Quantities: availability.Quantities{Total: row.Total, Available: row.Available, Reserved: row.Reserved, Sold: row.Sold},
			BasePrice:  row.BasePrice,
			Status:     availability.Status(row.Status),
		})
	}
	return out, nil
}

func (g *PostgresGateway) RequirementsByDeliveryLocation(ctx context.Context, locationID, commodityID string, status requirement.Status) ([]*requirement.Requirement, error) {
	var ids []string
	err := g.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT r.id FROM requirements r
		JOIN requirement_delivery_locations l ON l.requirement_id = r.id
		WHERE l.location_id = $1 AND r.commodity_id = $2 AND r.status = $3`,
		locationID, commodityID, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage: requirements by delivery location: %w", err)
	}

	out := make([]*requirement.Requirement, 0, len(ids))
	for _, id := range ids {
		req, err := g.GetRequirement(ctx, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// postgresAllocationHandle holds a `SELECT ... FOR UPDATE` row lock for the
// lifetime of the enclosing transaction; Commit/Rollback end that
// transaction exactly once.
type postgresAllocationHandle struct {
	tx    *sqlx.Tx
	id    string
	avail *availability.Availability
	done  bool
}

func (h *postgresAllocationHandle) Availability() *availability.Availability {
	return h.avail
}

func (h *postgresAllocationHandle) Commit(ctx context.Context) error {
	if h.done {
		return nil
	}
	q := h.avail.Quantities
	_, err := h.tx.ExecContext(ctx, `
		UPDATE availabilities SET available_qty = $1, reserved_qty = $2, sold_qty = $3, status = $4
		WHERE id = $5`, q.Available, q.Reserved, q.Sold, string(h.avail.Status), h.id)
	if err != nil {
		h.tx.Rollback()
		h.done = true
		return fmt.Errorf("storage: commit locked allocation: %w", err)
	}
	h.done = true
	return h.tx.Commit()
}

func (h *postgresAllocationHandle) Rollback(ctx context.Context) error {
	if h.done {
		return nil
	}
	h.done = true
	return h.tx.Rollback()
}

// UpdateAvailabilityForLockedAllocation opens a transaction and takes a
// `SELECT ... FOR UPDATE` row lock, held until the caller calls Commit or
// Rollback exactly once.
func (g *PostgresGateway) UpdateAvailabilityForLockedAllocation(ctx context.Context, id string) (AllocationHandle, error) {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin locked allocation: %w", err)
	}

	var row availabilityRow
	err = tx.GetContext(ctx, &row, `
		SELECT id, seller_id, commodity_id, location_id, total_qty, available_qty,
		       reserved_qty, sold_qty, base_price, status
		FROM availabilities WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return nil, ErrNotFound
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("storage: lock availability: %w", err)
	}

	avail := &availability.Availability{
		ID: row.ID, SellerID: row.SellerID, CommodityID: row.CommodityID, LocationID: row.LocationID,
		Quantities: availability.Quantities{Total: row.Total, Available: row.Available, Reserved: row.Reserved, Sold: row.Sold},
		BasePrice:  row.BasePrice,
		Status:     availability.Status(row.Status),
	}

	return &postgresAllocationHandle{tx: tx, id: id, avail: avail}, nil
}

func (g *PostgresGateway) AppendMatchAudit(ctx context.Context, records []match.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin append audit: %w", err)
	}
	for _, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO match_audit (id, requirement_id, availability_id, risk_status, risk_details,
			                          excluded, exclusion_reason, score, fingerprint, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (fingerprint) DO NOTHING`,
			rec.ID, rec.RequirementID, rec.AvailabilityID, rec.RiskStatus, rec.RiskDetails,
			rec.Excluded, string(rec.ExclusionReason), rec.Score, rec.Fingerprint, rec.CreatedAt)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: append match audit: %w", err)
		}
	}
	return tx.Commit()
}

func (g *PostgresGateway) SaveRequirement(ctx context.Context, req *requirement.Requirement) error {
	quality, err := json.Marshal(req.Quality)
	if err != nil {
		return fmt.Errorf("storage: encode requirement quality: %w", err)
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO requirements (id, number, buyer_id, commodity_id, variety_id, min_qty, max_qty,
		                          preferred_qty, quantity_unit, quality, max_budget_per_unit,
		                          currency_code, status, destination_country, preferred_incoterm)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, quality = EXCLUDED.quality, max_budget_per_unit = EXCLUDED.max_budget_per_unit`,
		req.ID, req.Number, req.BuyerID, req.CommodityID, req.VarietyID,
		req.Quantity.Min, req.Quantity.Max, req.Quantity.Preferred, req.Quantity.Unit,
		quality, req.MaxBudgetPerUnit, req.CurrencyCode, string(req.Status),
		req.DestinationCountry, req.PreferredIncoterm)
	if err != nil {
		return fmt.Errorf("storage: save requirement: %w", err)
	}
	return nil
}

func (g *PostgresGateway) SaveAvailability(ctx context.Context, avail *availability.Availability) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO availabilities (id, seller_id, commodity_id, location_id, total_qty, available_qty,
		                            reserved_qty, sold_qty, base_price, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			available_qty = EXCLUDED.available_qty, reserved_qty = EXCLUDED.reserved_qty,
			sold_qty = EXCLUDED.sold_qty, status = EXCLUDED.status`,
		avail.ID, avail.SellerID, avail.CommodityID, avail.LocationID,
		avail.Quantities.Total, avail.Quantities.Available, avail.Quantities.Reserved, avail.Quantities.Sold,
		avail.BasePrice, string(avail.Status))
	if err != nil {
		return fmt.Errorf("storage: save availability: %w", err)
	}
	return nil
}

// RecentlyActiveRequirementIDs returns ids of ACTIVE requirements created
// since the given time, for the matchservice safety sweep.
func (g *PostgresGateway) RecentlyActiveRequirementIDs(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := g.db.SelectContext(ctx, &ids, `
		SELECT id FROM requirements WHERE status = 'ACTIVE' AND created_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("storage: recently active requirements: %w", err)
	}
	return ids, nil
}

// RecentlyActiveAvailabilityIDs returns ids of ACTIVE availabilities created
// since the given time, for the matchservice safety sweep.
func (g *PostgresGateway) RecentlyActiveAvailabilityIDs(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := g.db.SelectContext(ctx, &ids, `
		SELECT id FROM availabilities WHERE status = 'ACTIVE' AND created_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("storage: recently active availabilities: %w", err)
	}
	return ids, nil
}

// sqlxIn expands a `?`-placeholder query's `IN (?)` clause for a slice
// argument via sqlx.In, ahead of the caller's db.Rebind for Postgres's `$n`
// placeholder style.
func sqlxIn(query string, args ...interface{}) (string, []interface{}, error) {
	return sqlx.In(query, args...)
}

var _ Gateway = (*PostgresGateway)(nil)

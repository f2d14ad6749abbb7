package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/rnrlcrm/tradedesk/domain/party"
)

// PostgresPartyStore implements matching.PartyLookup against the `parties`
// table. Kept separate from PostgresGateway because partner management is
// an external collaborator in production — a real deployment would swap
// this for an HTTP client against the partner service and leave the
// matching engine's PartyLookup interface untouched.
type PostgresPartyStore struct {
	db *sql.DB
}

// NewPostgresPartyStore wraps an already-opened database handle.
func NewPostgresPartyStore(db *sql.DB) *PostgresPartyStore {
	return &PostgresPartyStore{db: db}
}

type partyRow struct {
	ID              string
	OrganizationID  string
	CompanyName     string
	Country         string
	State           string
	City            string
	Rating          float64
	ContactChannels pq.StringArray
	GSTNumber       sql.NullString
	PANNumber       sql.NullString
	ExportLicenseNo sql.NullString
	ImportLicenseNo sql.NullString
	IsSanctioned    bool
	RelatedPartyIDs pq.StringArray
	TrustScore      float64
}

// GetParty implements matching.PartyLookup.
func (s *PostgresPartyStore) GetParty(ctx context.Context, id string) (party.Party, error) {
	var row partyRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, company_name, country, state, city, rating,
		       contact_channels, gst_number, pan_number, export_license_no,
		       import_license_no, is_sanctioned, related_party_ids, trust_score
		FROM parties WHERE id = $1`, id).Scan(
		&row.ID, &row.OrganizationID, &row.CompanyName, &row.Country, &row.State, &row.City, &row.Rating,
		&row.ContactChannels, &row.GSTNumber, &row.PANNumber, &row.ExportLicenseNo,
		&row.ImportLicenseNo, &row.IsSanctioned, &row.RelatedPartyIDs, &row.TrustScore)
	if errors.Is(err, sql.ErrNoRows) {
		return party.Party{}, ErrNotFound
	}
	if err != nil {
		return party.Party{}, fmt.Errorf("storage: get party: %w", err)
	}

	return party.Party{
		ID:              row.ID,
		OrganizationID:  row.OrganizationID,
		CompanyName:     row.CompanyName,
		Country:         row.Country,
		State:           row.State,
		City:            row.City,
		Rating:          row.Rating,
		ContactChannels: []string(row.ContactChannels),
		GSTNumber:       row.GSTNumber.String,
		PANNumber:       row.PANNumber.String,
		ExportLicenseNo: row.ExportLicenseNo.String,
		ImportLicenseNo: row.ImportLicenseNo.String,
		IsSanctioned:    row.IsSanctioned,
		RelatedPartyIDs: []string(row.RelatedPartyIDs),
		TrustScore:      row.TrustScore,
	}, nil
}

// SaveParty upserts a party record.
func (s *PostgresPartyStore) SaveParty(ctx context.Context, p party.Party) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parties (id, organization_id, company_name, country, state, city, rating,
		                      contact_channels, gst_number, pan_number, export_license_no,
		                      import_license_no, is_sanctioned, related_party_ids, trust_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			rating = EXCLUDED.rating, is_sanctioned = EXCLUDED.is_sanctioned, trust_score = EXCLUDED.trust_score`,
		p.ID, p.OrganizationID, p.CompanyName, p.Country, p.State, p.City, p.Rating,
		pq.Array(p.ContactChannels), p.GSTNumber, p.PANNumber, p.ExportLicenseNo,
		p.ImportLicenseNo, p.IsSanctioned, pq.Array(p.RelatedPartyIDs), p.TrustScore)
	if err != nil {
		return fmt.Errorf("storage: save party: %w", err)
	}
	return nil
}

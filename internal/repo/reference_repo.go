package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/basego/server/internal/model"
)

// ReferenceRepo serves read-only reference data
type ReferenceRepo interface {
	ListCountries(ctx context.Context) ([]model.Country, error)
	ListTimeZones(ctx context.Context) ([]model.TimeZone, error)
}

type referenceRepo struct {
	db *sql.DB
}

// NewReferenceRepo creates a new ReferenceRepo instance
func NewReferenceRepo(db *sql.DB) ReferenceRepo {
	return &referenceRepo{db: db}
}

func (r *referenceRepo) ListCountries(ctx context.Context) ([]model.Country, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, common_name, official_name, iso2_code, iso3_code, calling_code, currency_code, is_enabled, is_hidden
		FROM countries ORDER BY common_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list countries: %w", err)
	}
	defer rows.Close()

	var out []model.Country
	for rows.Next() {
		var c model.Country
		if err := rows.Scan(&c.ID, &c.CommonName, &c.OfficialName, &c.ISO2Code, &c.ISO3Code,
			&c.CallingCode, &c.CurrencyCode, &c.IsEnabled, &c.IsHidden); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *referenceRepo) ListTimeZones(ctx context.Context) ([]model.TimeZone, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, abbrev, utc_offset::text, is_dst FROM pg_timezone_names ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list time zones: %w", err)
	}
	defer rows.Close()

	var out []model.TimeZone
	for rows.Next() {
		var tz model.TimeZone
		if err := rows.Scan(&tz.Name, &tz.Abbrev, &tz.UTCOffset, &tz.IsDST); err != nil {
			return nil, fmt.Errorf("scan time zone: %w", err)
		}
		out = append(out, tz)
	}
	return out, rows.Err()
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"listing_scrooper/models"
)

// PostgresStore keeps canonical records in Postgres when DATABASE_URL is
// set. Runs and logs stay in SQLite either way.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS property_records (
			site_key TEXT NOT NULL,
			identity_hash TEXT NOT NULL,
			listing_url TEXT,
			fields JSONB NOT NULL,
			quality_score DOUBLE PRECISION,
			scrape_timestamp TIMESTAMPTZ,
			classification_unknown BOOLEAN NOT NULL DEFAULT FALSE,
			enrichment_error TEXT,
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (site_key, identity_hash)
		);
		CREATE INDEX IF NOT EXISTS idx_property_records_quality ON property_records(site_key, quality_score);
	`)
	return err
}

func (s *PostgresStore) GetRecord(ctx context.Context, siteKey, identityHash string) (*models.PropertyRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT site_key, identity_hash, COALESCE(listing_url, ''), fields, quality_score, scrape_timestamp,
			classification_unknown, COALESCE(enrichment_error, '')
		FROM property_records WHERE site_key = $1 AND identity_hash = $2`, siteKey, identityHash)

	rec, err := scanPgRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *models.PropertyRecord) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO property_records (site_key, identity_hash, listing_url, fields, quality_score,
			scrape_timestamp, classification_unknown, enrichment_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (site_key, identity_hash) DO UPDATE SET
			listing_url = EXCLUDED.listing_url,
			fields = EXCLUDED.fields,
			quality_score = EXCLUDED.quality_score,
			scrape_timestamp = EXCLUDED.scrape_timestamp,
			classification_unknown = EXCLUDED.classification_unknown,
			enrichment_error = EXCLUDED.enrichment_error,
			updated_at = NOW()`,
		rec.SiteKey, rec.IdentityHash, rec.ListingURL, fields, rec.QualityScore,
		rec.ScrapeTimestamp, rec.ClassificationUnknown, rec.EnrichmentError)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.IdentityHash, err)
	}
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, siteKey string, minQuality float64) ([]models.PropertyRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT site_key, identity_hash, COALESCE(listing_url, ''), fields, quality_score, scrape_timestamp,
			classification_unknown, COALESCE(enrichment_error, '')
		FROM property_records
		WHERE site_key = $1 AND quality_score >= $2
		ORDER BY quality_score DESC, identity_hash`, siteKey, minQuality)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.PropertyRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanPgRecord(row pgx.Row) (*models.PropertyRecord, error) {
	var rec models.PropertyRecord
	var fields []byte
	err := row.Scan(&rec.SiteKey, &rec.IdentityHash, &rec.ListingURL, &fields, &rec.QualityScore,
		&rec.ScrapeTimestamp, &rec.ClassificationUnknown, &rec.EnrichmentError)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields for %s: %w", rec.IdentityHash, err)
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]models.Value)
	}
	return &rec, nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"listing_scrooper/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS property_records (
		site_key TEXT NOT NULL,
		identity_hash TEXT NOT NULL,
		listing_url TEXT,
		fields JSON NOT NULL,
		quality_score REAL,
		scrape_timestamp DATETIME,
		classification_unknown BOOLEAN DEFAULT FALSE,
		enrichment_error TEXT,
		first_seen_at DATETIME,
		updated_at DATETIME,
		PRIMARY KEY (site_key, identity_hash)
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id TEXT PRIMARY KEY,
		site_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		pages_visited INTEGER DEFAULT 0,
		candidates_found INTEGER DEFAULT 0,
		records_new INTEGER DEFAULT 0,
		records_updated INTEGER DEFAULT 0,
		records_exported INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		event TEXT,
		message TEXT,
		site_id TEXT
	);

	CREATE TABLE IF NOT EXISTS site_stats (
		site_id TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		total_records INTEGER,
		avg_quality REAL,
		success_rate REAL,
		avg_run_duration_sec INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_records_quality ON property_records(site_key, quality_score);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetRecord returns nil, nil when the identity has never been stored.
func (s *SQLiteStore) GetRecord(ctx context.Context, siteKey, identityHash string) (*models.PropertyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT site_key, identity_hash, listing_url, fields, quality_score, scrape_timestamp,
			classification_unknown, COALESCE(enrichment_error, '')
		FROM property_records WHERE site_key = ? AND identity_hash = ?`, siteKey, identityHash)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *models.PropertyRecord) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO property_records (site_key, identity_hash, listing_url, fields, quality_score,
			scrape_timestamp, classification_unknown, enrichment_error, first_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_key, identity_hash) DO UPDATE SET
			listing_url = excluded.listing_url,
			fields = excluded.fields,
			quality_score = excluded.quality_score,
			scrape_timestamp = excluded.scrape_timestamp,
			classification_unknown = excluded.classification_unknown,
			enrichment_error = excluded.enrichment_error,
			updated_at = excluded.updated_at`,
		rec.SiteKey, rec.IdentityHash, rec.ListingURL, string(fields), rec.QualityScore,
		rec.ScrapeTimestamp.UTC(), rec.ClassificationUnknown, rec.EnrichmentError, now, now)
	return err
}

// ListRecords returns a site's records scoring at least minQuality, best
// first.
func (s *SQLiteStore) ListRecords(ctx context.Context, siteKey string, minQuality float64) ([]models.PropertyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_key, identity_hash, listing_url, fields, quality_score, scrape_timestamp,
			classification_unknown, COALESCE(enrichment_error, '')
		FROM property_records
		WHERE site_key = ? AND quality_score >= ?
		ORDER BY quality_score DESC, identity_hash`, siteKey, minQuality)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.PropertyRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.PropertyRecord, error) {
	var rec models.PropertyRecord
	var fields string
	var listingURL sql.NullString
	err := row.Scan(&rec.SiteKey, &rec.IdentityHash, &listingURL, &fields, &rec.QualityScore,
		&rec.ScrapeTimestamp, &rec.ClassificationUnknown, &rec.EnrichmentError)
	if err != nil {
		return nil, err
	}
	rec.ListingURL = listingURL.String
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields for %s: %w", rec.IdentityHash, err)
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]models.Value)
	}
	return &rec, nil
}

// CreateRun inserts a running row, assigning an ID when the caller did not.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (id, site_id, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.SiteID, run.StartedAt, run.Status)
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_runs SET finished_at = ?, status = ?, pages_visited = ?, candidates_found = ?,
			records_new = ?, records_updated = ?, records_exported = ?, errors_count = ?, error = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.PagesVisited, run.CandidatesFound,
		run.RecordsNew, run.RecordsUpdated, run.RecordsExported, run.ErrorsCount, run.Error, run.ID)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.ScrapeRun, error) {
	var run models.ScrapeRun
	var finished sql.NullTime
	var runErr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, started_at, finished_at, status, pages_visited, candidates_found,
			records_new, records_updated, records_exported, errors_count, error
		FROM scrape_runs WHERE id = ?`, id).Scan(
		&run.ID, &run.SiteID, &run.StartedAt, &finished, &run.Status, &run.PagesVisited,
		&run.CandidatesFound, &run.RecordsNew, &run.RecordsUpdated, &run.RecordsExported,
		&run.ErrorsCount, &runErr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	run.Error = runErr.String
	return &run, nil
}

func (s *SQLiteStore) Log(ctx context.Context, runID string, level models.LogLevel, event models.EventType, message, siteID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_logs (run_id, timestamp, level, event, message, site_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), level, event, message, siteID)
	return err
}

func (s *SQLiteStore) GetRunLogs(ctx context.Context, runID string) ([]models.ScrapeLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, COALESCE(event, ''), message, site_id
		FROM scrape_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Event, &l.Message, &l.SiteID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) UpdateSiteStats(ctx context.Context, siteID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_stats (site_id, last_run_at, last_run_status, total_records,
			avg_quality, success_rate, avg_run_duration_sec)
		SELECT
			?,
			(SELECT started_at FROM scrape_runs WHERE site_id = ? ORDER BY started_at DESC LIMIT 1),
			(SELECT status FROM scrape_runs WHERE site_id = ? ORDER BY started_at DESC LIMIT 1),
			(SELECT COUNT(*) FROM property_records WHERE site_key = ?),
			(SELECT COALESCE(AVG(quality_score), 0) FROM property_records WHERE site_key = ?),
			(SELECT CAST(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS REAL) /
				NULLIF(COUNT(*), 0) FROM scrape_runs WHERE site_id = ?),
			(SELECT CAST(AVG((julianday(finished_at) - julianday(started_at)) * 86400) AS INTEGER)
				FROM scrape_runs WHERE site_id = ? AND finished_at IS NOT NULL)
		ON CONFLICT(site_id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			total_records = excluded.total_records,
			avg_quality = excluded.avg_quality,
			success_rate = excluded.success_rate,
			avg_run_duration_sec = excluded.avg_run_duration_sec`,
		siteID, siteID, siteID, siteID, siteID, siteID, siteID)
	return err
}

func (s *SQLiteStore) GetSiteStats(ctx context.Context, siteID string) (*models.SiteStats, error) {
	var st models.SiteStats
	var lastRun sql.NullTime
	var status sql.NullString
	var success sql.NullFloat64
	var avgDuration sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT site_id, last_run_at, last_run_status, COALESCE(total_records, 0),
			COALESCE(avg_quality, 0), success_rate, avg_run_duration_sec
		FROM site_stats WHERE site_id = ?`, siteID).Scan(
		&st.SiteID, &lastRun, &status, &st.TotalRecords, &st.AvgQuality, &success, &avgDuration)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		st.LastRunAt = &lastRun.Time
	}
	st.LastRunStatus = status.String
	st.SuccessRate = success.Float64
	st.AvgRunDurationSec = int(avgDuration.Int64)
	return &st, nil
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"listing_scrooper/models"
)

// Exporter publishes a run's canonical records as JSON Lines.
type Exporter interface {
	Export(ctx context.Context, siteKey, runID string, records []models.PropertyRecord) error
}

// ExportKey is "<site>/<YYYY-MM-DD>/<run>.jsonl".
func ExportKey(siteKey, runID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.jsonl", siteKey, at.UTC().Format("2006-01-02"), runID)
}

// ExportRow flattens a record for consumers: each field becomes its plain
// value. Absent fields are omitted rather than null.
func ExportRow(rec models.PropertyRecord) map[string]any {
	row := map[string]any{
		"identity_hash":    rec.IdentityHash,
		"site_key":         rec.SiteKey,
		"listing_url":      rec.ListingURL,
		"quality_score":    rec.QualityScore,
		"scrape_timestamp": rec.ScrapeTimestamp.UTC().Format(time.RFC3339),
	}
	if rec.ClassificationUnknown {
		row["classification_unknown"] = true
	}
	if rec.EnrichmentError != "" {
		row["enrichment_error"] = rec.EnrichmentError
	}
	for k, v := range rec.Fields {
		switch v.Kind {
		case models.KindInt:
			row[k] = v.Int
		case models.KindDecimal:
			row[k] = v.Decimal
		case models.KindList:
			row[k] = v.List
		default:
			row[k] = v.Text
		}
	}
	return row
}

func encodeJSONL(records []models.PropertyRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(ExportRow(rec)); err != nil {
			return nil, fmt.Errorf("encode %s: %w", rec.IdentityHash, err)
		}
	}
	return buf.Bytes(), nil
}

type JSONLExporter struct {
	Dir string
	now func() time.Time
}

func NewJSONLExporter(dir string) *JSONLExporter {
	return &JSONLExporter{Dir: dir, now: time.Now}
}

func (e *JSONLExporter) Export(ctx context.Context, siteKey, runID string, records []models.PropertyRecord) error {
	data, err := encodeJSONL(records)
	if err != nil {
		return err
	}
	path := filepath.Join(e.Dir, filepath.FromSlash(ExportKey(siteKey, runID, e.now())))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	log.Printf("Exported %d records to %s", len(records), path)
	return nil
}

type S3Exporter struct {
	uploader *S3Uploader
	prefix   string
	now      func() time.Time
}

func NewS3Exporter(uploader *S3Uploader, prefix string) *S3Exporter {
	return &S3Exporter{uploader: uploader, prefix: prefix, now: time.Now}
}

func (e *S3Exporter) Export(ctx context.Context, siteKey, runID string, records []models.PropertyRecord) error {
	data, err := encodeJSONL(records)
	if err != nil {
		return err
	}
	key := ExportKey(siteKey, runID, e.now())
	if e.prefix != "" {
		key = e.prefix + "/" + key
	}
	if err := e.uploader.Upload(ctx, key, bytes.NewReader(data), "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	log.Printf("Uploaded %d records to s3://%s/%s", len(records), e.uploader.bucket, key)
	return nil
}

// MultiExporter runs every exporter and joins their errors.
type MultiExporter []Exporter

func (m MultiExporter) Export(ctx context.Context, siteKey, runID string, records []models.PropertyRecord) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, siteKey, runID, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

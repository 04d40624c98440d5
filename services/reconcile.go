package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"listing_scrooper/models"
	"listing_scrooper/telemetry"
)

// RecordStore is the record sink: it persists PropertyRecords keyed by
// site and identity hash.
type RecordStore interface {
	GetRecord(ctx context.Context, siteKey, identityHash string) (*models.PropertyRecord, error)
	UpsertRecord(ctx context.Context, rec *models.PropertyRecord) error
}

// RecordService folds a run's records into the store. It is the only writer
// of stored records and runs single-threaded after enrichment completes.
type RecordService struct {
	store         RecordStore
	merger        *Merger
	events        telemetry.Sink
	conflictRatio float64
}

func NewRecordService(store RecordStore, merger *Merger, events telemetry.Sink) *RecordService {
	if events == nil {
		events = telemetry.Discard
	}
	return &RecordService{
		store:         store,
		merger:        merger,
		events:        events,
		conflictRatio: DefaultConflictRatio,
	}
}

type ReconcileStats struct {
	Processed int `json:"processed"`
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`
}

func (s *ReconcileStats) ToJSON() []byte {
	data, _ := json.Marshal(s)
	return data
}

// Reconcile merges each record with its stored version and upserts the
// result. It returns the canonical records as stored. Per-record store
// errors are counted and skipped; only cancellation stops the batch.
func (s *RecordService) Reconcile(ctx context.Context, records []models.PropertyRecord) (*ReconcileStats, []models.PropertyRecord, error) {
	stats := &ReconcileStats{}
	out := make([]models.PropertyRecord, 0, len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, out, err
		}
		stats.Processed++

		merged, err := s.reconcileOne(ctx, rec, stats)
		if err != nil {
			stats.Errors++
			log.Printf("Warning: reconcile %s: %v", rec.ListingURL, err)
			continue
		}
		out = append(out, merged)
	}

	return stats, out, nil
}

func (s *RecordService) reconcileOne(ctx context.Context, rec models.PropertyRecord, stats *ReconcileStats) (models.PropertyRecord, error) {
	existing, err := s.store.GetRecord(ctx, rec.SiteKey, rec.IdentityHash)
	if err != nil {
		return rec, fmt.Errorf("get record: %w", err)
	}

	merged := rec
	if existing != nil {
		if fields := Conflicts(*existing, rec, s.conflictRatio); len(fields) > 0 {
			stats.Conflicts++
			s.events.Emit(models.Event{
				Type:    models.EventMergeConflict,
				Level:   models.LogLevelWarn,
				SiteKey: rec.SiteKey,
				URL:     rec.ListingURL,
				Count:   len(fields),
				Message: "conflicting " + strings.Join(fields, ", ") + " for " + rec.IdentityHash,
			})
		}
		merged = s.merger.Merge(*existing, rec)
		if merged.Equal(*existing) {
			stats.Unchanged++
			return merged, nil
		}
	}

	if err := s.store.UpsertRecord(ctx, &merged); err != nil {
		return rec, fmt.Errorf("upsert record: %w", err)
	}
	if existing == nil {
		stats.New++
	} else {
		stats.Updated++
	}
	return merged, nil
}

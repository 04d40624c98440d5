package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"listing_scrooper/config"
	"listing_scrooper/fetch"
	"listing_scrooper/geo"
	"listing_scrooper/models"
	"listing_scrooper/services"
	"listing_scrooper/storage"
	"listing_scrooper/telemetry"
)

// RunStore keeps run bookkeeping and the persisted event log.
type RunStore interface {
	telemetry.LogWriter
	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	UpdateRun(ctx context.Context, run *models.ScrapeRun) error
	UpdateSiteStats(ctx context.Context, siteID string) error
}

// FactoryFunc builds the fetcher factory for a site's fetcher kind.
type FactoryFunc func(kind string, cfg config.FetchConfig) (fetch.Factory, error)

type SiteResult struct {
	SiteID    string
	RunID     string
	Records   []models.PropertyRecord
	Stats     *RunStats
	Reconcile *services.ReconcileStats
	Err       error
}

type Orchestrator struct {
	cfg        *config.Config
	runs       RunStore
	records    services.RecordStore
	scorer     *services.Scorer
	newFactory FactoryFunc
	exporter   storage.Exporter
	geocoder   geo.Geocoder
	events     telemetry.Sink
}

func NewOrchestrator(cfg *config.Config, runs RunStore, records services.RecordStore) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		runs:       runs,
		records:    records,
		scorer:     services.NewScorer(),
		newFactory: fetch.NewFactory,
		events:     telemetry.LogSink{},
	}
}

// SetServices injects the optional collaborators. Nil leaves a stage off.
func (o *Orchestrator) SetServices(exporter storage.Exporter, geocoder geo.Geocoder) {
	o.exporter = exporter
	o.geocoder = geocoder
}

func (o *Orchestrator) SetFactory(fn FactoryFunc) {
	o.newFactory = fn
}

func (o *Orchestrator) SetEvents(sink telemetry.Sink) {
	o.events = sink
}

// RunAll scrapes every configured site, at most SiteConcurrency at a time.
// Results are in site id order. One site failing never stops the others.
func (o *Orchestrator) RunAll(ctx context.Context) []SiteResult {
	ids := o.GetSiteIDs()
	results := make([]SiteResult, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.SiteConcurrency, 1))
	for i, id := range ids {
		g.Go(func() error {
			results[i] = o.RunSite(ctx, id)
			if err := results[i].Err; err != nil {
				log.Printf("Error running site %s: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) RunSite(ctx context.Context, siteID string) SiteResult {
	result := SiteResult{SiteID: siteID}

	siteCfg, ok := o.cfg.Sites[siteID]
	if !ok {
		result.Err = fmt.Errorf("unknown site: %s", siteID)
		return result
	}

	run := &models.ScrapeRun{
		ID:        uuid.NewString(),
		SiteID:    siteID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		result.Err = fmt.Errorf("create run: %w", err)
		return result
	}
	result.RunID = run.ID

	counter := telemetry.NewCounter()
	events := telemetry.Scoped{
		Sink:    telemetry.Multi(o.events, telemetry.NewStoreSink(o.runs), counter),
		SiteKey: siteID,
		RunID:   run.ID,
	}
	events.Emit(models.Event{
		Type:    models.EventRunStarted,
		Message: fmt.Sprintf("Starting scrape for %s", siteCfg.Name),
	})

	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		// The run must be closed out even when ctx was canceled.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.runs.UpdateRun(finishCtx, run); err != nil {
			log.Printf("Warning: failed to update run %s: %v", run.ID, err)
		}
		if err := o.runs.UpdateSiteStats(finishCtx, siteID); err != nil {
			log.Printf("Warning: failed to update site stats for %s: %v", siteID, err)
		}
	}()

	fail := func(err error) SiteResult {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		run.ErrorsCount = counter.Count(models.EventPageFetchFailed) + counter.Count(models.EventDetailFetchFailed) + 1
		evType := models.EventRunFailed
		if errors.Is(err, config.ErrConfigurationMissing) {
			evType = models.EventConfigurationMissing
		}
		events.Emit(models.Event{Type: evType, Level: models.LogLevelError, Message: err.Error()})
		result.Err = err
		return result
	}

	factory, err := o.newFactory(siteCfg.Fetcher, o.cfg.Fetch)
	if err != nil {
		return fail(fmt.Errorf("create fetcher factory: %w", err))
	}
	defer func() {
		if err := factory.Close(); err != nil {
			log.Printf("Warning: failed to close fetcher for %s: %v", siteID, err)
		}
	}()

	pipeline, err := NewPipeline(siteCfg, Deps{
		Factory:   factory,
		Normalize: o.cfg.Normalize,
		Scorer:    o.scorer,
		Geocoder:  o.geocoder,
		Events:    events,
	})
	if err != nil {
		return fail(err)
	}

	records, stats, err := pipeline.Run(ctx, run.ID)
	result.Stats = stats
	if stats != nil {
		run.PagesVisited = stats.PagesVisited
		run.CandidatesFound = stats.CandidatesFound
	}
	if err != nil {
		return fail(err)
	}

	recon, canonical, err := services.NewRecordService(o.records, services.NewMerger(o.scorer), events).Reconcile(ctx, records)
	result.Reconcile = recon
	run.RecordsNew = recon.New
	run.RecordsUpdated = recon.Updated
	if err != nil {
		return fail(fmt.Errorf("reconcile: %w", err))
	}

	passing := o.scorer.FilterByQuality(canonical, o.cfg.QualityThreshold)
	result.Records = passing

	exportErrors := 0
	if o.exporter != nil && len(passing) > 0 {
		if err := o.exporter.Export(ctx, siteID, run.ID, passing); err != nil {
			exportErrors++
			log.Printf("Warning: export for %s failed: %v", siteID, err)
		} else {
			run.RecordsExported = len(passing)
		}
	}

	run.ErrorsCount = counter.Count(models.EventPageFetchFailed) + counter.Count(models.EventDetailFetchFailed) +
		recon.Errors + exportErrors
	run.Status = models.RunStatusCompleted
	events.Emit(models.Event{
		Type:  models.EventRunCompleted,
		Count: len(passing),
		Message: fmt.Sprintf("Completed: %d records, %d new, %d updated, %d above quality %.2f",
			len(canonical), recon.New, recon.Updated, len(passing), o.cfg.QualityThreshold),
	})

	return result
}

// GetSiteIDs returns configured site ids in a stable order.
func (o *Orchestrator) GetSiteIDs() []string {
	return o.cfg.SiteIDs()
}

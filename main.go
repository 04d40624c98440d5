package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"listing_scrooper/config"
	"listing_scrooper/geo"
	"listing_scrooper/httputil"
	"listing_scrooper/logging"
	"listing_scrooper/models"
	"listing_scrooper/scraper"
	"listing_scrooper/services"
	"listing_scrooper/storage"
	"listing_scrooper/telemetry"
)

var (
	siteFlag = flag.String("site", "", "Scrape only this site id (default: all sites)")
	listFlag = flag.Bool("list", false, "List configured sites and their last run, then exit")
	noExport = flag.Bool("no-export", false, "Skip JSONL/S3 export")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.SetLevel(cfg.LogLevel)
	logFile, err := logging.Setup(cfg.LogFile, cfg.LogMaxMB)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Printf("Loaded %d site configs", len(cfg.Sites))
	for _, id := range cfg.SiteIDs() {
		log.Printf("  - %s (%s, %s)", cfg.Sites[id].Name, id, cfg.Sites[id].Fetcher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SQLite holds runs and logs, and records unless Postgres is configured
	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	if *listFlag {
		listSites(ctx, cfg, sqliteStore)
		return
	}

	var records services.RecordStore = sqliteStore
	if cfg.DatabaseURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		records = pgStore
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
	}

	clients, err := httputil.NewClients(cfg.Fetch)
	if err != nil {
		log.Fatalf("Failed to create HTTP clients: %v", err)
	}

	var exporter storage.Exporter
	if !*noExport {
		exporters := storage.MultiExporter{storage.NewJSONLExporter(cfg.Export.Dir)}
		if cfg.Export.S3.Enabled() {
			uploader, err := storage.NewS3Uploader(ctx, cfg.Export.S3)
			if err != nil {
				log.Fatalf("Failed to create S3 uploader: %v", err)
			}
			exporters = append(exporters, storage.NewS3Exporter(uploader, "exports"))
			log.Printf("S3 export: s3://%s/exports", cfg.Export.S3.Bucket)
		}
		exporter = exporters
	}

	var geocoder geo.Geocoder
	if anyGeocoded(cfg) {
		geocoder = geo.NewNominatim(clients.API, cfg.Geocoder.URL, cfg.Geocoder.Email, nil)
	}

	orchestrator := scraper.NewOrchestrator(cfg, sqliteStore, records)
	orchestrator.SetServices(exporter, geocoder)
	orchestrator.SetEvents(telemetry.LogSink{})

	var results []scraper.SiteResult
	if *siteFlag != "" {
		results = []scraper.SiteResult{orchestrator.RunSite(ctx, *siteFlag)}
	} else {
		results = orchestrator.RunAll(ctx)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log.Printf("[%s] %s: run %s failed: %v", models.LogLevelError, r.SiteID, r.RunID, r.Err)
			continue
		}
		log.Printf("[%s] %s: run %s exported %d records", models.LogLevelInfo, r.SiteID, r.RunID, len(r.Records))
	}

	if ctx.Err() != nil {
		log.Println("Interrupted")
	}
	if failed > 0 {
		log.Printf("%d of %d sites failed", failed, len(results))
		os.Exit(1)
	}
	log.Println("Scrape complete!")
}

func listSites(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) {
	for _, id := range cfg.SiteIDs() {
		site := cfg.Sites[id]
		line := fmt.Sprintf("%-24s %-10s %d seeds", id, site.Fetcher, len(site.Seeds))
		if err := site.Validate(); err != nil {
			line += "  (" + err.Error() + ")"
		}

		stats, err := store.GetSiteStats(ctx, id)
		if err != nil {
			log.Printf("Warning: site stats for %s: %v", id, err)
		}
		if stats != nil && stats.LastRunAt != nil {
			line += fmt.Sprintf("  last run %s %s, %d records, avg quality %.2f, success %.0f%%",
				stats.LastRunAt.Format("2006-01-02 15:04"), stats.LastRunStatus,
				stats.TotalRecords, stats.AvgQuality, stats.SuccessRate*100)
		}
		fmt.Println(line)
	}
}

func anyGeocoded(cfg *config.Config) bool {
	for _, site := range cfg.Sites {
		if site.Geocode {
			return true
		}
	}
	return false
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}

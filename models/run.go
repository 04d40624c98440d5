package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ScrapeRun struct {
	ID              string     `json:"id" db:"id"`
	SiteID          string     `json:"site_id" db:"site_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
	Status          RunStatus  `json:"status" db:"status"`
	PagesVisited    int        `json:"pages_visited" db:"pages_visited"`
	CandidatesFound int        `json:"candidates_found" db:"candidates_found"`
	RecordsNew      int        `json:"records_new" db:"records_new"`
	RecordsUpdated  int        `json:"records_updated" db:"records_updated"`
	RecordsExported int        `json:"records_exported" db:"records_exported"`
	ErrorsCount     int        `json:"errors_count" db:"errors_count"`
	Error           string     `json:"error,omitempty" db:"error"`
}

type SiteStats struct {
	SiteID            string     `json:"site_id" db:"site_id"`
	LastRunAt         *time.Time `json:"last_run_at" db:"last_run_at"`
	LastRunStatus     string     `json:"last_run_status" db:"last_run_status"`
	TotalRecords      int        `json:"total_records" db:"total_records"`
	AvgQuality        float64    `json:"avg_quality" db:"avg_quality"`
	SuccessRate       float64    `json:"success_rate" db:"success_rate"`
	AvgRunDurationSec int        `json:"avg_run_duration_sec" db:"avg_run_duration_sec"`
}

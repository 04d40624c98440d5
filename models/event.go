package models

import "time"

type EventType string

const (
	EventCandidatesFound      EventType = "candidates_found"
	EventCandidatesRejected   EventType = "candidates_rejected_as_category"
	EventDetailFetchFailed    EventType = "detail_fetch_failed"
	EventDetailFetchSkipped   EventType = "detail_fetch_skipped"
	EventDirectoryExpanded    EventType = "directory_expanded"
	EventExtractionEmpty      EventType = "extraction_empty"
	EventPageFetchFailed      EventType = "page_fetch_failed"
	EventMergeConflict        EventType = "merge_conflict"
	EventConfigurationMissing EventType = "configuration_missing"
	EventRunStarted           EventType = "run_started"
	EventRunCompleted         EventType = "run_completed"
	EventRunFailed            EventType = "run_failed"
)

// Event is a structured progress signal. Formatting and routing belong to
// the telemetry sinks.
type Event struct {
	Type    EventType `json:"type"`
	Level   LogLevel  `json:"level"`
	SiteKey string    `json:"site_key"`
	RunID   string    `json:"run_id,omitempty"`
	URL     string    `json:"url,omitempty"`
	Count   int       `json:"count,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

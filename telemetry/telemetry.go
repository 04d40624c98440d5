// Package telemetry routes pipeline events to logs and the run store. The
// pipeline only emits models.Event values; it never formats log lines.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"listing_scrooper/logging"
	"listing_scrooper/models"
)

// Sink receives events. Implementations must be safe for concurrent use;
// enrichment workers emit from several goroutines.
type Sink interface {
	Emit(ev models.Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(models.Event) {}

// LogSink writes events through the standard logger as "[level] site: msg".
type LogSink struct{}

func (LogSink) Emit(ev models.Event) {
	level := ev.Level
	if level == "" {
		level = models.LogLevelInfo
	}
	if !logging.Enabled(level) {
		return
	}
	log.Printf("[%s] %s: %s", level, ev.SiteKey, Format(ev))
}

// Format renders an event as a single human-readable message.
func Format(ev models.Event) string {
	msg := string(ev.Type)
	if ev.Count != 0 {
		msg += fmt.Sprintf(" count=%d", ev.Count)
	}
	if ev.URL != "" {
		msg += " url=" + ev.URL
	}
	if ev.Message != "" {
		msg += ": " + ev.Message
	}
	return msg
}

// LogWriter is the part of a store that persists scrape logs.
type LogWriter interface {
	Log(ctx context.Context, runID string, level models.LogLevel, event models.EventType, message, siteID string) error
}

// StoreSink persists events at info level and above to the scrape_logs table.
type StoreSink struct {
	store LogWriter
}

func NewStoreSink(store LogWriter) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Emit(ev models.Event) {
	if ev.Level == models.LogLevelDebug {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Log(ctx, ev.RunID, ev.Level, ev.Type, Format(ev), ev.SiteKey); err != nil {
		log.Printf("Warning: failed to persist event %s: %v", ev.Type, err)
	}
}

type multi []Sink

func (m multi) Emit(ev models.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// Multi fans every event out to all sinks in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

// Counter tallies events by type. It is used for run statistics and tests.
type Counter struct {
	mu     sync.Mutex
	counts map[models.EventType]int
	events []models.Event
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[models.EventType]int)}
}

func (c *Counter) Emit(ev models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[ev.Type]++
	c.events = append(c.events, ev)
}

// Count returns how many events of type t were emitted.
func (c *Counter) Count(t models.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}

// Sum adds up the Count payload of every event of type t.
func (c *Counter) Sum(t models.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, ev := range c.events {
		if ev.Type == t {
			total += ev.Count
		}
	}
	return total
}

func (c *Counter) Events() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.events...)
}

// Scoped stamps site, run and time onto events before forwarding them.
type Scoped struct {
	Sink    Sink
	SiteKey string
	RunID   string
}

func (s Scoped) Emit(ev models.Event) {
	if ev.SiteKey == "" {
		ev.SiteKey = s.SiteKey
	}
	if ev.RunID == "" {
		ev.RunID = s.RunID
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.Level == "" {
		ev.Level = models.LogLevelInfo
	}
	s.Sink.Emit(ev)
}

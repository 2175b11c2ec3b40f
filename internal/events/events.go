// Package events publishes run lifecycle notifications. The extraction core
// never emits events itself; the batch runner and the HTTP server do.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type names a run event
type Type string

const (
	RunStarted   Type = "run_started"
	RunProgress  Type = "run_progress"
	RunCompleted Type = "run_completed"
)

// Run statuses reported in completion summaries
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is one notification about a scraper run
type Event struct {
	Type      Type        `json:"type"`
	ScraperID string      `json:"scraperId"`
	RunID     string      `json:"runId"`
	Timestamp int64       `json:"timestamp"`
	Progress  *int        `json:"progress,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Summary describes how a run ended
type Summary struct {
	Status          string `json:"status"`
	ItemsExtracted  int    `json:"itemsExtracted"`
	EngineUsed      string `json:"engineUsed,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	RetryCount      int    `json:"retryCount"`
	ErrorCount      int    `json:"errorCount"`
	ErrorCode       string `json:"errorCode,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Summarize builds a completion summary from an extraction outcome
func Summarize(res *models.ExtractionResult, err error, elapsed time.Duration) Summary {
	if err != nil {
		return Summary{
			Status:          StatusFailed,
			ExecutionTimeMs: elapsed.Milliseconds(),
			ErrorCode:       string(engine.CodeOf(err)),
			Error:           err.Error(),
		}
	}
	return Summary{
		Status:          StatusCompleted,
		ItemsExtracted:  res.Metadata.ItemsExtracted,
		EngineUsed:      res.Metadata.EngineUsed,
		ExecutionTimeMs: res.Metadata.ExecutionTimeMs,
		RetryCount:      res.Metadata.RetryCount,
		ErrorCount:      res.Metadata.ErrorCount,
	}
}

// Sink receives events
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// LogSink writes events to the structured log
type LogSink struct{}

func (LogSink) Publish(_ context.Context, ev Event) error {
	e := log.Info().
		Str("event", string(ev.Type)).
		Str("scraper_id", ev.ScraperID).
		Str("run_id", ev.RunID)
	if ev.Progress != nil {
		e = e.Int("progress", *ev.Progress)
	}
	if s, ok := ev.Data.(Summary); ok {
		e = e.Str("status", s.Status).Int("items", s.ItemsExtracted)
		if s.Error != "" {
			e = e.Str("error", s.Error)
		}
	}
	e.Msg("Run event")
	return nil
}

// Multi fans an event out to several sinks and joins their errors
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds background work
func (m Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close(context.Context) error }); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Run publishes the events of one scraper run
type Run struct {
	ScraperID string
	RunID     string

	sink Sink
	mu   sync.Mutex
	last int
	now  func() time.Time
}

// NewRun starts tracking a run with a fresh run id
func NewRun(sink Sink, scraperID string) *Run {
	if sink == nil {
		sink = Discard{}
	}
	return &Run{
		ScraperID: scraperID,
		RunID:     uuid.NewString(),
		sink:      sink,
		last:      -1,
		now:       time.Now,
	}
}

func (r *Run) publish(ctx context.Context, ev Event) {
	ev.ScraperID = r.ScraperID
	ev.RunID = r.RunID
	ev.Timestamp = r.now().UnixMilli()
	if err := r.sink.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Type)).Str("run_id", r.RunID).Msg("Failed to publish run event")
	}
}

// Started announces the run. Data is attached verbatim.
func (r *Run) Started(ctx context.Context, data interface{}) {
	r.publish(ctx, Event{Type: RunStarted, Data: data})
}

// Progress reports done out of total as a percentage. Repeated or
// decreasing percentages are not published.
func (r *Run) Progress(ctx context.Context, done, total int) {
	if total <= 0 {
		return
	}
	pct := done * 100 / total
	pct = min(max(pct, 0), 100)

	r.mu.Lock()
	if pct <= r.last {
		r.mu.Unlock()
		return
	}
	r.last = pct
	r.mu.Unlock()

	r.publish(ctx, Event{Type: RunProgress, Progress: &pct})
}

// Completed announces the end of the run
func (r *Run) Completed(ctx context.Context, s Summary) {
	r.publish(ctx, Event{Type: RunCompleted, Data: s})
}

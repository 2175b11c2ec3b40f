package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/pkg/models"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *memorySink) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

type failingSink struct{}

func (failingSink) Publish(context.Context, Event) error { return errors.New("down") }

func TestRun_Lifecycle(t *testing.T) {
	sink := &memorySink{}
	run := NewRun(sink, "scraper-1")
	ctx := context.Background()

	run.Started(ctx, map[string]string{"url": "https://x.test"})
	run.Progress(ctx, 1, 4)
	run.Progress(ctx, 1, 4) // duplicate percentage is dropped
	run.Progress(ctx, 4, 4)
	run.Completed(ctx, Summary{Status: StatusCompleted, ItemsExtracted: 3})

	if len(sink.events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(sink.events))
	}
	wantTypes := []Type{RunStarted, RunProgress, RunProgress, RunCompleted}
	for i, ev := range sink.events {
		if ev.Type != wantTypes[i] {
			t.Errorf("Event %d: expected %s, got %s", i, wantTypes[i], ev.Type)
		}
		if ev.ScraperID != "scraper-1" || ev.RunID != run.RunID || ev.RunID == "" {
			t.Errorf("Event %d has wrong ids: %+v", i, ev)
		}
	}
	if *sink.events[1].Progress != 25 || *sink.events[2].Progress != 100 {
		t.Errorf("Unexpected progress values %d, %d", *sink.events[1].Progress, *sink.events[2].Progress)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	sink := &memorySink{}
	err := Multi{sink, failingSink{}, nil}.Publish(context.Background(), Event{Type: RunStarted})
	if err == nil {
		t.Error("Expected error from failing sink")
	}
	if len(sink.events) != 1 {
		t.Errorf("Expected healthy sink to still receive the event")
	}
}

func TestSummarize(t *testing.T) {
	res := &models.ExtractionResult{Metadata: models.ResultMetadata{ItemsExtracted: 2, EngineUsed: "browser", RetryCount: 1}}
	s := Summarize(res, nil, time.Second)
	if s.Status != StatusCompleted || s.ItemsExtracted != 2 || s.EngineUsed != "browser" {
		t.Errorf("Unexpected summary: %+v", s)
	}

	failed := Summarize(nil, engine.RetriesExhausted(4, errors.New("boom")), 1500*time.Millisecond)
	if failed.Status != StatusFailed || failed.ErrorCode != "RETRIES_EXHAUSTED" || failed.ExecutionTimeMs != 1500 {
		t.Errorf("Unexpected failure summary: %+v", failed)
	}
}

func TestWebhookSink_SignsPayload(t *testing.T) {
	var gotSig string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "s3cret")
	ev := Event{Type: RunCompleted, ScraperID: "a", RunID: "b", Data: Summary{Status: StatusCompleted}}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if gotSig != Sign("s3cret", gotBody) {
		t.Errorf("Signature mismatch: %s", gotSig)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("Body is not JSON: %v", err)
	}
	if decoded["type"] != "run_completed" || decoded["scraperId"] != "a" {
		t.Errorf("Unexpected payload: %v", decoded)
	}
}

func TestWebhookSink_Retries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "")
	sink.Delays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	if err := sink.Deliver(context.Background(), Event{Type: RunStarted}); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 deliveries, got %d", calls.Load())
	}
}

func TestWebhookSink_GivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "")
	sink.Delays = []time.Duration{time.Millisecond}
	if err := sink.Deliver(context.Background(), Event{Type: RunStarted}); err == nil {
		t.Error("Expected error after exhausting retries")
	}
}

func TestWebhookSink_PublishDoesNotWaitForEndpoint(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	defer close(release)

	sink := NewWebhookSink(server.URL, "")
	run := NewRun(sink, "products")

	start := time.Now()
	run.Started(context.Background(), nil)
	run.Progress(context.Background(), 1, 2)
	run.Completed(context.Background(), Summary{Status: StatusCompleted})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Publishing blocked on a hung endpoint for %v", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sink.Close(ctx); err == nil {
		t.Error("Expected Close to report undelivered events when ctx ends")
	}
	if err := sink.Publish(context.Background(), Event{Type: RunStarted}); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Expected ErrSinkClosed after Close, got %v", err)
	}
}

func TestWebhookSink_CloseDrainsQueue(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "")
	for i := 0; i < 3; i++ {
		if err := sink.Publish(context.Background(), Event{Type: RunProgress}); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := (Multi{LogSink{}, sink}).Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 deliveries before Close returned, got %d", calls.Load())
	}
}

func TestWebhookSink_QueueFullDrops(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	sink := NewWebhookSink(server.URL, "")
	sink.QueueSize = 1
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_ = sink.Close(ctx)
	}()

	var dropped int
	for i := 0; i < 5; i++ {
		if err := sink.Publish(context.Background(), Event{Type: RunProgress}); err != nil {
			dropped++
		}
	}
	if dropped == 0 {
		t.Error("Expected events to be dropped once the queue is full")
	}
}

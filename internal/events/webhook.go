package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SignatureHeader carries the HMAC-SHA256 of the body as "sha256=<hex>"
const SignatureHeader = "X-Khoj-Signature"

// ErrSinkClosed is returned by Publish after Close
var ErrSinkClosed = errors.New("webhook: sink is closed")

// DefaultQueueSize bounds the events waiting for delivery
const DefaultQueueSize = 256

// WebhookSink POSTs events as JSON to a URL. Publish only queues the event;
// a background worker delivers it with retries, so a slow or failing
// endpoint never holds up an extraction.
type WebhookSink struct {
	URL    string
	Secret string
	Client *http.Client

	// Delays between delivery attempts; the first attempt is immediate.
	Delays []time.Duration

	// QueueSize is read when the first event is published
	QueueSize int

	once   sync.Once
	mu     sync.Mutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWebhookSink creates a sink with a 10s client and three retries
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		URL:    url,
		Secret: secret,
		Client: &http.Client{Timeout: 10 * time.Second},
		Delays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
	}
}

func (w *WebhookSink) start() {
	w.once.Do(func() {
		size := w.QueueSize
		if size <= 0 {
			size = DefaultQueueSize
		}
		w.queue = make(chan Event, size)
		w.ctx, w.cancel = context.WithCancel(context.Background())
		w.wg.Add(1)
		go w.run()
	})
}

func (w *WebhookSink) run() {
	defer w.wg.Done()
	for ev := range w.queue {
		if err := w.Deliver(w.ctx, ev); err != nil {
			log.Error().Err(err).Str("url", w.URL).Str("event", string(ev.Type)).Str("run_id", ev.RunID).
				Msg("Webhook delivery exhausted all retries")
		}
	}
}

// Publish queues ev for delivery and returns immediately. A full queue
// drops the event with an error rather than blocking the caller.
func (w *WebhookSink) Publish(_ context.Context, ev Event) error {
	w.start()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrSinkClosed
	}
	select {
	case w.queue <- ev:
		return nil
	default:
		return fmt.Errorf("webhook: queue full, dropped %s event", ev.Type)
	}
}

// Close stops accepting events and waits for the queue to drain. When ctx
// ends first, pending retries are abandoned.
func (w *WebhookSink) Close(ctx context.Context) error {
	w.start()
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return fmt.Errorf("webhook: drain: %w", ctx.Err())
	}
}

// Sign returns the signature header value for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends ev synchronously, retrying on failure until the delays run
// out or ctx ends
func (w *WebhookSink) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(w.Delays); attempt++ {
		if attempt > 0 {
			t := time.NewTimer(w.Delays[attempt-1])
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("webhook: %w (last error: %v)", ctx.Err(), lastErr)
			}
		}
		if lastErr = w.deliver(ctx, body); lastErr == nil {
			log.Debug().Str("url", w.URL).Str("event", string(ev.Type)).Int("attempt", attempt+1).Msg("Webhook delivered")
			return nil
		}
		log.Warn().Err(lastErr).Str("url", w.URL).Str("event", string(ev.Type)).Int("attempt", attempt+1).Msg("Webhook delivery failed")
	}
	return lastErr
}

func (w *WebhookSink) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Khoj-Webhook/1.0")
	if w.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.Secret, body))
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

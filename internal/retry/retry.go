// internal/retry/retry.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Loopxo/khoj/internal/engine"
	"github.com/rs/zerolog/log"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	InitialBackoff time.Duration // Backoff unit; the first retry waits InitialBackoff * Multiplier
	Multiplier     float64       // Backoff multiplier
}

// DefaultConfig returns the 1s x 2^n schedule (2s, 4s, 8s, ...)
func DefaultConfig() Config {
	return Config{
		InitialBackoff: 1 * time.Second,
		Multiplier:     2.0,
	}
}

// Controller runs an attempt function until it succeeds or the budget is spent
type Controller struct {
	cfg Config

	// OnRetry, if set, is called before each backoff wait
	OnRetry func(attempt int, backoff time.Duration, err error)
}

// New creates a Controller; zero fields in cfg fall back to DefaultConfig
func New(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	return &Controller{cfg: cfg}
}

// Do calls fn up to maxRetries+1 times. It returns the number of retries
// consumed. When every attempt fails the error is RETRIES_EXHAUSTED wrapping
// the last failure. Backoff waits return early if ctx is cancelled.
func (c *Controller) Do(ctx context.Context, maxRetries int, fn func(ctx context.Context, attempt int) error) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				log.Debug().
					Int("attempts", attempt+1).
					Msg("Retry succeeded")
			}
			return attempt, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, fmt.Errorf("extraction abandoned: %w", ctxErr)
		}

		if !engine.IsRetryable(err) {
			log.Debug().
				Err(err).
				Msg("Error is not retryable")
			return attempt, err
		}

		if attempt >= maxRetries {
			break
		}

		backoff := c.Backoff(attempt + 1)
		log.Debug().
			Int("attempt", attempt+1).
			Int("max_attempts", maxRetries+1).
			Dur("backoff", backoff).
			Err(err).
			Msg("Retrying after backoff")
		if c.OnRetry != nil {
			c.OnRetry(attempt+1, backoff, err)
		}

		// Wait for backoff duration or context cancellation
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("extraction abandoned during backoff: %w", ctx.Err())
		}
	}

	log.Warn().
		Int("attempts", maxRetries+1).
		Err(lastErr).
		Msg("Max retry attempts exceeded")

	return maxRetries, engine.RetriesExhausted(maxRetries+1, lastErr)
}

// Backoff returns the wait before the given retry (1-based):
// InitialBackoff * Multiplier^retry, uncapped.
func (c *Controller) Backoff(retry int) time.Duration {
	backoff := float64(c.cfg.InitialBackoff) * math.Pow(c.cfg.Multiplier, float64(retry))
	if backoff > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(backoff)
}

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

// StatusCoder is an interface for errors that provide an HTTP status code
type StatusCoder interface {
	GetStatusCode() int
}

func (e HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s - %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

func (e HTTPError) GetStatusCode() int {
	return e.StatusCode
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, status string, message string) HTTPError {
	return HTTPError{
		StatusCode: statusCode,
		Status:     status,
		Message:    message,
	}
}

// StatusCode extracts an HTTP status from err's chain, or 0
func StatusCode(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.GetStatusCode()
	}
	return 0
}

// Package reqctx carries a per-extraction request ID through contexts.
package reqctx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ctxKey struct{}

// RequestContext identifies one extraction for logs and errors
type RequestContext struct {
	RequestID string
	StartTime time.Time
}

// Elapsed is the time since the extraction started
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.StartTime)
}

// WithRequestContext returns ctx unchanged if it already has a request,
// otherwise attaches one with a new UUID.
func WithRequestContext(ctx context.Context) context.Context {
	if _, ok := lookup(ctx); ok {
		return ctx
	}
	return WithRequestID(ctx, uuid.NewString())
}

// WithRequestID starts a request with a caller-chosen ID, such as a job or run ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, &RequestContext{RequestID: id, StartTime: time.Now()})
}

func lookup(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok
}

// GetRequestContext never returns nil; a bare context reports the ID "unknown"
func GetRequestContext(ctx context.Context) *RequestContext {
	if rc, ok := lookup(ctx); ok {
		return rc
	}
	return &RequestContext{RequestID: "unknown", StartTime: time.Now()}
}

// RequestError prefixes an error with the request that produced it
type RequestError struct {
	RequestID string
	Err       error
}

func (e *RequestError) Error() string { return fmt.Sprintf("[%s] %v", e.RequestID, e.Err) }

func (e *RequestError) Unwrap() error { return e.Err }

// NewRequestError tags err with ctx's request ID
func NewRequestError(ctx context.Context, err error) error {
	return &RequestError{RequestID: GetRequestContext(ctx).RequestID, Err: err}
}

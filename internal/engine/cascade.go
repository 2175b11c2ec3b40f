// internal/engine/cascade.go
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/Loopxo/khoj/internal/extract"
	"github.com/Loopxo/khoj/pkg/models"
	"github.com/rs/zerolog/log"
)

// Outcome is the result of one cascade attempt
type Outcome struct {
	Records []models.Record
	Engine  models.Engine
	Page    *Page
}

// Step is one strategy in the cascade. Continue reports whether the next
// step should run given this step's outcome; nil means stop.
type Step struct {
	Engine   models.Engine
	Continue func(out *Outcome, err error) bool
}

// Plan returns the ordered steps for an engine
func Plan(e models.Engine) []Step {
	switch e {
	case models.EngineHTTP:
		return []Step{{Engine: models.EngineHTTP}}
	case models.EngineBrowser, models.EngineStealthBrowser:
		return []Step{{Engine: e}}
	default:
		return []Step{
			{Engine: models.EngineHTTP, Continue: fallThrough},
			{Engine: models.EngineBrowser},
		}
	}
}

// fallThrough moves on to the browser when HTTP found nothing or could not fetch
func fallThrough(out *Outcome, err error) bool {
	if err != nil {
		return errors.Is(err, ErrFetchFailure) && !errors.Is(err, ErrExtractionFailure)
	}
	return out == nil || len(out.Records) == 0
}

// Cascade runs a request through its planned strategies
type Cascade struct {
	strategies map[models.Engine]Strategy
}

// NewCascade registers strategies by the engine name they report
func NewCascade(strategies ...Strategy) *Cascade {
	c := &Cascade{strategies: make(map[models.Engine]Strategy, len(strategies))}
	for _, s := range strategies {
		if s != nil {
			c.strategies[models.Engine(s.Name())] = s
		}
	}
	return c
}

// Strategy returns the strategy registered for e
func (c *Cascade) Strategy(e models.Engine) (Strategy, bool) {
	s, ok := c.strategies[e]
	return s, ok
}

// Run makes a single attempt: fetch, extract, and fall through per the plan.
// Failures come back as EXTRACTION_FAILURE wrapping the underlying error.
func (c *Cascade) Run(ctx context.Context, req *models.ExtractionRequest, plan *extract.Plan) (*Outcome, error) {
	// The stealth flag only feeds the pool fingerprint; only an explicit
	// stealth-browser engine reaches the stealth strategy.
	steps := Plan(req.Options.Engine)

	for i, step := range steps {
		out, err := c.runStep(ctx, step.Engine, req, plan)
		if i < len(steps)-1 && step.Continue != nil && step.Continue(out, err) {
			ev := log.Debug().Str("url", req.URL).Str("from", string(step.Engine)).Str("to", string(steps[i+1].Engine))
			if err != nil {
				ev = ev.Err(err)
			} else if out != nil && out.Page != nil {
				ev = ev.Bool("client_rendered", extract.LooksClientRendered(out.Page.HTML)).
					Str("framework", extract.DetectFramework(out.Page.HTML))
			}
			ev.Msg("Falling back to next engine")
			continue
		}
		if err != nil {
			return nil, asExtractionFailure(step.Engine, err)
		}
		return out, nil
	}
	return nil, ExtractionFailure("empty plan", ErrNoStrategy)
}

func (c *Cascade) runStep(ctx context.Context, e models.Engine, req *models.ExtractionRequest, plan *extract.Plan) (*Outcome, error) {
	s, ok := c.strategies[e]
	if !ok {
		return nil, ValidationError(fmt.Sprintf("engine %s is not available", e), ErrNoStrategy)
	}

	page, err := s.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	records, err := plan.RunHTML(page.HTML)
	if err != nil {
		return nil, ExtractionFailure("failed to parse document", err)
	}

	log.Debug().
		Str("url", req.URL).
		Str("engine", s.Name()).
		Int("records", len(records)).
		Msg("Extraction step finished")

	return &Outcome{Records: records, Engine: e, Page: page}, nil
}

func asExtractionFailure(e models.Engine, err error) error {
	var ee *EngineError
	if errors.As(err, &ee) && (ee.Code == ErrCodeExtraction || ee.Code == ErrCodeValidation) {
		return err
	}
	wrapped := ExtractionFailure(fmt.Sprintf("%s engine failed", e), err)
	wrapped.Retry = IsRetryable(err)
	return wrapped.WithDetail("engine", string(e))
}

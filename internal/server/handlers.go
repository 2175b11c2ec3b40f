package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Loopxo/khoj/internal/cache"
	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/internal/events"
	"github.com/Loopxo/khoj/internal/jobs"
	"github.com/Loopxo/khoj/internal/orchestrator"
	"github.com/Loopxo/khoj/pkg/models"
)

// ErrorDetail is the body of every error response
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": ErrorDetail{Code: code, Message: message}}
}

// statusFor maps an extraction error to an HTTP status
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch engine.CodeOf(err) {
	case engine.ErrCodeValidation:
		return http.StatusBadRequest
	case engine.ErrCodeExtraction:
		return http.StatusUnprocessableEntity
	case engine.ErrCodeFetch, engine.ErrCodeRetriesExhausted:
		return http.StatusBadGateway
	case engine.ErrCodePool:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := string(engine.CodeOf(err))
	if code == "" {
		code = "INTERNAL"
	}
	c.JSON(statusFor(err), errorBody(code, err.Error()))
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status          string `json:"status"`
	Uptime          string `json:"uptime"`
	UptimeSeconds   int64  `json:"uptimeSeconds"`
	PooledProcesses int    `json:"pooledProcesses"`
	Scrapers        int    `json:"scrapers"`
	Version         string `json:"version"`

	Cache *cache.Stats `json:"cache,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	uptime := time.Since(s.started)
	resp := HealthResponse{
		Status:          "healthy",
		Uptime:          uptime.Round(time.Second).String(),
		UptimeSeconds:   int64(uptime.Seconds()),
		PooledProcesses: s.extractor.PooledProcesses(),
		Scrapers:        len(s.jobs.List()),
		Version:         Version,
	}
	if s.cache != nil {
		st := s.cache.Stats()
		resp.Cache = &st
	}
	c.JSON(http.StatusOK, resp)
}

// extract handles POST /v1/extract synchronously
func (s *Server) extract(c *gin.Context) {
	var req models.ExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(string(engine.ErrCodeValidation), err.Error()))
		return
	}

	res, err := s.extractor.Run(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// registerScraper handles POST /v1/scrapers. The id defaults to the slug of the name.
func (s *Server) registerScraper(c *gin.Context) {
	var job jobs.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(string(engine.ErrCodeValidation), err.Error()))
		return
	}
	if job.ID == "" {
		job.ID = jobs.Slug(job.Name)
	}
	if job.ID == "" {
		c.JSON(http.StatusBadRequest, errorBody(string(engine.ErrCodeValidation), "scraper needs an id or a name"))
		return
	}

	probe := job.ExtractionRequest
	if err := orchestrator.Validate(&probe); err != nil {
		respondError(c, err)
		return
	}

	_, exists := s.jobs.Get(job.ID)
	s.jobs.Put(job)
	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	c.JSON(status, job)
}

func (s *Server) listScrapers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scrapers": s.jobs.List()})
}

func (s *Server) getScraper(c *gin.Context) {
	job, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("NOT_FOUND", "unknown scraper "+c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, job)
}

// RunAccepted is returned when a scraper run is queued
type RunAccepted struct {
	ScraperID string `json:"scraperId"`
	RunID     string `json:"runId"`
	Status    string `json:"status"`
}

// runScraper handles POST /v1/scrapers/:id/run. The run proceeds in the
// background and reports through run events.
func (s *Server) runScraper(c *gin.Context) {
	job, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("NOT_FOUND", "unknown scraper "+c.Param("id")))
		return
	}

	run := events.NewRun(s.sink, job.ID)
	req := job.ExtractionRequest

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		ctx := s.runCtx

		run.Started(ctx, gin.H{"url": req.URL, "engine": req.Options.Engine})
		run.Progress(ctx, 0, 1)
		start := time.Now()
		res, err := s.extractor.Run(ctx, &req)
		run.Progress(ctx, 1, 1)
		run.Completed(ctx, events.Summarize(res, err, time.Since(start)))
	}()

	c.JSON(http.StatusAccepted, RunAccepted{ScraperID: job.ID, RunID: run.RunID, Status: "running"})
}

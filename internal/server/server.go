// Package server exposes extraction and registered scrapers over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Loopxo/khoj/internal/cache"
	"github.com/Loopxo/khoj/internal/events"
	"github.com/Loopxo/khoj/internal/jobs"
	"github.com/Loopxo/khoj/pkg/models"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Extractor runs extractions and reports pooled browser processes
type Extractor interface {
	Run(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error)
	PooledProcesses() int
}

// Config wires the server's collaborators
type Config struct {
	Extractor Extractor
	Jobs      *jobs.Registry
	Events    events.Sink
	APIKeys   []string

	// Cache is reported on /health when set
	Cache StatsSource
}

// StatsSource exposes result cache statistics
type StatsSource interface {
	Stats() cache.Stats
}

// Server serves the HTTP API. Scraper runs started through it continue in
// the background until they finish or Shutdown cancels them.
type Server struct {
	extractor Extractor
	jobs      *jobs.Registry
	sink      events.Sink
	cache     StatsSource
	router    *gin.Engine
	started   time.Time

	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup

	mu   sync.Mutex
	http *http.Server
}

// New creates a server and its routes
func New(cfg Config) *Server {
	if cfg.Jobs == nil {
		cfg.Jobs = jobs.NewRegistry()
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		extractor: cfg.Extractor,
		jobs:      cfg.Jobs,
		sink:      cfg.Events,
		cache:     cfg.Cache,
		started:   time.Now(),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	s.router = s.routes(cfg.APIKeys)
	return s
}

// routes builds the gin engine.
//
// Middleware chain:
//
//	Global: Recovery, request log
//	/v1:    Auth (when API keys are configured)
//
// Health stays outside auth so probes always work.
func (s *Server) routes(apiKeys []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/health", s.health)

	v1 := r.Group("/v1")
	v1.Use(auth(apiKeys))
	v1.POST("/extract", s.extract)
	v1.POST("/scrapers", s.registerScraper)
	v1.GET("/scrapers", s.listScrapers)
	v1.GET("/scrapers/:id", s.getScraper)
	v1.POST("/scrapers/:id/run", s.runScraper)

	return r
}

// Handler returns the HTTP handler for the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until Shutdown is called
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	log.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight scraper runs.
// Runs still going when ctx expires are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Cancelling unfinished scraper runs")
		s.cancelRun()
		<-done
	}
	s.cancelRun()
	return err
}

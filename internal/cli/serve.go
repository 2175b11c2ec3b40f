package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Loopxo/khoj/internal/jobs"
	"github.com/Loopxo/khoj/internal/server"
)

var (
	serveAddr string
	serveJobs string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the extraction API over HTTP",
	Long: `Starts an HTTP server exposing:

  POST /v1/extract             run one extraction and return the result
  POST /v1/scrapers            register a named scraper
  GET  /v1/scrapers            list registered scrapers
  POST /v1/scrapers/:id/run    start a scraper run in the background
  GET  /health                 uptime and pooled browser processes

Interrupting the server waits for running scrapers and then shuts down every
pooled browser.`,
	Example: `  # Listen on the configured address
  khoj serve

  # Preload scrapers from a job file
  khoj serve --addr=:9090 --jobs=jobs.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().StringVar(&serveJobs, "jobs", "", "Job file whose jobs are registered as scrapers")
}

func runServe(cmd *cobra.Command, args []string) error {
	a := GetApp(cmd)

	if serveJobs != "" {
		list, err := jobs.Load(serveJobs)
		if err != nil {
			return err
		}
		for _, j := range list {
			a.Jobs.Put(j)
		}
		log.Info().Int("scrapers", len(list)).Str("file", serveJobs).Msg("Registered scrapers")
	}

	addr := serveAddr
	if addr == "" {
		addr = a.Config.Server.Addr
	}

	srv := server.New(server.Config{
		Extractor: a.Orchestrator,
		Jobs:      a.Jobs,
		Events:    a.Events,
		APIKeys:   a.Config.Server.APIKeys,
		Cache:     a.Cache,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-cmd.Context().Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Loopxo/khoj/internal/batch"
	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/internal/jobs"
	"github.com/Loopxo/khoj/internal/ui"
	"github.com/Loopxo/khoj/pkg/models"
)

var (
	batchConcurrency int
	batchOutput      string
	batchNoProgress  bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <jobs.yaml>",
	Short: "Run every job in a job file concurrently",
	Long: `Runs the jobs defined in a YAML file with bounded concurrency.

Jobs are spread across hosts so one slow site does not hold every worker.
Each job publishes run_started and run_completed events, and the batch as a
whole reports run_progress. Configure webhook.url to receive them over HTTP.`,
	Example: `  # Run a job file with the default worker count
  khoj batch jobs.yaml

  # Limit to 4 workers and keep every result
  khoj batch jobs.yaml --concurrency=4 -o results.json`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "n", 0, "Parallel jobs (default from config, or 3 per CPU)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "Write all results to a JSON file")
	batchCmd.Flags().BoolVar(&batchNoProgress, "no-progress", false, "Hide the progress bar")
}

// batchEntry is one job outcome in the batch output file
type batchEntry struct {
	ID     string                   `json:"id"`
	RunID  string                   `json:"runId"`
	URL    string                   `json:"url"`
	Result *models.ExtractionResult `json:"result,omitempty"`
	Error  *batchError              `json:"error,omitempty"`
}

type batchError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toEntries(results []batch.Result) []batchEntry {
	entries := make([]batchEntry, len(results))
	for i, r := range results {
		entries[i] = batchEntry{ID: r.Job.ID, RunID: r.RunID, URL: r.Job.URL, Result: r.Result}
		if r.Err != nil {
			entries[i].Error = &batchError{Code: string(engine.CodeOf(r.Err)), Message: r.Err.Error()}
		}
	}
	return entries
}

func newProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func runBatch(cmd *cobra.Command, args []string) error {
	a := GetApp(cmd)

	list, err := jobs.Load(args[0])
	if err != nil {
		return err
	}

	concurrency := batchConcurrency
	if concurrency <= 0 {
		concurrency = a.Config.Batch.Concurrency
	}
	runner := batch.New(a.Orchestrator, a.Events, concurrency)

	if !batchNoProgress && !a.Config.Quiet {
		bar := newProgressBar(len(list), "extracting")
		runner.OnDone = func(done, total int, r batch.Result) {
			_ = bar.Add(1)
		}
		defer bar.Finish()
	}

	results := runner.Run(cmd.Context(), uuid.NewString(), list)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	if batchOutput != "" {
		data, err := json.MarshalIndent(toEntries(results), "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(batchOutput, data, 0o644); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	}

	fmt.Fprintln(os.Stderr)
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "  %s %-24s %s\n", ui.Error("✗"), r.Job.ID, r.Err)
			continue
		}
		fmt.Fprintf(os.Stderr, "  %s %-24s %d items via %s\n",
			ui.Success("✓"), r.Job.ID, r.Result.Metadata.ItemsExtracted, r.Result.Metadata.EngineUsed)
	}
	fmt.Fprintf(os.Stderr, "\n%s %d jobs, %d failed\n", ui.Bold("Batch finished:"), len(results), failed)
	if batchOutput != "" {
		fmt.Fprintln(os.Stderr, ui.Success("✓ Saved to "+batchOutput))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(results))
	}
	return nil
}

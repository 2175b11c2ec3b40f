// Package batch runs many jobs concurrently and reports progress as run events.
package batch

import (
	"context"
	"net/url"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Loopxo/khoj/internal/events"
	"github.com/Loopxo/khoj/internal/jobs"
	"github.com/Loopxo/khoj/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Extractor runs one extraction request
type Extractor interface {
	Run(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error)
}

// Result pairs a job with its outcome
type Result struct {
	Job    jobs.Job
	RunID  string
	Result *models.ExtractionResult
	Err    error
}

// Runner executes jobs with bounded concurrency
type Runner struct {
	extractor   Extractor
	sink        events.Sink
	concurrency int

	// OnDone, if set, is called after each job finishes
	OnDone func(done, total int, r Result)
}

// OptimalConcurrency picks a worker count for I/O bound scraping: three per
// CPU, capped at 50.
func OptimalConcurrency() int {
	return min(max(runtime.NumCPU()*3, 1), 50)
}

// New creates a runner. concurrency <= 0 picks OptimalConcurrency.
func New(extractor Extractor, sink events.Sink, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = OptimalConcurrency()
	}
	if sink == nil {
		sink = events.Discard{}
	}
	return &Runner{extractor: extractor, sink: sink, concurrency: concurrency}
}

// Run executes every job and returns results in input order. Each job gets
// its own run with started and completed events; the batch as a whole
// publishes progress under batchID. Individual failures do not stop the batch.
func (r *Runner) Run(ctx context.Context, batchID string, list []jobs.Job) []Result {
	results := make([]Result, len(list))
	batchRun := events.NewRun(r.sink, batchID)
	batchRun.Started(ctx, map[string]int{"jobs": len(list)})
	start := time.Now()

	var done atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, i := range interleaveByHost(list) {
		job := list[i]
		g.Go(func() error {
			res := r.runOne(gctx, job)
			results[i] = res

			n := int(done.Add(1))
			batchRun.Progress(ctx, n, len(list))
			if r.OnDone != nil {
				r.OnDone(n, len(list), res)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	items := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else if res.Result != nil {
			items += res.Result.Metadata.ItemsExtracted
		}
	}
	status := events.StatusCompleted
	if failed > 0 {
		status = events.StatusFailed
	}
	batchRun.Completed(ctx, events.Summary{
		Status:          status,
		ItemsExtracted:  items,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		ErrorCount:      failed,
	})

	log.Info().
		Str("batch_id", batchID).
		Int("jobs", len(list)).
		Int("failed", failed).
		Int("items", items).
		Msg("Batch finished")

	return results
}

func (r *Runner) runOne(ctx context.Context, job jobs.Job) Result {
	run := events.NewRun(r.sink, job.ID)
	run.Started(ctx, map[string]string{"url": job.URL, "name": job.Name})

	start := time.Now()
	req := job.ExtractionRequest
	res, err := r.extractor.Run(ctx, &req)
	run.Completed(ctx, events.Summarize(res, err, time.Since(start)))

	return Result{Job: job, RunID: run.RunID, Result: res, Err: err}
}

// interleaveByHost orders job indexes round-robin across hosts so one slow
// site does not occupy every worker at the start of a batch.
func interleaveByHost(list []jobs.Job) []int {
	var hosts []string
	byHost := make(map[string][]int)
	for i, j := range list {
		host := "default"
		if u, err := url.Parse(j.URL); err == nil && u.Host != "" {
			host = u.Host
		}
		if _, ok := byHost[host]; !ok {
			hosts = append(hosts, host)
		}
		byHost[host] = append(byHost[host], i)
	}

	order := make([]int, 0, len(list))
	for len(order) < len(list) {
		for _, h := range hosts {
			if q := byHost[h]; len(q) > 0 {
				order = append(order, q[0])
				byHost[h] = q[1:]
			}
		}
	}
	return order
}

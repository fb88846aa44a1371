package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"autoscout-scraper/models"
	"autoscout-scraper/utils"
)

// Fetcher is the marketplace boundary. Implementations return whatever
// pages they managed to read (fewer than maxPages is not an error) and tag
// every record with the query's origin key. The pipeline never assumes a
// Fetcher is safe for concurrent use unless it says so via Concurrent.
type Fetcher interface {
	Fetch(ctx context.Context, query models.SearchQuery, maxPages int) ([]*models.RawListing, error)
}

// ConcurrentFetcher is implemented by fetchers whose Fetch may run from
// several goroutines at once.
type ConcurrentFetcher interface {
	Fetcher
	Concurrent() bool
}

// Recorder receives pipeline counters. metrics.Recorder satisfies it.
type Recorder interface {
	RecordFetched(origin string, n int)
	RecordFetchFailure(origin string)
	RecordClean(stats models.CleanStats)
	RecordBuckets(n int)
	RecordDegree(degree int)
	RecordStage(stage string, d time.Duration)
}

// PipelineOptions carries the per-run knobs of the fetch stage.
type PipelineOptions struct {
	MaxPages       int
	MaxConcurrency int
	RateLimitMs    int
	Retry          *utils.RetryConfig
}

// Pipeline runs fetch → clean → aggregate → regress for a planned query set.
type Pipeline struct {
	opts       PipelineOptions
	cleaner    *Cleaner
	aggregator *Aggregator
	regressor  *Regressor
	recorder   Recorder
	logger     *utils.Logger
}

// NewPipeline wires the stages together. recorder may be nil.
func NewPipeline(opts PipelineOptions, cleaner *Cleaner, aggregator *Aggregator, regressor *Regressor,
	recorder Recorder, logger *utils.Logger) *Pipeline {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Pipeline{
		opts:       opts,
		cleaner:    cleaner,
		aggregator: aggregator,
		regressor:  regressor,
		recorder:   recorder,
		logger:     logger,
	}
}

// Fetch runs every query through f and merges the results in query order,
// so the cleaner's first-occurrence rule depends on plan order and never on
// completion order. A failing query is logged and counted; it does not
// abort the others. The returned count is the number of failed queries.
func (p *Pipeline) Fetch(ctx context.Context, f Fetcher, queries []models.SearchQuery) ([]*models.RawListing, int, error) {
	start := time.Now()
	defer func() { p.recorder.RecordStage("fetch", time.Since(start)) }()

	workers := 1
	if cf, ok := f.(ConcurrentFetcher); ok && cf.Concurrent() {
		workers = p.opts.MaxConcurrency
	}

	results := make([][]*models.RawListing, len(queries))
	var failed atomic.Int64

	pool := utils.NewWorkerPool(ctx, workers, p.opts.RateLimitMs)
	for i, q := range queries {
		i, q := i, q
		pool.Submit(func(ctx context.Context) error {
			raw, err := p.fetchOne(ctx, f, q)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed.Add(1)
				p.recorder.RecordFetchFailure(q.Origin.Key)
				p.logger.Error("[pipeline] Query %d/%d (%s) failed: %v", i+1, len(queries), q.Origin.Key, err)
			}
			results[i] = raw
			p.recorder.RecordFetched(q.Origin.Key, len(raw))
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return nil, int(failed.Load()), eris.Wrap(err, "pipeline: fetch cancelled")
	}

	var merged []*models.RawListing
	for _, r := range results {
		merged = append(merged, r...)
	}

	p.logger.Info("[pipeline] Fetched %d raw listings from %d queries (%d failed)",
		len(merged), len(queries), failed.Load())
	return merged, int(failed.Load()), nil
}

func (p *Pipeline) fetchOne(ctx context.Context, f Fetcher, q models.SearchQuery) ([]*models.RawListing, error) {
	var raw []*models.RawListing
	op := func(ctx context.Context) error {
		var err error
		raw, err = f.Fetch(ctx, q, p.opts.MaxPages)
		return err
	}

	if p.opts.Retry == nil {
		err := op(ctx)
		return raw, err
	}
	err := p.opts.Retry.Do(ctx, "fetch "+q.Origin.Key, op)
	return raw, err
}

// Analyze runs the pure stages over raw listings. It never fails on sparse
// data: a regression that cannot be fit is reported in
// RunSummary.RegressionErr.
func (p *Pipeline) Analyze(raw []*models.RawListing) *models.RunSummary {
	start := time.Now()
	listings, stats := p.cleaner.Clean(raw)
	p.recorder.RecordClean(stats)
	p.recorder.RecordStage("clean", time.Since(start))

	summary := p.AnalyzeListings(listings)
	summary.RawListings = len(raw)
	summary.Clean = stats
	return summary
}

// AnalyzeListings buckets already-clean listings and fits the model.
func (p *Pipeline) AnalyzeListings(listings []*models.Listing) *models.RunSummary {
	summary := &models.RunSummary{
		Listings: listings,
		Clean:    models.CleanStats{Input: len(listings), Kept: len(listings)},
	}

	start := time.Now()
	summary.Buckets = p.aggregator.Aggregate(listings)
	p.recorder.RecordBuckets(len(summary.Buckets))
	p.recorder.RecordStage("aggregate", time.Since(start))

	start = time.Now()
	result, err := p.regressor.SelectModel(summary.Buckets)
	p.recorder.RecordStage("regress", time.Since(start))
	if err != nil {
		summary.RegressionErr = err
		p.logger.Warn("[pipeline] %v", err)
		return summary
	}
	summary.Result = result
	p.recorder.RecordDegree(result.Degree)
	return summary
}

// Run executes the whole batch for a planned query set.
func (p *Pipeline) Run(ctx context.Context, f Fetcher, queries []models.SearchQuery) (*models.RunSummary, error) {
	raw, failed, err := p.Fetch(ctx, f, queries)
	if err != nil {
		return nil, err
	}
	summary := p.Analyze(raw)
	summary.Queries = len(queries)
	summary.FailedQueries = failed
	return summary, nil
}

type nopRecorder struct{}

func (nopRecorder) RecordFetched(string, int)         {}
func (nopRecorder) RecordFetchFailure(string)         {}
func (nopRecorder) RecordClean(models.CleanStats)     {}
func (nopRecorder) RecordBuckets(int)                 {}
func (nopRecorder) RecordDegree(int)                  {}
func (nopRecorder) RecordStage(string, time.Duration) {}

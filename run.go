package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"autoscout-scraper/metrics"
	"autoscout-scraper/models"
	"autoscout-scraper/scraper/autoscout"
	"autoscout-scraper/services"
	"autoscout-scraper/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch (with --scrape) or reload listings, then clean, bucket and regress",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		return runBatch(ctx)
	},
}

func init() {
	fs := runCmd.Flags()
	addSearchFlags(fs)
	fs.Bool("scrape.enabled", false, "scrape AutoScout24 instead of re-reading the raw CSV")
	fs.Int("scrape.max_concurrency", 3, "browser tabs working in parallel")
	fs.Int("scrape.rate_limit_ms", 2000, "minimum spacing between query starts, ms")
	fs.Int("analysis.bucket_width", 10000, "mileage bucket width, km")
	fs.Int("analysis.max_degree", 5, "highest polynomial degree considered")
	fs.Float64("analysis.degree_penalty", 1.0, "complexity penalty multiplier (1 = BIC)")
	fs.String("analysis.weighting", "none", "bucket weighting: none or inverse-std")
	fs.Float64("analysis.confidence", 0.95, "confidence level of the fitted band")
	fs.String("metrics.pushgateway_url", "", "Prometheus Pushgateway to push run metrics to")
}

func runBatch(ctx context.Context) error {
	logger.Info("=== AutoScout24 price/mileage run: %s %s ===", cfg.Search.Make, cfg.Search.Model)
	logger.Info("Config: radius %d km | pages %d | concurrency %d | rate %dms | bucket %d km",
		cfg.Search.Radius, cfg.Search.MaxPages, cfg.Scrape.MaxConcurrency, cfg.Scrape.RateLimitMs,
		cfg.Analysis.BucketWidth)

	rec := metrics.New()
	pipeline, err := newAnalysisStages(rec)
	if err != nil {
		return err
	}

	queries, err := planQueries()
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return eris.Wrap(err, "open store")
	}
	if store != nil {
		defer store.Close()
	}

	var (
		raw    []*models.RawListing
		failed int
	)
	if cfg.Scrape.Enabled {
		raw, failed, err = scrape(ctx, pipeline, queries)
		if err != nil {
			return err
		}
	} else {
		logger.Info("[main] Scraping disabled, reading %s", cfg.Output.RawCSV)
		raw, err = storage.ReadRawCSV(cfg.Output.RawCSV)
		if err != nil {
			return eris.Wrap(err, "no raw listings to analyze (run with --scrape first)")
		}
	}

	summary := pipeline.Analyze(raw)
	summary.RunID = uuid.New().String()
	summary.Queries = len(queries)
	summary.FailedQueries = failed

	writeOutputs(summary)

	if store != nil {
		if _, err := store.SaveRun(ctx, storage.RunMeta{Make: cfg.Search.Make, Model: cfg.Search.Model}, summary); err != nil {
			logger.Error("[main] Store write failed: %v", err)
		} else {
			logger.Info("[main] Run %s stored (%s)", summary.RunID, cfg.Store.Driver)
		}
	}

	report := services.NewReportService(logger)
	report.Print(os.Stdout, summary, report.Generate(summary.Listings))

	pushMetrics(rec)
	return nil
}

func planQueries() ([]models.SearchQuery, error) {
	list, err := loadOrigins()
	if err != nil {
		return nil, err
	}
	return services.NewPlanner(logger).Plan(list, cfg.Search.Radius, cfg.Search.Filters())
}

// scrape owns the browser session for the whole fetch stage and saves the
// raw CSV before anything is cleaned.
func scrape(ctx context.Context, pipeline *services.Pipeline, queries []models.SearchQuery) ([]*models.RawListing, int, error) {
	session, err := autoscout.NewSession(cfg.Scrape.ChromeBin, logger)
	if err != nil {
		return nil, 0, err
	}
	defer session.Close()

	fetcher := autoscout.NewFetcher(session, autoscout.Options{
		BaseURL:     cfg.Scrape.BaseURL,
		PageTimeout: time.Duration(cfg.Scrape.PageTimeoutSecs) * time.Second,
	}, logger)

	raw, failed, err := pipeline.Fetch(ctx, fetcher, queries)
	if err != nil {
		return nil, failed, err
	}

	w, err := storage.NewCSVWriter(cfg.Output.RawCSV)
	if err != nil {
		return nil, failed, err
	}
	defer w.Close()
	if err := w.WriteRaw(raw); err != nil {
		logger.Error("[main] Raw CSV write failed: %v", err)
	} else {
		logger.Info("[main] Raw listings saved to %s", cfg.Output.RawCSV)
	}
	return raw, failed, nil
}

// writeOutputs saves the processed listings, bucket table and workbook.
// Output failures are logged; the console report still runs.
func writeOutputs(summary *models.RunSummary) {
	w, err := storage.NewCSVWriter(cfg.Output.ProcessedCSV)
	if err == nil {
		err = w.WriteListings(summary.Listings)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		logger.Error("[main] Processed CSV write failed: %v", err)
	} else {
		logger.Info("[main] Processed listings saved to %s", cfg.Output.ProcessedCSV)
	}

	if err := storage.WriteBucketsCSV(cfg.Output.BucketsCSV, summary.Buckets); err != nil {
		logger.Error("[main] Bucket CSV write failed: %v", err)
	}
	if err := storage.WriteXLSXReport(cfg.Output.ReportXLSX, summary); err != nil {
		logger.Error("[main] XLSX report failed: %v", err)
	} else {
		logger.Info("[main] Report saved to %s", cfg.Output.ReportXLSX)
	}
}

func pushMetrics(rec *metrics.Recorder) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rec.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		logger.Warn("[main] %v", err)
	}
}

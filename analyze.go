package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"autoscout-scraper/services"
	"autoscout-scraper/storage"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Re-run bucketing and regression over listings already in the SQL store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateAnalysis(); err != nil {
			return err
		}
		runID, _ := cmd.Flags().GetString("run-id")

		ctx, stop := signalContext()
		defer stop()

		pipeline, err := newAnalysisStages(nil)
		if err != nil {
			return err
		}

		store, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		if store == nil {
			return eris.New("analyze needs a SQL store (--store.driver=sqlite or postgres)")
		}
		defer store.Close()

		if runID == "" {
			if cfg.Search.Make == "" || cfg.Search.Model == "" {
				return eris.New("analyze needs --run-id or both --make and --model")
			}
			if runID, err = store.LatestRun(ctx, cfg.Search.Make, cfg.Search.Model); err != nil {
				return err
			}
		}

		listings, err := store.FetchListings(ctx, runID)
		if err != nil {
			return err
		}
		logger.Info("[main] Loaded %d listings from run %s", len(listings), runID)

		summary := pipeline.AnalyzeListings(listings)
		summary.RunID = runID

		if cfg.Output.ReportXLSX != "" {
			if err := storage.WriteXLSXReport(cfg.Output.ReportXLSX, summary); err != nil {
				logger.Error("[main] XLSX report failed: %v", err)
			}
		}

		report := services.NewReportService(logger)
		report.Print(os.Stdout, summary, report.Generate(listings))
		return nil
	},
}

func init() {
	fs := analyzeCmd.Flags()
	fs.String("run-id", "", "stored run to analyze (default: latest for make/model)")
	fs.String("search.make", "", "vehicle make")
	fs.String("search.model", "", "vehicle model")
	fs.Int("analysis.bucket_width", 10000, "mileage bucket width, km")
	fs.Int("analysis.max_degree", 5, "highest polynomial degree considered")
	fs.Float64("analysis.degree_penalty", 1.0, "complexity penalty multiplier (1 = BIC)")
	fs.String("analysis.weighting", "none", "bucket weighting: none or inverse-std")
	fs.Float64("analysis.confidence", 0.95, "confidence level of the fitted band")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"autoscout-scraper/config"
	"autoscout-scraper/models"
	"autoscout-scraper/origins"
	"autoscout-scraper/services"
	"autoscout-scraper/storage"
	"autoscout-scraper/utils"
)

var (
	cfg    *config.Config
	logger *utils.Logger
)

var rootCmd = &cobra.Command{
	Use:   "autoscout-scraper",
	Short: "Used-car price vs mileage analysis for AutoScout24",
	Long: "Searches AutoScout24 around every provincial capital, merges and cleans the listings, " +
		"buckets them by mileage and fits the best polynomial price curve.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cmd.Flags())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		l, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("log.level", "info", "log level (debug, info, warn, error)")
	pf.String("log.format", "console", "log format (console, json)")
	pf.String("store.driver", "none", "SQL store: postgres, sqlite or none")
	pf.String("store.sqlite_path", "listings/listings.db", "SQLite database file")

	rootCmd.SetGlobalNormalizationFunc(legacyFlagNames)
	rootCmd.AddCommand(runCmd, planCmd, analyzeCmd)
}

// addSearchFlags registers the vehicle and origin flags shared by run and plan.
func addSearchFlags(fs *pflag.FlagSet) {
	fs.String("search.make", "", "vehicle make, e.g. volkswagen")
	fs.String("search.model", "", "vehicle model, e.g. golf")
	fs.String("search.version", "", "model version filter")
	fs.Int("search.year_from", 0, "first registration year, lower bound")
	fs.Int("search.year_to", 0, "first registration year, upper bound")
	fs.Int("search.power_from", 0, "power, lower bound")
	fs.Int("search.power_to", 0, "power, upper bound")
	fs.String("search.power_unit", "kw", "power unit for the bounds (kw, hp)")
	fs.Int("search.radius", 600, "search radius around each origin, km")
	fs.Int("search.max_pages", 20, "result pages to read per origin")
	fs.String("search.origins_file", "origins/capoluoghi.csv", "origin list (csv or yaml)")
}

// legacyFlagNames accepts the flag spellings of the original command line.
func legacyFlagNames(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "make", "model", "version", "year_from", "year_to", "power_from", "power_to":
		return pflag.NormalizedName("search." + name)
	case "powertype":
		return "search.power_unit"
	case "num_pages":
		return "search.max_pages"
	case "zipr":
		return "search.radius"
	case "zip_list_file_path":
		return "search.origins_file"
	case "scrape":
		return "scrape.enabled"
	}
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadOrigins reads the configured origin file.
func loadOrigins() ([]models.Origin, error) {
	list, err := origins.Load(cfg.Search.OriginsFile, cfg.Search.OriginColumn)
	if err != nil {
		return nil, err
	}
	logger.Info("[main] Loaded %d origins from %s", len(list), cfg.Search.OriginsFile)
	return list, nil
}

// newAnalysisStages builds the pure stages. Bad analysis settings fail here,
// before any fetching.
func newAnalysisStages(rec services.Recorder) (*services.Pipeline, error) {
	aggregator, err := services.NewAggregator(cfg.Analysis.BucketWidth)
	if err != nil {
		return nil, err
	}
	regressor, err := services.NewRegressor(services.RegressorOptions{
		MaxDegree:  cfg.Analysis.MaxDegree,
		Penalty:    cfg.Analysis.DegreePenalty,
		Weighting:  services.Weighting(cfg.Analysis.Weighting),
		Confidence: cfg.Analysis.Confidence,
	}, logger)
	if err != nil {
		return nil, err
	}

	return services.NewPipeline(services.PipelineOptions{
		MaxPages:       cfg.Search.MaxPages,
		MaxConcurrency: cfg.Scrape.MaxConcurrency,
		RateLimitMs:    cfg.Scrape.RateLimitMs,
		Retry: &utils.RetryConfig{
			MaxAttempts: cfg.Scrape.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}, services.NewCleaner(logger), aggregator, regressor, rec, logger), nil
}

// openStore returns nil when no SQL store is configured.
func openStore(ctx context.Context) (storage.RunStore, error) {
	var (
		s   *storage.SQLStore
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		s, err = storage.NewPostgresStore(ctx, cfg.Store.DSN())
	case "sqlite":
		s, err = storage.NewSQLiteStore(cfg.Store.SQLitePath)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("[main] Using %s store", cfg.Store.Driver)
	return s, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

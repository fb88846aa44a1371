package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"autoscout-scraper/models"
)

// Config holds all application configuration.
type Config struct {
	Search   SearchConfig   `mapstructure:"search"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Output   OutputConfig   `mapstructure:"output"`
	Store    StoreConfig    `mapstructure:"store"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// SearchConfig describes which vehicles to look for and where.
type SearchConfig struct {
	Make         string `mapstructure:"make" validate:"required"`
	Model        string `mapstructure:"model" validate:"required"`
	Version      string `mapstructure:"version"`
	YearFrom     int    `mapstructure:"year_from" validate:"omitempty,gte=1900"`
	YearTo       int    `mapstructure:"year_to" validate:"omitempty,gte=1900"`
	PowerFrom    int    `mapstructure:"power_from" validate:"gte=0"`
	PowerTo      int    `mapstructure:"power_to" validate:"gte=0"`
	PowerUnit    string `mapstructure:"power_unit" validate:"oneof=kw hp"`
	Radius       int    `mapstructure:"radius" validate:"gt=0"`
	MaxPages     int    `mapstructure:"max_pages" validate:"gt=0"`
	OriginsFile  string `mapstructure:"origins_file" validate:"required"`
	OriginColumn string `mapstructure:"origin_column"`
}

// ScrapeConfig tunes the browser fetcher.
type ScrapeConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	BaseURL         string `mapstructure:"base_url" validate:"required,url"`
	MaxConcurrency  int    `mapstructure:"max_concurrency" validate:"gt=0"`
	RateLimitMs     int    `mapstructure:"rate_limit_ms" validate:"gte=0"`
	MaxRetries      int    `mapstructure:"max_retries" validate:"gt=0"`
	PageTimeoutSecs int    `mapstructure:"page_timeout_secs" validate:"gt=0"`
	ChromeBin       string `mapstructure:"chrome_bin"`
}

// AnalysisConfig tunes bucketing and model selection.
type AnalysisConfig struct {
	BucketWidth   int     `mapstructure:"bucket_width" validate:"gt=0"`
	MaxDegree     int     `mapstructure:"max_degree" validate:"gt=0"`
	DegreePenalty float64 `mapstructure:"degree_penalty" validate:"gte=0"`
	Weighting     string  `mapstructure:"weighting" validate:"oneof=none inverse-std"`
	Confidence    float64 `mapstructure:"confidence" validate:"gt=0,lt=1"`
}

// OutputConfig names the files a run writes. Empty listing paths are
// derived from make and model.
type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	RawCSV       string `mapstructure:"raw_csv"`
	ProcessedCSV string `mapstructure:"processed_csv"`
	BucketsCSV   string `mapstructure:"buckets_csv"`
	ReportXLSX   string `mapstructure:"report_xlsx"`
}

// StoreConfig selects the SQL backend: "postgres", "sqlite" or "none".
type StoreConfig struct {
	Driver           string `mapstructure:"driver" validate:"oneof=postgres sqlite none"`
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     string `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`
	SQLitePath       string `mapstructure:"sqlite_path"`
}

// MetricsConfig points at an optional Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `mapstructure:"job"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// Load reads the .env file, an optional config.yaml, AUTOSCOUT_* environment
// variables and the given command-line flags, in increasing precedence.
// Flags are bound by their viper key (for example "search.make").
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("AUTOSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if !strings.Contains(f.Name, ".") || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(f.Name, f)
		})
		if bindErr != nil {
			return nil, eris.Wrap(bindErr, "config: bind flags")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.applyDerivedPaths()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.power_unit", "kw")
	v.SetDefault("search.radius", 600)
	v.SetDefault("search.max_pages", 20)
	v.SetDefault("search.origins_file", "origins/capoluoghi.csv")
	v.SetDefault("search.origin_column", "capoluogo")

	v.SetDefault("scrape.base_url", "https://www.autoscout24.it")
	v.SetDefault("scrape.max_concurrency", 3)
	v.SetDefault("scrape.rate_limit_ms", 2000)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("scrape.page_timeout_secs", 90)

	v.SetDefault("analysis.bucket_width", 10000)
	v.SetDefault("analysis.max_degree", 5)
	v.SetDefault("analysis.degree_penalty", 1.0)
	v.SetDefault("analysis.weighting", "none")
	v.SetDefault("analysis.confidence", 0.95)

	v.SetDefault("output.dir", "listings")

	v.SetDefault("store.driver", "none")
	v.SetDefault("store.postgres_host", "localhost")
	v.SetDefault("store.postgres_port", "5432")
	v.SetDefault("store.postgres_user", "scraper")
	v.SetDefault("store.postgres_password", "scraper123")
	v.SetDefault("store.postgres_db", "listings_db")
	v.SetDefault("store.postgres_sslmode", "disable")
	v.SetDefault("store.sqlite_path", "listings/listings.db")

	v.SetDefault("metrics.job", "autoscout_scraper")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// applyDerivedPaths fills in the per-search file names the way the
// original tool named them: listings_{make}_{model}.csv.
func (c *Config) applyDerivedPaths() {
	if c.Search.Make == "" || c.Search.Model == "" {
		return
	}
	base := c.Output.Dir + "/listings_" + c.Search.Make + "_" + c.Search.Model
	if c.Output.RawCSV == "" {
		c.Output.RawCSV = base + ".csv"
	}
	if c.Output.ProcessedCSV == "" {
		c.Output.ProcessedCSV = base + "_preprocessed.csv"
	}
	if c.Output.BucketsCSV == "" {
		c.Output.BucketsCSV = base + "_buckets.csv"
	}
	if c.Output.ReportXLSX == "" {
		c.Output.ReportXLSX = base + "_report.xlsx"
	}
}

var validate = validator.New()

// Validate checks the whole configuration before any browser or network
// work starts. The returned message lists every offending field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describe(err)
	}
	return c.Search.checkRanges()
}

// ValidateAnalysis checks only what the offline analyze path needs.
func (c *Config) ValidateAnalysis() error {
	if err := validate.Struct(c.Analysis); err != nil {
		return describe(err)
	}
	if err := validate.Struct(c.Store); err != nil {
		return describe(err)
	}
	return nil
}

func (s SearchConfig) checkRanges() error {
	if s.YearFrom > 0 && s.YearTo > 0 && s.YearFrom > s.YearTo {
		return eris.Errorf("config: search.year_from (%d) is after search.year_to (%d)", s.YearFrom, s.YearTo)
	}
	if s.PowerFrom > 0 && s.PowerTo > 0 && s.PowerFrom > s.PowerTo {
		return eris.Errorf("config: search.power_from (%d) exceeds search.power_to (%d)", s.PowerFrom, s.PowerTo)
	}
	return nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return eris.Wrap(err, "config: validate")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		msgs = append(msgs, msg)
	}
	return eris.New("config: invalid: " + strings.Join(msgs, "; "))
}

// Filters converts the search section into the planner's filter value.
func (s SearchConfig) Filters() models.SearchFilters {
	return models.SearchFilters{
		Make:      s.Make,
		Model:     s.Model,
		Version:   s.Version,
		YearFrom:  s.YearFrom,
		YearTo:    s.YearTo,
		PowerFrom: s.PowerFrom,
		PowerTo:   s.PowerTo,
		PowerUnit: s.PowerUnit,
	}
}

// DSN returns the PostgreSQL connection string.
func (c *StoreConfig) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"autoscout-scraper/models"
)

// ErrNoRuns is returned by LatestRun when nothing matches.
var ErrNoRuns = eris.New("store: no stored runs")

// timeLayout is fixed width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dialect captures the few SQL differences between backends.
type dialect struct {
	name        string
	migration   string
	placeholder func(n int) string
}

// SQLStore implements RunStore on database/sql for Postgres and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ RunStore = (*SQLStore)(nil)

func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.migration)
	return eris.Wrapf(err, "%s: migrate", s.dialect.name)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// SaveRun stores the run header, its listings, buckets and regression points
// in one transaction and returns the new run id.
func (s *SQLStore) SaveRun(ctx context.Context, meta RunMeta, summary *models.RunSummary) (string, error) {
	runID := summary.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrapf(err, "%s: begin", s.dialect.name)
	}
	defer func() { _ = tx.Rollback() }()

	var degree sql.NullInt64
	if summary.Result != nil {
		degree = sql.NullInt64{Int64: int64(summary.Result.Degree), Valid: true}
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (id, make, model, queries, failed_queries, raw_listings, kept, degree, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		runID, meta.Make, meta.Model, summary.Queries, summary.FailedQueries,
		summary.RawListings, summary.Clean.Kept, degree, s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return "", eris.Wrapf(err, "%s: insert run", s.dialect.name)
	}

	if err := s.insertListings(ctx, tx, runID, summary.Listings); err != nil {
		return "", err
	}
	if err := s.insertBuckets(ctx, tx, runID, summary.Buckets); err != nil {
		return "", err
	}
	if err := s.insertRegression(ctx, tx, runID, summary.Result); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrapf(err, "%s: commit", s.dialect.name)
	}
	return runID, nil
}

const batchSize = 50

func (s *SQLStore) insertListings(ctx context.Context, tx *sql.Tx, runID string, listings []*models.Listing) error {
	const cols = 10
	for i := 0; i < len(listings); i += batchSize {
		end := min(i+batchSize, len(listings))
		batch := listings[i:end]

		valueStrings := make([]string, 0, len(batch))
		valueArgs := make([]any, 0, len(batch)*cols)
		for idx, l := range batch {
			valueStrings = append(valueStrings, s.tuple(idx*cols, cols))

			var power sql.NullFloat64
			if l.Power != nil {
				power = sql.NullFloat64{Float64: *l.Power, Valid: true}
			}
			valueArgs = append(valueArgs,
				runID, l.ListingID, l.Price.String(), l.Mileage, l.Year, power,
				l.Origin, l.Title, l.URL, l.ScrapedAt.UTC().Format(timeLayout))
		}

		query := fmt.Sprintf(`
			INSERT INTO listings (run_id, listing_id, price, mileage, year, power, origin, title, url, scraped_at)
			VALUES %s
			ON CONFLICT (run_id, listing_id) DO NOTHING
		`, strings.Join(valueStrings, ","))
		if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
			return eris.Wrapf(err, "%s: insert listings", s.dialect.name)
		}
	}
	return nil
}

func (s *SQLStore) insertBuckets(ctx context.Context, tx *sql.Tx, runID string, buckets []models.MileageBucket) error {
	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO mileage_buckets (run_id, lower_bound, listing_count, mean_price, std_price)
		VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return eris.Wrapf(err, "%s: prepare buckets", s.dialect.name)
	}
	defer stmt.Close()

	for _, b := range buckets {
		if _, err := stmt.ExecContext(ctx, runID, b.LowerBound, b.Count, b.MeanPrice, b.StdPrice); err != nil {
			return eris.Wrapf(err, "%s: insert bucket %d", s.dialect.name, b.LowerBound)
		}
	}
	return nil
}

func (s *SQLStore) insertRegression(ctx context.Context, tx *sql.Tx, runID string, res *models.RegressionResult) error {
	if res == nil {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO regression_points (run_id, mileage, predicted, lower_bound, upper_bound, degree)
		VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return eris.Wrapf(err, "%s: prepare regression", s.dialect.name)
	}
	defer stmt.Close()

	for i, x := range res.X {
		if _, err := stmt.ExecContext(ctx, runID, x, res.Predicted[i], res.Lower[i], res.Upper[i], res.Degree); err != nil {
			return eris.Wrapf(err, "%s: insert regression point", s.dialect.name)
		}
	}
	return nil
}

// LatestRun returns the id of the newest run for make and model.
func (s *SQLStore) LatestRun(ctx context.Context, vehicleMake, vehicleModel string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id FROM runs
		WHERE make = ? AND model = ?
		ORDER BY created_at DESC
		LIMIT 1`), vehicleMake, vehicleModel).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(ErrNoRuns, "%s %s", vehicleMake, vehicleModel)
	}
	if err != nil {
		return "", eris.Wrapf(err, "%s: latest run", s.dialect.name)
	}
	return id, nil
}

// FetchListings retrieves the stored listings of a run in insertion order.
func (s *SQLStore) FetchListings(ctx context.Context, runID string) ([]*models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT listing_id, price, mileage, year, power, origin, title, url, scraped_at
		FROM listings
		WHERE run_id = ?
		ORDER BY seq`), runID)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: fetch listings", s.dialect.name)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		var (
			l         models.Listing
			price     string
			power     sql.NullFloat64
			scrapedAt string
		)
		if err := rows.Scan(
			&l.ListingID, &price, &l.Mileage, &l.Year, &power,
			&l.Origin, &l.Title, &l.URL, &scrapedAt,
		); err != nil {
			return nil, eris.Wrapf(err, "%s: scan listing", s.dialect.name)
		}
		if l.Price, err = decimal.NewFromString(price); err != nil {
			return nil, eris.Wrapf(err, "%s: listing %s price", s.dialect.name, l.ListingID)
		}
		// Drivers hand timestamps back either as text or as time.Time, which
		// database/sql renders as RFC 3339.
		if l.ScrapedAt, err = time.Parse(time.RFC3339Nano, scrapedAt); err != nil {
			return nil, eris.Wrapf(err, "%s: listing %s scraped_at", s.dialect.name, l.ListingID)
		}
		if power.Valid {
			p := power.Float64
			l.Power = &p
		}
		listings = append(listings, &l)
	}
	return listings, eris.Wrap(rows.Err(), "store: iterate listings")
}

// rebind rewrites "?" placeholders for the backend.
func (s *SQLStore) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tuple renders "(p1,...,pn)" starting after offset.
func (s *SQLStore) tuple(offset, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.dialect.placeholder(offset + i + 1)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

package storage

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	make           TEXT NOT NULL,
	model          TEXT NOT NULL,
	queries        INTEGER NOT NULL DEFAULT 0,
	failed_queries INTEGER NOT NULL DEFAULT 0,
	raw_listings   INTEGER NOT NULL DEFAULT 0,
	kept           INTEGER NOT NULL DEFAULT 0,
	degree         INTEGER,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS listings (
	seq        BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	listing_id TEXT NOT NULL,
	price      NUMERIC(12,2) NOT NULL,
	mileage    INTEGER NOT NULL,
	year       INTEGER NOT NULL DEFAULT 0,
	power      DOUBLE PRECISION,
	origin     TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	url        TEXT NOT NULL DEFAULT '',
	scraped_at TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, listing_id)
);

CREATE TABLE IF NOT EXISTS mileage_buckets (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	lower_bound   INTEGER NOT NULL,
	listing_count INTEGER NOT NULL,
	mean_price    DOUBLE PRECISION NOT NULL,
	std_price     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, lower_bound)
);

CREATE TABLE IF NOT EXISTS regression_points (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	mileage     DOUBLE PRECISION NOT NULL,
	predicted   DOUBLE PRECISION NOT NULL,
	lower_bound DOUBLE PRECISION NOT NULL,
	upper_bound DOUBLE PRECISION NOT NULL,
	degree      INTEGER NOT NULL,
	PRIMARY KEY (run_id, mileage)
);

CREATE INDEX IF NOT EXISTS idx_runs_make_model   ON runs(make, model, created_at);
CREATE INDEX IF NOT EXISTS idx_listings_mileage  ON listings(mileage);
CREATE INDEX IF NOT EXISTS idx_listings_origin   ON listings(origin);
`

// NewPostgresStore opens a connection to PostgreSQL and waits for it to
// accept pings. Call Migrate before use.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, eris.Wrap(ctx.Err(), "postgres: ping cancelled")
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "postgres: ping failed after retries")
	}

	return &SQLStore{
		db: db,
		dialect: dialect{
			name:        "postgres",
			migration:   postgresMigration,
			placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		},
		now: time.Now,
	}, nil
}

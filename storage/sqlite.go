package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	make           TEXT NOT NULL,
	model          TEXT NOT NULL,
	queries        INTEGER NOT NULL DEFAULT 0,
	failed_queries INTEGER NOT NULL DEFAULT 0,
	raw_listings   INTEGER NOT NULL DEFAULT 0,
	kept           INTEGER NOT NULL DEFAULT 0,
	degree         INTEGER,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	listing_id TEXT NOT NULL,
	price      TEXT NOT NULL,
	mileage    INTEGER NOT NULL,
	year       INTEGER NOT NULL DEFAULT 0,
	power      REAL,
	origin     TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	url        TEXT NOT NULL DEFAULT '',
	scraped_at TEXT NOT NULL,
	UNIQUE (run_id, listing_id)
);

CREATE TABLE IF NOT EXISTS mileage_buckets (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	lower_bound   INTEGER NOT NULL,
	listing_count INTEGER NOT NULL,
	mean_price    REAL NOT NULL,
	std_price     REAL NOT NULL,
	PRIMARY KEY (run_id, lower_bound)
);

CREATE TABLE IF NOT EXISTS regression_points (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	mileage     REAL NOT NULL,
	predicted   REAL NOT NULL,
	lower_bound REAL NOT NULL,
	upper_bound REAL NOT NULL,
	degree      INTEGER NOT NULL,
	PRIMARY KEY (run_id, mileage)
);

CREATE INDEX IF NOT EXISTS idx_runs_make_model  ON runs(make, model, created_at);
CREATE INDEX IF NOT EXISTS idx_listings_mileage ON listings(mileage);
CREATE INDEX IF NOT EXISTS idx_listings_origin  ON listings(origin);
`

// NewSQLiteStore opens a SQLite database at path and configures WAL mode.
// Call Migrate before use.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, eris.Wrap(err, "sqlite: create dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps pragmas and transactions on one handle.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	return &SQLStore{
		db: db,
		dialect: dialect{
			name:        "sqlite",
			migration:   sqliteMigration,
			placeholder: func(int) string { return "?" },
		},
		now: time.Now,
	}, nil
}

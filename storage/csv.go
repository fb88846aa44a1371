package storage

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"autoscout-scraper/models"
)

// listingHeader is shared by raw and processed files so a processed file can
// be re-read as raw input.
var listingHeader = []string{
	"listing_id", "price", "mileage", "year", "power", "origin", "title", "url", "scraped_at",
}

var bucketHeader = []string{"bucket_lower_bound", "count", "mean", "std"}

// CSVWriter writes listings to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	return newCSVWriter(path, listingHeader)
}

func newCSVWriter(path string, header []string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, eris.Wrap(err, "csv: create output dir")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: create file %q", path)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return nil, eris.Wrap(err, "csv: write header")
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends raw listings.
func (c *CSVWriter) WriteRaw(listings []*models.RawListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		row := []string{
			l.ListingID,
			l.RawPrice,
			l.RawMileage,
			l.RawYear,
			l.RawPower,
			l.Origin,
			l.Title,
			l.URL,
			formatTime(l.ScrapedAt),
		}
		if err := c.writer.Write(row); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// WriteListings appends cleaned listings in their canonical text form.
func (c *CSVWriter) WriteListings(listings []*models.Listing) error {
	raw := make([]*models.RawListing, 0, len(listings))
	for _, l := range listings {
		raw = append(raw, l.ToRaw())
	}
	return c.WriteRaw(raw)
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

// ReadRawCSV loads a file written by CSVWriter. Columns are matched by
// header name, so extra or reordered columns are tolerated.
func ReadRawCSV(path string) ([]*models.RawListing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %q", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "csv: read header of %q", path)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	if _, ok := col["listing_id"]; !ok {
		return nil, eris.Errorf("csv: %q has no listing_id column", path)
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var out []*models.RawListing
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: %q line %d", path, line)
		}
		out = append(out, &models.RawListing{
			ListingID:  field(rec, "listing_id"),
			RawPrice:   field(rec, "price"),
			RawMileage: field(rec, "mileage"),
			RawYear:    field(rec, "year"),
			RawPower:   field(rec, "power"),
			Origin:     field(rec, "origin"),
			Title:      field(rec, "title"),
			URL:        field(rec, "url"),
			ScrapedAt:  parseTime(field(rec, "scraped_at")),
		})
	}
	return out, nil
}

// WriteBucketsCSV writes the per-bucket statistics table.
func WriteBucketsCSV(path string, buckets []models.MileageBucket) error {
	c, err := newCSVWriter(path, bucketHeader)
	if err != nil {
		return err
	}
	for _, b := range buckets {
		row := []string{
			strconv.Itoa(b.LowerBound),
			strconv.Itoa(b.Count),
			strconv.FormatFloat(b.MeanPrice, 'f', 2, 64),
			strconv.FormatFloat(b.StdPrice, 'f', 2, 64),
		}
		if err := c.writer.Write(row); err != nil {
			_ = c.Close()
			return eris.Wrap(err, "csv: write bucket row")
		}
	}
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		_ = c.Close()
		return eris.Wrap(err, "csv: flush buckets")
	}
	return c.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Origin is a named search center. Key is the canonical lower-case form used
// for comparisons and for the marketplace location parameter.
type Origin struct {
	Name string
	Key  string
}

// SearchFilters are the vehicle filters shared by every query of a run.
type SearchFilters struct {
	Make      string `validate:"required"`
	Model     string `validate:"required"`
	Version   string
	YearFrom  int    `validate:"omitempty,gte=1900"`
	YearTo    int    `validate:"omitempty,gte=1900"`
	PowerFrom int    `validate:"gte=0"`
	PowerTo   int    `validate:"gte=0"`
	PowerUnit string `default:"kw" validate:"oneof=kw hp"`
}

// SearchQuery is one radius-bounded marketplace query around an origin.
type SearchQuery struct {
	Origin Origin
	Radius int
	SearchFilters
}

// RawListing holds unprocessed scraped data directly from the browser.
// All fields are kept as strings; typing happens in the cleaner.
type RawListing struct {
	ListingID  string
	RawPrice   string
	RawMileage string
	RawYear    string
	RawPower   string
	Origin     string
	Title      string
	URL        string
	ScrapedAt  time.Time
}

// Listing is the cleaned, validated record. ListingID is the dedup key.
type Listing struct {
	ListingID string
	Price     decimal.Decimal
	Mileage   int
	Year      int      // 0 when the marketplace did not report it
	Power     *float64 // kW, nil when not reported
	Origin    string
	Title     string
	URL       string
	ScrapedAt time.Time
}

// ToRaw renders the listing back into the untyped form, so processed files
// can be re-read through the same cleaner.
func (l *Listing) ToRaw() *RawListing {
	r := &RawListing{
		ListingID:  l.ListingID,
		RawPrice:   l.Price.String(),
		RawMileage: strconv.Itoa(l.Mileage),
		Origin:     l.Origin,
		Title:      l.Title,
		URL:        l.URL,
		ScrapedAt:  l.ScrapedAt,
	}
	if l.Year > 0 {
		r.RawYear = strconv.Itoa(l.Year)
	}
	if l.Power != nil {
		r.RawPower = strconv.FormatFloat(*l.Power, 'f', -1, 64) + " kW"
	}
	return r
}

// CleanStats counts what the cleaner kept and why it dropped the rest.
type CleanStats struct {
	Input      int
	Kept       int
	Duplicates int
	MissingID  int
	BadPrice   int
	BadMileage int
}

// Dropped is the number of records that did not survive cleaning.
func (s CleanStats) Dropped() int {
	return s.Input - s.Kept
}

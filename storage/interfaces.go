package storage

import (
	"context"

	"autoscout-scraper/models"
)

// RawListingWriter persists unprocessed scraped data.
type RawListingWriter interface {
	WriteRaw(listings []*models.RawListing) error
	Close() error
}

// ListingWriter persists cleaned listings.
type ListingWriter interface {
	WriteListings(listings []*models.Listing) error
	Close() error
}

// RunStore is a SQL backend that keeps every run's listings, buckets and
// fitted curve.
type RunStore interface {
	Migrate(ctx context.Context) error
	SaveRun(ctx context.Context, meta RunMeta, summary *models.RunSummary) (string, error)
	LatestRun(ctx context.Context, vehicleMake, vehicleModel string) (string, error)
	FetchListings(ctx context.Context, runID string) ([]*models.Listing, error)
	Close() error
}

// RunMeta identifies what a run searched for.
type RunMeta struct {
	Make  string
	Model string
}

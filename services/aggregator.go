package services

import (
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"autoscout-scraper/models"
)

// Aggregator groups listings into fixed-width mileage buckets.
type Aggregator struct {
	width int
}

// NewAggregator validates the bucket width up front so a bad configuration
// is rejected before any fetching happens.
func NewAggregator(width int) (*Aggregator, error) {
	if width <= 0 {
		return nil, eris.Errorf("aggregator: bucket width must be positive, got %d", width)
	}
	return &Aggregator{width: width}, nil
}

// Width is the configured bucket width.
func (a *Aggregator) Width() int {
	return a.width
}

// Aggregate returns one bucket per occupied mileage interval in ascending
// order. Standard deviation is the sample (n-1) estimator and is exactly 0
// for single-listing buckets.
func (a *Aggregator) Aggregate(listings []*models.Listing) []models.MileageBucket {
	groups := make(map[int][]float64)
	for _, l := range listings {
		lb := BucketLowerBound(l.Mileage, a.width)
		groups[lb] = append(groups[lb], l.Price.InexactFloat64())
	}

	bounds := make([]int, 0, len(groups))
	for lb := range groups {
		bounds = append(bounds, lb)
	}
	sort.Ints(bounds)

	buckets := make([]models.MileageBucket, 0, len(bounds))
	for _, lb := range bounds {
		prices := groups[lb]
		b := models.MileageBucket{
			LowerBound: lb,
			Count:      len(prices),
			MeanPrice:  stat.Mean(prices, nil),
		}
		if len(prices) > 1 {
			b.StdPrice = stat.StdDev(prices, nil)
		}
		buckets = append(buckets, b)
	}
	return buckets
}

// BucketLowerBound is floor(mileage/width)*width for non-negative mileage.
func BucketLowerBound(mileage, width int) int {
	return (mileage / width) * width
}

package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoscout-scraper/models"
)

func listing(id string, price int64, mileage int) *models.Listing {
	return &models.Listing{ListingID: id, Price: decimal.NewFromInt(price), Mileage: mileage}
}

func TestBucketLowerBound(t *testing.T) {
	assert.Equal(t, 0, BucketLowerBound(0, 10000))
	assert.Equal(t, 0, BucketLowerBound(9999, 10000))
	assert.Equal(t, 40000, BucketLowerBound(49999, 10000))
	assert.Equal(t, 50000, BucketLowerBound(50000, 10000))
	assert.Equal(t, 50000, BucketLowerBound(52000, 10000))
}

func TestAggregatorGroupsByMileage(t *testing.T) {
	agg, err := NewAggregator(10000)
	require.NoError(t, err)

	buckets := agg.Aggregate([]*models.Listing{
		listing("1", 10000, 50000),
		listing("2", 10500, 52000),
		listing("3", 9800, 49000),
	})

	require.Len(t, buckets, 2)

	assert.Equal(t, 40000, buckets[0].LowerBound)
	assert.Equal(t, 1, buckets[0].Count)
	assert.InDelta(t, 9800, buckets[0].MeanPrice, 1e-9)
	assert.Equal(t, 0.0, buckets[0].StdPrice)

	assert.Equal(t, 50000, buckets[1].LowerBound)
	assert.Equal(t, 2, buckets[1].Count)
	assert.InDelta(t, 10250, buckets[1].MeanPrice, 1e-9)
	assert.InDelta(t, 353.5534, buckets[1].StdPrice, 1e-3)
}

func TestAggregatorSortedAndCountsPreserved(t *testing.T) {
	agg, err := NewAggregator(5000)
	require.NoError(t, err)

	in := []*models.Listing{
		listing("a", 8000, 91000),
		listing("b", 20000, 100),
		listing("c", 15000, 30500),
		listing("d", 14000, 34999),
		listing("e", 7000, 95000),
	}
	buckets := agg.Aggregate(in)

	total := 0
	for i, b := range buckets {
		total += b.Count
		if i > 0 {
			assert.Less(t, buckets[i-1].LowerBound, b.LowerBound)
		}
		assert.Zero(t, b.LowerBound%5000)
	}
	assert.Equal(t, len(in), total)
	assert.Equal(t, []int{0, 30000, 90000, 95000}, lowerBounds(buckets))
}

func TestAggregatorIsPure(t *testing.T) {
	agg, err := NewAggregator(10000)
	require.NoError(t, err)

	in := []*models.Listing{listing("1", 1000, 1), listing("2", 2000, 15000)}
	assert.Equal(t, agg.Aggregate(in), agg.Aggregate(in))
	assert.Empty(t, agg.Aggregate(nil))
}

func TestAggregatorRejectsBadWidth(t *testing.T) {
	_, err := NewAggregator(0)
	assert.Error(t, err)
	_, err = NewAggregator(-10)
	assert.Error(t, err)
}

func lowerBounds(bs []models.MileageBucket) []int {
	out := make([]int, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.LowerBound)
	}
	return out
}

package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoscout-scraper/models"
	"autoscout-scraper/utils"
)

func newTestLogger() *utils.Logger { return utils.NewNopLogger() }

func TestCleanerParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"€ 10.500,-", "10500", true},
		{"10500.50", "10500.5", true},
		{"$1,200", "1200", true},
		{"12.345,67 €", "12345.67", true},
		{"1,234.56", "1234.56", true},
		{"1.234.567", "1234567", true},
		{"CHF 1'250", "1250", true},
		{"0", "0", true},
		{"", "", false},
		{"trattativa riservata", "", false},
		{"-500", "", false},
	}

	for _, tt := range tests {
		got, ok := parsePrice(tt.raw)
		require.Equal(t, tt.ok, ok, "parsePrice(%q)", tt.raw)
		if tt.ok {
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got),
				"parsePrice(%q) = %s; want %s", tt.raw, got, tt.want)
		}
	}
}

func TestCleanerParseMileage(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		ok   bool
	}{
		{"52.000 km", 52000, true},
		{"52000", 52000, true},
		{"0 km", 0, true},
		{"12,5 km", 12, true},
		{"n.d.", 0, false},
		{"- km", 0, false},
		{"18446744073709551615", 0, false},
		{"99999999999999999999999 km", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseMileage(tt.raw)
		assert.Equal(t, tt.ok, ok, "parseMileage(%q)", tt.raw)
		assert.Equal(t, tt.want, got, "parseMileage(%q)", tt.raw)
	}
}

func TestCleanerParseYear(t *testing.T) {
	assert.Equal(t, 2019, parseYear("03/2019"))
	assert.Equal(t, 2019, parseYear("03-2019"))
	assert.Equal(t, 2008, parseYear("2008"))
	assert.Equal(t, 0, parseYear(""))
	assert.Equal(t, 0, parseYear("nuovo"))
}

func TestCleanerParsePower(t *testing.T) {
	tests := []struct {
		raw  string
		want *float64
	}{
		{"110 kW (150 CV)", ptr(110)},
		{"85,5 kW", ptr(85.5)},
		{"150 CV", ptr(110.3)},
		{"85", ptr(85)},
		{"", nil},
		{"n.d.", nil},
	}

	for _, tt := range tests {
		got := parsePower(tt.raw)
		if tt.want == nil {
			assert.Nil(t, got, "parsePower(%q)", tt.raw)
			continue
		}
		require.NotNil(t, got, "parsePower(%q)", tt.raw)
		assert.InDelta(t, *tt.want, *got, 1e-9, "parsePower(%q)", tt.raw)
	}
}

func TestCleanerDropsUnparsablePrice(t *testing.T) {
	c := NewCleaner(newTestLogger())
	raw := []*models.RawListing{
		{ListingID: "1", RawPrice: "prezzo su richiesta", RawMileage: "10.000 km", Origin: "roma"},
		{ListingID: "2", RawPrice: "€ 9.900,-", RawMileage: "20.000 km", Origin: "roma"},
	}

	cleaned, stats := c.Clean(raw)
	require.Len(t, cleaned, 1)
	assert.Equal(t, "2", cleaned[0].ListingID)
	assert.Equal(t, 1, stats.BadPrice)
	assert.Equal(t, 1, stats.Dropped())
}

func TestCleanerDropsMissingIDAndMileage(t *testing.T) {
	c := NewCleaner(newTestLogger())
	raw := []*models.RawListing{
		{ListingID: "  ", RawPrice: "1000", RawMileage: "1000"},
		nil,
		{ListingID: "3", RawPrice: "1000", RawMileage: "n.d."},
		{ListingID: "4", RawPrice: "1000", RawMileage: "unknown"},
		{ListingID: "5", RawPrice: "1000", RawMileage: "0 km"},
	}

	cleaned, stats := c.Clean(raw)
	require.Len(t, cleaned, 1)
	assert.Equal(t, 0, cleaned[0].Mileage)
	assert.Equal(t, models.CleanStats{Input: 5, Kept: 1, MissingID: 2, BadMileage: 2}, stats)
}

func TestCleanerDropsOverflowingMileage(t *testing.T) {
	c := NewCleaner(newTestLogger())
	raw := []*models.RawListing{
		{ListingID: "1", RawPrice: "9000", RawMileage: "18446744073709551615"},
		{ListingID: "2", RawPrice: "9000", RawMileage: "99999999999999999999999 km"},
		{ListingID: "3", RawPrice: "9000", RawMileage: "120.000 km"},
	}

	cleaned, stats := c.Clean(raw)
	require.Len(t, cleaned, 1)
	assert.Equal(t, "3", cleaned[0].ListingID)
	assert.Equal(t, 120000, cleaned[0].Mileage)
	assert.Equal(t, 2, stats.BadMileage)
	for _, l := range cleaned {
		assert.GreaterOrEqual(t, l.Mileage, 0)
	}
}

func TestCleanerDeduplicatesAcrossOrigins(t *testing.T) {
	c := NewCleaner(newTestLogger())
	raw := []*models.RawListing{
		{ListingID: "42", RawPrice: "15000", RawMileage: "60000", Origin: "milano", ScrapedAt: time.Now()},
		{ListingID: "42", RawPrice: "15000", RawMileage: "60000", Origin: "torino", ScrapedAt: time.Now()},
	}

	cleaned, stats := c.Clean(raw)
	require.Len(t, cleaned, 1)
	assert.Equal(t, "42", cleaned[0].ListingID)
	assert.Equal(t, "milano", cleaned[0].Origin, "first occurrence wins")
	assert.Equal(t, 1, stats.Duplicates)
}

func TestCleanerInvalidFirstOccurrenceDoesNotShadow(t *testing.T) {
	c := NewCleaner(newTestLogger())
	raw := []*models.RawListing{
		{ListingID: "7", RawPrice: "n/a", RawMileage: "1000", Origin: "bari"},
		{ListingID: "7", RawPrice: "7000", RawMileage: "1000", Origin: "lecce"},
	}

	cleaned, stats := c.Clean(raw)
	require.Len(t, cleaned, 1)
	assert.Equal(t, "lecce", cleaned[0].Origin)
	assert.Equal(t, 0, stats.Duplicates)
	assert.Equal(t, 1, stats.BadPrice)
}

func TestCleanerIsIdempotent(t *testing.T) {
	c := NewCleaner(newTestLogger())
	raw := []*models.RawListing{
		{ListingID: "a", RawPrice: "€ 12.500,-", RawMileage: "45.000 km", RawYear: "04/2018", RawPower: "150 CV", Origin: "roma", Title: "  Golf   1.6 TDI "},
		{ListingID: "b", RawPrice: "9.990", RawMileage: "88.100 km", RawYear: "2015", Origin: "roma"},
		{ListingID: "a", RawPrice: "€ 12.500,-", RawMileage: "45.000 km", Origin: "latina"},
	}

	first, _ := c.Clean(raw)
	again := make([]*models.RawListing, 0, len(first))
	for _, l := range first {
		again = append(again, l.ToRaw())
	}
	second, stats := c.Clean(again)

	assert.Equal(t, 0, stats.Dropped())
	require.Len(t, second, len(first))
	for i := range first {
		assertSameListing(t, first[i], second[i])
	}
}

func TestCleanerKeptIDsIndependentOfOrder(t *testing.T) {
	c := NewCleaner(newTestLogger())
	raw := []*models.RawListing{
		{ListingID: "1", RawPrice: "1000", RawMileage: "10"},
		{ListingID: "2", RawPrice: "x", RawMileage: "10"},
		{ListingID: "3", RawPrice: "3000", RawMileage: "30"},
		{ListingID: "1", RawPrice: "1100", RawMileage: "10"},
		{ListingID: "4", RawPrice: "4000", RawMileage: "40"},
	}
	reversed := make([]*models.RawListing, len(raw))
	for i, r := range raw {
		reversed[len(raw)-1-i] = r
	}

	a, _ := c.Clean(raw)
	b, _ := c.Clean(reversed)
	assert.ElementsMatch(t, listingIDs(a), listingIDs(b))
}

func assertSameListing(t *testing.T, want, got *models.Listing) {
	t.Helper()
	assert.Equal(t, want.ListingID, got.ListingID)
	assert.True(t, want.Price.Equal(got.Price), "price %s != %s", want.Price, got.Price)
	assert.Equal(t, want.Mileage, got.Mileage)
	assert.Equal(t, want.Year, got.Year)
	assert.Equal(t, want.Power, got.Power)
	assert.Equal(t, want.Origin, got.Origin)
	assert.Equal(t, want.Title, got.Title)
}

func listingIDs(ls []*models.Listing) []string {
	ids := make([]string, 0, len(ls))
	for _, l := range ls {
		ids = append(ids, l.ListingID)
	}
	return ids
}

func ptr(v float64) *float64 { return &v }

package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"autoscout-scraper/models"
	"autoscout-scraper/utils"
)

const hpToKW = 0.73549875

var (
	// numberRegexp captures the first number, with optional thousands or
	// decimal separators in either European or English style.
	numberRegexp = regexp.MustCompile(`\d[\d.,']*`)
	// yearRegexp captures a four-digit model year.
	yearRegexp = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	// kwRegexp and hpRegexp capture a power figure with its unit.
	kwRegexp = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*kw`)
	hpRegexp = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:cv|hp|ps)`)
)

// Cleaner is the strict coercion boundary between untyped scraper output
// and the typed pipeline. It drops unusable records and duplicate ids.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean coerces raw records and deduplicates them by listing id. The first
// valid occurrence of an id wins and output keeps first-seen order. Records
// with no id, or with a price or mileage that is not a non-negative number,
// are dropped and counted.
func (c *Cleaner) Clean(raw []*models.RawListing) ([]*models.Listing, models.CleanStats) {
	stats := models.CleanStats{Input: len(raw)}
	seen := make(map[string]struct{}, len(raw))
	result := make([]*models.Listing, 0, len(raw))

	for _, r := range raw {
		if r == nil {
			stats.MissingID++
			continue
		}

		id := strings.TrimSpace(r.ListingID)
		if id == "" {
			stats.MissingID++
			c.logger.Debug("[cleaner] Dropping listing with empty id: %s", r.URL)
			continue
		}

		price, ok := parsePrice(r.RawPrice)
		if !ok {
			stats.BadPrice++
			c.logger.Debug("[cleaner] Dropping %s: unparsable price %q", id, r.RawPrice)
			continue
		}

		mileage, ok := parseMileage(r.RawMileage)
		if !ok {
			stats.BadMileage++
			c.logger.Debug("[cleaner] Dropping %s: unparsable mileage %q", id, r.RawMileage)
			continue
		}

		if _, dup := seen[id]; dup {
			stats.Duplicates++
			continue
		}
		seen[id] = struct{}{}

		result = append(result, &models.Listing{
			ListingID: id,
			Price:     price,
			Mileage:   mileage,
			Year:      parseYear(r.RawYear),
			Power:     parsePower(r.RawPower),
			Origin:    strings.TrimSpace(r.Origin),
			Title:     normaliseText(r.Title),
			URL:       strings.TrimSpace(r.URL),
			ScrapedAt: r.ScrapedAt,
		})
	}

	stats.Kept = len(result)
	c.logger.Info("[cleaner] Cleaned %d → %d listings (duplicates %d, no id %d, bad price %d, bad mileage %d)",
		stats.Input, stats.Kept, stats.Duplicates, stats.MissingID, stats.BadPrice, stats.BadMileage)
	return result, stats
}

// parsePrice accepts marketplace price strings.
// Examples:
//
//	"€ 10.500,-" → 10500
//	"10500.50"   → 10500.50
//	"$1,200"     → 1200
func parsePrice(raw string) (decimal.Decimal, bool) {
	s, ok := canonicalNumber(raw)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// maxMileage is the largest mileage representable as int.
var maxMileage = decimal.NewFromInt(math.MaxInt)

// parseMileage accepts "52.000 km", "52000" and the like. Fractions are
// truncated; values that do not fit in an int are rejected.
func parseMileage(raw string) (int, bool) {
	d, ok := parsePrice(raw)
	if !ok || d.GreaterThan(maxMileage) {
		return 0, false
	}
	return int(d.IntPart()), true
}

// canonicalNumber extracts the first number from raw and rewrites it with
// "." as the only decimal separator and no grouping. A leading minus sign
// makes the value invalid.
func canonicalNumber(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	loc := numberRegexp.FindStringIndex(raw)
	if loc == nil {
		return "", false
	}
	if strings.Contains(raw[:loc[0]], "-") {
		return "", false
	}

	num := strings.TrimRight(raw[loc[0]:loc[1]], ".,'")
	num = strings.ReplaceAll(num, "'", "")

	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: whichever comes last is the decimal separator.
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastDot >= 0:
		num = resolveSingleSeparator(num, ".")
	case lastComma >= 0:
		num = resolveSingleSeparator(num, ",")
	}

	if num == "" || strings.Count(num, ".") > 1 {
		return "", false
	}
	return num, true
}

// resolveSingleSeparator decides whether sep groups thousands or marks
// decimals: repeated, or followed by exactly three digits, means grouping.
func resolveSingleSeparator(num, sep string) string {
	parts := strings.Split(num, sep)
	if len(parts) > 2 || len(parts[len(parts)-1]) == 3 {
		return strings.Join(parts, "")
	}
	return parts[0] + "." + parts[1]
}

// parseYear extracts the model year from "2019", "03/2019" or "03-2019".
// It returns 0 when no year is present.
func parseYear(raw string) int {
	m := yearRegexp.FindString(raw)
	if m == "" {
		return 0
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return y
}

// parsePower returns power in kW, converting horsepower figures, or nil
// when the record has no usable power.
func parsePower(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if m := kwRegexp.FindStringSubmatch(raw); len(m) == 2 {
		if v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64); err == nil {
			return &v
		}
	}
	if m := hpRegexp.FindStringSubmatch(raw); len(m) == 2 {
		if v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64); err == nil {
			kw := decimal.NewFromFloat(v * hpToKW).Round(1).InexactFloat64()
			return &kw
		}
	}

	// A bare number is taken as kW, the marketplace default unit.
	if v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64); err == nil && v >= 0 {
		return &v
	}
	return nil
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}

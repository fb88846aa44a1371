package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"autoscout-scraper/models"
	"autoscout-scraper/utils"
)

type ReportService struct {
	logger *utils.Logger
}

func NewReportService(logger *utils.Logger) *ReportService {
	return &ReportService{logger: logger}
}

// Generate computes headline figures over the cleaned listings.
func (s *ReportService) Generate(listings []*models.Listing) *models.MarketReport {
	report := &models.MarketReport{
		ListingsByOrigin: make(map[string]int),
	}
	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)
	prices := make([]float64, 0, len(listings))
	mileages := make([]float64, 0, len(listings))
	for _, l := range listings {
		p := l.Price.InexactFloat64()
		prices = append(prices, p)
		mileages = append(mileages, float64(l.Mileage))

		if report.MostExpensive == nil || l.Price.GreaterThan(report.MostExpensive.Price) {
			report.MostExpensive = l
		}
		if report.Cheapest == nil || l.Price.LessThan(report.Cheapest.Price) {
			report.Cheapest = l
		}
		if l.Origin != "" {
			report.ListingsByOrigin[l.Origin]++
		}
	}

	report.AveragePrice = round2(stat.Mean(prices, nil))
	report.MinPrice = round2(report.Cheapest.Price.InexactFloat64())
	report.MaxPrice = round2(report.MostExpensive.Price.InexactFloat64())

	sort.Float64s(mileages)
	report.MedianMileage = stat.Quantile(0.5, stat.Empirical, mileages, nil)
	return report
}

// Print writes the run report to w with ANSI highlighting.
func (s *ReportService) Print(w io.Writer, summary *models.RunSummary, r *models.MarketReport) {
	sep := strings.Repeat("═", 64)
	thin := strings.Repeat("─", 64)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📈 USED CAR PRICE vs MILEAGE\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if summary.RunID != "" {
		fmt.Fprintf(w, "  Run                    : %s\n", summary.RunID)
	}
	fmt.Fprintf(w, "  Queries (failed)       : \033[1m%d\033[0m (%d)\n", summary.Queries, summary.FailedQueries)
	fmt.Fprintf(w, "  Raw listings           : \033[1m%d\033[0m\n", summary.RawListings)
	fmt.Fprintf(w, "  Clean listings         : \033[1m%d\033[0m\n", summary.Clean.Kept)
	fmt.Fprintf(w, "  Dropped (dup/id/€/km)  : %d/%d/%d/%d\n",
		summary.Clean.Duplicates, summary.Clean.MissingID, summary.Clean.BadPrice, summary.Clean.BadMileage)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Price Statistics\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.TotalListings > 0 {
		fmt.Fprintf(w, "  Average price  : \033[1;32m€%.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price  : \033[1;32m€%.2f\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price  : \033[1;32m€%.2f\033[0m\n", r.MaxPrice)
		fmt.Fprintf(w, "  Median mileage : %.0f km\n", r.MedianMileage)
	} else {
		fmt.Fprintf(w, "  No listings survived cleaning\n")
	}
	fmt.Fprintln(w)

	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.Title, 60))
		fmt.Fprintf(w, "  Origin  : %s\n", r.MostExpensive.Origin)
		fmt.Fprintf(w, "  Mileage : %d km\n", r.MostExpensive.Mileage)
		fmt.Fprintf(w, "  Price   : \033[1;31m€%s\033[0m\n", r.MostExpensive.Price.StringFixed(2))
		fmt.Fprintln(w)
	}

	s.printModel(w, summary)

	fmt.Fprintf(w, "\033[1;33m  Listings by Origin\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ListingsByOrigin) == 0 {
		fmt.Fprintf(w, "  No origin data\n")
	} else {
		type originCount struct {
			origin string
			count  int
		}
		var origins []originCount
		for o, c := range r.ListingsByOrigin {
			origins = append(origins, originCount{o, c})
		}
		sort.Slice(origins, func(i, j int) bool {
			if origins[i].count != origins[j].count {
				return origins[i].count > origins[j].count
			}
			return origins[i].origin < origins[j].origin
		})
		for _, oc := range origins {
			bar := strings.Repeat("█", min(oc.count, 40))
			fmt.Fprintf(w, "  %-24s %s (%d)\n", truncate(oc.origin, 22), bar, oc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func (s *ReportService) printModel(w io.Writer, summary *models.RunSummary) {
	thin := strings.Repeat("─", 64)

	fmt.Fprintf(w, "\033[1;33m  Price by Mileage Bucket\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(summary.Buckets) == 0 {
		fmt.Fprintf(w, "  No buckets\n\n")
		return
	}

	res := summary.Result
	if res == nil {
		fmt.Fprintf(w, "  \033[1;31mnot enough data to regress\033[0m")
		if summary.RegressionErr != nil {
			fmt.Fprintf(w, " (%v)", summary.RegressionErr)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %10s %6s %12s %12s\n", "km from", "count", "mean €", "std €")
		for _, b := range summary.Buckets {
			fmt.Fprintf(w, "  %10d %6d %12.2f %12.2f\n", b.LowerBound, b.Count, b.MeanPrice, b.StdPrice)
		}
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, "  Selected degree : \033[1;32m%d\033[0m (score %.3f, ssr %.4g)\n", res.Degree, res.Score, res.ResidualScore)
	for _, c := range res.Candidates {
		marker := " "
		if c.Degree == res.Degree {
			marker = "*"
		}
		fmt.Fprintf(w, "   %s degree %d  score %10.3f  ssr %.4g\n", marker, c.Degree, c.Score, c.SSR)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %10s %6s %12s %12s %12s %12s\n", "km from", "count", "mean €", "std €", "model €",
		fmt.Sprintf("±%.0f%%", res.Confidence*100))
	for i, b := range summary.Buckets {
		fmt.Fprintf(w, "  %10d %6d %12.2f %12.2f %12.2f %12.2f\n",
			b.LowerBound, b.Count, b.MeanPrice, b.StdPrice, res.Predicted[i], res.BandWidth(i))
	}
	fmt.Fprintln(w)
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

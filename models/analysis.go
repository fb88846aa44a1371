package models

import "math"

// MileageBucket holds price statistics for one fixed-width mileage interval.
type MileageBucket struct {
	LowerBound int
	Count      int
	MeanPrice  float64
	StdPrice   float64
}

// DegreeScore records how one candidate polynomial degree scored.
type DegreeScore struct {
	Degree int
	// SSR is the unweighted residual sum of squares over bucket means.
	SSR    float64
	Score  float64
}

// RegressionResult is the selected mileage->price model evaluated at the
// bucket lower bounds.
type RegressionResult struct {
	Degree        int
	X             []float64
	Predicted     []float64
	Lower         []float64
	Upper         []float64
	Confidence    float64
	// ResidualScore is the unweighted SSR of the selected degree. Score is
	// computed from the weighted residuals when weighting is enabled.
	ResidualScore float64
	Score         float64
	Candidates    []DegreeScore

	// Coefficients are in ascending power order over the scaled variable
	// u = (x - XCenter) / XScale.
	Coefficients []float64
	XCenter      float64
	XScale       float64
}

// Predict evaluates the fitted polynomial at mileage x.
func (r *RegressionResult) Predict(x float64) float64 {
	u := (x - r.XCenter) / r.XScale
	var y float64
	for i := len(r.Coefficients) - 1; i >= 0; i-- {
		y = y*u + r.Coefficients[i]
	}
	return y
}

// BandWidth is the half width of the confidence band at index i.
func (r *RegressionResult) BandWidth(i int) float64 {
	if i < 0 || i >= len(r.Upper) {
		return math.NaN()
	}
	return r.Upper[i] - r.Predicted[i]
}

// RunSummary is what one pipeline invocation produced.
type RunSummary struct {
	RunID         string
	Queries       int
	FailedQueries int
	RawListings   int
	Clean         CleanStats
	Listings      []*Listing
	Buckets       []MileageBucket
	Result        *RegressionResult

	// RegressionErr is set when the model could not be fit (for example too
	// few buckets). The rest of the summary is still valid.
	RegressionErr error
}

// MarketReport is the headline view over the cleaned listings of a run.
type MarketReport struct {
	TotalListings    int
	AveragePrice     float64
	MinPrice         float64
	MaxPrice         float64
	MedianMileage    float64
	MostExpensive    *Listing
	Cheapest         *Listing
	ListingsByOrigin map[string]int
}

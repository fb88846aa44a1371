package services

import (
	"errors"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"autoscout-scraper/models"
	"autoscout-scraper/utils"
)

// Weighting selects how bucket standard deviations weight the fit.
type Weighting string

const (
	// WeightNone fits every bucket mean with equal weight.
	WeightNone Weighting = "none"
	// WeightInverseStd scales each residual by 1/std of its bucket.
	// Buckets with zero spread get the mean of the other buckets' factors.
	WeightInverseStd Weighting = "inverse-std"
)

// minPoints is the smallest bucket count that admits a degree-1 fit.
const minPoints = 2

// ErrInsufficientData matches every InsufficientDataError via errors.Is.
var ErrInsufficientData = errors.New("regression: insufficient data")

// InsufficientDataError reports that too few distinct mileage buckets exist
// to fit any polynomial.
type InsufficientDataError struct {
	Points   int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("regression: not enough data to regress: %d mileage bucket(s), need at least %d",
		e.Points, e.Required)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// RegressorOptions tune model selection.
type RegressorOptions struct {
	// MaxDegree caps the candidate degrees; the effective cap is also
	// bounded by the number of buckets minus one.
	MaxDegree int
	// Penalty multiplies the (d+1)·ln(n) complexity term. 1 is BIC,
	// 0 selects on fit quality alone.
	Penalty    float64
	Weighting  Weighting
	Confidence float64
}

// Regressor fits mileage→price polynomials and picks the degree.
type Regressor struct {
	opts   RegressorOptions
	logger *utils.Logger
}

// NewRegressor validates opts and returns a Regressor.
func NewRegressor(opts RegressorOptions, logger *utils.Logger) (*Regressor, error) {
	if opts.Weighting == "" {
		opts.Weighting = WeightNone
	}
	switch {
	case opts.MaxDegree < 1:
		return nil, eris.Errorf("regression: max degree must be at least 1, got %d", opts.MaxDegree)
	case opts.Penalty < 0:
		return nil, eris.Errorf("regression: degree penalty must not be negative, got %g", opts.Penalty)
	case opts.Confidence <= 0 || opts.Confidence >= 1:
		return nil, eris.Errorf("regression: confidence must be in (0,1), got %g", opts.Confidence)
	case opts.Weighting != WeightNone && opts.Weighting != WeightInverseStd:
		return nil, eris.Errorf("regression: unknown weighting %q", opts.Weighting)
	}
	return &Regressor{opts: opts, logger: logger}, nil
}

type polyFit struct {
	degree int
	coeffs []float64
	ssr    float64    // weighted; drives the score and the band
	rawSSR float64    // in price units, whatever the weighting
	design *mat.Dense // weighted design matrix
}

// SelectModel fits degrees 1..min(MaxDegree, n-1) over the bucket means and
// keeps the lowest-scoring one; near-equal scores resolve to the lower
// degree. Fewer than two buckets yields *InsufficientDataError.
func (r *Regressor) SelectModel(buckets []models.MileageBucket) (*models.RegressionResult, error) {
	n := len(buckets)
	if n < minPoints {
		return nil, &InsufficientDataError{Points: n, Required: minPoints}
	}

	x := make([]float64, n)
	y := make([]float64, n)
	std := make([]float64, n)
	for i, b := range buckets {
		x[i] = float64(b.LowerBound)
		y[i] = b.MeanPrice
		std[i] = b.StdPrice
		if i > 0 && x[i] <= x[i-1] {
			return nil, eris.Errorf("regression: bucket bounds must be strictly increasing (%g after %g)", x[i], x[i-1])
		}
	}

	center := (x[0] + x[n-1]) / 2
	scale := (x[n-1] - x[0]) / 2
	u := make([]float64, n)
	for i := range x {
		u[i] = (x[i] - center) / scale
	}
	rowScale := r.rowScales(std)

	maxDegree := r.opts.MaxDegree
	if maxDegree > n-1 {
		maxDegree = n - 1
	}

	eps := 1e-12 * math.Max(1, stat.Variance(y, nil))
	logN := math.Log(float64(n))

	var (
		best       *polyFit
		bestScore  float64
		candidates = make([]models.DegreeScore, 0, maxDegree)
	)
	for d := 1; d <= maxDegree; d++ {
		fit, err := fitPolynomial(u, y, rowScale, d)
		if err != nil {
			var cond mat.Condition
			if errors.As(err, &cond) {
				r.logger.Warn("[regression] Degree %d is ill-conditioned (%v), skipping", d, err)
				continue
			}
			return nil, eris.Wrapf(err, "regression: fit degree %d", d)
		}

		score := float64(n)*math.Log(fit.ssr/float64(n)+eps) + r.opts.Penalty*float64(d+1)*logN
		candidates = append(candidates, models.DegreeScore{Degree: d, SSR: fit.rawSSR, Score: score})
		r.logger.Debug("[regression] degree %d: ssr=%.4g score=%.4f", d, fit.rawSSR, score)

		if best == nil || score < bestScore-1e-9*math.Max(1, math.Abs(bestScore)) {
			best, bestScore = fit, score
		}
	}
	if best == nil {
		return nil, eris.New("regression: no candidate degree could be fit")
	}

	result := &models.RegressionResult{
		Degree:        best.degree,
		X:             x,
		Confidence:    r.opts.Confidence,
		ResidualScore: best.rawSSR,
		Score:         bestScore,
		Candidates:    candidates,
		Coefficients:  best.coeffs,
		XCenter:       center,
		XScale:        scale,
	}
	result.Predicted = make([]float64, n)
	for i := range x {
		result.Predicted[i] = result.Predict(x[i])
	}
	result.Lower, result.Upper = r.band(best, u, result.Predicted)

	r.logger.Info("[regression] Selected degree %d of %d candidates (ssr %.4g)",
		result.Degree, len(candidates), result.ResidualScore)
	return result, nil
}

// rowScales returns the per-bucket residual multipliers.
func (r *Regressor) rowScales(std []float64) []float64 {
	scales := make([]float64, len(std))
	for i := range scales {
		scales[i] = 1
	}
	if r.opts.Weighting != WeightInverseStd {
		return scales
	}

	var sum float64
	var count int
	for _, s := range std {
		if s > 0 {
			sum += 1 / s
			count++
		}
	}
	if count == 0 {
		return scales
	}
	fill := sum / float64(count)
	for i, s := range std {
		if s > 0 {
			scales[i] = 1 / s
		} else {
			scales[i] = fill
		}
	}
	return scales
}

// band computes the two-sided Student-t confidence interval of the fitted
// mean at every point. With no residual degrees of freedom, or a singular
// normal matrix, the band collapses onto the prediction.
func (r *Regressor) band(fit *polyFit, u, predicted []float64) (lower, upper []float64) {
	n := len(u)
	p := fit.degree + 1
	lower = append([]float64(nil), predicted...)
	upper = append([]float64(nil), predicted...)

	df := n - p
	if df <= 0 {
		return lower, upper
	}

	var normal mat.Dense
	normal.Mul(fit.design.T(), fit.design)
	var inv mat.Dense
	if err := inv.Inverse(&normal); err != nil {
		r.logger.Warn("[regression] Normal matrix not invertible, no confidence band: %v", err)
		return lower, upper
	}

	s2 := fit.ssr / float64(df)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	t := dist.Quantile(1 - (1-r.opts.Confidence)/2)

	row := mat.NewVecDense(p, nil)
	for i := 0; i < n; i++ {
		pow := 1.0
		for k := 0; k < p; k++ {
			row.SetVec(k, pow)
			pow *= u[i]
		}
		v := s2 * mat.Inner(row, &inv, row)
		if v < 0 {
			v = 0
		}
		half := t * math.Sqrt(v)
		lower[i] = predicted[i] - half
		upper[i] = predicted[i] + half
	}
	return lower, upper
}

// fitPolynomial solves the (row-scaled) least-squares problem for a
// polynomial of the given degree in u.
func fitPolynomial(u, y, rowScale []float64, degree int) (*polyFit, error) {
	n := len(u)
	p := degree + 1

	design := mat.NewDense(n, p, nil)
	target := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		pow := rowScale[i]
		for k := 0; k < p; k++ {
			design.Set(i, k, pow)
			pow *= u[i]
		}
		target.SetVec(i, rowScale[i]*y[i])
	}

	var beta mat.VecDense
	if err := beta.SolveVec(design, target); err != nil {
		return nil, err
	}

	var fitted mat.VecDense
	fitted.MulVec(design, &beta)
	var ssr, rawSSR float64
	for i := 0; i < n; i++ {
		res := target.AtVec(i) - fitted.AtVec(i)
		ssr += res * res
		raw := res / rowScale[i]
		rawSSR += raw * raw
	}

	coeffs := make([]float64, p)
	for k := range coeffs {
		coeffs[k] = beta.AtVec(k)
	}
	return &polyFit{degree: degree, coeffs: coeffs, ssr: ssr, rawSSR: rawSSR, design: design}, nil
}

package services

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoscout-scraper/models"
)

func newTestRegressor(t *testing.T, opts RegressorOptions) *Regressor {
	t.Helper()
	if opts.MaxDegree == 0 {
		opts.MaxDegree = 5
	}
	if opts.Confidence == 0 {
		opts.Confidence = 0.95
	}
	r, err := NewRegressor(opts, newTestLogger())
	require.NoError(t, err)
	return r
}

func bucketsFrom(fn func(x float64) float64, n int) []models.MileageBucket {
	out := make([]models.MileageBucket, n)
	for i := range out {
		lb := i * 10000
		out[i] = models.MileageBucket{LowerBound: lb, Count: 3, MeanPrice: fn(float64(lb)), StdPrice: 500}
	}
	return out
}

// noisy is a decreasing curve with a fixed, non-polynomial wobble.
var noisy = []models.MileageBucket{
	{LowerBound: 0, Count: 4, MeanPrice: 21300, StdPrice: 900},
	{LowerBound: 10000, Count: 9, MeanPrice: 19100, StdPrice: 1200},
	{LowerBound: 20000, Count: 12, MeanPrice: 18400, StdPrice: 1100},
	{LowerBound: 30000, Count: 15, MeanPrice: 16200, StdPrice: 1500},
	{LowerBound: 40000, Count: 11, MeanPrice: 15900, StdPrice: 1300},
	{LowerBound: 50000, Count: 8, MeanPrice: 14100, StdPrice: 0},
	{LowerBound: 60000, Count: 6, MeanPrice: 13800, StdPrice: 1700},
	{LowerBound: 70000, Count: 3, MeanPrice: 12000, StdPrice: 2100},
}

func TestSelectModelTwoBucketsIsLinear(t *testing.T) {
	r := newTestRegressor(t, RegressorOptions{Penalty: 1})
	buckets := []models.MileageBucket{
		{LowerBound: 40000, Count: 1, MeanPrice: 9800},
		{LowerBound: 50000, Count: 2, MeanPrice: 10250, StdPrice: 353.55},
	}

	res, err := r.SelectModel(buckets)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Degree)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, []float64{40000, 50000}, res.X)
	assert.InDelta(t, 9800, res.Predicted[0], 1e-6)
	assert.InDelta(t, 10250, res.Predicted[1], 1e-6)
	// No residual degrees of freedom: the band collapses.
	assert.Equal(t, res.Predicted, res.Lower)
	assert.Equal(t, res.Predicted, res.Upper)
}

func TestSelectModelInsufficientData(t *testing.T) {
	r := newTestRegressor(t, RegressorOptions{Penalty: 1})

	for _, buckets := range [][]models.MileageBucket{nil, {{LowerBound: 0, Count: 5, MeanPrice: 1000}}} {
		res, err := r.SelectModel(buckets)
		assert.Nil(t, res)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInsufficientData))

		var ide *InsufficientDataError
		require.True(t, errors.As(err, &ide))
		assert.Equal(t, len(buckets), ide.Points)
		assert.Equal(t, 2, ide.Required)
	}
}

func TestSelectModelRecoversExactLine(t *testing.T) {
	r := newTestRegressor(t, RegressorOptions{Penalty: 1})

	res, err := r.SelectModel(bucketsFrom(func(x float64) float64 { return 20000 - 0.1*x }, 6))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Degree)
	assert.InDelta(t, 20000, res.Predict(0), 1e-3)
	assert.InDelta(t, 15000, res.Predict(50000), 1e-3)
	assert.InDelta(t, 17500, res.Predict(25000), 1e-3)
}

func TestSelectModelRecoversExactQuadratic(t *testing.T) {
	r := newTestRegressor(t, RegressorOptions{Penalty: 1})

	quad := func(x float64) float64 { return 15000 - 0.2*x + 2e-6*x*x }
	res, err := r.SelectModel(bucketsFrom(quad, 6))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Degree)
	for i, x := range res.X {
		assert.InDelta(t, quad(x), res.Predicted[i], 1e-3)
	}
	assert.Len(t, res.Candidates, 5)
}

func TestSelectModelResidualsNonIncreasing(t *testing.T) {
	r := newTestRegressor(t, RegressorOptions{Penalty: 1, MaxDegree: 6})

	res, err := r.SelectModel(noisy)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 6)
	for i := 1; i < len(res.Candidates); i++ {
		prev, cur := res.Candidates[i-1].SSR, res.Candidates[i].SSR
		assert.LessOrEqual(t, cur, prev+1e-6*math.Max(1, prev), "degree %d", res.Candidates[i].Degree)
	}
	assert.LessOrEqual(t, res.Degree, 6)
	assert.GreaterOrEqual(t, res.Degree, 1)
}

func TestSelectModelBandContainsPrediction(t *testing.T) {
	r := newTestRegressor(t, RegressorOptions{Penalty: 1, MaxDegree: 3})

	res, err := r.SelectModel(noisy)
	require.NoError(t, err)
	require.Len(t, res.Lower, len(noisy))
	require.Len(t, res.Upper, len(noisy))
	for i := range res.X {
		assert.LessOrEqual(t, res.Lower[i], res.Predicted[i])
		assert.GreaterOrEqual(t, res.Upper[i], res.Predicted[i])
		assert.Greater(t, res.BandWidth(i), 0.0)
	}
	assert.Equal(t, 0.95, res.Confidence)
}

func TestSelectModelWiderConfidenceWidensBand(t *testing.T) {
	narrow := newTestRegressor(t, RegressorOptions{Penalty: 1, MaxDegree: 1, Confidence: 0.8})
	wide := newTestRegressor(t, RegressorOptions{Penalty: 1, MaxDegree: 1, Confidence: 0.99})

	a, err := narrow.SelectModel(noisy)
	require.NoError(t, err)
	b, err := wide.SelectModel(noisy)
	require.NoError(t, err)
	for i := range noisy {
		assert.Greater(t, b.BandWidth(i), a.BandWidth(i))
	}
}

func TestSelectModelZeroPenaltyPrefersFit(t *testing.T) {
	r := newTestRegressor(t, RegressorOptions{Penalty: 0, MaxDegree: 7})

	res, err := r.SelectModel(noisy)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Degree, "interpolating polynomial has the smallest residual")
}

func TestSelectModelRejectsUnsortedBuckets(t *testing.T) {
	r := newTestRegressor(t, RegressorOptions{Penalty: 1})

	_, err := r.SelectModel([]models.MileageBucket{
		{LowerBound: 20000, MeanPrice: 1},
		{LowerBound: 10000, MeanPrice: 2},
	})
	assert.Error(t, err)
}

func TestRowScales(t *testing.T) {
	none := newTestRegressor(t, RegressorOptions{Penalty: 1})
	assert.Equal(t, []float64{1, 1, 1}, none.rowScales([]float64{100, 0, 200}))

	inv := newTestRegressor(t, RegressorOptions{Penalty: 1, Weighting: WeightInverseStd})
	got := inv.rowScales([]float64{100, 0, 200})
	require.Len(t, got, 3)
	assert.InDelta(t, 0.01, got[0], 1e-12)
	assert.InDelta(t, 0.0075, got[1], 1e-12)
	assert.InDelta(t, 0.005, got[2], 1e-12)

	assert.Equal(t, []float64{1, 1}, inv.rowScales([]float64{0, 0}))
}

func TestInverseStdWeightingStillFitsExactData(t *testing.T) {
	r := newTestRegressor(t, RegressorOptions{Penalty: 1, Weighting: WeightInverseStd})

	buckets := bucketsFrom(func(x float64) float64 { return 30000 - 0.15*x }, 5)
	buckets[2].StdPrice = 0
	buckets[3].StdPrice = 4000

	res, err := r.SelectModel(buckets)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Degree)
	assert.InDelta(t, 30000-0.15*20000, res.Predict(20000), 1e-3)
}

func TestInverseStdWeightingReportsRawResiduals(t *testing.T) {
	r := newTestRegressor(t, RegressorOptions{Penalty: 1, Weighting: WeightInverseStd})

	buckets := append([]models.MileageBucket(nil), noisy...)
	for i := range buckets {
		buckets[i].StdPrice = float64(500 * (i + 1))
	}

	res, err := r.SelectModel(buckets)
	require.NoError(t, err)

	var want float64
	for i, b := range buckets {
		d := b.MeanPrice - res.Predicted[i]
		want += d * d
	}
	assert.InDelta(t, want, res.ResidualScore, 1e-6*math.Max(1, want))

	for _, c := range res.Candidates {
		if c.Degree == res.Degree {
			assert.InDelta(t, res.ResidualScore, c.SSR, 1e-9*math.Max(1, want))
		}
	}
}

func TestNewRegressorValidatesOptions(t *testing.T) {
	bad := []RegressorOptions{
		{MaxDegree: 0, Penalty: 1, Confidence: 0.95},
		{MaxDegree: 3, Penalty: -1, Confidence: 0.95},
		{MaxDegree: 3, Penalty: 1, Confidence: 1},
		{MaxDegree: 3, Penalty: 1, Confidence: 0},
		{MaxDegree: 3, Penalty: 1, Confidence: 0.9, Weighting: "bogus"},
	}
	for _, opts := range bad {
		_, err := NewRegressor(opts, newTestLogger())
		assert.Error(t, err, "%+v", opts)
	}

	r, err := NewRegressor(RegressorOptions{MaxDegree: 2, Confidence: 0.9}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, WeightNone, r.opts.Weighting)
}

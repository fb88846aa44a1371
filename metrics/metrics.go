// Package metrics records run counters on a private Prometheus registry and
// optionally pushes them to a Pushgateway when the batch ends.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"

	"autoscout-scraper/models"
)

// Recorder implements services.Recorder using Prometheus.
type Recorder struct {
	registry *prometheus.Registry

	fetched       *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	cleaned       *prometheus.CounterVec
	buckets       prometheus.Gauge
	degree        prometheus.Gauge
	stageDuration *prometheus.HistogramVec
}

// New creates a Recorder with its own registry, so repeated runs in one
// process (and tests) never collide on the default registerer.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		fetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoscout_raw_listings_total",
				Help: "Raw listings returned by the marketplace, per origin",
			},
			[]string{"origin"},
		),
		fetchFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoscout_fetch_failures_total",
				Help: "Queries that failed after all retries, per origin",
			},
			[]string{"origin"},
		),
		cleaned: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoscout_clean_records_total",
				Help: "Cleaner outcomes by result",
			},
			[]string{"result"},
		),
		buckets: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoscout_mileage_buckets",
			Help: "Occupied mileage buckets in the last run",
		}),
		degree: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoscout_selected_degree",
			Help: "Polynomial degree selected in the last run (0 when none)",
		}),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoscout_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"stage"},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) RecordFetched(origin string, n int) {
	r.fetched.WithLabelValues(origin).Add(float64(n))
}

func (r *Recorder) RecordFetchFailure(origin string) {
	r.fetchFailures.WithLabelValues(origin).Inc()
}

func (r *Recorder) RecordClean(s models.CleanStats) {
	r.cleaned.WithLabelValues("kept").Add(float64(s.Kept))
	r.cleaned.WithLabelValues("duplicate").Add(float64(s.Duplicates))
	r.cleaned.WithLabelValues("missing_id").Add(float64(s.MissingID))
	r.cleaned.WithLabelValues("bad_price").Add(float64(s.BadPrice))
	r.cleaned.WithLabelValues("bad_mileage").Add(float64(s.BadMileage))
}

func (r *Recorder) RecordBuckets(n int) {
	r.buckets.Set(float64(n))
}

func (r *Recorder) RecordDegree(d int) {
	r.degree.Set(float64(d))
}

func (r *Recorder) RecordStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Push sends everything recorded so far to a Pushgateway under job.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	err := push.New(url, job).Gatherer(r.registry).PushContext(ctx)
	return eris.Wrapf(err, "metrics: push to %s", url)
}

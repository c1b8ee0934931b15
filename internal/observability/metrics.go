package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fit outcome label values.
const (
	OutcomeConverged = "converged"
	OutcomeFailed    = "failed"
)

// PipelineCollector bundles Prometheus metrics for the extraction and fit
// stages. A nil *PipelineCollector is valid and records nothing.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	BurstsExtracted prometheus.Counter
	BurstsFailed    prometheus.Counter
	BurstsFiltered  prometheus.Counter

	BatchesProcessed prometheus.Counter
	BatchesSkipped   prometheus.Counter
	FilesMissing     prometheus.Counter

	Fits           *prometheus.CounterVec
	FitDuration    prometheus.Histogram
	MirrorFailures prometheus.Counter

	TargetsTotal   prometheus.Gauge
	TargetsCovered prometheus.Gauge
}

// NewPipelineCollector registers pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &PipelineCollector{gatherer: gatherer}
	var err error

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.BurstsExtracted, "psep_bursts_extracted_total", "Bursts whose 64 echoes all produced a finite PSEP."},
		{&c.BurstsFailed, "psep_bursts_failed_total", "Bursts zeroed because at least one echo failed extraction."},
		{&c.BurstsFiltered, "psep_bursts_filtered_total", "Bursts rejected by the latitude or lead/sea-ice filter."},
		{&c.BatchesProcessed, "psep_batches_processed_total", "File batches extracted and written."},
		{&c.BatchesSkipped, "psep_batches_skipped_total", "File batches skipped because their output was already complete."},
		{&c.FilesMissing, "archive_files_missing_total", "Listed products that could not be fetched from the archive."},
		{&c.MirrorFailures, "rsr_mirror_failures_total", "Failed writes to the optional result mirror."},
	}
	for _, spec := range counters {
		*spec.dst, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: spec.name,
			Help: spec.help,
		}), spec.name)
		if err != nil {
			return nil, err
		}
	}

	c.Fits, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rsr_fits_total",
		Help: "Statistical fits performed, labeled by optimizer method and outcome.",
	}, []string{"method", "outcome"}), "rsr_fits_total")
	if err != nil {
		return nil, err
	}

	c.FitDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rsr_fit_duration_seconds",
		Help:    "Duration of a single neighbourhood fit.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}), "rsr_fit_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.TargetsTotal, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rsr_targets",
		Help: "Number of discovered target points in the current run.",
	}), "rsr_targets")
	if err != nil {
		return nil, err
	}
	c.TargetsCovered, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rsr_targets_covered",
		Help: "Number of target points within coverage distance of measured data.",
	}), "rsr_targets_covered")
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PipelineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveBurst records the outcome of one burst extraction.
func (c *PipelineCollector) ObserveBurst(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.BurstsExtracted.Inc()
		return
	}
	c.BurstsFailed.Inc()
}

// AddFiltered records bursts rejected before extraction.
func (c *PipelineCollector) AddFiltered(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.BurstsFiltered.Add(float64(n))
}

// ObserveBatch records a processed or skipped batch.
func (c *PipelineCollector) ObserveBatch(skipped bool) {
	if c == nil {
		return
	}
	if skipped {
		c.BatchesSkipped.Inc()
		return
	}
	c.BatchesProcessed.Inc()
}

// AddMissingFiles records products that could not be fetched.
func (c *PipelineCollector) AddMissingFiles(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.FilesMissing.Add(float64(n))
}

// ObserveFit records a fit's optimizer method, outcome and duration.
func (c *PipelineCollector) ObserveFit(method string, converged bool, d time.Duration) {
	if c == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	outcome := OutcomeFailed
	if converged {
		outcome = OutcomeConverged
	}
	c.Fits.WithLabelValues(method, outcome).Inc()
	c.FitDuration.Observe(d.Seconds())
}

// AddMirrorFailure records a failed result mirror write.
func (c *PipelineCollector) AddMirrorFailure() {
	if c == nil {
		return
	}
	c.MirrorFailures.Inc()
}

// SetTargets updates the discovered and covered target gauges.
func (c *PipelineCollector) SetTargets(total, covered int) {
	if c == nil {
		return
	}
	c.TargetsTotal.Set(float64(total))
	c.TargetsCovered.Set(float64(covered))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveFitRecordsMethodAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}

	collector.ObserveFit("neldermead", true, 20*time.Millisecond)
	collector.ObserveFit("", false, time.Millisecond)

	if got := testutil.ToFloat64(collector.Fits.WithLabelValues("neldermead", OutcomeConverged)); got != 1 {
		t.Fatalf("rsr_fits_total{converged} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Fits.WithLabelValues("none", OutcomeFailed)); got != 1 {
		t.Fatalf("rsr_fits_total{failed} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "rsr_fit_duration_seconds", nil); count != 2 {
		t.Fatalf("rsr_fit_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestBurstAndBatchCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}

	collector.ObserveBurst(true)
	collector.ObserveBurst(true)
	collector.ObserveBurst(false)
	collector.AddFiltered(5)
	collector.ObserveBatch(true)
	collector.ObserveBatch(false)
	collector.AddMissingFiles(2)

	checks := map[prometheus.Counter]float64{
		collector.BurstsExtracted:  2,
		collector.BurstsFailed:     1,
		collector.BurstsFiltered:   5,
		collector.BatchesSkipped:   1,
		collector.BatchesProcessed: 1,
		collector.FilesMissing:     2,
	}
	for c, want := range checks {
		if got := testutil.ToFloat64(c); got != want {
			t.Fatalf("counter = %v, want %v", got, want)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *PipelineCollector
	c.ObserveBurst(true)
	c.AddFiltered(3)
	c.ObserveBatch(false)
	c.ObserveFit("bfgs", true, time.Second)
	c.SetTargets(10, 5)
	c.AddMirrorFailure()
	if c.Gatherer() != nil {
		t.Fatalf("Gatherer() on nil collector should be nil")
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}
	second, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("NewPipelineCollector (second): %v", err)
	}
	first.ObserveBurst(true)
	if got := testutil.ToFloat64(second.BurstsExtracted); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesTargets(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}
	collector.SetTargets(12345, 678)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{"rsr_targets 12345", "rsr_targets_covered 678", "psep_bursts_extracted_total"} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

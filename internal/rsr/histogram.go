package rsr

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// maxBins bounds the histogram resolution of very large, very tight samples.
const maxBins = 1000

// Histogram is a density-normalised histogram.
type Histogram struct {
	Centers []float64
	Density []float64
	Width   float64
}

// binCount picks the number of bins for sorted data: the smaller bin width of
// Freedman–Diaconis and Sturges, or Sturges alone when the interquartile range
// is zero.
func binCount(sorted []float64) int {
	n := len(sorted)
	if n < 2 {
		return 1
	}
	span := sorted[n-1] - sorted[0]
	if span <= 0 {
		return 1
	}
	sturges := span / (math.Log2(float64(n)) + 1)
	width := sturges
	iqr := stat.Quantile(0.75, stat.LinInterp, sorted, nil) - stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	if iqr > 0 {
		if fdw := 2 * iqr / math.Cbrt(float64(n)); fdw < width {
			width = fdw
		}
	}
	bins := int(math.Ceil(span / width))
	if bins < 1 {
		bins = 1
	}
	if bins > maxBins {
		bins = maxBins
	}
	return bins
}

// NewHistogram bins the absolute values of samples. Non-finite samples are
// ignored. It returns false when fewer than two finite samples remain.
func NewHistogram(samples []float64) (Histogram, bool) {
	x := make([]float64, 0, len(samples))
	for _, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		x = append(x, math.Abs(v))
	}
	if len(x) < 2 {
		return Histogram{}, false
	}
	sort.Float64s(x)
	bins := binCount(x)
	lo, hi := x[0], x[len(x)-1]
	if hi <= lo {
		return Histogram{}, false
	}
	width := (hi - lo) / float64(bins)
	dividers := make([]float64, bins+1)
	for i := range dividers {
		dividers[i] = lo + float64(i)*width
	}
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, x, nil)
	h := Histogram{
		Centers: make([]float64, bins),
		Density: make([]float64, bins),
		Width:   width,
	}
	norm := float64(len(x)) * width
	for i, c := range counts {
		h.Centers[i] = lo + (float64(i)+0.5)*width
		h.Density[i] = c / norm
	}
	return h, true
}

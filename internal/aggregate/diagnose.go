package aggregate

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/ThomasTBO/rsr-sea-ice/core"
	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
	"github.com/ThomasTBO/rsr-sea-ice/internal/rsr"
	"github.com/ThomasTBO/rsr-sea-ice/internal/sink"
	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// DensityFitter is a Fitter that can also evaluate its fitted density.
type DensityFitter interface {
	rsr.Fitter
	PDF(params model.FitParams, x []float64) []float64
}

// Measurements is the measured power table diagnostics read.
type Measurements interface {
	core.PowerLookup
	Embedded() []core.Vec3
}

// DiagnoseOptions configures Diagnose.
type DiagnoseOptions struct {
	Neighbors  int // default 1000
	PDFSamples int // default 1000
	Log        logging.Logger
}

// Diagnostic is the fit of one target with its density evaluated over the
// observed amplitude range.
type Diagnostic struct {
	Target    model.GeoPoint
	Fit       model.FitResult
	X         []float64
	PDF       []float64
	Histogram rsr.Histogram
}

// Diagnose fits the neighbourhood of each target and samples the fitted
// density at PDFSamples evenly spaced amplitudes between the smallest and
// largest |sample|.
func Diagnose(ctx context.Context, targets []model.GeoPoint, store Measurements, fitter DensityFitter, opts DiagnoseOptions) ([]Diagnostic, error) {
	if opts.Neighbors <= 0 {
		opts.Neighbors = 1000
	}
	if opts.PDFSamples <= 0 {
		opts.PDFSamples = 1000
	}
	if opts.Log == nil {
		opts.Log = logging.Noop()
	}

	ix := core.BuildIndex(ctx, store.Embedded(), opts.Log)
	samples, err := core.Neighborhoods(ctx, ix, store, targets, opts.Neighbors)
	if err != nil {
		return nil, err
	}
	out := make([]Diagnostic, len(targets))
	for i, s := range samples {
		fit, err := fitter.Fit(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("diagnose (%g, %g): %w", targets[i].Lat, targets[i].Lon, err)
		}
		lo, hi := amplitudeRange(s)
		x := linspace(lo, hi, opts.PDFSamples)
		hist, _ := rsr.NewHistogram(s)
		out[i] = Diagnostic{
			Target:    targets[i],
			Fit:       fit,
			X:         x,
			PDF:       fitter.PDF(fit.Params, x),
			Histogram: hist,
		}
		opts.Log.Info(ctx, "diagnostic fit",
			logging.Float("lat", targets[i].Lat),
			logging.Float("lon", targets[i].Lon),
			logging.Any("converged", fit.Converged),
			logging.Float("crl", fit.Coherence),
		)
	}
	return out, nil
}

func amplitudeRange(samples []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range samples {
		a := math.Abs(v)
		if math.IsNaN(a) || math.IsInf(a, 0) {
			continue
		}
		lo = math.Min(lo, a)
		hi = math.Max(hi, a)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

func linspace(lo, hi float64, n int) []float64 {
	x := make([]float64, n)
	if n == 1 {
		x[0] = lo
		return x
	}
	step := (hi - lo) / float64(n-1)
	for i := range x {
		x[i] = lo + float64(i)*step
	}
	return x
}

// DiagnosticsHeader is the HK_parameters.csv column layout.
var DiagnosticsHeader = []string{"lat", "lon", "pdf.values", "pdf.crl", "pdf.powers"}

// DiagnosticsName is the diagnostics file written in the work directory.
const DiagnosticsName = "HK_parameters.csv"

// WriteDiagnostics writes one row per diagnostic: target, parameter JSON,
// coherence and power JSON.
func WriteDiagnostics(w io.Writer, diags []Diagnostic) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DiagnosticsHeader); err != nil {
		return err
	}
	for _, d := range diags {
		row, err := sink.FormatRecord(model.OutputRecord{Target: d.Target, Fit: d.Fit})
		if err != nil {
			return err
		}
		// lat, lon, value, power, crl, flag -> lat, lon, value, crl, power
		if err := cw.Write([]string{row[0], row[1], row[2], row[4], row[3]}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DistributionPath is the QA file of one diagnostic target.
func DistributionPath(dir string, p model.GeoPoint) string {
	return filepath.Join(dir, fmt.Sprintf("distribution_%s_%s.csv", formatFloat(p.Lat), formatFloat(p.Lon)))
}

// WriteDistribution writes x, fitted density and histogram density for one
// diagnostic into dir and returns the file path.
func WriteDistribution(dir string, d Diagnostic) (string, error) {
	path := DistributionPath(dir, d.Target)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	cw := csv.NewWriter(f)
	werr := cw.Write([]string{"x", "pdf", "histogram"})
	for i, x := range d.X {
		if werr != nil {
			break
		}
		werr = cw.Write([]string{formatFloat(x), formatFloat(d.PDF[i]), formatFloat(histogramAt(d.Histogram, x))})
	}
	cw.Flush()
	if werr == nil {
		werr = cw.Error()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), werr)
	}
	return path, nil
}

// histogramAt returns the density of the bin holding x, or 0 outside the
// histogram.
func histogramAt(h rsr.Histogram, x float64) float64 {
	if len(h.Centers) == 0 || h.Width <= 0 {
		return 0
	}
	lo := h.Centers[0] - h.Width/2
	i := int(math.Floor((x - lo) / h.Width))
	if i == len(h.Centers) && x <= lo+float64(i)*h.Width+h.Width*1e-9 {
		i--
	}
	if i < 0 || i >= len(h.Centers) {
		return 0
	}
	return h.Density[i]
}

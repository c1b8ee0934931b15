// Package echo extracts the peak surface echo power (PSEP) from SAR FBR
// sub-echo waveforms.
package echo

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// Options tunes the leading edge search and the PSEP window.
type Options struct {
	// LeadingEdgeFractions are the gradient window sizes as fractions of the
	// waveform length.
	LeadingEdgeFractions []float64
	// WindowFracPsep is the fraction of the spectrum searched for the peak
	// after the leading edge.
	WindowFracPsep float64
}

// DefaultOptions returns the standard extraction settings.
func DefaultOptions() Options {
	return Options{
		LeadingEdgeFractions: []float64{0.03, 0.06, 0.09},
		WindowFracPsep:       0.05,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if len(o.LeadingEdgeFractions) == 0 {
		o.LeadingEdgeFractions = d.LeadingEdgeFractions
	}
	if o.WindowFracPsep <= 0 {
		o.WindowFracPsep = d.WindowFracPsep
	}
	return o
}

// LeadingEdge returns the offset of steepest power rise in waveform. For
// each offset the mean discrete gradient of every window is computed and
// the per-window means are averaged; the first maximum wins. Windows are
// round(f*len) samples, at least 2. A waveform no longer than the largest
// window yields 0.
func LeadingEdge(waveform []float64, fractions []float64) int {
	if len(fractions) == 0 {
		fractions = DefaultOptions().LeadingEdgeFractions
	}
	n := len(waveform)
	windows := make([]int, len(fractions))
	maxW := 0
	for i, f := range fractions {
		w := int(math.Round(f * float64(n)))
		if w < 2 {
			w = 2
		}
		windows[i] = w
		maxW = max(maxW, w)
	}

	best, bestIdx := math.Inf(-1), 0
	for i := 0; i < n-maxW; i++ {
		var sum float64
		for _, w := range windows {
			sum += meanGradient(waveform[i : i+w])
		}
		if avg := sum / float64(len(windows)); avg > best {
			best, bestIdx = avg, i
		}
	}
	return bestIdx
}

// meanGradient averages the second-order discrete gradient of s: central
// differences inside, one-sided differences at both ends.
func meanGradient(s []float64) float64 {
	w := len(s)
	sum := (s[1] - s[0]) + (s[w-1] - s[w-2])
	for k := 1; k < w-1; k++ {
		sum += (s[k+1] - s[k-1]) / 2
	}
	return sum / float64(w)
}

// PowerSpectrum returns |X|²/N of the DFT of i + jq with the zero
// frequency moved to the centre.
func PowerSpectrum(i, q []float64) []float64 {
	n := len(i)
	if n == 0 || len(q) != n {
		return nil
	}
	seq := make([]complex128, n)
	for k := range seq {
		seq[k] = complex(i[k], q[k])
	}
	fft := fourier.NewCmplxFFT(n)
	coeff := fft.Coefficients(nil, seq)

	out := make([]float64, n)
	for k := range out {
		c := coeff[fft.ShiftIdx(k)]
		out[k] = (real(c)*real(c) + imag(c)*imag(c)) / float64(n)
	}
	return out
}

// ExtractEcho returns the calibrated PSEP (dB) of one sub-echo. A zero or
// negative peak yields a non-finite value, which callers must treat as a
// failed extraction.
func ExtractEcho(i, q []float64, gain float64, opts Options) float64 {
	opts = opts.withDefaults()
	spec := PowerSpectrum(i, q)
	if len(spec) == 0 {
		return math.NaN()
	}

	edge := LeadingEdge(spec, opts.LeadingEdgeFractions)
	w := int(math.Floor(opts.WindowFracPsep * float64(len(spec))))
	if w < 1 {
		w = 1
	}
	end := min(edge+w, len(spec))

	peak := spec[edge]
	for _, p := range spec[edge+1 : end] {
		if p > peak {
			peak = p
		}
	}
	return 10*math.Log10(peak) + gain
}

// ExtractBurst extracts all sub-echoes of b with the burst's total gain. If
// any echo is non-finite the whole vector is zeroed and ok is false.
func ExtractBurst(b model.Burst, opts Options) (v model.PowerVector, ok bool) {
	if len(b.I) < model.EchoesPerBurst || len(b.Q) < model.EchoesPerBurst {
		return model.PowerVector{}, false
	}
	gain := b.Gain.Total()
	for k := range model.EchoesPerBurst {
		p := ExtractEcho(b.I[k], b.Q[k], gain, opts)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return model.PowerVector{}, false
		}
		v[k] = p
	}
	return v, true
}

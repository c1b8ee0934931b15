package echo

import (
	"math"
	"testing"

	"github.com/ThomasTBO/rsr-sea-ice/model"
)

const testLen = 128

func tone(n, bin int, amp float64) (i, q []float64) {
	i = make([]float64, n)
	q = make([]float64, n)
	c := amp / math.Sqrt(float64(n))
	for k := range n {
		phase := 2 * math.Pi * float64(bin*k) / float64(n)
		i[k] = c * math.Cos(phase)
		q[k] = c * math.Sin(phase)
	}
	return i, q
}

func TestLeadingEdgeStep(t *testing.T) {
	for _, i0 := range []int{20, 50, 90} {
		w := make([]float64, testLen)
		for k := i0; k < testLen; k++ {
			w[k] = 1
		}
		got := LeadingEdge(w, nil)
		tol := int(math.Round(0.09 * testLen))
		if got < i0-tol || got > i0+tol {
			t.Fatalf("LeadingEdge(step at %d) = %d, want within %d", i0, got, tol)
		}
	}
}

func TestLeadingEdgeShortWaveform(t *testing.T) {
	if got := LeadingEdge([]float64{1, 2}, []float64{0.5}); got != 0 {
		t.Fatalf("LeadingEdge() = %d, want 0", got)
	}
}

func TestPowerSpectrumCentresTone(t *testing.T) {
	i, q := tone(testLen, 10, 3)
	spec := PowerSpectrum(i, q)

	peak := 0
	for k := range spec {
		if spec[k] > spec[peak] {
			peak = k
		}
	}
	if peak != 10+testLen/2 {
		t.Fatalf("spectrum peak at %d, want %d", peak, 10+testLen/2)
	}
	if math.Abs(spec[peak]-9) > 1e-9 {
		t.Fatalf("peak power = %v, want 9", spec[peak])
	}
}

func TestPowerSpectrumLengthMismatch(t *testing.T) {
	if got := PowerSpectrum([]float64{1, 2}, []float64{1}); got != nil {
		t.Fatalf("PowerSpectrum() = %v, want nil", got)
	}
}

func TestExtractEchoSinglePeak(t *testing.T) {
	const amp, gain = 5.0, 37.5
	i, q := tone(testLen, 10, amp)

	got := ExtractEcho(i, q, gain, DefaultOptions())
	want := 10*math.Log10(amp*amp) + gain
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("ExtractEcho() = %v, want %v", got, want)
	}
}

func TestExtractEchoZeroSignalIsNonFinite(t *testing.T) {
	zeros := make([]float64, testLen)
	got := ExtractEcho(zeros, zeros, 10, Options{})
	if !math.IsInf(got, -1) {
		t.Fatalf("ExtractEcho(zeros) = %v, want -Inf", got)
	}
}

func burst(amp float64) model.Burst {
	b := model.Burst{
		I:    make([][]float64, model.EchoesPerBurst),
		Q:    make([][]float64, model.EchoesPerBurst),
		Gain: model.BurstGain{Static: 30, AGC1: 2, AGC2: 1, InstrumentCorrection: 0.5},
	}
	for k := range model.EchoesPerBurst {
		b.I[k], b.Q[k] = tone(testLen, 10, amp)
	}
	return b
}

func TestExtractBurst(t *testing.T) {
	v, ok := ExtractBurst(burst(2), DefaultOptions())
	if !ok {
		t.Fatalf("ExtractBurst() ok = false, want true")
	}
	want := 10*math.Log10(4) + 33.5
	for k, p := range v {
		if math.Abs(p-want) > 1e-6 {
			t.Fatalf("echo %d = %v, want %v", k, p, want)
		}
	}
}

func TestExtractBurstZeroesOnAnyFailure(t *testing.T) {
	b := burst(2)
	b.I[17] = make([]float64, testLen)
	b.Q[17] = make([]float64, testLen)

	v, ok := ExtractBurst(b, DefaultOptions())
	if ok {
		t.Fatalf("ExtractBurst() ok = true, want false")
	}
	if !v.IsZero() {
		t.Fatalf("ExtractBurst() = %v, want all-zero vector", v)
	}
}

func TestExtractBurstTooFewEchoes(t *testing.T) {
	if _, ok := ExtractBurst(model.Burst{}, DefaultOptions()); ok {
		t.Fatalf("ExtractBurst(empty) ok = true")
	}
}

package rsr

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/ThomasTBO/rsr-sea-ice/model"
	"gonum.org/v1/gonum/integrate/quad"
)

func riceSamples(n int, a, s float64) []float64 {
	r := rand.New(rand.NewPCG(7, 11))
	out := make([]float64, n)
	for i := range out {
		re := a + s*r.NormFloat64()
		im := s * r.NormFloat64()
		out[i] = math.Hypot(re, im)
	}
	return out
}

func TestI0e(t *testing.T) {
	cases := []struct {
		x, want float64
	}{
		{0, 1},
		{1, 0.4657596075936404},
		{-1, 0.4657596075936404},
		{5, 0.1835408126},
		{50, 0.0565616266},
	}
	for _, c := range cases {
		if got := i0e(c.x); math.Abs(got-c.want) > 1e-6 {
			t.Fatalf("i0e(%v) = %v, want %v", c.x, got, c.want)
		}
	}
}

func TestPowers(t *testing.T) {
	p := Powers(model.FitParams{A: 10, S: math.Sqrt(0.5), Mu: 3})
	if math.Abs(p.Coherent-20) > 1e-12 {
		t.Fatalf("pc = %v, want 20", p.Coherent)
	}
	if math.Abs(p.Noise) > 1e-12 {
		t.Fatalf("pn = %v, want 0", p.Noise)
	}
	if want := 10 * math.Log10(101); math.Abs(p.Total-want) > 1e-12 {
		t.Fatalf("pt = %v, want %v", p.Total, want)
	}
	if math.Abs(p.Ratio-20) > 1e-12 {
		t.Fatalf("pc-pn = %v, want 20", p.Ratio)
	}
}

func TestPDFIntegratesToOne(t *testing.T) {
	h := NewHK(nil)
	params := model.FitParams{A: 1, S: 0.5, Mu: 5}
	integral := quad.Fixed(func(x float64) float64 {
		return h.PDF(params, []float64{x})[0]
	}, 0, 10, 400, nil, 0)
	if math.Abs(integral-1) > 1e-3 {
		t.Fatalf("integral of PDF = %v, want 1", integral)
	}
}

func TestPDFLargeMuApproachesRice(t *testing.T) {
	h := NewHK(nil)
	params := model.FitParams{A: 1, S: 0.3, Mu: MuMax}
	xs := []float64{0.5, 1, 1.5}
	got := h.PDF(params, xs)
	for i, x := range xs {
		want := rice(x, params.A, params.S)
		if math.Abs(got[i]-want) > 0.02*want+1e-6 {
			t.Fatalf("PDF(%v) = %v, want about %v", x, got[i], want)
		}
	}
}

func TestPDFInvalidParamsIsZero(t *testing.T) {
	h := NewHK(nil)
	for _, v := range h.PDF(model.FitParams{A: 1}, []float64{0.5, 1}) {
		if v != 0 {
			t.Fatalf("PDF with zero scale = %v, want 0", v)
		}
	}
}

func TestHistogramDensityIntegratesToOne(t *testing.T) {
	hist, ok := NewHistogram(riceSamples(5000, 2, 0.5))
	if !ok {
		t.Fatalf("NewHistogram() ok = false")
	}
	var total float64
	for _, d := range hist.Density {
		total += d * hist.Width
	}
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("histogram mass = %v, want 1", total)
	}
	if len(hist.Centers) < 10 {
		t.Fatalf("bins = %d, want a Freedman–Diaconis resolution", len(hist.Centers))
	}
}

func TestHistogramUsesAbsoluteValues(t *testing.T) {
	hist, ok := NewHistogram([]float64{-3, -2, 2, 3, math.NaN()})
	if !ok {
		t.Fatalf("NewHistogram() ok = false")
	}
	if hist.Centers[0] < 2 || hist.Centers[len(hist.Centers)-1] > 3 {
		t.Fatalf("centers = %v, want within [2, 3]", hist.Centers)
	}
}

func TestFitRecoversRiceParameters(t *testing.T) {
	const a, s = 1.0, 0.2
	res, err := NewHK(nil).Fit(context.Background(), riceSamples(20000, a, s))
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if !res.Converged || res.Method == "" {
		t.Fatalf("Fit() converged = %v method = %q, want success", res.Converged, res.Method)
	}
	if math.Abs(res.Params.A-a) > 0.15 {
		t.Fatalf("a = %v, want about %v", res.Params.A, a)
	}
	if math.Abs(res.Params.S-s) > 0.08 {
		t.Fatalf("s = %v, want about %v", res.Params.S, s)
	}
	if res.Coherence < 0.9 {
		t.Fatalf("crl = %v, want > 0.9", res.Coherence)
	}
	if res.Power != Powers(res.Params) {
		t.Fatalf("power = %+v, want decomposition of %+v", res.Power, res.Params)
	}
}

func TestFitDegenerateSampleDoesNotConverge(t *testing.T) {
	h := NewHK(nil)
	for _, samples := range [][]float64{nil, {1}, {2, 2, 2, 2}} {
		res, err := h.Fit(context.Background(), samples)
		if err != nil {
			t.Fatalf("Fit(%v) error = %v", samples, err)
		}
		if res.Converged {
			t.Fatalf("Fit(%v) converged, want failure flag", samples)
		}
	}
}

func TestFitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHK(nil).Fit(ctx, riceSamples(100, 1, 0.2)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Fit() error = %v, want context.Canceled", err)
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy([]string{" BFGS", "", "cg"})
	if err != nil {
		t.Fatalf("ParseStrategy() error = %v", err)
	}
	if len(s) != 2 || s[0] != MethodBFGS || s[1] != MethodCG {
		t.Fatalf("ParseStrategy() = %v", s)
	}
	if s, _ := ParseStrategy(nil); len(s) != 2 || s[0] != MethodNelderMead {
		t.Fatalf("ParseStrategy(nil) = %v, want default", s)
	}
	if _, err := ParseStrategy([]string{"leastsq"}); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("ParseStrategy(leastsq) error = %v, want ErrUnknownMethod", err)
	}
}

func TestFitUnknownMethodIsError(t *testing.T) {
	h := &HK{Strategy: Strategy{"powell"}}
	if _, err := h.Fit(context.Background(), riceSamples(500, 1, 0.2)); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("Fit() error = %v, want ErrUnknownMethod", err)
	}
}

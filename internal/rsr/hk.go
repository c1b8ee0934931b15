package rsr

import (
	"context"
	"errors"
	"math"

	"github.com/ThomasTBO/rsr-sea-ice/model"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	defaultMaxIterations = 2000
	defaultTextureNodes  = 32

	// MuMax caps the shape parameter; beyond it the model is Rice.
	MuMax = 1000.0
)

// HK fits the Homodyned-K amplitude distribution: a Rice distribution whose
// diffuse power is modulated by a unit-mean gamma texture of shape mu. The fit
// is least squares between the sample's density histogram and the model
// density at the bin centres, tried with each Strategy method in turn.
type HK struct {
	Strategy      Strategy
	MaxIterations int
	// TextureNodes is the number of Gauss–Legendre nodes used to integrate
	// over the gamma texture.
	TextureNodes int
}

// NewHK returns an HK fitter using strategy, or DefaultStrategy when empty.
func NewHK(strategy Strategy) *HK {
	if len(strategy) == 0 {
		strategy = DefaultStrategy()
	}
	return &HK{
		Strategy:      strategy,
		MaxIterations: defaultMaxIterations,
		TextureNodes:  defaultTextureNodes,
	}
}

// Powers decomposes fit parameters into total, diffuse and coherent power (dB).
func Powers(p model.FitParams) model.PowerComponents {
	coherent := p.A * p.A
	noise := 2 * p.S * p.S
	pc := 10 * math.Log10(coherent)
	pn := 10 * math.Log10(noise)
	return model.PowerComponents{
		Total:    10 * math.Log10(coherent+noise),
		Noise:    pn,
		Coherent: pc,
		Ratio:    pc - pn,
	}
}

// Fit estimates the HK parameters of |samples|. Samples are rescaled to unit
// maximum before fitting and the amplitudes scaled back afterwards. The
// returned error is non-nil only for cancellation or an invalid strategy.
func (h *HK) Fit(ctx context.Context, samples []float64) (model.FitResult, error) {
	if err := ctx.Err(); err != nil {
		return model.FitResult{}, err
	}
	hist, ok := NewHistogram(samples)
	if !ok {
		return model.FitResult{}, nil
	}

	scale := hist.Centers[len(hist.Centers)-1] + hist.Width/2
	xs := make([]float64, len(hist.Centers))
	ys := make([]float64, len(hist.Density))
	var baseline, m2 float64
	for i := range xs {
		xs[i] = hist.Centers[i] / scale
		ys[i] = hist.Density[i] * scale
		baseline += ys[i] * ys[i]
		m2 += ys[i] * xs[i] * xs[i] * hist.Width / scale
	}

	u, w := h.legendre()
	modelAt := func(p model.FitParams, dst []float64) []float64 {
		tau := textureQuantiles(p.Mu, u)
		for i, x := range xs {
			dst[i] = mixture(x, p.A, p.S, tau, w)
		}
		return dst
	}
	pred := make([]float64, len(xs))
	objective := func(x []float64) float64 {
		p := paramsFrom(x)
		if p.S <= 0 || p.Mu <= 0 {
			return baseline
		}
		modelAt(p, pred)
		var sum float64
		for i, y := range ys {
			d := pred[i] - y
			sum += d * d
		}
		return sum
	}

	x0 := []float64{math.Sqrt(m2 / 2), math.Sqrt(m2 / 4), 10}
	strategy := h.Strategy
	if len(strategy) == 0 {
		strategy = DefaultStrategy()
	}
	maxIter := h.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	var last model.FitResult
	for _, name := range strategy {
		if err := ctx.Err(); err != nil {
			return model.FitResult{}, err
		}
		x, err := minimize(name, objective, x0, maxIter)
		if errors.Is(err, ErrUnknownMethod) {
			return model.FitResult{}, err
		}
		if err != nil || x == nil {
			continue
		}
		p := paramsFrom(x)
		fitted := modelAt(p, make([]float64, len(xs)))
		res := model.FitResult{
			Params: model.FitParams{
				A:  p.A * scale,
				S:  p.S * scale,
				Mu: p.Mu,
			},
			Coherence: stat.Correlation(ys, fitted, nil),
		}
		res.Power = Powers(res.Params)
		if p.Mu == 0 || !finiteParams(res.Params) {
			last = res
			continue
		}
		res.Converged = true
		res.Method = name
		return res, nil
	}
	return last, nil
}

// PDF evaluates the HK density with params at each amplitude in x.
func (h *HK) PDF(params model.FitParams, x []float64) []float64 {
	out := make([]float64, len(x))
	if params.S <= 0 || params.Mu <= 0 {
		return out
	}
	u, w := h.legendre()
	tau := textureQuantiles(math.Min(params.Mu, MuMax), u)
	for i, v := range x {
		out[i] = mixture(v, params.A, params.S, tau, w)
	}
	return out
}

func (h *HK) legendre() (nodes, weights []float64) {
	n := h.TextureNodes
	if n <= 0 {
		n = defaultTextureNodes
	}
	nodes = make([]float64, n)
	weights = make([]float64, n)
	quad.Legendre{}.FixedLocations(nodes, weights, 0, 1)
	return nodes, weights
}

// textureQuantiles maps quadrature nodes on (0, 1) to quantiles of the
// unit-mean gamma texture, turning the mixture integral into a weighted sum.
func textureQuantiles(mu float64, u []float64) []float64 {
	g := distuv.Gamma{Alpha: mu, Beta: mu}
	tau := make([]float64, len(u))
	for i, p := range u {
		tau[i] = g.Quantile(p)
	}
	return tau
}

func mixture(x, a, s float64, tau, w []float64) float64 {
	var sum float64
	for i, t := range tau {
		if !(t > 0) || math.IsInf(t, 0) {
			continue
		}
		sum += w[i] * rice(x, a, s*math.Sqrt(t))
	}
	return sum
}

func paramsFrom(x []float64) model.FitParams {
	return model.FitParams{
		A:  math.Abs(x[0]),
		S:  math.Abs(x[1]),
		Mu: math.Min(math.Abs(x[2]), MuMax),
	}
}

func finiteParams(p model.FitParams) bool {
	for _, v := range []float64{p.A, p.S, p.Mu} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Package rsr fits the radar statistical reconnaissance (Homodyned-K)
// amplitude model to neighbourhood samples of calibrated echo power.
package rsr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ThomasTBO/rsr-sea-ice/model"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// Fitter reduces one neighbourhood sample to a fit result. A fit that does
// not converge is reported through FitResult.Converged, not as an error.
type Fitter interface {
	Fit(ctx context.Context, samples []float64) (model.FitResult, error)
}

// Optimizer method names accepted by ParseStrategy.
const (
	MethodNelderMead = "neldermead"
	MethodBFGS       = "bfgs"
	MethodLBFGS      = "lbfgs"
	MethodCG         = "cg"
)

// ErrUnknownMethod is returned for an optimizer name ParseStrategy does not know.
var ErrUnknownMethod = errors.New("unknown optimizer method")

// Strategy is the ordered list of optimizer methods tried until one converges.
type Strategy []string

// DefaultStrategy starts derivative-free and falls back to a quasi-Newton method.
func DefaultStrategy() Strategy {
	return Strategy{MethodNelderMead, MethodLBFGS}
}

// ParseStrategy validates and normalises method names.
func ParseStrategy(names []string) (Strategy, error) {
	var s Strategy
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, err := newMethod(name); err != nil {
			return nil, err
		}
		s = append(s, name)
	}
	if len(s) == 0 {
		return DefaultStrategy(), nil
	}
	return s, nil
}

func newMethod(name string) (optimize.Method, error) {
	switch name {
	case MethodNelderMead:
		return &optimize.NelderMead{}, nil
	case MethodBFGS:
		return &optimize.BFGS{}, nil
	case MethodLBFGS:
		return &optimize.LBFGS{}, nil
	case MethodCG:
		return &optimize.CG{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
}

// needsGradient reports whether the method evaluates Problem.Grad.
func needsGradient(name string) bool {
	return name != MethodNelderMead
}

// minimize runs one optimizer method on f from x0. The returned location is
// nil when the method ended early or failed.
func minimize(name string, f func([]float64) float64, x0 []float64, maxIter int) ([]float64, error) {
	method, err := newMethod(name)
	if err != nil {
		return nil, err
	}
	problem := optimize.Problem{Func: f}
	if needsGradient(name) {
		settings := &fd.Settings{Formula: fd.Central}
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, f, x, settings)
		}
	}
	res, err := optimize.Minimize(problem, x0, &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-8,
			Iterations: 50,
		},
	}, method)
	if err != nil {
		return nil, err
	}
	if res.Status.Early() {
		return nil, res.Status.Err()
	}
	for _, v := range res.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil
		}
	}
	return res.X, nil
}

package model

// FitParams are the raw Homodyned-K parameters: coherent amplitude a,
// diffuse scale s and shape mu.
type FitParams struct {
	A  float64 `json:"a"`
	S  float64 `json:"s"`
	Mu float64 `json:"mu"`
}

// PowerComponents is the power decomposition of a fit, in dB.
type PowerComponents struct {
	Total    float64 `json:"pt"`
	Noise    float64 `json:"pn"`
	Coherent float64 `json:"pc"`
	Ratio    float64 `json:"pc-pn"`
}

// FitResult is the outcome of one neighbourhood fit. Method names the
// optimizer strategy that converged; it is empty when every strategy failed.
type FitResult struct {
	Params    FitParams
	Power     PowerComponents
	Coherence float64
	Converged bool
	Method    string
}

// Flag returns the persisted convergence indicator (1 success, 0 failure).
func (f FitResult) Flag() int {
	if f.Converged {
		return 1
	}
	return 0
}

// OutputRecord pairs a target point with its fit.
type OutputRecord struct {
	Target GeoPoint
	Fit    FitResult
}

package growth

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Model names one growth curve family.
type Model string

const (
	Linear      Model = "linear"
	Exponential Model = "exponential"
	PowerLaw    Model = "power_law"
	Quadratic   Model = "quadratic"
	// Linear2pt is the straight line through exactly two observations.
	Linear2pt Model = "linear_2pt"
)

// Variants is the candidate set tried for lineages with three or more
// observations, in tie-break order.
var Variants = []Model{Linear, Exponential, PowerLaw, Quadratic}

// NumParams is the number of free parameters k of the model.
func (m Model) NumParams() int {
	switch m {
	case Quadratic:
		return 3
	default:
		return 2
	}
}

// Eval returns the model depth at time t. offset is the power-law time shift.
func (m Model) Eval(params []float64, t, offset float64) float64 {
	switch m {
	case Linear, Linear2pt:
		return params[0] + params[1]*t
	case Exponential:
		return params[0] * math.Exp(params[1]*t)
	case PowerLaw:
		return params[0] * math.Pow(t+offset, params[1])
	case Quadratic:
		return params[0] + params[1]*t + params[2]*t*t
	}
	return math.NaN()
}

// Derivative returns d(depth)/dt at time t.
func (m Model) Derivative(params []float64, t, offset float64) float64 {
	switch m {
	case Linear, Linear2pt:
		return params[1]
	case Exponential:
		return params[0] * params[1] * math.Exp(params[1]*t)
	case PowerLaw:
		return params[0] * params[1] * math.Pow(t+offset, params[1]-1)
	case Quadratic:
		return params[1] + 2*params[2]*t
	}
	return math.NaN()
}

// Fit is one fitted model.
type Fit struct {
	Model  Model     `json:"model"`
	Params []float64 `json:"params"`
	RSS    float64   `json:"rss"`
	AIC    float64   `json:"aic"`
	BIC    float64   `json:"bic"`
}

var (
	errTooFewPoints   = errors.New("not enough observations for model")
	errDomain         = errors.New("observations outside model domain")
	errNotConverged   = errors.New("optimiser did not converge")
	errDegenerateRSS  = errors.New("non-positive residual sum of squares")
	errUnknownVariant = errors.New("unknown model variant")
)

// ComputeAIC is n·ln(RSS/n) + 2k, or +Inf when n is zero or RSS is not
// positive.
func ComputeAIC(n, k int, rss float64) float64 {
	if n <= 0 || !(rss > 0) {
		return math.Inf(1)
	}
	return float64(n)*math.Log(rss/float64(n)) + 2*float64(k)
}

// ComputeBIC is n·ln(RSS/n) + k·ln(n), or +Inf when n is zero or RSS is not
// positive.
func ComputeBIC(n, k int, rss float64) float64 {
	if n <= 0 || !(rss > 0) {
		return math.Inf(1)
	}
	return float64(n)*math.Log(rss/float64(n)) + float64(k)*math.Log(float64(n))
}

// FitModel fits one variant to (t, y). It requires more observations than
// parameters and returns an error when the fit is unusable.
func FitModel(m Model, t, y []float64, offset float64) (Fit, error) {
	n, k := len(t), m.NumParams()
	if n <= k {
		return Fit{}, fmt.Errorf("%s: %w (n=%d, k=%d)", m, errTooFewPoints, n, k)
	}

	var params []float64
	var err error
	switch m {
	case Linear:
		params, err = polyFit(t, y, 1)
	case Quadratic:
		params, err = polyFit(t, y, 2)
	case Exponential:
		params, err = fitExponential(t, y)
	case PowerLaw:
		params, err = fitPowerLaw(t, y, offset)
	default:
		err = errUnknownVariant
	}
	if err != nil {
		return Fit{}, fmt.Errorf("%s: %w", m, err)
	}

	rss := residualSS(m, params, t, y, offset)
	if !(rss > 0) || math.IsInf(rss, 0) {
		return Fit{}, fmt.Errorf("%s: %w", m, errDegenerateRSS)
	}
	return Fit{
		Model:  m,
		Params: params,
		RSS:    rss,
		AIC:    ComputeAIC(n, k, rss),
		BIC:    ComputeBIC(n, k, rss),
	}, nil
}

// SelectBest returns the fit with the lowest AIC; earlier fits win ties.
func SelectBest(fits []Fit) (Fit, bool) {
	if len(fits) == 0 {
		return Fit{}, false
	}
	best := fits[0]
	for _, f := range fits[1:] {
		if f.AIC < best.AIC {
			best = f
		}
	}
	return best, true
}

func residualSS(m Model, params, t, y []float64, offset float64) float64 {
	rss := 0.0
	for i := range t {
		r := y[i] - m.Eval(params, t[i], offset)
		rss += r * r
	}
	return rss
}

// polyFit solves the least-squares polynomial of the given degree by QR.
func polyFit(t, y []float64, degree int) ([]float64, error) {
	n, k := len(t), degree+1
	X := mat.NewDense(n, k, nil)
	for i, ti := range t {
		v := 1.0
		for j := 0; j < k; j++ {
			X.Set(i, j, v)
			v *= ti
		}
	}
	Y := mat.NewVecDense(n, append([]float64(nil), y...))

	var qr mat.QR
	qr.Factorize(X)

	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, Y); err != nil {
		return nil, err
	}
	out := make([]float64, k)
	for j := range out {
		out[j] = beta.AtVec(j)
	}
	return out, nil
}

// fitExponential seeds a·e^(bt) from ln y = ln a + b·t and refines the
// parameters against the untransformed residuals.
func fitExponential(t, y []float64) ([]float64, error) {
	ly := make([]float64, len(y))
	for i, v := range y {
		if v <= 0 {
			return nil, errDomain
		}
		ly[i] = math.Log(v)
	}
	seed, err := polyFit(t, ly, 1)
	if err != nil {
		return nil, err
	}
	x0 := []float64{math.Exp(seed[0]), seed[1]}
	return refine(Exponential, t, y, 0, x0)
}

// fitPowerLaw seeds a·(t+offset)^b from ln y = ln a + b·ln(t+offset).
func fitPowerLaw(t, y []float64, offset float64) ([]float64, error) {
	lt := make([]float64, len(t))
	ly := make([]float64, len(y))
	for i := range t {
		if y[i] <= 0 || t[i]+offset <= 0 {
			return nil, errDomain
		}
		lt[i] = math.Log(t[i] + offset)
		ly[i] = math.Log(y[i])
	}
	seed, err := polyFit(lt, ly, 1)
	if err != nil {
		return nil, err
	}
	x0 := []float64{math.Exp(seed[0]), seed[1]}
	return refine(PowerLaw, t, y, offset, x0)
}

const maxRefineIterations = 5000

// refine minimises the residual sum of squares with Nelder–Mead, starting
// from x0. Runs that stop early count as failures.
func refine(m Model, t, y []float64, offset float64, x0 []float64) ([]float64, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			rss := residualSS(m, x, t, y, offset)
			if math.IsNaN(rss) {
				return math.Inf(1)
			}
			return rss
		},
	}
	settings := &optimize.Settings{
		MajorIterations: maxRefineIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 200,
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotConverged, err)
	}
	if result.Status.Early() {
		return nil, fmt.Errorf("%w: %s", errNotConverged, result.Status)
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errNotConverged
		}
	}
	return result.X, nil
}

// Package fit provides the nonlinear least-squares fit of a
// single-exponential decay model to a track-duration histogram.
//
// The model is y = m·exp(-t·x) + b with t = 1000/τ, so the reported time
// constant τ is in milliseconds when x is in seconds. The solver is isolated
// behind the Solver interface so the numerical method can be swapped without
// touching aggregation logic.
package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateInput is returned when the histogram cannot support a fit:
// fewer than 3 distinct x values, or a flat y. Fitting is best-effort per
// square; callers must treat this as "τ undefined", never as fatal.
var ErrDegenerateInput = errors.New("decay fit: degenerate input")

// ErrNoConvergence is returned when the iteration fails to converge.
var ErrNoConvergence = errors.New("decay fit: no convergence")

// DecayFit is the result of fitting y = m·exp(-(1000/τ)·x) + b.
type DecayFit struct {
	Tau       float64 // decay time constant, milliseconds; NaN on failure
	RSquared  float64 // coefficient of determination against observed y; NaN on failure
	Amplitude float64 // m, extrapolated value at x = 0
	Offset    float64 // b, floor of the distribution
	Converged bool
}

// Solver fits the decay model to (x, y) pairs.
type Solver interface {
	Fit(x, y []float64) (DecayFit, error)
}

// FitDecay fits the decay model with the default Levenberg–Marquardt solver.
// On failure the returned fit carries NaN for Tau and RSquared.
func FitDecay(x, y []float64) (DecayFit, error) {
	return (&LevenbergMarquardt{}).Fit(x, y)
}

// LevenbergMarquardt is a damped least-squares solver for the three model
// parameters (m, t, b). Initialization is deterministic — m₀ = max(y),
// b₀ = min(y), t₀ from the x-range — so identical inputs produce
// bit-identical results across runs.
type LevenbergMarquardt struct {
	// MaxIterations bounds the outer loop; 0 means the default of 200.
	MaxIterations int
}

const (
	defaultMaxIterations = 200
	initialLambda        = 1e-3
	maxLambda            = 1e12
	sseTolerance         = 1e-12
)

func failedFit() DecayFit {
	return DecayFit{Tau: math.NaN(), RSquared: math.NaN(), Amplitude: math.NaN(), Offset: math.NaN()}
}

// Fit implements Solver.
func (lm *LevenbergMarquardt) Fit(x, y []float64) (DecayFit, error) {
	if len(x) != len(y) {
		return failedFit(), fmt.Errorf("decay fit: mismatched lengths %d vs %d", len(x), len(y))
	}
	if err := checkDegenerate(x, y); err != nil {
		return failedFit(), err
	}

	maxIter := lm.MaxIterations
	if maxIter == 0 {
		maxIter = defaultMaxIterations
	}

	p := initialGuess(x, y)
	sse := sumSquaredResiduals(x, y, p)
	lambda := initialLambda

	jac := mat.NewDense(len(x), 3, nil)
	res := mat.NewVecDense(len(x), nil)
	converged := false
	improved := false

	for iter := 0; iter < maxIter; iter++ {
		fillResidualsAndJacobian(x, y, p, res, jac)

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var jtr mat.VecDense
		jtr.MulVec(jac.T(), res)

		accepted := false
		for lambda <= maxLambda {
			// Damped normal equations: (JᵀJ + λ·diag(JᵀJ)) δ = Jᵀr
			var damped mat.Dense
			damped.CloneFrom(&jtj)
			for i := 0; i < 3; i++ {
				d := jtj.At(i, i)
				if d == 0 {
					d = 1e-12
				}
				damped.Set(i, i, d*(1+lambda))
			}

			var delta mat.VecDense
			if err := delta.SolveVec(&damped, &jtr); err != nil {
				lambda *= 10
				continue
			}

			trial := params{
				m: p.m + delta.AtVec(0),
				t: p.t + delta.AtVec(1),
				b: p.b + delta.AtVec(2),
			}
			// A non-positive rate flips the model into exponential growth;
			// keep the step but floor the rate.
			if trial.t <= 0 {
				trial.t = 1e-9
			}

			trialSSE := sumSquaredResiduals(x, y, trial)
			if trialSSE < sse {
				improvement := sse - trialSSE
				p = trial
				sse = trialSSE
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
				improved = true
				if improvement <= sseTolerance*(sse+sseTolerance) {
					converged = true
				}
				break
			}
			lambda *= 10
		}

		if !accepted {
			// Damping exhausted without improvement. After at least one
			// accepted step the current point is (numerically) a local
			// minimum; stalling straight at the seed means the fit never
			// moved and must not be reported as converged.
			if !improved && sse > sseTolerance {
				return failedFit(), ErrNoConvergence
			}
			converged = true
		}
		if converged {
			break
		}
	}

	if !converged || p.t <= 0 {
		return failedFit(), ErrNoConvergence
	}

	return DecayFit{
		Tau:       1000 / p.t,
		RSquared:  rSquared(x, y, p),
		Amplitude: p.m,
		Offset:    p.b,
		Converged: true,
	}, nil
}

type params struct {
	m, t, b float64
}

func checkDegenerate(x, y []float64) error {
	distinct := make(map[float64]struct{}, len(x))
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite x value", ErrDegenerateInput)
		}
		distinct[v] = struct{}{}
	}
	if len(distinct) < 3 {
		return fmt.Errorf("%w: need at least 3 distinct x points, got %d", ErrDegenerateInput, len(distinct))
	}
	flat := true
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite y value", ErrDegenerateInput)
		}
		if v != y[0] {
			flat = false
		}
	}
	if flat {
		return fmt.Errorf("%w: all y values equal", ErrDegenerateInput)
	}
	return nil
}

// initialGuess seeds the iteration deterministically. The rate seed assumes
// the distribution decays from max(y) towards min(y) across the x-range.
func initialGuess(x, y []float64) params {
	minX, maxX := x[0], x[0]
	for _, v := range x {
		minX = math.Min(minX, v)
		maxX = math.Max(maxX, v)
	}
	minY, maxY := y[0], y[0]
	for _, v := range y {
		minY = math.Min(minY, v)
		maxY = math.Max(maxY, v)
	}

	span := maxX - minX
	t0 := 1.0
	if span > 0 {
		if maxY > minY && minY > 0 {
			t0 = math.Log(maxY/minY) / span
		} else {
			t0 = 1 / span
		}
	}
	return params{m: maxY, t: t0, b: minY}
}

func model(x float64, p params) float64 {
	return p.m*math.Exp(-p.t*x) + p.b
}

func sumSquaredResiduals(x, y []float64, p params) float64 {
	var sse float64
	for i := range x {
		r := y[i] - model(x[i], p)
		sse += r * r
	}
	return sse
}

// fillResidualsAndJacobian writes r_i = y_i - f(x_i) and the Jacobian of the
// model (∂f/∂m, ∂f/∂t, ∂f/∂b) row by row. With this sign convention the
// normal-equation step is p += δ.
func fillResidualsAndJacobian(x, y []float64, p params, res *mat.VecDense, jac *mat.Dense) {
	for i := range x {
		e := math.Exp(-p.t * x[i])
		res.SetVec(i, y[i]-(p.m*e+p.b))
		jac.Set(i, 0, e)
		jac.Set(i, 1, -p.m*x[i]*e)
		jac.Set(i, 2, 1)
	}
}

func rSquared(x, y []float64, p params) float64 {
	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))

	var ssRes, ssTot float64
	for i := range y {
		r := y[i] - model(x[i], p)
		ssRes += r * r
		d := y[i] - mean
		ssTot += d * d
	}
	if ssTot == 0 {
		return math.NaN()
	}
	return 1 - ssRes/ssTot
}

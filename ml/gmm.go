package ml

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultMeanTolerance  = 1e-4
	DefaultSigmaTolerance = 1e-3

	// MinResponsibility is the smallest total responsibility a component may
	// hold before EM treats it as collapsed.
	MinResponsibility = 1e-10
)

// GaussianComponent is one weighted multivariate normal of a mixture.
type GaussianComponent struct {
	Mean   *Matrix // [1, d]
	Sigma  *Matrix // [d, d]
	Weight float64
}

// Density evaluates the normal pdf of c at the row vector x.
func Density(x *Matrix, c GaussianComponent) (float64, error) {
	inv, err := c.Sigma.Inverse()
	if err != nil {
		return 0, fmt.Errorf("gaussian density: %w", err)
	}
	return density(x, c.Mean, inv, c.Sigma.Det()), nil
}

func density(x, mean, inv *Matrix, det float64) float64 {
	d := x.Sub(mean)
	mahalanobis := d.Dot(inv).Dot(d.T()).At(0, 0)
	norm := math.Sqrt(math.Pow(2*math.Pi, float64(x.cols)) * det)
	return math.Exp(-0.5*mahalanobis) / norm
}

// GMMConfig bounds the EM loop. Zero values take defaults.
type GMMConfig struct {
	MaxIter        int     // defaults to 1000
	MeanTolerance  float64 // defaults to DefaultMeanTolerance
	SigmaTolerance float64 // defaults to DefaultSigmaTolerance
	Logger         *slog.Logger
}

// GMMReport describes how the EM loop ended. Hitting MaxIter is not an error.
type GMMReport struct {
	Iterations int
	Converged  bool
	DeltaMean  float64 // largest absolute mean change in the last iteration
	DeltaSigma float64 // largest absolute covariance change in the last iteration
}

// FitGMM refines comps in place by expectation maximisation over the rows of
// data. It stops when every mean moves less than MeanTolerance and every
// covariance less than SigmaTolerance, or after MaxIter iterations.
func FitGMM(data *Matrix, comps []GaussianComponent, cfg GMMConfig) (GMMReport, error) {
	if cfg.MaxIter == 0 {
		cfg.MaxIter = 1000
	}
	if cfg.MeanTolerance == 0 {
		cfg.MeanTolerance = DefaultMeanTolerance
	}
	if cfg.SigmaTolerance == 0 {
		cfg.SigmaTolerance = DefaultSigmaTolerance
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(comps) == 0 {
		return GMMReport{}, fmt.Errorf("gmm: no components")
	}
	dim := data.cols
	for k, c := range comps {
		if c.Mean.rows != 1 || c.Mean.cols != dim || c.Sigma.rows != dim || c.Sigma.cols != dim {
			return GMMReport{}, fmt.Errorf("gmm component %d: %w", k,
				&DimensionError{Op: "FitGMM", Want: [2]int{dim, dim}, Got: [2]int{c.Sigma.rows, c.Sigma.cols}})
		}
	}

	var report GMMReport
	for iter := 1; iter <= cfg.MaxIter; iter++ {
		gamma, err := responsibilities(data, comps)
		if err != nil {
			return report, fmt.Errorf("gmm iteration %d: %w", iter, err)
		}
		next, deltaMean, deltaSigma, err := maximise(data, comps, gamma)
		if err != nil {
			return report, fmt.Errorf("gmm iteration %d: %w", iter, err)
		}
		copy(comps, next)
		report.Iterations = iter
		report.DeltaMean, report.DeltaSigma = deltaMean, deltaSigma

		cfg.Logger.Debug("gmm iteration", "iteration", iter,
			"delta_mean", report.DeltaMean, "delta_sigma", report.DeltaSigma)
		if report.DeltaMean < cfg.MeanTolerance && report.DeltaSigma < cfg.SigmaTolerance {
			report.Converged = true
			break
		}
	}
	cfg.Logger.Info("gmm finished", "iterations", report.Iterations, "converged", report.Converged)
	return report, nil
}

// responsibilities returns gamma[k][n] = P(component k | row n).
func responsibilities(data *Matrix, comps []GaussianComponent) ([][]float64, error) {
	n := data.rows
	gamma := make([][]float64, len(comps))
	for k, c := range comps {
		inv, err := c.Sigma.Inverse()
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", k, err)
		}
		det := c.Sigma.Det()
		gamma[k] = make([]float64, n)
		for i := 0; i < n; i++ {
			gamma[k][i] = c.Weight * density(data.Row(i), c.Mean, inv, det)
		}
	}

	total := make([]float64, n)
	for k := range comps {
		floats.Add(total, gamma[k])
	}
	for i, t := range total {
		for k := range comps {
			if t == 0 {
				gamma[k][i] = 1 / float64(len(comps))
				continue
			}
			gamma[k][i] /= t
		}
	}
	return gamma, nil
}

// maximise re-estimates every component from gamma and returns the new
// components with the largest mean and covariance changes. comps is not
// modified.
func maximise(data *Matrix, comps []GaussianComponent, gamma [][]float64) ([]GaussianComponent, float64, float64, error) {
	n, dim := data.rows, data.cols
	column := make([]float64, n)
	next := make([]GaussianComponent, len(comps))
	var deltaMean, deltaSigma float64
	for k := range comps {
		nk := floats.Sum(gamma[k])
		if !(nk > MinResponsibility) {
			return nil, 0, 0, fmt.Errorf("component %d collapsed (responsibility %g): %w", k, nk, ErrSingular)
		}

		mean := NewMatrix(1, dim)
		for j := 0; j < dim; j++ {
			for i := 0; i < n; i++ {
				column[i] = data.data[i*dim+j]
			}
			mean.data[j] = stat.Mean(column, gamma[k])
		}

		sigma := NewMatrix(dim, dim)
		for i := 0; i < n; i++ {
			d := data.Row(i).Sub(mean)
			sigma = sigma.Add(d.T().Dot(d).Scale(gamma[k][i] / nk))
		}

		deltaMean = math.Max(deltaMean, comps[k].Mean.Sub(mean).MaxAbs())
		deltaSigma = math.Max(deltaSigma, comps[k].Sigma.Sub(sigma).MaxAbs())
		next[k] = GaussianComponent{Mean: mean, Sigma: sigma, Weight: nk / float64(n)}
	}
	return next, deltaMean, deltaSigma, nil
}

// Classify returns the component with the highest weighted density at x.
func Classify(x *Matrix, comps []GaussianComponent) (int, error) {
	scores := make([]float64, len(comps))
	for k, c := range comps {
		p, err := Density(x, c)
		if err != nil {
			return 0, fmt.Errorf("classify component %d: %w", k, err)
		}
		scores[k] = c.Weight * p
	}
	best, _ := Argmax(scores)
	return best, nil
}

package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// SingularTolerance is the |det| below which Inverse refuses to run.
	SingularTolerance = 1e-12
	// NormEpsilon keeps the standard deviation of constant rows above zero.
	NormEpsilon = 1e-8
)

func (m *Matrix) square(op string) {
	if m.rows != m.cols {
		shapePanic(op, m.rows, m.rows, m.rows, m.cols)
	}
}

// Det computes the determinant through gonum's LU factorisation.
func (m *Matrix) Det() float64 {
	m.square("Det")
	return mat.Det(m.dense)
}

// Inverse returns m⁻¹. It fails with ErrSingular when |det(m)| < SingularTolerance.
func (m *Matrix) Inverse() (*Matrix, error) {
	m.square("Inverse")
	det := m.Det()
	if math.Abs(det) < SingularTolerance || math.IsNaN(det) {
		return nil, fmt.Errorf("inverse of [%d, %d] (det=%g): %w", m.rows, m.cols, det, ErrSingular)
	}

	out := NewMatrix(m.rows, m.cols)
	if err := out.dense.Inverse(m.dense); err != nil {
		// A Condition error still carries a usable inverse.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("inverse of [%d, %d]: %w: %v", m.rows, m.cols, ErrSingular, err)
		}
	}
	return out, nil
}

// Normalize standardises every row to zero mean and unit deviation.
//
// Rows are the normalised axis: one row is one sample (or one token), so this
// is layer normalization. mean and std are rows×1 and std already includes
// NormEpsilon, which is what the matching backward pass divides by.
func (m *Matrix) Normalize() (out, mean, std *Matrix) {
	out = NewMatrix(m.rows, m.cols)
	mean = NewMatrix(m.rows, 1)
	std = NewMatrix(m.rows, 1)
	for r := 0; r < m.rows; r++ {
		row := m.data[r*m.cols : (r+1)*m.cols]
		mu, variance := stat.PopMeanVariance(row, nil)
		sd := math.Sqrt(variance + NormEpsilon)
		mean.data[r] = mu
		std.data[r] = sd
		dst := out.data[r*m.cols : (r+1)*m.cols]
		for c, v := range row {
			dst[c] = (v - mu) / sd
		}
	}
	return out, mean, std
}

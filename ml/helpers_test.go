package ml

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

var fdSettings = &fd.Settings{Formula: fd.Central, Step: 1e-6, Concurrent: false}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func randMatrix(rng *rand.Rand, rows, cols int) *Matrix {
	m := NewMatrix(rows, cols)
	for i := range m.data {
		m.data[i] = rng.Float64()*2 - 1
	}
	return m
}

// inputGrad estimates d(Σ upstream ⊙ f(x))/dx by central differences.
func inputGrad(x, upstream *Matrix, f func(*Matrix) *Matrix) *Matrix {
	start := append([]float64(nil), x.data...)
	grad := fd.Gradient(nil, func(v []float64) float64 {
		return f(NewMatrixFromSlice(x.rows, x.cols, v)).MulElem(upstream).Sum()
	}, start, fdSettings)
	return NewMatrixFromSlice(x.rows, x.cols, grad)
}

// paramGrad estimates d(eval())/d(param) by perturbing param in place. The
// parameter is restored afterwards.
func paramGrad(param *Matrix, eval func() float64) *Matrix {
	orig := append([]float64(nil), param.data...)
	grad := fd.Gradient(nil, func(v []float64) float64 {
		copy(param.data, v)
		return eval()
	}, append([]float64(nil), orig...), fdSettings)
	copy(param.data, orig)
	return NewMatrixFromSlice(param.rows, param.cols, grad)
}

func requireMatrixNear(t *testing.T, want, got *Matrix, tol float64) {
	t.Helper()
	require.Equal(t, [2]int{want.rows, want.cols}, [2]int{got.rows, got.cols}, "shape")
	require.InDeltaSlice(t, want.data, got.data, tol)
}

func requirePanicIs(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		require.True(t, errors.Is(err, target), "panic %v is not %v", err, target)
	}()
	fn()
}

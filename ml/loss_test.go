package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMSE(t *testing.T) {
	y := NewMatrixFromRows([][]float64{{1, 2}, {3, 4}})
	target := NewMatrixFromRows([][]float64{{0, 2}, {3, 6}})
	assert.InDelta(t, (1.0+4.0)/4, MSELoss(y, target), 1e-15)
	assert.Equal(t, []float64{0.5, 0, 0, -1}, MSEGrad(y, target).RawData())

	want := inputGrad(y, NewMatrixFilled(1, 1, 1), func(m *Matrix) *Matrix {
		return NewMatrixFilled(1, 1, MSELoss(m, target))
	})
	requireMatrixNear(t, want, MSEGrad(y, target), 1e-8)
}

func TestCrossEntropy(t *testing.T) {
	y := NewMatrixFromRows([][]float64{{0.7, 0.2, 0.1}, {0.1, 0.1, 0.8}})
	target := oneHotRows(3, 0, 2)
	assert.InDelta(t, -(math.Log(0.7)+math.Log(0.8))/2, CrossEntropyLoss(y, target), 1e-12)

	grad := CrossEntropyGrad(y, target)
	assert.InDelta(t, -1/(0.7*2), grad.At(0, 0), 1e-12)
	assert.Equal(t, 0.0, grad.At(0, 1))

	requirePanicIs(t, ErrDimension, func() { CrossEntropyLoss(y, NewMatrix(2, 2)) })
}

func TestCrossEntropyThroughSoftmax(t *testing.T) {
	rng := newRand(130)
	sm := NewActivation(ActSoftmax)
	z := randMatrix(rng, 4, 5)
	target := oneHotRows(5, 0, 3, 4, 1)

	y := sm.Forward(z)
	dz := sm.Backward(CrossEntropyGrad(y, target))
	requireMatrixNear(t, y.Sub(target).Scale(0.25), dz, 1e-12)
}

func TestLossEval(t *testing.T) {
	y := RowVector(0.4, 0.6)
	target := RowVector(0, 1)

	loss, grad, err := LossType("").Eval(y, target)
	require.NoError(t, err)
	assert.InDelta(t, MSELoss(y, target), loss, 0)
	assert.Equal(t, MSEGrad(y, target).RawData(), grad.RawData())

	loss, _, err = LossCrossEntropy.Eval(y, target)
	require.NoError(t, err)
	assert.InDelta(t, -math.Log(0.6), loss, 1e-12)

	_, _, err = LossType("hinge").Eval(y, target)
	assert.Error(t, err)
}

func TestAccuracy(t *testing.T) {
	y := NewMatrixFromRows([][]float64{{0.9, 0.1}, {0.4, 0.6}, {0.3, 0.7}})
	target := oneHotRows(2, 0, 0, 1)
	assert.InDelta(t, 2.0/3, Accuracy(y, target), 1e-15)
}

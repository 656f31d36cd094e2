package ml

import (
	"fmt"
	"math"
)

const (
	LossMSE          LossType = "mse"
	LossCrossEntropy LossType = "cross_entropy"
)

const lossEpsilon = 1e-15

type LossType string

// MSELoss is Σ(y - t)² / (2 * rows).
func MSELoss(y, t *Matrix) float64 {
	y.sameShape("MSELoss", t)
	sum := 0.0
	for i, v := range y.data {
		d := v - t.data[i]
		sum += d * d
	}
	return sum / (2 * float64(y.rows))
}

// MSEGrad is dMSELoss/dy = (y - t) / rows.
func MSEGrad(y, t *Matrix) *Matrix {
	return y.Sub(t).Scale(1 / float64(y.rows))
}

// CrossEntropyLoss is -Σ t·log(y) / rows for probability rows y.
func CrossEntropyLoss(y, t *Matrix) float64 {
	y.sameShape("CrossEntropyLoss", t)
	sum := 0.0
	for i, p := range y.data {
		if t.data[i] != 0 {
			sum -= t.data[i] * math.Log(p+lossEpsilon)
		}
	}
	return sum / float64(y.rows)
}

// CrossEntropyGrad is dCrossEntropyLoss/dy. Fed through a softmax backward
// pass with one-hot targets it reduces to (y - t) / rows.
func CrossEntropyGrad(y, t *Matrix) *Matrix {
	y.sameShape("CrossEntropyGrad", t)
	out := NewMatrix(y.rows, y.cols)
	scale := 1 / float64(y.rows)
	for i, p := range y.data {
		out.data[i] = -t.data[i] / (p + lossEpsilon) * scale
	}
	return out
}

// Eval returns the loss and its gradient with respect to y.
func (lt LossType) Eval(y, t *Matrix) (float64, *Matrix, error) {
	switch lt {
	case LossMSE, "":
		return MSELoss(y, t), MSEGrad(y, t), nil
	case LossCrossEntropy:
		return CrossEntropyLoss(y, t), CrossEntropyGrad(y, t), nil
	default:
		return 0, nil, fmt.Errorf("unknown loss %q", lt)
	}
}

// Accuracy is the fraction of rows whose argmax matches the target argmax.
func Accuracy(y, t *Matrix) float64 {
	y.sameShape("Accuracy", t)
	correct := 0
	for r := 0; r < y.rows; r++ {
		pred, _ := Argmax(y.data[r*y.cols : (r+1)*y.cols])
		want, _ := Argmax(t.data[r*t.cols : (r+1)*t.cols])
		if pred == want {
			correct++
		}
	}
	return float64(correct) / float64(y.rows)
}

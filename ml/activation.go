package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	ActLinear ActivationType = iota
	ActRelu
	ActSigmoid
	ActTanh
	ActSoftmax
	ActNorm
)

var activationMap = map[string]ActivationType{
	"linear":  ActLinear,
	"relu":    ActRelu,
	"sigmoid": ActSigmoid,
	"tanh":    ActTanh,
	"softmax": ActSoftmax,
	"norm":    ActNorm,
}

type ActivationType int

func (a ActivationType) String() string {
	for name, t := range activationMap {
		if t == a {
			return name
		}
	}
	return fmt.Sprintf("ActivationType(%d)", int(a))
}

// ParseActivation resolves an activation by name.
func ParseActivation(name string) (ActivationType, error) {
	act, ok := activationMap[name]
	if !ok {
		return 0, fmt.Errorf("unknown activation %q", name)
	}
	return act, nil
}

// Activator is the forward/backward micro-protocol of a layer's
// non-linearity. Forward caches whatever Backward needs: the pre-activation for
// elementwise functions, the output for sigmoid, tanh and softmax.
type Activator interface {
	Forward(z *Matrix) *Matrix
	Backward(delta *Matrix) *Matrix
}

// NewActivation returns a fresh stateful activation of type t.
func NewActivation(t ActivationType) Activator {
	switch t {
	case ActLinear:
		return &linear{}
	case ActRelu:
		return &relu{}
	case ActSigmoid:
		return &sigmoid{}
	case ActTanh:
		return &tanh{}
	case ActSoftmax:
		return &softmax{}
	case ActNorm:
		return &Norm{}
	default:
		panic("Unknown activation type")
	}
}

func requireCache(name string, cache, delta *Matrix) {
	if cache == nil {
		panic(&ProtocolError{Module: name, Op: "Backward", Reason: "no forward pass cached"})
	}
	cache.sameShape(name+".Backward", delta)
}

type linear struct{ z *Matrix }

func (a *linear) Forward(z *Matrix) *Matrix {
	a.z = z
	return z.Clone()
}

func (a *linear) Backward(delta *Matrix) *Matrix {
	requireCache("linear", a.z, delta)
	return delta.Clone()
}

type relu struct{ z *Matrix }

func (a *relu) Forward(z *Matrix) *Matrix {
	a.z = z
	return z.Apply(Relu)
}

func (a *relu) Backward(delta *Matrix) *Matrix {
	requireCache("relu", a.z, delta)
	return delta.MulElem(a.z.Apply(ReluDerivative))
}

type sigmoid struct{ y *Matrix }

func (a *sigmoid) Forward(z *Matrix) *Matrix {
	a.y = z.Apply(Sigmoid)
	return a.y.Clone()
}

func (a *sigmoid) Backward(delta *Matrix) *Matrix {
	requireCache("sigmoid", a.y, delta)
	out := delta.Clone()
	for i, y := range a.y.data {
		out.data[i] *= y * (1 - y)
	}
	return out
}

type tanh struct{ y *Matrix }

func (a *tanh) Forward(z *Matrix) *Matrix {
	a.y = z.Apply(math.Tanh)
	return a.y.Clone()
}

func (a *tanh) Backward(delta *Matrix) *Matrix {
	requireCache("tanh", a.y, delta)
	out := delta.Clone()
	for i, y := range a.y.data {
		out.data[i] *= 1 - y*y
	}
	return out
}

// softmax normalises each row independently.
type softmax struct{ y *Matrix }

func (a *softmax) Forward(z *Matrix) *Matrix {
	a.y = z.Clone()
	SoftmaxRow(a.y)
	return a.y.Clone()
}

// Backward applies the row Jacobian: dz_i = y_i * (d_i - Σ_j y_j d_j).
func (a *softmax) Backward(delta *Matrix) *Matrix {
	requireCache("softmax", a.y, delta)
	return softmaxBackward(a.y, delta)
}

func softmaxBackward(y, delta *Matrix) *Matrix {
	out := NewMatrix(y.rows, y.cols)
	for r := 0; r < y.rows; r++ {
		start, end := r*y.cols, (r+1)*y.cols
		dot := floats.Dot(y.data[start:end], delta.data[start:end])
		for k := start; k < end; k++ {
			out.data[k] = y.data[k] * (delta.data[k] - dot)
		}
	}
	return out
}

func Relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func ReluDerivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// SoftmaxRow applies softmax to each row of the matrix in place. Entries set to
// -Inf (masked positions) come out as exactly zero.
func SoftmaxRow(m *Matrix) {
	for i := 0; i < m.rows; i++ {
		row := m.data[i*m.cols : (i+1)*m.cols]
		floats.AddConst(-floats.Max(row), row)
		for j, v := range row {
			row[j] = math.Exp(v)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
}

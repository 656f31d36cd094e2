package ml

import "gonum.org/v1/gonum/floats"

// Norm is parameter-free layer normalization over each row. It satisfies
// both Module and Activator.
type Norm struct {
	xhat *Matrix
	std  *Matrix // rows×1, includes NormEpsilon
}

func NewNorm() *Norm { return &Norm{} }

func (n *Norm) Forward(x *Matrix) *Matrix {
	out, _, std := x.Normalize()
	n.xhat = out
	n.std = std
	return out.Clone()
}

// Backward removes the components of delta along the constant and xhat
// directions of each row, then divides by the cached deviation:
//
//	dx = (d - mean(d) - xhat * mean(d ⊙ xhat)) / std
func (n *Norm) Backward(delta *Matrix) *Matrix {
	requireCache("Norm", n.xhat, delta)
	rows, cols := delta.rows, delta.cols
	out := NewMatrix(rows, cols)
	inv := 1.0 / float64(cols)
	for r := 0; r < rows; r++ {
		d := delta.data[r*cols : (r+1)*cols]
		xh := n.xhat.data[r*cols : (r+1)*cols]
		meanD := floats.Sum(d) * inv
		meanDX := floats.Dot(d, xh) * inv

		sd := n.std.data[r]
		dst := out.data[r*cols : (r+1)*cols]
		for c := range d {
			dst[c] = (d[c] - meanD - xh[c]*meanDX) / sd
		}
	}
	return out
}

// Norm carries no parameters; Save and Load keep traversal order uniform.
func (n *Norm) Save(*Stream) error { return nil }
func (n *Norm) Load(*Stream) error { return nil }

package ml

import (
	"fmt"
	"math"
)

const ropeBase = 10000.0

// RoPE holds precomputed rotary position tables for positions [0, maxPos)
// and an even number of feature columns. Columns (2i, 2i+1) of a token row
// at position p are rotated by p * base^(-2i/dim). An odd trailing column is
// left untouched.
type RoPE struct {
	dim, maxPos int
	cos, sin    *Matrix // [maxPos, dim/2]
}

func NewRoPE(maxPos, dim int) *RoPE {
	pairs := dim / 2
	if maxPos <= 0 || pairs == 0 {
		panic(fmt.Sprintf("rope: need maxPos > 0 and dim >= 2, got %d, %d", maxPos, dim))
	}
	r := &RoPE{
		dim:    dim,
		maxPos: maxPos,
		cos:    NewMatrix(maxPos, pairs),
		sin:    NewMatrix(maxPos, pairs),
	}
	for p := 0; p < maxPos; p++ {
		for i := 0; i < pairs; i++ {
			theta := float64(p) / math.Pow(ropeBase, float64(2*i)/float64(dim))
			r.cos.data[p*pairs+i] = math.Cos(theta)
			r.sin.data[p*pairs+i] = math.Sin(theta)
		}
	}
	return r
}

func (r *RoPE) MaxPositions() int { return r.maxPos }

// Apply returns a rotated copy of m; row i is taken to sit at positions[i].
func (r *RoPE) Apply(m *Matrix, positions []int) *Matrix {
	if len(positions) != m.rows {
		shapePanic("RoPE.Apply", m.rows, m.cols, len(positions), m.cols)
	}
	out := m.Clone()
	for i, p := range positions {
		r.ApplyRow(out, i, p)
	}
	return out
}

// ApplyRow rotates row i of m in place as position pos.
func (r *RoPE) ApplyRow(m *Matrix, i, pos int) {
	if m.cols != r.dim {
		shapePanic("RoPE.ApplyRow", m.rows, r.dim, m.rows, m.cols)
	}
	if pos < 0 || pos >= r.maxPos {
		panic(fmt.Errorf("rope position %d in [0, %d): %w", pos, r.maxPos, ErrIndex))
	}
	m.index(i, 0)
	pairs := r.dim / 2
	row := m.data[i*m.cols : (i+1)*m.cols]
	cos := r.cos.data[pos*pairs : (pos+1)*pairs]
	sin := r.sin.data[pos*pairs : (pos+1)*pairs]
	for k := 0; k < pairs; k++ {
		x0, x1 := row[2*k], row[2*k+1]
		row[2*k] = x0*cos[k] - x1*sin[k]
		row[2*k+1] = x0*sin[k] + x1*cos[k]
	}
}

// Positions returns 0, 1, ..., n-1.
func Positions(n int) []int {
	pos := make([]int, n)
	for i := range pos {
		pos[i] = i
	}
	return pos
}

// PositionalEncoding returns the additive sinusoidal table [tokens, dim]:
// PE(pos, 2i) = sin(pos / 10000^(2i/d)), PE(pos, 2i+1) = cos(pos / 10000^(2i/d)).
func PositionalEncoding(tokens, dim int) *Matrix {
	pe := NewMatrix(tokens, dim)
	for pos := 0; pos < tokens; pos++ {
		for i := 0; i < dim; i++ {
			exponent := float64(2*(i/2)) / float64(dim)
			val := float64(pos) / math.Pow(ropeBase, exponent)
			if i%2 == 0 {
				pe.data[pos*dim+i] = math.Sin(val)
			} else {
				pe.data[pos*dim+i] = math.Cos(val)
			}
		}
	}
	return pe
}

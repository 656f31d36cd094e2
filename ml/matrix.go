package ml

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense row-major matrix whose extents are fixed at construction.
// The flat data slice is shared with a gonum Dense wrapper so BLAS-backed
// routines and direct index loops see the same storage.
//
// Every arithmetic method is pure: it checks operand extents, allocates a new
// Matrix and leaves the receiver untouched. Incompatible extents panic with a
// *DimensionError.
type Matrix struct {
	rows, cols int
	data       []float64
	dense      *mat.Dense
}

// -------- CONSTRUCTORS ------- //
func NewMatrix(rows, cols int) *Matrix {
	if rows <= 0 || cols <= 0 {
		shapePanic("NewMatrix", 1, 1, rows, cols)
	}
	data := make([]float64, rows*cols)
	return &Matrix{
		rows:  rows,
		cols:  cols,
		data:  data,
		dense: mat.NewDense(rows, cols, data),
	}
}

// NewMatrixFilled broadcasts v to every element.
func NewMatrixFilled(rows, cols int, v float64) *Matrix {
	m := NewMatrix(rows, cols)
	m.Fill(v)
	return m
}

// NewMatrixFromSlice copies data (row-major) into a new matrix. It panics when
// len(data) != rows*cols; use ParseMatrix for caller-supplied data.
func NewMatrixFromSlice(rows, cols int, data []float64) *Matrix {
	m, err := ParseMatrix(rows, cols, data)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseMatrix is the checked form of NewMatrixFromSlice.
func ParseMatrix(rows, cols int, data []float64) (*Matrix, error) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return nil, &DimensionError{Op: "ParseMatrix", Want: [2]int{rows, cols}, Got: [2]int{len(data), 1}}
	}
	m := NewMatrix(rows, cols)
	copy(m.data, data)
	return m, nil
}

// NewMatrixFromRows copies equal-length rows into a matrix.
func NewMatrixFromRows(rows [][]float64) *Matrix {
	if len(rows) == 0 {
		shapePanic("NewMatrixFromRows", 1, 1, 0, 0)
	}
	for i, row := range rows {
		if len(row) != len(rows[0]) {
			shapePanic("NewMatrixFromRows", i, len(rows[0]), i, len(row))
		}
	}
	return NewMatrixFromSlice(len(rows), len(rows[0]), Flatten(rows))
}

func Flatten(input [][]float64) []float64 {
	if len(input) == 0 {
		return nil
	}
	rows, cols := len(input), len(input[0])
	flat := make([]float64, rows*cols)
	for i, row := range input {
		copy(flat[i*cols:], row)
	}
	return flat
}

func Identity(n int) *Matrix {
	m := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m.data[i*n+i] = 1
	}
	return m
}

// RowVector returns a 1×len(vals) matrix.
func RowVector(vals ...float64) *Matrix {
	return NewMatrixFromSlice(1, len(vals), vals)
}

// ColVector returns a len(vals)×1 matrix.
func ColVector(vals ...float64) *Matrix {
	return NewMatrixFromSlice(len(vals), 1, vals)
}

// HStack concatenates matrices with equal row counts along the column axis.
func HStack(ms ...*Matrix) *Matrix {
	if len(ms) == 0 {
		panic(&DimensionError{Op: "HStack"})
	}
	rows, cols := ms[0].rows, 0
	for _, m := range ms {
		if m.rows != rows {
			shapePanic("HStack", rows, m.cols, m.rows, m.cols)
		}
		cols += m.cols
	}
	out := NewMatrix(rows, cols)
	for r := 0; r < rows; r++ {
		offset := r * cols
		for _, m := range ms {
			copy(out.data[offset:offset+m.cols], m.data[r*m.cols:(r+1)*m.cols])
			offset += m.cols
		}
	}
	return out
}

// ------- ACCESSORS ------ //
func (m *Matrix) Rows() int          { return m.rows }
func (m *Matrix) Cols() int          { return m.cols }
func (m *Matrix) Dims() (int, int)   { return m.rows, m.cols }
func (m *Matrix) Size() int          { return len(m.data) }
func (m *Matrix) Dense() *mat.Dense  { return m.dense }
func (m *Matrix) RawData() []float64 { return m.data }

func (m *Matrix) index(r, c int) int {
	if r < 0 || r >= m.rows || c < 0 || c >= m.cols {
		panic(fmt.Errorf("(%d, %d) in [%d, %d]: %w", r, c, m.rows, m.cols, ErrIndex))
	}
	return r*m.cols + c
}

func (m *Matrix) At(r, c int) float64     { return m.data[m.index(r, c)] }
func (m *Matrix) Set(r, c int, v float64) { m.data[m.index(r, c)] = v }

// Ptr returns a mutable reference to element (r, c).
func (m *Matrix) Ptr(r, c int) *float64 { return &m.data[m.index(r, c)] }

// Row returns a copy of row r as a 1×cols matrix.
func (m *Matrix) Row(r int) *Matrix {
	m.index(r, 0)
	return RowVector(m.data[r*m.cols : (r+1)*m.cols]...)
}

// SetRow overwrites row r with the values of a 1×cols matrix.
func (m *Matrix) SetRow(r int, row *Matrix) {
	if row.rows != 1 || row.cols != m.cols {
		shapePanic("SetRow", 1, m.cols, row.rows, row.cols)
	}
	m.index(r, 0)
	copy(m.data[r*m.cols:(r+1)*m.cols], row.data)
}

// ColSlice returns a copy of columns [from, to).
func (m *Matrix) ColSlice(from, to int) *Matrix {
	if from < 0 || to > m.cols || from >= to {
		shapePanic("ColSlice", m.rows, m.cols, from, to)
	}
	out := NewMatrix(m.rows, to-from)
	for r := 0; r < m.rows; r++ {
		copy(out.data[r*out.cols:(r+1)*out.cols], m.data[r*m.cols+from:r*m.cols+to])
	}
	return out
}

func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.rows, m.cols)
	copy(out.data, m.data)
	return out
}

// ------- MATRIX METHODS ------ //
func (m *Matrix) GobEncode() ([]byte, error) {
	w := new(bytes.Buffer)
	encoder := gob.NewEncoder(w)
	if err := encoder.Encode(m.rows); err != nil {
		return nil, err
	}
	if err := encoder.Encode(m.cols); err != nil {
		return nil, err
	}
	if err := encoder.Encode(m.data); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (m *Matrix) GobDecode(buf []byte) error {
	r := bytes.NewBuffer(buf)
	decoder := gob.NewDecoder(r)
	if err := decoder.Decode(&m.rows); err != nil {
		return err
	}
	if err := decoder.Decode(&m.cols); err != nil {
		return err
	}
	if err := decoder.Decode(&m.data); err != nil {
		return err
	}
	if m.rows <= 0 || m.cols <= 0 || len(m.data) != m.rows*m.cols {
		return &DimensionError{Op: "GobDecode", Want: [2]int{m.rows, m.cols}, Got: [2]int{len(m.data), 1}}
	}

	// Re-create the wrapper after loading data
	m.dense = mat.NewDense(m.rows, m.cols, m.data)

	return nil
}

// Randomize fills the matrix with He-normal values using rows as fan-in.
func (m *Matrix) Randomize() {
	InitHe(m, m.rows, m.cols, nil)
}

// RandomizeXavier fills the matrix with Xavier-uniform values.
func (m *Matrix) RandomizeXavier() {
	InitXavier(m, m.rows, m.cols, nil)
}

func (m *Matrix) Reset() {
	for i := range m.data {
		m.data[i] = 0.0
	}
}

func (m *Matrix) Fill(v float64) {
	for i := range m.data {
		m.data[i] = v
	}
}

func (m *Matrix) sameShape(op string, b *Matrix) {
	if m.rows != b.rows || m.cols != b.cols {
		shapePanic(op, m.rows, m.cols, b.rows, b.cols)
	}
}

func (m *Matrix) Add(b *Matrix) *Matrix {
	m.sameShape("Add", b)
	out := NewMatrix(m.rows, m.cols)
	out.dense.Add(m.dense, b.dense)
	return out
}

func (m *Matrix) Sub(b *Matrix) *Matrix {
	m.sameShape("Sub", b)
	out := NewMatrix(m.rows, m.cols)
	out.dense.Sub(m.dense, b.dense)
	return out
}

// MulElem is the Hadamard product.
func (m *Matrix) MulElem(b *Matrix) *Matrix {
	m.sameShape("MulElem", b)
	out := NewMatrix(m.rows, m.cols)
	out.dense.MulElem(m.dense, b.dense)
	return out
}

func (m *Matrix) DivElem(b *Matrix) *Matrix {
	m.sameShape("DivElem", b)
	out := NewMatrix(m.rows, m.cols)
	floats.DivTo(out.data, m.data, b.data)
	return out
}

func (m *Matrix) AddScalar(v float64) *Matrix {
	out := m.Clone()
	floats.AddConst(v, out.data)
	return out
}

func (m *Matrix) SubScalar(v float64) *Matrix {
	return m.AddScalar(-v)
}

func (m *Matrix) Scale(v float64) *Matrix {
	out := m.Clone()
	floats.Scale(v, out.data)
	return out
}

func (m *Matrix) DivScalar(v float64) *Matrix {
	out := m.Clone()
	for i := range out.data {
		out.data[i] /= v
	}
	return out
}

// AddVector adds a 1×cols row vector to every row.
func (m *Matrix) AddVector(v *Matrix) *Matrix {
	if v.rows != 1 || v.cols != m.cols {
		shapePanic("AddVector", 1, m.cols, v.rows, v.cols)
	}
	out := m.Clone()
	for i := 0; i < m.rows; i++ {
		floats.Add(out.data[i*m.cols:(i+1)*m.cols], v.data)
	}
	return out
}

func (m *Matrix) Apply(fn func(float64) float64) *Matrix {
	out := NewMatrix(m.rows, m.cols)
	for i, v := range m.data {
		out.data[i] = fn(v)
	}
	return out
}

// Dot is the matrix product; m.Cols() must equal b.Rows().
func (m *Matrix) Dot(b *Matrix) *Matrix {
	if m.cols != b.rows {
		shapePanic("Dot", m.cols, b.cols, b.rows, b.cols)
	}
	out := NewMatrix(m.rows, b.cols)
	out.dense.Mul(m.dense, b.dense)
	return out
}

// T returns the transpose as a new matrix.
func (m *Matrix) T() *Matrix {
	out := NewMatrix(m.cols, m.rows)
	out.dense.Copy(m.dense.T())
	return out
}

func (m *Matrix) Sum() float64 {
	return floats.Sum(m.data)
}

// SumCols reduces over rows and returns a 1×cols matrix.
func (m *Matrix) SumCols() *Matrix {
	out := NewMatrix(1, m.cols)
	for r := 0; r < m.rows; r++ {
		floats.Add(out.data, m.data[r*m.cols:(r+1)*m.cols])
	}
	return out
}

// SumRows reduces over columns and returns a rows×1 matrix.
func (m *Matrix) SumRows() *Matrix {
	out := NewMatrix(m.rows, 1)
	for r := 0; r < m.rows; r++ {
		out.data[r] = floats.Sum(m.data[r*m.cols : (r+1)*m.cols])
	}
	return out
}

// MaxAbs returns the largest absolute element value.
func (m *Matrix) MaxAbs() float64 {
	return floats.Norm(m.data, math.Inf(1))
}

func (m *Matrix) EqualApprox(b *Matrix, tol float64) bool {
	if m.rows != b.rows || m.cols != b.cols {
		return false
	}
	return floats.EqualApprox(m.data, b.data, tol)
}

func (m *Matrix) String() string {
	return fmt.Sprintf("%v", mat.Formatted(m.dense, mat.Squeeze()))
}

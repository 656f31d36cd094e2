package ml

// Residual wraps any Module as norm(inner(x) + x). The inner module must
// preserve the input shape.
type Residual struct {
	Inner Module
	norm  *Norm
}

func NewResidual(inner Module) *Residual {
	return &Residual{Inner: inner, norm: NewNorm()}
}

func (r *Residual) Forward(x *Matrix) *Matrix {
	y := r.Inner.Forward(x)
	if y.rows != x.rows || y.cols != x.cols {
		shapePanic("Residual.Forward", x.rows, x.cols, y.rows, y.cols)
	}
	return r.norm.Forward(y.Add(x))
}

// Backward routes the normalised gradient through both the inner module and
// the skip connection.
func (r *Residual) Backward(delta *Matrix) *Matrix {
	g := r.norm.Backward(delta)
	return r.Inner.Backward(g).Add(g)
}

func (r *Residual) Update()         { updateModule(r.Inner) }
func (r *Residual) ResetOptimizer() { resetModule(r.Inner) }

func (r *Residual) Save(s *Stream) error { return WriteModule(s, r.Inner) }
func (r *Residual) Load(s *Stream) error { return ReadModule(s, r.Inner) }

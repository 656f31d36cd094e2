package ml

// Sequential chains modules: Forward in order, Backward in reverse.
type Sequential struct {
	Modules []Module
}

func NewSequential(modules ...Module) *Sequential {
	return &Sequential{Modules: modules}
}

func (s *Sequential) Forward(x *Matrix) *Matrix {
	out := x
	for _, m := range s.Modules {
		out = m.Forward(out)
	}
	return out
}

func (s *Sequential) Backward(delta *Matrix) *Matrix {
	d := delta
	for i := len(s.Modules) - 1; i >= 0; i-- {
		d = s.Modules[i].Backward(d)
	}
	return d
}

func (s *Sequential) Update() {
	for _, m := range s.Modules {
		updateModule(m)
	}
}

func (s *Sequential) ResetOptimizer() {
	for _, m := range s.Modules {
		resetModule(m)
	}
}

func (s *Sequential) Save(st *Stream) error { return WriteModule(st, s.Modules...) }
func (s *Sequential) Load(st *Stream) error { return ReadModule(st, s.Modules...) }

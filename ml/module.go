package ml

// Module is the forward/backward half of the training protocol. Forward
// caches what Backward needs; Backward takes dL/d(output) and returns
// dL/d(input). Modules hold exactly one cached forward pass and are not safe
// for concurrent use.
type Module interface {
	Forwarder
	Backward(delta *Matrix) *Matrix
}

// Forwarder is anything that maps an input batch to an output batch.
type Forwarder interface {
	Forward(x *Matrix) *Matrix
}

// Learner is a Module with parameters. Backward accumulates parameter
// gradients; Update applies them and clears the accumulators.
type Learner interface {
	Module
	Update()
}

// Resetter is implemented by modules whose optimizers can restart their
// moment and step accounting.
type Resetter interface {
	ResetOptimizer()
}

func updateModule(m Module) {
	if l, ok := m.(Learner); ok {
		l.Update()
	}
}

func resetModule(m Module) {
	if r, ok := m.(Resetter); ok {
		r.ResetOptimizer()
	}
}

// protocol enforces Forward -> Backward -> Update ordering for one learner.
type protocol struct {
	name    string
	armed   bool // a forward pass is cached and not yet consumed
	pending bool // gradients accumulated since the last Update
}

func (p *protocol) forward() { p.armed = true }

func (p *protocol) backward() {
	if !p.armed {
		panic(&ProtocolError{Module: p.name, Op: "Backward", Reason: "no pending forward pass"})
	}
	p.armed = false
	p.pending = true
}

func (p *protocol) update() {
	if !p.pending {
		panic(&ProtocolError{Module: p.name, Op: "Update", Reason: "no accumulated gradients"})
	}
	p.pending = false
}

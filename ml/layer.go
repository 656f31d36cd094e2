package ml

import (
	"fmt"
	"math/rand/v2"
)

// -------- TYPE DEFINITIONS -------- //
type LayerOption func(*LayerConfig)

// LayerConfig holds the blueprint for a layer
type LayerConfig struct {
	Neurons    int
	IsInput    bool
	Activation ActivationType
	Optimizer  OptimizerConfig
	Init       Initializer // nil picks He for ReLU, Xavier normal otherwise
	Rand       *rand.Rand
}

// Layer is a fully connected layer: y = act(x·W + b). Rows of x are
// independent samples; gradients are summed over them.
type Layer struct {
	Weights *Matrix // [in, out]
	Biases  *Matrix // [1, out]
	ActType ActivationType

	act        Activator
	optW, optB Optimizer
	dW, dB     *Matrix
	input      *Matrix
	state      protocol
}

// ------- LAYER CONFIG HELPERS ------- //
// Input defines the entry point dimensions
func Input(size int) LayerConfig {
	return LayerConfig{
		Neurons:    size,
		IsInput:    true,
		Activation: ActLinear,
	}
}

// Dense defines a fully connected layer.
func Dense(size int, opts ...LayerOption) LayerConfig {
	d := LayerConfig{
		Neurons:    size,
		IsInput:    false,
		Activation: ActRelu, // Default for hidden layers
	}

	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func Activation(activation string) LayerOption {
	return func(lc *LayerConfig) {
		act, err := ParseActivation(activation)
		if err != nil {
			panic(err)
		}
		lc.Activation = act
	}
}

func WithActivation(act ActivationType) LayerOption {
	return func(lc *LayerConfig) { lc.Activation = act }
}

func WithOptimizer(cfg OptimizerConfig) LayerOption {
	return func(lc *LayerConfig) { lc.Optimizer = cfg }
}

func WithInit(init Initializer) LayerOption {
	return func(lc *LayerConfig) { lc.Init = init }
}

// WithRand makes weight initialisation reproducible.
func WithRand(rng *rand.Rand) LayerOption {
	return func(lc *LayerConfig) { lc.Rand = rng }
}

// NewNetwork chains an Input config and one or more Dense configs into a
// Sequential stack of layers.
func NewNetwork(configs ...LayerConfig) *Sequential {
	if len(configs) < 2 {
		panic("Network must have at least Input and one Output layer")
	}
	if !configs[0].IsInput {
		panic("First layer must be Input()")
	}

	prevOutputSize := configs[0].Neurons
	modules := make([]Module, 0, len(configs)-1)
	for i := 1; i < len(configs); i++ {
		cfg := configs[i]
		if cfg.IsInput {
			panic(fmt.Sprintf("layer %d: Input() is only valid first", i))
		}
		modules = append(modules, newLayer(prevOutputSize, cfg))
		prevOutputSize = cfg.Neurons
	}
	return NewSequential(modules...)
}

// NewLayer builds an in -> out layer. The activation defaults to linear.
func NewLayer(in, out int, opts ...LayerOption) *Layer {
	cfg := LayerConfig{Neurons: out, Activation: ActLinear}
	for _, opt := range opts {
		opt(&cfg)
	}
	return newLayer(in, cfg)
}

func newLayer(in int, cfg LayerConfig) *Layer {
	out := cfg.Neurons
	initFn := cfg.Init
	if initFn == nil {
		initFn = InitXavierNormal
		if cfg.Activation == ActRelu {
			initFn = InitHe
		}
	}

	l := &Layer{
		Weights: NewMatrix(in, out),
		Biases:  NewMatrix(1, out),
		ActType: cfg.Activation,
		act:     NewActivation(cfg.Activation),
		optW:    NewOptimizer(cfg.Optimizer),
		optB:    NewOptimizer(cfg.Optimizer),
		dW:      NewMatrix(in, out),
		dB:      NewMatrix(1, out),
		state:   protocol{name: fmt.Sprintf("Layer[%d->%d]", in, out)},
	}
	initFn(l.Weights, in, out, cfg.Rand)
	return l
}

// -------- LAYER METHODS -------- //
func (l *Layer) InputSize() int  { return l.Weights.rows }
func (l *Layer) OutputSize() int { return l.Weights.cols }

// Gradients exposes the accumulated dW and dB.
func (l *Layer) Gradients() (dW, dB *Matrix) { return l.dW, l.dB }

func (l *Layer) Forward(x *Matrix) *Matrix {
	if x.cols != l.Weights.rows {
		shapePanic(l.state.name+".Forward", x.rows, l.Weights.rows, x.rows, x.cols)
	}
	l.input = x.Clone()
	l.state.forward()
	z := x.Dot(l.Weights).AddVector(l.Biases)
	return l.act.Forward(z)
}

func (l *Layer) Backward(delta *Matrix) *Matrix {
	l.state.backward()
	if delta.rows != l.input.rows || delta.cols != l.Weights.cols {
		shapePanic(l.state.name+".Backward", l.input.rows, l.Weights.cols, delta.rows, delta.cols)
	}
	dz := l.act.Backward(delta)

	// dW += X^T * dZ, dB += column sums of dZ
	l.dW = l.dW.Add(l.input.T().Dot(dz))
	l.dB = l.dB.Add(dz.SumCols())

	return dz.Dot(l.Weights.T())
}

// Update applies one optimizer step per parameter and clears the accumulators.
func (l *Layer) Update() {
	l.state.update()
	l.optW.Update(l.Weights, l.dW)
	l.optB.Update(l.Biases, l.dB)
	l.dW.Reset()
	l.dB.Reset()
}

func (l *Layer) ResetOptimizer() {
	l.optW.Reset()
	l.optB.Reset()
}

func (l *Layer) Save(s *Stream) error {
	return s.WriteMatrices(l.Weights, l.Biases)
}

func (l *Layer) Load(s *Stream) error {
	return s.ReadMatrices(l.Weights, l.Biases)
}

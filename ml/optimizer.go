package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	OptSGD      OptimizerType = "sgd"
	OptMomentum OptimizerType = "momentum"
	OptAdam     OptimizerType = "adam"
	OptNadam    OptimizerType = "nadam"
)

// Default settings generally recommended for Adam
var DefaultOptimizerConfig = OptimizerConfig{
	Type:         OptAdam,
	LearningRate: 0.001,
	Beta1:        0.9,
	Beta2:        0.999,
	Epsilon:      1e-8,
	MomentumMu:   0.9,
}

type OptimizerType string

// OptimizerConfig selects and parameterises an optimizer. Zero values take
// the corresponding field of DefaultOptimizerConfig.
type OptimizerConfig struct {
	Type         OptimizerType
	LearningRate float64
	Beta1        float64 // Adam/Nadam first moment decay
	Beta2        float64 // Adam/Nadam second moment decay
	Epsilon      float64
	MomentumMu   float64 // Momentum factor
}

func (c OptimizerConfig) withDefaults() OptimizerConfig {
	d := DefaultOptimizerConfig
	if c.Type == "" {
		c.Type = d.Type
	}
	if c.LearningRate == 0 {
		c.LearningRate = d.LearningRate
	}
	if c.Beta1 == 0 {
		c.Beta1 = d.Beta1
	}
	if c.Beta2 == 0 {
		c.Beta2 = d.Beta2
	}
	if c.Epsilon == 0 {
		c.Epsilon = d.Epsilon
	}
	if c.MomentumMu == 0 {
		c.MomentumMu = d.MomentumMu
	}
	return c
}

// Optimizer owns the update state of exactly one parameter matrix. The first
// Update fixes the shape; later calls with another shape panic.
type Optimizer interface {
	Update(param, grad *Matrix)
	// Reset clears moment estimates and the step counter.
	Reset()
	Steps() int
}

// NewOptimizer returns a fresh optimizer. Every weight matrix gets its own.
func NewOptimizer(cfg OptimizerConfig) Optimizer {
	cfg = cfg.withDefaults()
	switch cfg.Type {
	case OptSGD:
		return &SGDOptimizer{LearningRate: cfg.LearningRate}
	case OptMomentum:
		return &MomentumOptimizer{LearningRate: cfg.LearningRate, Mu: cfg.MomentumMu}
	case OptAdam:
		return &AdamOptimizer{cfg: cfg}
	case OptNadam:
		return &NadamOptimizer{AdamOptimizer{cfg: cfg}}
	default:
		panic(fmt.Sprintf("unknown optimizer %q", cfg.Type))
	}
}

func checkUpdate(name string, param, grad *Matrix, state *Matrix) {
	param.sameShape(name+".Update", grad)
	if state != nil {
		state.sameShape(name+".Update", param)
	}
}

// ------ SGD OPTIMIZER METHODS ------ //
type SGDOptimizer struct {
	LearningRate float64
	steps        int
}

// Update applies W = W - lr * gradient.
func (opt *SGDOptimizer) Update(param, grad *Matrix) {
	checkUpdate("SGD", param, grad, nil)
	floats.AddScaled(param.data, -opt.LearningRate, grad.data)
	opt.steps++
}

func (opt *SGDOptimizer) Reset()     { opt.steps = 0 }
func (opt *SGDOptimizer) Steps() int { return opt.steps }

// ------ MOMENTUM OPTIMIZER METHODS ------ //
type MomentumOptimizer struct {
	LearningRate float64
	Mu           float64 // Momentum Factor (usually 0.9)

	velocity *Matrix
	steps    int
}

// Update applies v = mu * v - lr * grad; w = w + v.
func (opt *MomentumOptimizer) Update(param, grad *Matrix) {
	if opt.velocity == nil {
		opt.velocity = NewMatrix(param.rows, param.cols)
	}
	checkUpdate("Momentum", param, grad, opt.velocity)

	velocity := opt.velocity.data
	for i, g := range grad.data {
		velocity[i] = (opt.Mu * velocity[i]) - (opt.LearningRate * g)
	}
	floats.Add(param.data, velocity)
	opt.steps++
}

func (opt *MomentumOptimizer) Reset() {
	opt.velocity = nil
	opt.steps = 0
}

func (opt *MomentumOptimizer) Steps() int { return opt.steps }

// ------ ADAM OPTIMIZER METHODS ------ //
type AdamOptimizer struct {
	cfg      OptimizerConfig
	m, v     *Matrix
	timeStep int // 't' in the Adam paper, tracks number of updates
}

func (opt *AdamOptimizer) moments(param *Matrix) {
	if opt.m == nil {
		opt.m = NewMatrix(param.rows, param.cols)
		opt.v = NewMatrix(param.rows, param.cols)
	}
}

// Update applies the bias-corrected Adam rule.
func (opt *AdamOptimizer) Update(param, grad *Matrix) {
	opt.moments(param)
	checkUpdate("Adam", param, grad, opt.m)

	opt.timeStep++
	t := float64(opt.timeStep)
	beta1, beta2 := opt.cfg.Beta1, opt.cfg.Beta2
	eps, lr := opt.cfg.Epsilon, opt.cfg.LearningRate

	correction1 := 1.0 - math.Pow(beta1, t)
	correction2 := 1.0 - math.Pow(beta2, t)

	m, v := opt.m.data, opt.v.data
	for i, g := range grad.data {
		m[i] = beta1*m[i] + (1.0-beta1)*g
		v[i] = beta2*v[i] + (1.0-beta2)*(g*g)

		mHat := m[i] / correction1
		vHat := v[i] / correction2
		param.data[i] -= lr * mHat / (math.Sqrt(vHat) + eps)
	}
}

func (opt *AdamOptimizer) Reset() {
	opt.m, opt.v = nil, nil
	opt.timeStep = 0
}

func (opt *AdamOptimizer) Steps() int { return opt.timeStep }

// ------ NADAM OPTIMIZER METHODS ------ //

// NadamOptimizer is Adam with a Nesterov look-ahead on the first moment.
type NadamOptimizer struct {
	AdamOptimizer
}

func (opt *NadamOptimizer) Update(param, grad *Matrix) {
	opt.moments(param)
	checkUpdate("Nadam", param, grad, opt.m)

	opt.timeStep++
	t := float64(opt.timeStep)
	beta1, beta2 := opt.cfg.Beta1, opt.cfg.Beta2
	eps, lr := opt.cfg.Epsilon, opt.cfg.LearningRate

	correction1 := 1.0 - math.Pow(beta1, t)
	correction1Next := 1.0 - math.Pow(beta1, t+1)
	correction2 := 1.0 - math.Pow(beta2, t)

	m, v := opt.m.data, opt.v.data
	for i, g := range grad.data {
		m[i] = beta1*m[i] + (1.0-beta1)*g
		v[i] = beta2*v[i] + (1.0-beta2)*(g*g)

		mHat := beta1*m[i]/correction1Next + (1.0-beta1)*g/correction1
		vHat := v[i] / correction2
		param.data[i] -= lr * mHat / (math.Sqrt(vHat) + eps)
	}
}

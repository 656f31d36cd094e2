package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSGDUpdate(t *testing.T) {
	opt := NewOptimizer(OptimizerConfig{Type: OptSGD, LearningRate: 0.5})
	w := RowVector(1, 2, 3)
	opt.Update(w, RowVector(2, -2, 0))
	assert.Equal(t, []float64{0, 3, 3}, w.RawData())
	assert.Equal(t, 1, opt.Steps())
}

func TestMomentumUpdate(t *testing.T) {
	opt := NewOptimizer(OptimizerConfig{Type: OptMomentum, LearningRate: 0.1, MomentumMu: 0.5})
	w := RowVector(0)
	g := RowVector(1)

	opt.Update(w, g)
	assert.InDelta(t, -0.1, w.At(0, 0), 1e-15)

	// v = 0.5 * -0.1 - 0.1
	opt.Update(w, g)
	assert.InDelta(t, -0.25, w.At(0, 0), 1e-15)
	assert.Equal(t, 2, opt.Steps())
}

func TestAdamFirstStep(t *testing.T) {
	cfg := DefaultOptimizerConfig
	cfg.LearningRate = 0.01
	opt := NewOptimizer(cfg)

	w := RowVector(1, 1, 1)
	g := RowVector(0.5, -3, 1e-3)
	opt.Update(w, g)

	for i, gi := range g.RawData() {
		want := 1 - cfg.LearningRate*gi/(math.Abs(gi)+cfg.Epsilon)
		assert.InDelta(t, want, w.At(0, i), 1e-12)
	}
}

func TestNadamFirstStep(t *testing.T) {
	cfg := OptimizerConfig{Type: OptNadam, LearningRate: 0.01}
	opt := NewOptimizer(cfg)
	full := cfg.withDefaults()

	w := RowVector(0, 0)
	g := RowVector(2, -0.25)
	opt.Update(w, g)

	lookahead := full.Beta1/(1+full.Beta1) + 1
	for i, gi := range g.RawData() {
		want := -full.LearningRate * lookahead * gi / (math.Abs(gi) + full.Epsilon)
		assert.InDelta(t, want, w.At(0, i), 1e-12)
	}
}

func TestAdamConverges(t *testing.T) {
	opt := NewOptimizer(OptimizerConfig{Type: OptAdam, LearningRate: 0.05})
	w := RowVector(3, -2)
	// Minimise ½|w|².
	for i := 0; i < 2000; i++ {
		opt.Update(w, w.Clone())
	}
	assert.Less(t, w.MaxAbs(), 1e-2)
}

func TestOptimizerReset(t *testing.T) {
	for _, typ := range []OptimizerType{OptSGD, OptMomentum, OptAdam, OptNadam} {
		t.Run(string(typ), func(t *testing.T) {
			opt := NewOptimizer(OptimizerConfig{Type: typ})
			w := RowVector(1, 2)
			opt.Update(w, RowVector(1, 1))
			opt.Update(w, RowVector(1, 1))
			require.Equal(t, 2, opt.Steps())

			opt.Reset()
			assert.Equal(t, 0, opt.Steps())

			// After a reset a different shape is accepted.
			assert.NotPanics(t, func() { opt.Update(NewMatrix(3, 3), NewMatrix(3, 3)) })
		})
	}
}

func TestOptimizerShapeChecks(t *testing.T) {
	for _, typ := range []OptimizerType{OptSGD, OptMomentum, OptAdam, OptNadam} {
		opt := NewOptimizer(OptimizerConfig{Type: typ})
		requirePanicIs(t, ErrDimension, func() { opt.Update(NewMatrix(2, 2), NewMatrix(2, 3)) })
	}

	opt := NewOptimizer(OptimizerConfig{Type: OptAdam})
	opt.Update(NewMatrix(2, 2), NewMatrix(2, 2))
	requirePanicIs(t, ErrDimension, func() { opt.Update(NewMatrix(3, 3), NewMatrix(3, 3)) })
}

func TestUnknownOptimizer(t *testing.T) {
	assert.Panics(t, func() { NewOptimizer(OptimizerConfig{Type: "rmsprop"}) })
}

func TestOptimizerDefaults(t *testing.T) {
	cfg := OptimizerConfig{}.withDefaults()
	assert.Equal(t, DefaultOptimizerConfig, cfg)

	custom := OptimizerConfig{Type: OptSGD, LearningRate: 0.3}.withDefaults()
	assert.Equal(t, OptSGD, custom.Type)
	assert.Equal(t, 0.3, custom.LearningRate)
	assert.Equal(t, DefaultOptimizerConfig.Beta1, custom.Beta1)
}

package ml

import (
	"testing"
)

// --- Global Variables to prevent compiler optimizations ---
var resultMat *Matrix
var resultLoss float64

// --- 1. Benchmarks: Matrix Multiplication ---

// naiveDot is the O(N^3) triple loop without BLAS.
func naiveDot(a, b *Matrix) *Matrix {
	out := NewMatrix(a.rows, b.cols)
	for i := 0; i < a.rows; i++ {
		for k := 0; k < a.cols; k++ {
			scalar := a.data[i*a.cols+k]
			for j := 0; j < b.cols; j++ {
				out.data[i*out.cols+j] += scalar * b.data[k*b.cols+j]
			}
		}
	}
	return out
}

func TestNaiveDotAgrees(t *testing.T) {
	rng := newRand(140)
	a, b := randMatrix(rng, 7, 5), randMatrix(rng, 5, 3)
	requireMatrixNear(t, naiveDot(a, b), a.Dot(b), 1e-12)
}

func benchmarkDot(b *testing.B, size int, method string) {
	m1 := NewMatrix(size, size)
	m2 := NewMatrix(size, size)
	m1.Randomize()
	m2.Randomize()

	b.ResetTimer()
	var out *Matrix
	for n := 0; n < b.N; n++ {
		if method == "Native" {
			out = naiveDot(m1, m2)
		} else {
			out = m1.Dot(m2)
		}
	}
	resultMat = out
}

func BenchmarkDot_Native_64(b *testing.B)  { benchmarkDot(b, 64, "Native") }
func BenchmarkDot_Gonum_64(b *testing.B)   { benchmarkDot(b, 64, "Gonum") }
func BenchmarkDot_Native_256(b *testing.B) { benchmarkDot(b, 256, "Native") }
func BenchmarkDot_Gonum_256(b *testing.B)  { benchmarkDot(b, 256, "Gonum") }
func BenchmarkDot_Native_512(b *testing.B) { benchmarkDot(b, 512, "Native") }
func BenchmarkDot_Gonum_512(b *testing.B)  { benchmarkDot(b, 512, "Gonum") }

// --- 2. Benchmarks: Activation Overhead ---

func BenchmarkActivation_Apply(b *testing.B) {
	// 1 Million elements
	m := NewMatrix(1000, 1000)
	m.Randomize()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		resultMat = m.Apply(Relu)
	}
}

func BenchmarkActivation_Softmax(b *testing.B) {
	m := NewMatrix(1000, 1000)
	m.Randomize()
	act := NewActivation(ActSoftmax)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		resultMat = act.Forward(m)
	}
}

// --- 3. Benchmarks: Network Operations ---

// setupNetwork prepares a standard MNIST-sized network and a random batch
// with one-hot targets.
func setupNetwork(batchSize int, opt OptimizerType) (*Sequential, *Matrix, *Matrix) {
	rng := newRand(141)
	cfg := WithOptimizer(OptimizerConfig{Type: opt, LearningRate: 0.01})
	nn := NewNetwork(
		Input(784),
		Dense(64, cfg, WithRand(rng)),
		Dense(32, cfg, WithRand(rng)),
		Dense(16, cfg, WithRand(rng)),
		Dense(10, Activation("softmax"), cfg, WithRand(rng)),
	)

	input := randMatrix(rng, batchSize, 784)
	targets := NewMatrix(batchSize, 10)
	for r := 0; r < batchSize; r++ {
		targets.Set(r, rng.IntN(10), 1)
	}
	return nn, input, targets
}

// Benchmark: Forward Pass Only (Inference Speed)
func benchmarkForward(b *testing.B, batchSize int) {
	nn, input, _ := setupNetwork(batchSize, OptAdam)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		resultMat = nn.Forward(input)
	}
}

func BenchmarkForward_Batch_1(b *testing.B)   { benchmarkForward(b, 1) }
func BenchmarkForward_Batch_64(b *testing.B)  { benchmarkForward(b, 64) }
func BenchmarkForward_Batch_128(b *testing.B) { benchmarkForward(b, 128) }

// Benchmark: Forward and Backward (Gradient Calculation Cost)
func benchmarkBackprop(b *testing.B, batchSize int) {
	nn, input, targets := setupNetwork(batchSize, OptAdam)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		out := nn.Forward(input)
		resultLoss = CrossEntropyLoss(out, targets)
		resultMat = nn.Backward(CrossEntropyGrad(out, targets))
	}
}

func BenchmarkBackprop_Batch_64(b *testing.B)  { benchmarkBackprop(b, 64) }
func BenchmarkBackprop_Batch_128(b *testing.B) { benchmarkBackprop(b, 128) }

// --- 4. Benchmarks: Optimizer Types (Micro-Benchmark) ---

func benchmarkOptimizerUpdate(b *testing.B, optType OptimizerType) {
	// A larger matrix makes memory bandwidth matter more
	param := NewMatrix(784, 128)
	grad := NewMatrix(784, 128)
	param.Randomize()
	grad.Randomize()
	optimizer := NewOptimizer(OptimizerConfig{Type: optType, LearningRate: 1e-6})

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		optimizer.Update(param, grad)
	}
}

func BenchmarkOpt_Micro_SGD(b *testing.B)      { benchmarkOptimizerUpdate(b, OptSGD) }
func BenchmarkOpt_Micro_Momentum(b *testing.B) { benchmarkOptimizerUpdate(b, OptMomentum) }
func BenchmarkOpt_Micro_Adam(b *testing.B)     { benchmarkOptimizerUpdate(b, OptAdam) }
func BenchmarkOpt_Micro_Nadam(b *testing.B)    { benchmarkOptimizerUpdate(b, OptNadam) }

// --- 5. Benchmarks: Full Training Step with Optimizers ---

func benchmarkFullStepWithOpt(b *testing.B, batchSize int, optType OptimizerType) {
	nn, input, targets := setupNetwork(batchSize, optType)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		out := nn.Forward(input)
		nn.Backward(CrossEntropyGrad(out, targets))
		nn.Update()
	}
}

// Comparison at Batch Size 64
func BenchmarkTrainStep_SGD_64(b *testing.B)      { benchmarkFullStepWithOpt(b, 64, OptSGD) }
func BenchmarkTrainStep_Momentum_64(b *testing.B) { benchmarkFullStepWithOpt(b, 64, OptMomentum) }
func BenchmarkTrainStep_Adam_64(b *testing.B)     { benchmarkFullStepWithOpt(b, 64, OptAdam) }

// Comparison at Batch Size 256
func BenchmarkTrainStep_SGD_256(b *testing.B)      { benchmarkFullStepWithOpt(b, 256, OptSGD) }
func BenchmarkTrainStep_Momentum_256(b *testing.B) { benchmarkFullStepWithOpt(b, 256, OptMomentum) }
func BenchmarkTrainStep_Adam_256(b *testing.B)     { benchmarkFullStepWithOpt(b, 256, OptAdam) }

// --- 6. Benchmarks: Attention ---

func benchmarkAttention(b *testing.B, tokens int) {
	rng := newRand(142)
	mha := NewMultiHeadAttention(AttentionConfig{ModelDim: 64, Heads: 4, HeadDim: 16, Mask: true}, WithRand(rng))
	x := randMatrix(rng, tokens, 64)
	d := randMatrix(rng, tokens, 64)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		mha.Forward(x)
		resultMat = mha.Backward(d)
	}
}

func BenchmarkAttention_Tokens_16(b *testing.B)  { benchmarkAttention(b, 16) }
func BenchmarkAttention_Tokens_128(b *testing.B) { benchmarkAttention(b, 128) }

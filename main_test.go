package main

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/b0tShaman/matnet/ml"
)

func quickConfig(t *testing.T, out io.Writer) demoConfig {
	return demoConfig{
		Seed:      7,
		Epochs:    5,
		ModelPath: filepath.Join(t.TempDir(), "model.bin"),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Out:       out,
	}
}

func TestDemosRun(t *testing.T) {
	for _, name := range demoNames() {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, run(name, quickConfig(t, &out)))
			assert.Contains(t, out.String(), "=== "+name+" ===")
		})
	}
}

func TestUnknownDemo(t *testing.T) {
	assert.Error(t, run("svm", quickConfig(t, io.Discard)))
}

func TestMHADemoRestoresWeights(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run("mha", quickConfig(t, &out)))
	assert.Contains(t, out.String(), "max output difference 0.0e+00")
}

// --- Benchmarks: Matrix Multiplication ---

// NaiveMatMul is the standard O(N^3) multiplication without cache blocking.
func NaiveMatMul(a, b, out *Matrix) {
	if a.Cols() != b.Rows() || out.Rows() != a.Rows() || out.Cols() != b.Cols() {
		panic("Shape mismatch in NaiveMatMul")
	}
	out.Reset()
	ad, bd, od := a.RawData(), b.RawData(), out.RawData()
	for i := 0; i < a.Rows(); i++ {
		for k := 0; k < a.Cols(); k++ {
			scalar := ad[i*a.Cols()+k]
			for j := 0; j < b.Cols(); j++ {
				od[i*out.Cols()+j] += scalar * bd[k*b.Cols()+j]
			}
		}
	}
}

var result *Matrix // Global variable to prevent compiler optimizations

func benchmarkMatMul(b *testing.B, size int, method string) {
	m1 := NewMatrix(size, size)
	m2 := NewMatrix(size, size)
	out := NewMatrix(size, size)
	m1.Randomize()
	m2.Randomize()

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if method == "naive" {
			NaiveMatMul(m1, m2, out)
		} else {
			out = m1.Dot(m2)
		}
	}
	result = out
}

func BenchmarkMatMul_Naive_64(b *testing.B)  { benchmarkMatMul(b, 64, "naive") }
func BenchmarkMatMul_Gonum_64(b *testing.B)  { benchmarkMatMul(b, 64, "gonum") }
func BenchmarkMatMul_Naive_256(b *testing.B) { benchmarkMatMul(b, 256, "naive") }
func BenchmarkMatMul_Gonum_256(b *testing.B) { benchmarkMatMul(b, 256, "gonum") }

// --- Benchmarks: Full Network Inference ---

func benchmarkNetworkForward(b *testing.B, batchSize int) {
	nn := NewNetwork(
		Input(784),
		Dense(64),
		Dense(32),
		Dense(16),
		Dense(10, Activation("softmax")),
	)
	input := NewMatrix(batchSize, 784)
	input.RandomizeXavier()

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		result = nn.Forward(input)
	}
}

// Single item inference (Latency sensitive)
func BenchmarkForward_Batch_1(b *testing.B) { benchmarkNetworkForward(b, 1) }

// Mini-batch inference (Throughput sensitive)
func BenchmarkForward_Batch_64(b *testing.B) { benchmarkNetworkForward(b, 64) }

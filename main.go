package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	. "github.com/b0tShaman/matnet/ml"
)

type demoConfig struct {
	Seed      uint64
	Epochs    int
	ModelPath string
	Logger    *slog.Logger
	Out       io.Writer
}

func (c demoConfig) rand() *rand.Rand {
	return rand.New(rand.NewPCG(c.Seed, c.Seed+1))
}

var demos = map[string]func(demoConfig) error{
	"ops":         demoOps,
	"bp":          demoBackprop,
	"rbm":         demoRBM,
	"dbn":         demoDBN,
	"gmm":         demoGMM,
	"mha":         demoMHA,
	"transformer": demoTransformer,
}

func demoNames() []string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// -------- MAIN -------- //
func main() {
	demo := flag.String("demo", "bp", fmt.Sprintf("Demo to run, one of %v or \"all\"", demoNames()))
	seed := flag.Uint64("seed", 1, "Seed for weight initialisation and sampling")
	epochs := flag.Int("epochs", 0, "Training epochs (0 = per-demo default)")
	modelPath := flag.String("model", filepath.Join(os.TempDir(), "matnet.bin"), "Where the mha demo saves its weights")
	verbose := flag.Bool("v", false, "Log per-iteration progress")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := demoConfig{Seed: *seed, Epochs: *epochs, ModelPath: *modelPath, Logger: logger, Out: os.Stdout}
	if err := run(*demo, cfg); err != nil {
		logger.Error("demo failed", "demo", *demo, "err", err)
		os.Exit(1)
	}
}

func run(demo string, cfg demoConfig) error {
	if demo == "all" {
		for _, name := range demoNames() {
			if err := run(name, cfg); err != nil {
				return err
			}
		}
		return nil
	}
	fn, ok := demos[demo]
	if !ok {
		return fmt.Errorf("unknown demo %q, want one of %v", demo, demoNames())
	}
	fmt.Fprintf(cfg.Out, "\n=== %s ===\n", demo)
	return fn(cfg)
}

func epochsOr(cfg demoConfig, def int) int {
	if cfg.Epochs > 0 {
		return cfg.Epochs
	}
	return def
}

// demoOps walks through the matrix engine.
func demoOps(cfg demoConfig) error {
	a := ColVector(1, 2, 3)
	b := RowVector(4, 5, 6)
	outer := a.Dot(b)
	fmt.Fprintf(cfg.Out, "outer product:\n%v\n", outer)

	m := NewMatrixFromSlice(3, 3, []float64{4, 7, 2, 3, 6, 1, 2, 5, 3})
	inv, err := m.Inverse()
	if err != nil {
		return err
	}
	fmt.Fprintf(cfg.Out, "det = %.4f\ninverse:\n%v\n", m.Det(), inv)
	fmt.Fprintf(cfg.Out, "m·m⁻¹ max error = %.2e\n", m.Dot(inv).Sub(Identity(3)).MaxAbs())

	norm, mean, std := m.Normalize()
	fmt.Fprintf(cfg.Out, "row means:\n%v\nrow std:\n%v\nnormalised:\n%v\n", mean, std, norm)

	if _, err := outer.Inverse(); err != nil {
		fmt.Fprintf(cfg.Out, "outer product is singular: %v\n", err)
	}
	return nil
}

// demoBackprop learns XOR with a small tanh network.
func demoBackprop(cfg demoConfig) error {
	x := NewMatrixFromRows([][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}})
	y := NewMatrixFromRows([][]float64{{1, 0}, {0, 1}, {0, 1}, {1, 0}})

	rng := cfg.rand()
	opt := WithOptimizer(OptimizerConfig{Type: OptAdam, LearningRate: 0.05})
	nw := NewNetwork(
		Input(2),
		Dense(8, Activation("tanh"), opt, WithRand(rng)),
		Dense(2, Activation("softmax"), opt, WithRand(rng)),
	)

	report, err := Train(nw, x, y, TrainingConfig{
		Epochs:       epochsOr(cfg, 500),
		Loss:         LossCrossEntropy,
		VerboseEvery: 100,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cfg.Out, "final loss %.5f in %v\n", report.FinalLoss(), report.Elapsed)
	for r := 0; r < x.Rows(); r++ {
		class, p := Predict(nw, x.Row(r))
		fmt.Fprintf(cfg.Out, "%v -> %d (p=%.3f)\n", x.Row(r).RawData(), class, p)
	}
	return nil
}

// barData returns rows alternating between two complementary bit patterns
// and their one-hot labels.
func barData(n int) (*Matrix, *Matrix) {
	x := NewMatrix(n, 6)
	y := NewMatrix(n, 2)
	for r := 0; r < n; r++ {
		label := r % 2
		for c := 0; c < 3; c++ {
			x.Set(r, c+3*label, 1)
		}
		y.Set(r, label, 1)
	}
	return x, y
}

func demoRBM(cfg demoConfig) error {
	data, _ := barData(8)
	rbm := NewRBM(6, 3, RBMConfig{Rand: cfg.rand()})

	report := rbm.Pretrain(data, epochsOr(cfg, 200))
	fmt.Fprintf(cfg.Out, "%v reconstruction error after %d epochs: %.5f\n",
		rbm, report.Epochs, report.ReconstructionError)

	visible, hidden := rbm.Association(data.Row(0))
	fmt.Fprintf(cfg.Out, "input        %v\nreconstructed %v\nhidden       %v\n",
		data.Row(0).RawData(), visible, hidden)
	return nil
}

func demoDBN(cfg demoConfig) error {
	x, y := barData(16)
	dbn := NewDBN(DBNConfig{
		Optimizer: OptimizerConfig{Type: OptAdam, LearningRate: 0.05},
		Rand:      cfg.rand(),
		Logger:    cfg.Logger,
	}, 6, 4, 2)

	for i, r := range dbn.Pretrain(x, epochsOr(cfg, 100)) {
		fmt.Fprintf(cfg.Out, "stage %d reconstruction error %.5f\n", i, r.ReconstructionError)
	}
	loss, err := dbn.Finetune(y, epochsOr(cfg, 300))
	if err != nil {
		return err
	}
	fmt.Fprintf(cfg.Out, "classifier loss %.5f, accuracy %.2f\n", loss, Accuracy(dbn.Forward(x), y))
	return nil
}

func demoGMM(cfg demoConfig) error {
	rng := cfg.rand()
	centres := [][]float64{{0, 0}, {6, 1}, {2, 7}}
	rows := make([][]float64, 0, 150)
	for _, c := range centres {
		for i := 0; i < 50; i++ {
			rows = append(rows, []float64{c[0] + rng.NormFloat64(), c[1] + rng.NormFloat64()})
		}
	}
	data := NewMatrixFromRows(rows)

	// Seed each component with a sample from its cluster.
	comps := make([]GaussianComponent, len(centres))
	for k := range comps {
		comps[k] = GaussianComponent{Mean: data.Row(k * 50), Sigma: Identity(2), Weight: 1 / float64(len(centres))}
	}

	report, err := FitGMM(data, comps, GMMConfig{MaxIter: epochsOr(cfg, 1000), Logger: cfg.Logger})
	if err != nil {
		return err
	}
	fmt.Fprintf(cfg.Out, "iterations %d, converged %v\n", report.Iterations, report.Converged)
	for k, c := range comps {
		fmt.Fprintf(cfg.Out, "component %d: weight %.3f mean %v\nsigma:\n%v\n", k, c.Weight, c.Mean, c.Sigma)
	}
	return nil
}

// demoMHA fits masked self-attention to a shifted copy of its input, then
// checks that saved weights reproduce the output.
func demoMHA(cfg demoConfig) error {
	rng := cfg.rand()
	attnCfg := AttentionConfig{ModelDim: 4, Heads: 2, HeadDim: 4, Mask: true}
	mha := NewMultiHeadAttention(attnCfg,
		WithRand(rng), WithOptimizer(OptimizerConfig{Type: OptAdam, LearningRate: 0.01}))

	x := NewMatrixFromRows([][]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	})
	target := x.Scale(0.5)
	report, err := Train(mha, x, target, TrainingConfig{
		Epochs:       epochsOr(cfg, 300),
		VerboseEvery: 100,
		ModelPath:    cfg.ModelPath,
		ByteOrder:    SystemEndian(),
		Logger:       cfg.Logger,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cfg.Out, "final loss %.5f\n", report.FinalLoss())

	restored := NewMultiHeadAttention(attnCfg)
	if err := LoadModel(restored, cfg.ModelPath, SystemEndian()); err != nil {
		return err
	}
	diff := mha.Forward(x).Sub(restored.Forward(x)).MaxAbs()
	fmt.Fprintf(cfg.Out, "restored from %s, max output difference %.1e\n", cfg.ModelPath, diff)
	return nil
}

// demoTransformer teaches the transformer to emit a fixed token sequence
// for one encoder input, then decodes it autoregressively.
func demoTransformer(cfg demoConfig) error {
	const vocab, tokens = 4, 4
	tr := NewTransformer(TransformerConfig{
		EncoderDim: 4,
		DecoderDim: vocab,
		Heads:      2,
		HeadDim:    4,
		Optimizer:  OptimizerConfig{Type: OptAdam, LearningRate: 0.01},
		Rand:       cfg.rand(),
		Logger:     cfg.Logger,
	})

	enc := PositionalEncoding(tokens, 4).Add(NewMatrixFilled(tokens, 4, 0.5))
	sequence := []int{2, 0, 3, 1}
	expected := NewMatrix(tokens, vocab)
	dec := NewMatrix(tokens, vocab)
	for i, id := range sequence {
		expected.Set(i, id, 1)
		if i+1 < tokens {
			dec.Set(i+1, id, 1)
		}
	}

	losses := tr.TrainWithTeacher(enc, dec, Positions(tokens), Positions(tokens), expected, epochsOr(cfg, 300))
	fmt.Fprintf(cfg.Out, "loss %.4f -> %.4f\n", losses[0], losses[len(losses)-1])

	greedy := tr.Generate(enc, Positions(tokens), tokens, DecodingConfig{})
	sampled := tr.Generate(enc, Positions(tokens), tokens, DecodingConfig{
		SamplingType: SamplingTopK,
		TopK:         2,
		Temperature:  0.8,
		Mode:         ModeSampleFirstThenGreedy,
		Rand:         cfg.rand(),
	})
	fmt.Fprintf(cfg.Out, "target  %v\ngreedy  %v\nsampled %v\n", sequence, greedy, sampled)
	return nil
}

package ml

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// StageReport summarises the unsupervised training of one stage.
type StageReport struct {
	Epochs              int
	ReconstructionError float64
}

// Stage is one unsupervised layer of a deep belief network.
type Stage interface {
	Module
	Pretrain(samples *Matrix, epochs int) StageReport
}

// DBNConfig parameterises NewDBN. Zero values take defaults.
type DBNConfig struct {
	RBM       RBMConfig
	Optimizer OptimizerConfig // classifier optimizer
	Rand      *rand.Rand
	Logger    *slog.Logger
}

// DBN stacks stages greedily and classifies the top representation with a
// softmax layer of the same width.
type DBN struct {
	stages     []Stage
	classifier *Layer
	features   *Matrix // top-stage outputs cached by Pretrain
	logger     *slog.Logger
}

// NewDBN builds RBM stages for consecutive pairs of sizes: the visible width
// first, then each hidden width.
func NewDBN(cfg DBNConfig, sizes ...int) *DBN {
	if len(sizes) < 2 {
		panic(fmt.Sprintf("dbn: need at least visible and one hidden size, got %v", sizes))
	}
	if cfg.RBM.Rand == nil {
		cfg.RBM.Rand = cfg.Rand
	}
	stages := make([]Stage, 0, len(sizes)-1)
	for i := 1; i < len(sizes); i++ {
		stages = append(stages, NewRBM(sizes[i-1], sizes[i], cfg.RBM))
	}
	top := sizes[len(sizes)-1]
	classifier := NewLayer(top, top,
		WithActivation(ActSoftmax), WithOptimizer(cfg.Optimizer), WithRand(cfg.Rand))
	return NewDBNFromStages(stages, classifier, cfg.Logger)
}

// NewDBNFromStages assembles a DBN from caller-built stages.
func NewDBNFromStages(stages []Stage, classifier *Layer, logger *slog.Logger) *DBN {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBN{stages: stages, classifier: classifier, logger: logger}
}

func (d *DBN) Stages() []Stage { return d.stages }

// Pretrain trains the stages strictly bottom-up: each stage finishes all of
// its epochs before its outputs become the next stage's samples.
func (d *DBN) Pretrain(data *Matrix, epochs int) []StageReport {
	reports := make([]StageReport, len(d.stages))
	samples := data
	for i, st := range d.stages {
		start := time.Now()
		reports[i] = st.Pretrain(samples, epochs)
		samples = st.Forward(samples)
		d.logger.Info("dbn stage pretrained",
			"stage", i, "epochs", epochs,
			"reconstruction_error", reports[i].ReconstructionError,
			"elapsed", time.Since(start))
	}
	d.features = samples
	return reports
}

// Finetune trains only the classifier on the representations cached by
// Pretrain. expected holds one target row per pretraining sample. It returns
// the cross-entropy of the last epoch.
func (d *DBN) Finetune(expected *Matrix, epochs int) (float64, error) {
	if d.features == nil {
		return 0, fmt.Errorf("dbn finetune: %w: Pretrain has not run", ErrProtocol)
	}
	if expected.rows != d.features.rows || expected.cols != d.classifier.OutputSize() {
		return 0, fmt.Errorf("dbn finetune: %w", &DimensionError{
			Op:   "Finetune",
			Want: [2]int{d.features.rows, d.classifier.OutputSize()},
			Got:  [2]int{expected.rows, expected.cols},
		})
	}

	loss := 0.0
	for e := 1; e <= epochs; e++ {
		out := d.classifier.Forward(d.features)
		loss = CrossEntropyLoss(out, expected)
		d.classifier.Backward(CrossEntropyGrad(out, expected))
		d.classifier.Update()
	}
	d.logger.Info("dbn finetuned", "epochs", epochs, "loss", loss)
	return loss, nil
}

func (d *DBN) Forward(x *Matrix) *Matrix {
	out := x
	for _, st := range d.stages {
		out = st.Forward(out)
	}
	return d.classifier.Forward(out)
}

// Predict classifies a single sample row.
func (d *DBN) Predict(x *Matrix) (int, float64) {
	return Predict(d, x)
}

func (d *DBN) Save(s *Stream) error {
	for _, st := range d.stages {
		if err := WriteModule(s, st); err != nil {
			return err
		}
	}
	return d.classifier.Save(s)
}

func (d *DBN) Load(s *Stream) error {
	for _, st := range d.stages {
		if err := ReadModule(s, st); err != nil {
			return err
		}
	}
	return d.classifier.Load(s)
}

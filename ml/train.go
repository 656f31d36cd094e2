package ml

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type TrainingConfig struct {
	Epochs       int
	BatchSize    int      // rows per update, 0 means the whole input
	Loss         LossType // defaults to LossMSE
	ModelPath    string   // written after training when non-empty
	ByteOrder    binary.ByteOrder
	VerboseEvery int // How often to log progress (in epochs)
	Logger       *slog.Logger
}

// TrainReport carries the mean loss of every epoch.
type TrainReport struct {
	Losses  []float64
	Elapsed time.Duration
}

func (r TrainReport) FinalLoss() float64 {
	if len(r.Losses) == 0 {
		return 0
	}
	return r.Losses[len(r.Losses)-1]
}

func validateConfig(cfg TrainingConfig, inputs, targets *Matrix) (TrainingConfig, error) {
	if cfg.Epochs <= 0 {
		return cfg, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if inputs.rows != targets.rows {
		return cfg, &DimensionError{Op: "Train", Want: [2]int{inputs.rows, targets.cols}, Got: [2]int{targets.rows, targets.cols}}
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > inputs.rows {
		cfg.BatchSize = inputs.rows
	}
	if cfg.Loss == "" {
		cfg.Loss = LossMSE
	}
	if cfg.VerboseEvery <= 0 {
		cfg.VerboseEvery = 100
	}
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.LittleEndian
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg, nil
}

// Train runs a fixed number of epochs over contiguous row batches of inputs,
// calling Forward, Backward and Update once per batch. Rows are visited in
// order.
func Train(model Learner, inputs, targets *Matrix, cfg TrainingConfig) (TrainReport, error) {
	cfg, err := validateConfig(cfg, inputs, targets)
	if err != nil {
		return TrainReport{}, fmt.Errorf("train: %w", err)
	}
	logger := cfg.Logger
	logger.Info("training", "epochs", cfg.Epochs, "batch_size", cfg.BatchSize, "loss", cfg.Loss)

	start := time.Now()
	report := TrainReport{Losses: make([]float64, 0, cfg.Epochs)}
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		var totalLoss float64
		batches := 0
		for batchStart := 0; batchStart < inputs.rows; batchStart += cfg.BatchSize {
			end := min(batchStart+cfg.BatchSize, inputs.rows)
			x := rowRange(inputs, batchStart, end)
			t := rowRange(targets, batchStart, end)

			out := model.Forward(x)
			loss, grad, err := cfg.Loss.Eval(out, t)
			if err != nil {
				return report, fmt.Errorf("train epoch %d: %w", epoch, err)
			}
			model.Backward(grad)
			model.Update()

			totalLoss += loss
			batches++
		}

		avgLoss := totalLoss / float64(batches)
		report.Losses = append(report.Losses, avgLoss)
		if epoch%cfg.VerboseEvery == 0 || epoch == 1 {
			logger.Info("epoch", "epoch", epoch, "loss", avgLoss, "elapsed", time.Since(start))
		}
	}
	report.Elapsed = time.Since(start)

	if cfg.ModelPath != "" {
		if err := SaveModel(model, cfg.ModelPath, cfg.ByteOrder); err != nil {
			return report, fmt.Errorf("train: %w", err)
		}
		logger.Info("model saved", "path", cfg.ModelPath)
	}
	logger.Info("training complete", "elapsed", report.Elapsed)
	return report, nil
}

// SaveModel writes a persistent module to path.
func SaveModel(m Module, path string, order binary.ByteOrder) error {
	s := NewStream(order)
	if err := WriteModule(s, m); err != nil {
		return err
	}
	return s.SaveFile(path)
}

// LoadModel reads parameters written by SaveModel into m, which must have
// the same architecture.
func LoadModel(m Module, path string, order binary.ByteOrder) error {
	s, err := LoadFile(path, order)
	if err != nil {
		return err
	}
	if err := ReadModule(s, m); err != nil {
		return err
	}
	if s.Len() != 0 {
		return errors.New("load model: trailing bytes, architecture mismatch")
	}
	return nil
}

func rowRange(m *Matrix, from, to int) *Matrix {
	if from == 0 && to == m.rows {
		return m
	}
	return NewMatrixFromSlice(to-from, m.cols, m.data[from*m.cols:to*m.cols])
}

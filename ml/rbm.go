package ml

import (
	"fmt"
	"math/rand/v2"
)

// RBMConfig parameterises contrastive-divergence training. Zero values take
// defaults.
type RBMConfig struct {
	LearningRate float64     // defaults to 0.1
	Init         Initializer // defaults to InitXavierNormal
	Rand         *rand.Rand  // Gibbs sampling and initialisation
}

// RBM is a Bernoulli restricted Boltzmann machine. Rows of every input are
// independent visible vectors.
type RBM struct {
	W *Matrix // [visible, hidden]
	A *Matrix // visible bias [1, visible]
	B *Matrix // hidden bias [1, hidden]

	LearningRate float64
	rng          *rand.Rand

	input, hidden *Matrix
}

func NewRBM(visible, hidden int, cfg RBMConfig) *RBM {
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.1
	}
	if cfg.Init == nil {
		cfg.Init = InitXavierNormal
	}
	r := &RBM{
		W:            NewMatrix(visible, hidden),
		A:            NewMatrix(1, visible),
		B:            NewMatrix(1, hidden),
		LearningRate: cfg.LearningRate,
		rng:          cfg.Rand,
	}
	cfg.Init(r.W, visible, hidden, cfg.Rand)
	return r
}

func (r *RBM) Visible() int { return r.W.rows }
func (r *RBM) Hidden() int  { return r.W.cols }

// HiddenProbs is P(h=1 | v) = sigmoid(v·W + b).
func (r *RBM) HiddenProbs(v *Matrix) *Matrix {
	return v.Dot(r.W).AddVector(r.B).Apply(Sigmoid)
}

// VisibleProbs is P(v=1 | h) = sigmoid(h·Wᵀ + a).
func (r *RBM) VisibleProbs(h *Matrix) *Matrix {
	return h.Dot(r.W.T()).AddVector(r.A).Apply(Sigmoid)
}

func (r *RBM) sample(p *Matrix) *Matrix {
	out := NewMatrix(p.rows, p.cols)
	for i, prob := range p.data {
		if uniformFloat(r.rng) < prob {
			out.data[i] = 1
		}
	}
	return out
}

// Train runs one CD-1 step on the batch v and returns the squared
// reconstruction error averaged over rows.
func (r *RBM) Train(v *Matrix) float64 {
	if v.cols != r.W.rows {
		shapePanic("RBM.Train", v.rows, r.W.rows, v.rows, v.cols)
	}
	h0 := r.HiddenProbs(v)
	v1 := r.VisibleProbs(r.sample(h0))
	h1 := r.HiddenProbs(v1)

	n := float64(v.rows)
	step := r.LearningRate / n

	positive := v.T().Dot(h0)
	negative := v1.T().Dot(h1)
	r.W = r.W.Add(positive.Sub(negative).Scale(step))
	r.A = r.A.Add(v.Sub(v1).SumCols().Scale(step))
	r.B = r.B.Add(h0.Sub(h1).SumCols().Scale(step))

	diff := v.Sub(v1)
	return diff.MulElem(diff).Sum() / n
}

// Pretrain trains one CD-1 step per sample row for each epoch and reports
// the mean reconstruction error of the last epoch.
func (r *RBM) Pretrain(samples *Matrix, epochs int) StageReport {
	report := StageReport{Epochs: epochs}
	for e := 0; e < epochs; e++ {
		total := 0.0
		for i := 0; i < samples.rows; i++ {
			total += r.Train(samples.Row(i))
		}
		report.ReconstructionError = total / float64(samples.rows)
	}
	return report
}

// Forward is the deterministic up pass: hidden probabilities.
func (r *RBM) Forward(v *Matrix) *Matrix {
	r.input = v.Clone()
	r.hidden = r.HiddenProbs(v)
	return r.hidden.Clone()
}

// Backward differentiates the up pass. It leaves the weights untouched;
// RBMs learn through Train.
func (r *RBM) Backward(delta *Matrix) *Matrix {
	requireCache("RBM", r.hidden, delta)
	dz := delta.Clone()
	for i, h := range r.hidden.data {
		dz.data[i] *= h * (1 - h)
	}
	return dz.Dot(r.W.T())
}

// Association runs up, down and up again, returning the reconstructed
// visible probabilities and the hidden probabilities they induce.
func (r *RBM) Association(v *Matrix) (visible, hidden *Matrix) {
	visible = r.VisibleProbs(r.HiddenProbs(v))
	return visible, r.HiddenProbs(visible)
}

func (r *RBM) Save(s *Stream) error { return s.WriteMatrices(r.W, r.A, r.B) }
func (r *RBM) Load(s *Stream) error { return s.ReadMatrices(r.W, r.A, r.B) }

func (r *RBM) String() string {
	return fmt.Sprintf("RBM[%d->%d]", r.W.rows, r.W.cols)
}

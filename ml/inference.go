package ml

import (
	"math"
	"math/rand/v2"
	"sort"
)

const (
	// Sampling types
	SamplingGreedy  = "greedy"
	SamplingUniform = "uniform"
	SamplingTopK    = "topk"
)

const (
	// ModeAlwaysSample uses the configured SamplingType for every token.
	ModeAlwaysSample DecodingMode = "always_sample"
	// ModeSampleFirstThenGreedy samples the first token, then decodes greedily.
	ModeSampleFirstThenGreedy DecodingMode = "sample_first_then_greedy"
	// ModeIntervalSampling samples every Interval tokens, otherwise greedy.
	ModeIntervalSampling DecodingMode = "interval_sampling"
)

// DecodingMode defines how frequently the configured SamplingType is used.
type DecodingMode string

// DecodingConfig holds the parameters for the inference decoding strategy.
type DecodingConfig struct {
	SamplingType string  // "greedy", "uniform" or "topk"; empty means greedy
	Temperature  float64 // T > 0, zero means 1
	TopK         int     // The K value for Top-K sampling.

	Mode     DecodingMode
	Interval int // Used only if Mode is ModeIntervalSampling
	Rand     *rand.Rand
}

// Argmax returns the index and value of the largest entry. Ties resolve to
// the lowest index.
func Argmax(probs []float64) (int, float64) {
	maxIdx, maxProb := 0, math.Inf(-1)
	for i, p := range probs {
		if p > maxProb {
			maxProb = p
			maxIdx = i
		}
	}
	return maxIdx, maxProb
}

// Predict runs a single-row forward pass and returns the winning class and
// its output value.
func Predict(model Forwarder, x *Matrix) (int, float64) {
	if x.rows != 1 {
		shapePanic("Predict", 1, x.cols, x.rows, x.cols)
	}
	out := model.Forward(x)
	return Argmax(out.data)
}

// Sample picks the token for decoding step `step` according to cfg.
func (cfg DecodingConfig) Sample(probs []float64, step int) int {
	if !cfg.sampleAt(step) {
		idx, _ := Argmax(probs)
		return idx
	}
	probs = applyTemperature(probs, cfg.Temperature)
	switch cfg.SamplingType {
	case SamplingUniform:
		return multinomialSample(probs, cfg.Rand)
	case SamplingTopK:
		return topKSample(probs, cfg.TopK, cfg.Rand)
	default:
		idx, _ := Argmax(probs)
		return idx
	}
}

func (cfg DecodingConfig) sampleAt(step int) bool {
	switch cfg.Mode {
	case ModeSampleFirstThenGreedy:
		return step == 0
	case ModeIntervalSampling:
		return cfg.Interval > 0 && step%cfg.Interval == 0
	default:
		return true
	}
}

// applyTemperature rescales a distribution as p^(1/T), renormalised.
func applyTemperature(probs []float64, temperature float64) []float64 {
	if temperature <= 0 || temperature == 1 {
		return probs
	}
	out := make([]float64, len(probs))
	sum := 0.0
	for i, p := range probs {
		out[i] = math.Pow(p, 1/temperature)
		sum += out[i]
	}
	if sum == 0 {
		return probs
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// multinomialSample performs standard sampling from a probability distribution.
// Each class has a chance of being selected proportional to its probability.
func multinomialSample(probs []float64, rng *rand.Rand) int {
	r := uniformFloat(rng)
	cumulativeProb := 0.0
	for i, p := range probs {
		cumulativeProb += p
		if r < cumulativeProb {
			return i
		}
	}
	// Fallback in case of floating point inaccuracies, return the last index.
	return len(probs) - 1
}

// topKSample zeros out probabilities outside the top K and then samples multinomial.
func topKSample(probs []float64, K int, rng *rand.Rand) int {
	numClasses := len(probs)
	if K <= 0 || K >= numClasses {
		return multinomialSample(probs, rng)
	}

	type probIndex struct {
		prob float64
		idx  int
	}
	indexedProbs := make([]probIndex, numClasses)
	for i, p := range probs {
		indexedProbs[i] = probIndex{prob: p, idx: i}
	}
	sort.SliceStable(indexedProbs, func(i, j int) bool {
		return indexedProbs[i].prob > indexedProbs[j].prob
	})

	topKProbs := make([]float64, K)
	newSum := 0.0
	for i := range K {
		topKProbs[i] = indexedProbs[i].prob
		newSum += topKProbs[i]
	}
	if newSum == 0.0 {
		return multinomialSample(probs, rng)
	}
	for i := range topKProbs {
		topKProbs[i] /= newSum
	}

	return indexedProbs[multinomialSample(topKProbs, rng)].idx
}

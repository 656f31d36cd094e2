package ml

import (
	"math"
	"math/rand/v2"
)

// Initializer fills m in place. fanIn and fanOut describe the layer the
// matrix belongs to; rng may be nil to use the global source.
type Initializer func(m *Matrix, fanIn, fanOut int, rng *rand.Rand)

func normFloat(rng *rand.Rand) float64 {
	if rng == nil {
		return rand.NormFloat64()
	}
	return rng.NormFloat64()
}

func uniformFloat(rng *rand.Rand) float64 {
	if rng == nil {
		return rand.Float64()
	}
	return rng.Float64()
}

// InitHe draws from N(0, 2/fanIn). Suited to ReLU layers.
func InitHe(m *Matrix, fanIn, fanOut int, rng *rand.Rand) {
	scale := math.Sqrt(2.0 / float64(fanIn))
	for i := range m.data {
		m.data[i] = normFloat(rng) * scale
	}
}

// InitXavier draws from U(-limit, limit), limit = sqrt(6 / (fan_in + fan_out)).
func InitXavier(m *Matrix, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range m.data {
		m.data[i] = (uniformFloat(rng)*2 - 1) * limit
	}
}

// InitXavierNormal draws from N(0, 2/(fan_in + fan_out)).
func InitXavierNormal(m *Matrix, fanIn, fanOut int, rng *rand.Rand) {
	scale := math.Sqrt(2.0 / float64(fanIn+fanOut))
	for i := range m.data {
		m.data[i] = normFloat(rng) * scale
	}
}

func InitZero(m *Matrix, _, _ int, _ *rand.Rand) {
	m.Reset()
}

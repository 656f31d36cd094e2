package ml

import (
	"fmt"
	"math"
)

// AttentionHead is one scaled dot-product attention head with its own
// Q/K/V projections. In self mode query and key/value streams are the same
// matrix; in cross mode Q comes from one stream and K/V from another.
type AttentionHead struct {
	Wq, Wk, Wv *Layer
	mask       bool
	scale      float64

	q, k, v *Matrix
	scores  *Matrix // post-softmax weights
}

// NewAttentionHead projects a qDim query stream and a kvDim key/value stream
// into headDim. Projections are linear.
func NewAttentionHead(qDim, kvDim, headDim int, opts ...LayerOption) *AttentionHead {
	opts = append(append([]LayerOption{}, opts...), WithActivation(ActLinear))
	return &AttentionHead{
		Wq:    NewLayer(qDim, headDim, opts...),
		Wk:    NewLayer(kvDim, headDim, opts...),
		Wv:    NewLayer(kvDim, headDim, opts...),
		scale: 1.0 / math.Sqrt(float64(headDim)),
	}
}

// SetMask toggles the causal mask: position i may not attend to j > i.
func (h *AttentionHead) SetMask(on bool) { h.mask = on }
func (h *AttentionHead) Masked() bool    { return h.mask }

// Scores returns the attention weights of the last forward pass.
func (h *AttentionHead) Scores() *Matrix { return h.scores }

func (h *AttentionHead) Forward(x *Matrix) *Matrix {
	return h.Attend(x, x)
}

// Attend computes softmax(Q·Kᵀ/sqrt(headDim))·V for Q = query·Wq and
// K, V = kv·Wk, kv·Wv.
func (h *AttentionHead) Attend(query, kv *Matrix) *Matrix {
	h.q = h.Wq.Forward(query)
	h.k = h.Wk.Forward(kv)
	h.v = h.Wv.Forward(kv)

	s := h.q.Dot(h.k.T()).Scale(h.scale)
	if h.mask {
		causalMask(s)
	}
	SoftmaxRow(s)
	h.scores = s
	return s.Dot(h.v)
}

func causalMask(s *Matrix) {
	neg := math.Inf(-1)
	for r := 0; r < s.rows; r++ {
		for c := r + 1; c < s.cols; c++ {
			s.data[r*s.cols+c] = neg
		}
	}
}

// Backward returns the input gradient in self mode, where the query and
// key/value streams share one input.
func (h *AttentionHead) Backward(delta *Matrix) *Matrix {
	dKV, dQ := h.BackwardCross(delta)
	return dKV.Add(dQ)
}

// BackwardCross returns the gradients for the key/value stream and the
// query stream separately.
func (h *AttentionHead) BackwardCross(delta *Matrix) (dKV, dQ *Matrix) {
	if h.scores == nil {
		panic(&ProtocolError{Module: "AttentionHead", Op: "Backward", Reason: "no forward pass cached"})
	}
	if delta.rows != h.q.rows || delta.cols != h.v.cols {
		shapePanic("AttentionHead.Backward", h.q.rows, h.v.cols, delta.rows, delta.cols)
	}

	// out = S·V
	dV := h.scores.T().Dot(delta)
	dS := delta.Dot(h.v.T())

	// Softmax derivative, then the score scale. Masked weights are exactly
	// zero so their gradient vanishes.
	dZ := softmaxBackward(h.scores, dS).Scale(h.scale)

	// Z = Q·Kᵀ
	dq := dZ.Dot(h.k)
	dk := dZ.T().Dot(h.q)

	dQ = h.Wq.Backward(dq)
	dKV = h.Wk.Backward(dk).Add(h.Wv.Backward(dV))
	return dKV, dQ
}

func (h *AttentionHead) Update() {
	h.Wq.Update()
	h.Wk.Update()
	h.Wv.Update()
}

func (h *AttentionHead) ResetOptimizer() {
	h.Wq.ResetOptimizer()
	h.Wk.ResetOptimizer()
	h.Wv.ResetOptimizer()
}

func (h *AttentionHead) Save(s *Stream) error { return saveAll(s, h.Wq, h.Wk, h.Wv) }
func (h *AttentionHead) Load(s *Stream) error { return loadAll(s, h.Wq, h.Wk, h.Wv) }

// AttentionConfig describes a multi-head block. Zero values take defaults.
type AttentionConfig struct {
	ModelDim int // query stream width and output width
	KVDim    int // key/value stream width, defaults to ModelDim
	Heads    int // defaults to 1
	HeadDim  int // defaults to ModelDim
	Mask     bool
	// Activation wraps the layer that reduces concatenated heads back to
	// ModelDim. The zero value is linear.
	Activation ActivationType
}

func (c AttentionConfig) withDefaults() AttentionConfig {
	if c.ModelDim <= 0 {
		panic(fmt.Sprintf("attention: ModelDim must be positive, got %d", c.ModelDim))
	}
	if c.KVDim == 0 {
		c.KVDim = c.ModelDim
	}
	if c.Heads == 0 {
		c.Heads = 1
	}
	if c.HeadDim == 0 {
		c.HeadDim = c.ModelDim
	}
	return c
}

// MultiHeadAttention runs independent heads, concatenates their outputs
// along columns and reduces them with one Layer.
type MultiHeadAttention struct {
	heads   []*AttentionHead
	reduce  *Layer
	headDim int
}

func NewMultiHeadAttention(cfg AttentionConfig, opts ...LayerOption) *MultiHeadAttention {
	cfg = cfg.withDefaults()
	m := &MultiHeadAttention{
		heads:   make([]*AttentionHead, cfg.Heads),
		headDim: cfg.HeadDim,
	}
	for i := range m.heads {
		m.heads[i] = NewAttentionHead(cfg.ModelDim, cfg.KVDim, cfg.HeadDim, opts...)
		m.heads[i].SetMask(cfg.Mask)
	}
	reduceOpts := append(append([]LayerOption{}, opts...), WithActivation(cfg.Activation))
	m.reduce = NewLayer(cfg.Heads*cfg.HeadDim, cfg.ModelDim, reduceOpts...)
	return m
}

func (m *MultiHeadAttention) Heads() []*AttentionHead { return m.heads }

func (m *MultiHeadAttention) SetMask(on bool) {
	for _, h := range m.heads {
		h.SetMask(on)
	}
}

func (m *MultiHeadAttention) Forward(x *Matrix) *Matrix {
	return m.Attend(x, x)
}

func (m *MultiHeadAttention) Attend(query, kv *Matrix) *Matrix {
	outs := make([]*Matrix, len(m.heads))
	for i, h := range m.heads {
		outs[i] = h.Attend(query, kv)
	}
	return m.reduce.Forward(HStack(outs...))
}

func (m *MultiHeadAttention) Backward(delta *Matrix) *Matrix {
	dKV, dQ := m.BackwardCross(delta)
	return dKV.Add(dQ)
}

func (m *MultiHeadAttention) BackwardCross(delta *Matrix) (dKV, dQ *Matrix) {
	dCat := m.reduce.Backward(delta)
	for i, h := range m.heads {
		dHead := dCat.ColSlice(i*m.headDim, (i+1)*m.headDim)
		kv, q := h.BackwardCross(dHead)
		if i == 0 {
			dKV, dQ = kv, q
			continue
		}
		dKV = dKV.Add(kv)
		dQ = dQ.Add(q)
	}
	return dKV, dQ
}

func (m *MultiHeadAttention) Update() {
	for _, h := range m.heads {
		h.Update()
	}
	m.reduce.Update()
}

func (m *MultiHeadAttention) ResetOptimizer() {
	for _, h := range m.heads {
		h.ResetOptimizer()
	}
	m.reduce.ResetOptimizer()
}

func (m *MultiHeadAttention) Save(s *Stream) error {
	for _, h := range m.heads {
		if err := h.Save(s); err != nil {
			return err
		}
	}
	return m.reduce.Save(s)
}

func (m *MultiHeadAttention) Load(s *Stream) error {
	for _, h := range m.heads {
		if err := h.Load(s); err != nil {
			return err
		}
	}
	return m.reduce.Load(s)
}

// CrossAttention attends from a decoder stream (queries) over an encoder
// stream (keys and values).
type CrossAttention struct {
	mha *MultiHeadAttention
}

// NewCrossAttention builds cross attention from encDim keys/values into a
// decDim query stream; cfg.ModelDim and cfg.KVDim are overwritten.
func NewCrossAttention(encDim, decDim int, cfg AttentionConfig, opts ...LayerOption) *CrossAttention {
	cfg.ModelDim = decDim
	cfg.KVDim = encDim
	return &CrossAttention{mha: NewMultiHeadAttention(cfg, opts...)}
}

func (c *CrossAttention) Forward(enc, dec *Matrix) *Matrix {
	return c.mha.Attend(dec, enc)
}

func (c *CrossAttention) Backward(delta *Matrix) (dEnc, dDec *Matrix) {
	return c.mha.BackwardCross(delta)
}

func (c *CrossAttention) Update()              { c.mha.Update() }
func (c *CrossAttention) ResetOptimizer()      { c.mha.ResetOptimizer() }
func (c *CrossAttention) Save(s *Stream) error { return c.mha.Save(s) }
func (c *CrossAttention) Load(s *Stream) error { return c.mha.Load(s) }

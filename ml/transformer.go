package ml

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// TransformerUnit is one tower block: residual multi-head self-attention
// followed by a residual position-wise linear layer.
type TransformerUnit struct {
	attn    *MultiHeadAttention
	attnRes *Residual
	ffRes   *Residual
}

func NewTransformerUnit(cfg AttentionConfig, opts ...LayerOption) *TransformerUnit {
	attn := NewMultiHeadAttention(cfg, opts...)
	ffOpts := append(append([]LayerOption{}, opts...), WithActivation(ActLinear))
	return &TransformerUnit{
		attn:    attn,
		attnRes: NewResidual(attn),
		ffRes:   NewResidual(NewLayer(cfg.ModelDim, cfg.ModelDim, ffOpts...)),
	}
}

func (u *TransformerUnit) SetMask(on bool) { u.attn.SetMask(on) }

func (u *TransformerUnit) Forward(x *Matrix) *Matrix {
	return u.ffRes.Forward(u.attnRes.Forward(x))
}

func (u *TransformerUnit) Backward(delta *Matrix) *Matrix {
	return u.attnRes.Backward(u.ffRes.Backward(delta))
}

func (u *TransformerUnit) Update() {
	u.attnRes.Update()
	u.ffRes.Update()
}

func (u *TransformerUnit) ResetOptimizer() {
	u.attnRes.ResetOptimizer()
	u.ffRes.ResetOptimizer()
}

func (u *TransformerUnit) Save(s *Stream) error { return saveAll(s, u.attnRes, u.ffRes) }
func (u *TransformerUnit) Load(s *Stream) error { return loadAll(s, u.attnRes, u.ffRes) }

// CrossResidual is norm(cross(enc, dec) + dec).
type CrossResidual struct {
	cross *CrossAttention
	norm  *Norm
}

func NewCrossResidual(cross *CrossAttention) *CrossResidual {
	return &CrossResidual{cross: cross, norm: NewNorm()}
}

func (c *CrossResidual) Forward(enc, dec *Matrix) *Matrix {
	return c.norm.Forward(c.cross.Forward(enc, dec).Add(dec))
}

func (c *CrossResidual) Backward(delta *Matrix) (dEnc, dDec *Matrix) {
	g := c.norm.Backward(delta)
	dEnc, dDec = c.cross.Backward(g)
	return dEnc, dDec.Add(g)
}

func (c *CrossResidual) Update()              { c.cross.Update() }
func (c *CrossResidual) ResetOptimizer()      { c.cross.ResetOptimizer() }
func (c *CrossResidual) Save(s *Stream) error { return c.cross.Save(s) }
func (c *CrossResidual) Load(s *Stream) error { return c.cross.Load(s) }

// TransformerConfig sizes an encoder-decoder transformer. Zero values take
// defaults.
type TransformerConfig struct {
	EncoderDim   int
	DecoderDim   int
	Heads        int // defaults to 1
	HeadDim      int // defaults to the tower width
	Layers       int // blocks per tower, defaults to 1
	MaxPositions int // RoPE table length, defaults to 128
	Optimizer    OptimizerConfig
	Rand         *rand.Rand
	Logger       *slog.Logger
	VerboseEvery int // epochs between progress logs, defaults to 10
}

func (c TransformerConfig) withDefaults() TransformerConfig {
	if c.EncoderDim <= 0 || c.DecoderDim <= 0 {
		panic(fmt.Sprintf("transformer: dims must be positive, got %d, %d", c.EncoderDim, c.DecoderDim))
	}
	if c.Heads == 0 {
		c.Heads = 1
	}
	if c.Layers == 0 {
		c.Layers = 1
	}
	if c.MaxPositions == 0 {
		c.MaxPositions = 128
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.VerboseEvery == 0 {
		c.VerboseEvery = 10
	}
	return c
}

// Transformer is an encoder tower and a decoder tower joined by residual
// cross attention, a residual linear layer and a softmax output head.
type Transformer struct {
	cfg         TransformerConfig
	encoders    []*TransformerUnit
	decoders    []*TransformerUnit
	cross       *CrossResidual
	crossLinear *Residual
	head        *Layer

	encRoPE, decRoPE *RoPE
	teacherMode      bool
	logger           *slog.Logger
}

func NewTransformer(cfg TransformerConfig) *Transformer {
	cfg = cfg.withDefaults()
	opts := []LayerOption{WithOptimizer(cfg.Optimizer), WithRand(cfg.Rand)}

	t := &Transformer{cfg: cfg, logger: cfg.Logger}
	for i := 0; i < cfg.Layers; i++ {
		t.encoders = append(t.encoders, NewTransformerUnit(AttentionConfig{
			ModelDim: cfg.EncoderDim, Heads: cfg.Heads, HeadDim: cfg.HeadDim,
		}, opts...))
		t.decoders = append(t.decoders, NewTransformerUnit(AttentionConfig{
			ModelDim: cfg.DecoderDim, Heads: cfg.Heads, HeadDim: cfg.HeadDim,
		}, opts...))
	}
	t.cross = NewCrossResidual(NewCrossAttention(cfg.EncoderDim, cfg.DecoderDim,
		AttentionConfig{Heads: cfg.Heads, HeadDim: cfg.HeadDim}, opts...))
	t.crossLinear = NewResidual(NewLayer(cfg.DecoderDim, cfg.DecoderDim, opts...))
	t.head = NewLayer(cfg.DecoderDim, cfg.DecoderDim, append(opts, WithActivation(ActSoftmax))...)

	if cfg.EncoderDim >= 2 {
		t.encRoPE = NewRoPE(cfg.MaxPositions, cfg.EncoderDim)
	}
	if cfg.DecoderDim >= 2 {
		t.decRoPE = NewRoPE(cfg.MaxPositions, cfg.DecoderDim)
	}
	return t
}

// SetTeacherMode turns the causal mask of every decoder self-attention
// block on or off.
func (t *Transformer) SetTeacherMode(on bool) {
	t.teacherMode = on
	for _, u := range t.decoders {
		u.SetMask(on)
	}
}

func (t *Transformer) TeacherMode() bool { return t.teacherMode }

// Forward returns one probability row per decoder token.
func (t *Transformer) Forward(enc, dec *Matrix) *Matrix {
	encOut := enc
	for _, u := range t.encoders {
		encOut = u.Forward(encOut)
	}
	decOut := dec
	for _, u := range t.decoders {
		decOut = u.Forward(decOut)
	}
	crossOut := t.cross.Forward(encOut, decOut)
	return t.head.Forward(t.crossLinear.Forward(crossOut))
}

func (t *Transformer) Backward(delta *Matrix) (dEnc, dDec *Matrix) {
	g := t.crossLinear.Backward(t.head.Backward(delta))
	dEnc, dDec = t.cross.Backward(g)
	for i := len(t.encoders) - 1; i >= 0; i-- {
		dEnc = t.encoders[i].Backward(dEnc)
	}
	for i := len(t.decoders) - 1; i >= 0; i-- {
		dDec = t.decoders[i].Backward(dDec)
	}
	return dEnc, dDec
}

func (t *Transformer) Update() {
	for _, u := range t.encoders {
		u.Update()
	}
	for _, u := range t.decoders {
		u.Update()
	}
	t.cross.Update()
	t.crossLinear.Update()
	t.head.Update()
}

func (t *Transformer) ResetOptimizer() {
	for _, u := range t.encoders {
		u.ResetOptimizer()
	}
	for _, u := range t.decoders {
		u.ResetOptimizer()
	}
	t.cross.ResetOptimizer()
	t.crossLinear.ResetOptimizer()
	t.head.ResetOptimizer()
}

func rotate(r *RoPE, m *Matrix, positions []int) *Matrix {
	if r == nil {
		return m.Clone()
	}
	return r.Apply(m, positions)
}

// ForwardWithRoPE rotates both inputs by their token positions before the
// forward pass. The inputs are not modified.
func (t *Transformer) ForwardWithRoPE(enc, dec *Matrix, encPos, decPos []int) *Matrix {
	return t.Forward(rotate(t.encRoPE, enc, encPos), rotate(t.decRoPE, dec, decPos))
}

// TrainWithTeacher runs teacher-forced training: the decoder sees the
// shifted target sequence with its causal mask on. It returns the
// cross-entropy loss of every epoch. Teacher mode is off on return.
func (t *Transformer) TrainWithTeacher(enc, dec *Matrix, encPos, decPos []int, expected *Matrix, epochs int) []float64 {
	t.SetTeacherMode(true)
	defer t.SetTeacherMode(false)

	start := time.Now()
	losses := make([]float64, 0, epochs)
	for epoch := 1; epoch <= epochs; epoch++ {
		out := t.ForwardWithRoPE(enc, dec, encPos, decPos)
		loss := CrossEntropyLoss(out, expected)
		t.Backward(CrossEntropyGrad(out, expected))
		t.Update()
		losses = append(losses, loss)

		if epoch%t.cfg.VerboseEvery == 0 || epoch == 1 {
			t.logger.Info("transformer epoch", "epoch", epoch, "loss", loss, "elapsed", time.Since(start))
		}
	}
	return losses
}

// Predict decodes `tokens` rows autoregressively. Decoder row 0 starts at
// zero; after step i the output row i, rotated to position i+1, becomes
// decoder row i+1. The decoder mask stays on so that step i only depends on
// rows already produced.
func (t *Transformer) Predict(enc *Matrix, encPos []int, tokens int) *Matrix {
	return t.decode(enc, encPos, tokens, func(_ int, row *Matrix) *Matrix { return row })
}

// Generate is Predict with the fed-back rows replaced by one-hot vectors of
// the token chosen by cfg. It returns the chosen token ids.
func (t *Transformer) Generate(enc *Matrix, encPos []int, tokens int, cfg DecodingConfig) []int {
	ids := make([]int, tokens)
	t.decode(enc, encPos, tokens, func(step int, row *Matrix) *Matrix {
		ids[step] = cfg.Sample(row.data, step)
		oneHot := NewMatrix(1, row.cols)
		oneHot.data[ids[step]] = 1
		return oneHot
	})
	return ids
}

func (t *Transformer) decode(enc *Matrix, encPos []int, tokens int, feed func(step int, row *Matrix) *Matrix) *Matrix {
	prev := t.teacherMode
	t.SetTeacherMode(true)
	defer t.SetTeacherMode(prev)

	encIn := rotate(t.encRoPE, enc, encPos)
	dec := NewMatrix(tokens, t.cfg.DecoderDim)
	var out *Matrix
	for i := 0; i < tokens; i++ {
		out = t.Forward(encIn, dec)
		next := feed(i, out.Row(i))
		if i+1 < tokens {
			dec.SetRow(i+1, next)
			if t.decRoPE != nil {
				t.decRoPE.ApplyRow(dec, i+1, i+1)
			}
		}
	}
	return out
}

func (t *Transformer) parts() []Persistent {
	ps := make([]Persistent, 0, len(t.encoders)+len(t.decoders)+3)
	for _, u := range t.encoders {
		ps = append(ps, u)
	}
	for _, u := range t.decoders {
		ps = append(ps, u)
	}
	return append(ps, t.cross, t.crossLinear, t.head)
}

func (t *Transformer) Save(s *Stream) error { return saveAll(s, t.parts()...) }
func (t *Transformer) Load(s *Stream) error { return loadAll(s, t.parts()...) }

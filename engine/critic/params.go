package critic

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
	"github.com/phillipinseoul/Cluster-MAAC/engine/nn"
)

// Config fixes the critic's shape.
type Config struct {
	SASizes     []engine.SASize // one (state, action) pair per agent
	HiddenDim   int
	AttendHeads int  // must divide HiddenDim
	NormIn      bool // standardise encoder inputs
}

// AttendDim is the per-head key/selector/value width.
func (c Config) AttendDim() int { return c.HiddenDim / c.AttendHeads }

// Validate reports configuration errors.
func (c Config) Validate() error {
	if len(c.SASizes) == 0 {
		return engine.ConfigErrorf("critic needs at least one agent in sa_sizes")
	}
	if c.HiddenDim < 1 || c.AttendHeads < 1 {
		return engine.ConfigErrorf("hidden_dim %d and attend_heads %d must be positive", c.HiddenDim, c.AttendHeads)
	}
	if c.HiddenDim%c.AttendHeads != 0 {
		return engine.ConfigErrorf("attend_heads %d does not divide hidden_dim %d", c.AttendHeads, c.HiddenDim)
	}
	for i, sa := range c.SASizes {
		if sa.State < 1 || sa.Action < 1 {
			return engine.ConfigErrorf("agent %d has sa_size (%d, %d); both must be positive", i, sa.State, sa.Action)
		}
	}
	return nil
}

// Encoder is [normalise] -> linear -> leaky ReLU.
type Encoder struct {
	Norm *nn.BatchNorm // nil when inputs are not normalised
	FC   nn.Linear
}

// Forward encodes every row of x, normalising with the running statistics.
func (e Encoder) Forward(x mat.Matrix) *mat.Dense {
	return e.encode(x, false)
}

// encode normalises with x's own statistics when batchStats is set.
func (e Encoder) encode(x mat.Matrix, batchStats bool) *mat.Dense {
	switch {
	case e.Norm == nil:
	case batchStats:
		x = e.Norm.ForwardBatch(x)
	default:
		x = e.Norm.Forward(x)
	}
	return nn.LeakyReLU(e.FC.Forward(x))
}

func (e Encoder) clone() Encoder {
	c := Encoder{FC: e.FC.Clone()}
	if e.Norm != nil {
		bn := e.Norm.Clone()
		c.Norm = &bn
	}
	return c
}

// Head maps [state encoding | attended values] to per-action Q-values.
type Head struct {
	FC1 nn.Linear // 2·hidden -> hidden
	FC2 nn.Linear // hidden -> action dim
}

// Forward returns all-action Q-values.
func (h Head) Forward(x mat.Matrix) *mat.Dense {
	return h.FC2.Forward(nn.LeakyReLU(h.FC1.Forward(x)))
}

// AttentionHead holds one head's extractors, shared across agents.
type AttentionHead struct {
	Key      nn.Linear // bias-free
	Selector nn.Linear // bias-free
	Value    nn.Linear // followed by leaky ReLU
}

// ClusterHead holds one head's extractors for cluster-level attention,
// shared across clusters.
type ClusterHead struct {
	Key      nn.Linear
	Selector nn.Linear
}

// Params are the learned weights. The critic only reads them; an external
// optimizer updates them between forward passes.
type Params struct {
	CriticEncoders []Encoder // per agent, state-action input
	StateEncoders  []Encoder // per agent, state input
	Critics        []Head    // per agent
	Heads          []AttentionHead
	ClusterHeads   []ClusterHead
}

// NewParams draws fresh weights for cfg from a seeded RNG.
func NewParams(cfg Config, seed uint64) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	h, d := cfg.HiddenDim, cfg.AttendDim()
	p := &Params{}
	for _, sa := range cfg.SASizes {
		enc := Encoder{FC: nn.NewLinear(rng, sa.Input(), h, true)}
		senc := Encoder{FC: nn.NewLinear(rng, sa.State, h, true)}
		if cfg.NormIn {
			bn, sbn := nn.NewBatchNorm(sa.Input()), nn.NewBatchNorm(sa.State)
			enc.Norm, senc.Norm = &bn, &sbn
		}
		p.CriticEncoders = append(p.CriticEncoders, enc)
		p.StateEncoders = append(p.StateEncoders, senc)
		p.Critics = append(p.Critics, Head{
			FC1: nn.NewLinear(rng, 2*h, h, true),
			FC2: nn.NewLinear(rng, h, sa.Action, true),
		})
	}
	for i := 0; i < cfg.AttendHeads; i++ {
		p.Heads = append(p.Heads, AttentionHead{
			Key:      nn.NewLinear(rng, h, d, false),
			Selector: nn.NewLinear(rng, h, d, false),
			Value:    nn.NewLinear(rng, h, d, true),
		})
		p.ClusterHeads = append(p.ClusterHeads, ClusterHead{
			Key:      nn.NewLinear(rng, h, d, false),
			Selector: nn.NewLinear(rng, h, d, false),
		})
	}
	return p, nil
}

// Check reports a configuration error when p does not have cfg's shape.
func (p *Params) Check(cfg Config) error {
	n, h, d := len(cfg.SASizes), cfg.HiddenDim, cfg.AttendDim()
	if len(p.CriticEncoders) != n || len(p.StateEncoders) != n || len(p.Critics) != n {
		return engine.ConfigErrorf("params hold %d/%d/%d per-agent modules, sa_sizes has %d agents",
			len(p.CriticEncoders), len(p.StateEncoders), len(p.Critics), n)
	}
	for i, sa := range cfg.SASizes {
		if err := checkLinear(p.CriticEncoders[i].FC, sa.Input(), h, "critic encoder", i); err != nil {
			return err
		}
		if err := checkLinear(p.StateEncoders[i].FC, sa.State, h, "state encoder", i); err != nil {
			return err
		}
		if err := checkLinear(p.Critics[i].FC1, 2*h, h, "critic fc1", i); err != nil {
			return err
		}
		if err := checkLinear(p.Critics[i].FC2, h, sa.Action, "critic fc2", i); err != nil {
			return err
		}
		if cfg.NormIn != (p.CriticEncoders[i].Norm != nil) || cfg.NormIn != (p.StateEncoders[i].Norm != nil) {
			return engine.ConfigErrorf("agent %d encoder normalisation does not match norm_in=%v", i, cfg.NormIn)
		}
		if err := checkNorm(p.CriticEncoders[i].Norm, sa.Input(), "critic encoder", i); err != nil {
			return err
		}
		if err := checkNorm(p.StateEncoders[i].Norm, sa.State, "state encoder", i); err != nil {
			return err
		}
	}
	if len(p.Heads) != cfg.AttendHeads || len(p.ClusterHeads) != cfg.AttendHeads {
		return engine.ConfigErrorf("params hold %d agent and %d cluster heads, want %d",
			len(p.Heads), len(p.ClusterHeads), cfg.AttendHeads)
	}
	for i := range p.Heads {
		for _, l := range []nn.Linear{p.Heads[i].Key, p.Heads[i].Selector, p.Heads[i].Value, p.ClusterHeads[i].Key, p.ClusterHeads[i].Selector} {
			if err := checkLinear(l, h, d, "attention head", i); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkLinear(l nn.Linear, in, out int, what string, idx int) error {
	if l.W == nil {
		return engine.ConfigErrorf("%s %d has no weights", what, idx)
	}
	if l.In() != in || l.Out() != out {
		return engine.ConfigErrorf("%s %d is %dx%d, want %dx%d", what, idx, l.In(), l.Out(), in, out)
	}
	if l.B != nil && len(l.B) != out {
		return engine.ConfigErrorf("%s %d bias has %d entries, want %d", what, idx, len(l.B), out)
	}
	return nil
}

func checkNorm(bn *nn.BatchNorm, dim int, what string, idx int) error {
	if bn == nil {
		return nil
	}
	if len(bn.Mean) != dim || len(bn.Var) != dim {
		return engine.ConfigErrorf("%s %d normalisation holds %d means and %d variances, want %d",
			what, idx, len(bn.Mean), len(bn.Var), dim)
	}
	return nil
}

// Clone returns a deep copy of p.
func (p *Params) Clone() *Params {
	c := &Params{
		CriticEncoders: make([]Encoder, len(p.CriticEncoders)),
		StateEncoders:  make([]Encoder, len(p.StateEncoders)),
		Critics:        make([]Head, len(p.Critics)),
		Heads:          make([]AttentionHead, len(p.Heads)),
		ClusterHeads:   make([]ClusterHead, len(p.ClusterHeads)),
	}
	for i, e := range p.CriticEncoders {
		c.CriticEncoders[i] = e.clone()
	}
	for i, e := range p.StateEncoders {
		c.StateEncoders[i] = e.clone()
	}
	for i, h := range p.Critics {
		c.Critics[i] = Head{FC1: h.FC1.Clone(), FC2: h.FC2.Clone()}
	}
	for i, h := range p.Heads {
		c.Heads[i] = AttentionHead{Key: h.Key.Clone(), Selector: h.Selector.Clone(), Value: h.Value.Clone()}
	}
	for i, h := range p.ClusterHeads {
		c.ClusterHeads[i] = ClusterHead{Key: h.Key.Clone(), Selector: h.Selector.Clone()}
	}
	return c
}

// ObserveNorm folds one batch of per-agent inputs into the encoders'
// running normalisation statistics. It is a parameter update: callers must
// not run it concurrently with Forward. Encoders without normalisation are
// skipped.
func (p *Params) ObserveNorm(states, actions []*mat.Dense, momentum float64) error {
	if len(states) != len(p.CriticEncoders) || len(actions) != len(p.CriticEncoders) {
		return engine.ConfigErrorf("got %d states and %d actions for %d agents", len(states), len(actions), len(p.CriticEncoders))
	}
	if momentum < 0 || momentum > 1 {
		return engine.ConfigErrorf("normalisation momentum %v outside [0, 1]", momentum)
	}
	sa := make([]*mat.Dense, len(states))
	for i := range states {
		if states[i] == nil || actions[i] == nil {
			return engine.ConfigErrorf("agent %d is missing its state or action batch", i)
		}
		sa[i] = nn.Concat(states[i], actions[i])
		if bn := p.CriticEncoders[i].Norm; bn != nil {
			if _, w := sa[i].Dims(); w != bn.Dim() {
				return engine.ConfigErrorf("agent %d state-action width %d, normalisation has %d", i, w, bn.Dim())
			}
		}
		if bn := p.StateEncoders[i].Norm; bn != nil {
			if _, w := states[i].Dims(); w != bn.Dim() {
				return engine.ConfigErrorf("agent %d state width %d, normalisation has %d", i, w, bn.Dim())
			}
		}
	}
	for i := range states {
		if bn := p.CriticEncoders[i].Norm; bn != nil {
			bn.Observe(sa[i], momentum)
		}
		if bn := p.StateEncoders[i].Norm; bn != nil {
			bn.Observe(states[i], momentum)
		}
	}
	return nil
}

// Shared returns the layers shared across agents: the attention extractors
// and the state-action encoders.
func (p *Params) Shared() []*nn.Linear {
	var out []*nn.Linear
	for i := range p.Heads {
		out = append(out, &p.Heads[i].Key, &p.Heads[i].Selector, &p.Heads[i].Value)
	}
	for i := range p.CriticEncoders {
		out = append(out, &p.CriticEncoders[i].FC)
	}
	return out
}

// ScaleSharedGrads divides the shared layers of a gradient set by nAgents,
// since shared weights accumulate one gradient contribution per agent.
// Layers without gradients (nil W) are skipped.
func ScaleSharedGrads(grads *Params, nAgents int) {
	if nAgents < 1 {
		return
	}
	s := 1 / float64(nAgents)
	for _, l := range grads.Shared() {
		if l.W != nil {
			l.W.Scale(s, l.W)
		}
		if l.B != nil {
			floats.Scale(s, l.B)
		}
	}
}

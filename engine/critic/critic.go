// Package critic implements the cluster-augmented attention critic: agents
// attend over each other's state-action encodings, and each agent pair's
// attention logit is blended with the logit of the cluster pair containing it.
package critic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
	"github.com/phillipinseoul/Cluster-MAAC/engine/cluster"
	"github.com/phillipinseoul/Cluster-MAAC/engine/nn"
)

const (
	// NeutralClusterLogit is the cluster logit used for same-cluster pairs.
	NeutralClusterLogit = 1.0
	// AttendRegCoef scales the attention logit magnitude regulariser.
	AttendRegCoef = 1e-3
	// DefaultRatio is the default cluster/agent logit mixing ratio.
	DefaultRatio = 0.5
)

// ScalarLogger receives named scalar diagnostics.
type ScalarLogger interface {
	AddScalars(tag string, values map[string]float64, step int)
}

// Inputs is one forward pass worth of data. Every matrix holds one rollout
// per row; all share the same row count.
type Inputs struct {
	States     []*mat.Dense        // per agent, batch×state
	Actions    []*mat.Dense        // per agent, batch×action (one-hot or scores)
	Agents     []engine.AgentID    // agents to return results for; nil means all
	Translator *cluster.Translator // index map of the current clustering
}

// ForwardOptions selects the optional outputs.
type ForwardOptions struct {
	Ratio        float64 // weight of the cluster logit in [0, 1]
	ReturnAllQ   bool
	Regularize   bool
	ReturnAttend bool
	Logger       ScalarLogger // nil skips entropy logging
	Step         int

	// BatchStats normalises encoder inputs with the batch's own statistics
	// instead of the running ones. Batches of one row use the running ones.
	BatchStats bool
}

// AgentResult is the critic output for one queried agent.
type AgentResult struct {
	Agent   engine.AgentID
	Cluster engine.ClusterID
	Q       *mat.Dense // batch×1, Q of the taken (argmax) action
	AllQ    *mat.Dense // batch×action, set with ReturnAllQ
	Reg     float64    // attention logit regulariser, set with Regularize
	Entropy []float64  // per head, batch mean

	// Set with ReturnAttend; per head, batch×(N-1), nil when N == 1.
	Attention []*mat.Dense // softmax weights
	Scaled    []*mat.Dense // agent logits scaled by 1/sqrt(attend dim)
	Blended   []*mat.Dense // logits fed to the softmax
}

// Critic is the agent-level attention critic. It only reads its parameters,
// so concurrent Forward calls are safe as long as nothing mutates them.
type Critic struct {
	cfg     Config
	params  *Params
	cluster *ClusterAttention
}

// New checks params against cfg and builds the critic.
func New(cfg Config, params *Params) (*Critic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if params == nil {
		return nil, engine.ConfigErrorf("critic params are nil")
	}
	if err := params.Check(cfg); err != nil {
		return nil, err
	}
	ca, err := NewClusterAttention(params.ClusterHeads)
	if err != nil {
		return nil, err
	}
	return &Critic{cfg: cfg, params: params, cluster: ca}, nil
}

// Config returns the critic's shape.
func (c *Critic) Config() Config { return c.cfg }

// NumAgents returns N.
func (c *Critic) NumAgents() int { return len(c.cfg.SASizes) }

func (c *Critic) checkInputs(in Inputs, ratio float64) (int, error) {
	n := c.NumAgents()
	if len(in.States) != n || len(in.Actions) != n {
		return 0, engine.ConfigErrorf("got %d states and %d actions for %d agents in sa_sizes", len(in.States), len(in.Actions), n)
	}
	if ratio < 0 || ratio > 1 || math.IsNaN(ratio) {
		return 0, engine.ConfigErrorf("blend ratio %v outside [0, 1]", ratio)
	}
	if in.Translator == nil {
		return 0, engine.ConfigErrorf("no cluster translator supplied")
	}
	if in.Translator.NumAgents() != n {
		return 0, engine.ConsistencyErrorf("cluster partition covers %d agents, critic has %d", in.Translator.NumAgents(), n)
	}
	batch := -1
	for i, sa := range c.cfg.SASizes {
		if in.States[i] == nil || in.Actions[i] == nil {
			return 0, engine.ConfigErrorf("agent %d is missing its state or action batch", i)
		}
		sr, sc := in.States[i].Dims()
		ar, ac := in.Actions[i].Dims()
		if sc != sa.State || ac != sa.Action {
			return 0, engine.ConfigErrorf("agent %d inputs are (%d, %d) wide, sa_sizes says (%d, %d)", i, sc, ac, sa.State, sa.Action)
		}
		if sr != ar || (batch >= 0 && sr != batch) {
			return 0, engine.ConfigErrorf("agent %d batch size %d/%d differs from %d", i, sr, ar, batch)
		}
		batch = sr
	}
	for _, a := range in.Agents {
		if int(a) < 0 || int(a) >= n {
			return 0, engine.ConsistencyErrorf("queried agent %d is not in any cluster", a)
		}
	}
	return batch, nil
}

// Forward computes Q-values for the queried agents. Any error aborts the
// whole pass and no results are returned.
func (c *Critic) Forward(in Inputs, opts ForwardOptions) ([]AgentResult, error) {
	batch, err := c.checkInputs(in, opts.Ratio)
	if err != nil {
		return nil, fmt.Errorf("critic forward: %w", err)
	}
	n := c.NumAgents()
	agents := in.Agents
	if agents == nil {
		agents = make([]engine.AgentID, n)
		for i := range agents {
			agents[i] = engine.AgentID(i)
		}
	}
	p := c.params

	saEnc := make([]*mat.Dense, n)
	for i := range saEnc {
		saEnc[i] = p.CriticEncoders[i].encode(nn.Concat(in.States[i], in.Actions[i]), opts.BatchStats)
	}
	keys := make([][]*mat.Dense, len(p.Heads))
	values := make([][]*mat.Dense, len(p.Heads))
	for h, head := range p.Heads {
		keys[h] = make([]*mat.Dense, n)
		values[h] = make([]*mat.Dense, n)
		for i, enc := range saEnc {
			keys[h][i] = head.Key.Forward(enc)
			values[h][i] = nn.LeakyReLU(head.Value.Forward(enc))
		}
	}

	clusterEnc, err := ClusterEncodings(in.Translator.Assignment(), saEnc)
	if err != nil {
		return nil, fmt.Errorf("critic forward: cluster encodings: %w", err)
	}
	clusterLogits, err := c.cluster.Logits(clusterEnc)
	if err != nil {
		return nil, fmt.Errorf("critic forward: cluster attention: %w", err)
	}

	results := make([]AgentResult, 0, len(agents))
	for _, a := range agents {
		res, err := c.forwardAgent(a, batch, in, opts, keys, values, clusterLogits)
		if err != nil {
			return nil, fmt.Errorf("critic forward: agent %d: %w", a, err)
		}
		results = append(results, res)
	}

	if opts.Logger != nil {
		for _, r := range results {
			vals := make(map[string]float64, len(r.Entropy))
			for h, e := range r.Entropy {
				vals[fmt.Sprintf("head%d_entropy", h)] = e
			}
			opts.Logger.AddScalars(fmt.Sprintf("agent%d/attention", r.Agent), vals, opts.Step)
		}
	}
	return results, nil
}

func (c *Critic) forwardAgent(a engine.AgentID, batch int, in Inputs, opts ForwardOptions,
	keys, values [][]*mat.Dense, clusterLogits [][]*mat.Dense) (AgentResult, error) {
	p := c.params
	tr := in.Translator
	self, err := tr.ClusterOf(a)
	if err != nil {
		return AgentResult{}, err
	}
	links, err := tr.Links(a)
	if err != nil {
		return AgentResult{}, err
	}
	d := c.cfg.AttendDim()
	scale := 1 / math.Sqrt(float64(d))
	others := len(links)

	sEnc := p.StateEncoders[a].encode(in.States[a], opts.BatchStats)
	res := AgentResult{Agent: a, Cluster: self, Entropy: make([]float64, len(p.Heads))}
	if opts.ReturnAttend {
		res.Attention = make([]*mat.Dense, len(p.Heads))
		res.Scaled = make([]*mat.Dense, len(p.Heads))
		res.Blended = make([]*mat.Dense, len(p.Heads))
	}

	attended := make([]mat.Matrix, 0, len(p.Heads)+1)
	attended = append(attended, sEnc)
	for h, head := range p.Heads {
		out := mat.NewDense(batch, d, nil)
		attended = append(attended, out)
		if others == 0 {
			continue
		}
		sel := head.Selector.Forward(sEnc)

		raw := mat.NewDense(batch, others, nil)
		ext := mat.NewDense(batch, others, nil)
		for j, l := range links {
			for b := 0; b < batch; b++ {
				raw.Set(b, j, mat.Dot(sel.RowView(b), keys[h][l.Other].RowView(b)))
				ext.Set(b, j, NeutralClusterLogit)
			}
			if l.SameCluster {
				continue
			}
			cl := clusterLogits[self][h]
			if cl == nil {
				return AgentResult{}, engine.ConsistencyErrorf("no cluster logits for cluster %d head %d", self, h)
			}
			if _, w := cl.Dims(); l.ClusterIndex < 0 || l.ClusterIndex >= w {
				return AgentResult{}, engine.ConsistencyErrorf("cluster index %d for agent %d -> %d outside [0,%d)", l.ClusterIndex, a, l.Other, w)
			}
			for b := 0; b < batch; b++ {
				ext.Set(b, j, cl.At(b, l.ClusterIndex))
			}
		}

		var scaled, blended mat.Dense
		scaled.Scale(scale, raw)
		blended.Apply(func(i, j int, v float64) float64 {
			return opts.Ratio*ext.At(i, j) + (1-opts.Ratio)*v
		}, &scaled)
		probs := nn.SoftmaxRows(&blended)

		for j, l := range links {
			v := values[h][l.Other]
			for b := 0; b < batch; b++ {
				w := probs.At(b, j)
				row := out.RawRowView(b)
				for k := range row {
					row[k] += w * v.At(b, k)
				}
			}
		}

		res.Entropy[h] = nn.MeanRowEntropy(probs)
		if opts.Regularize {
			res.Reg += AttendRegCoef * nn.MeanSquare(raw)
		}
		if opts.ReturnAttend {
			res.Attention[h] = probs
			res.Scaled[h] = &scaled
			res.Blended[h] = &blended
		}
	}

	allQ := p.Critics[a].Forward(nn.Concat(attended...))
	taken := nn.ArgmaxRows(in.Actions[a])
	res.Q = mat.NewDense(batch, 1, nil)
	for b, act := range taken {
		res.Q.Set(b, 0, allQ.At(b, act))
	}
	if opts.ReturnAllQ {
		res.AllQ = allQ
	}
	return res, nil
}

// Package rollout drives the clustered attention critic over an episode:
// it owns the agent registry, decides when to re-cluster, and serialises
// forward passes against parameter updates.
package rollout

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
	"github.com/phillipinseoul/Cluster-MAAC/engine/cluster"
	"github.com/phillipinseoul/Cluster-MAAC/engine/critic"
	"github.com/phillipinseoul/Cluster-MAAC/engine/nn"
	"github.com/phillipinseoul/Cluster-MAAC/service/internal/config"
)

// Result is one agent's critic output, keyed by its external id.
type Result struct {
	ID uuid.UUID
	critic.AgentResult
}

// StepInput is one batch of per-agent observations and actions, in engine
// index order.
type StepInput struct {
	States  []*mat.Dense
	Actions []*mat.Dense
	Agents  []uuid.UUID // agents to evaluate; nil means all

	ReturnAllQ   bool
	Regularize   bool
	ReturnAttend bool

	// Train normalises with the batch's statistics and folds them into the
	// running ones after the pass. Ignored when norm_in is off.
	Train bool
}

// Session evaluates the critic for one set of agents across an episode.
type Session struct {
	ID uuid.UUID

	AgentToEngine map[uuid.UUID]engine.AgentID // external id -> engine index
	EngineToAgent []uuid.UUID                  // engine index -> external id

	cfg     config.Config
	roles   []engine.Role
	params  *critic.Params
	critic  *critic.Critic
	scalars critic.ScalarLogger
	log     *logrus.Entry

	translator     *cluster.Translator
	step           int // forward passes since the session began
	sinceRecluster int // forward passes since the last clustering

	Mu sync.Mutex // guards everything above, including params
}

// NewSession builds a session over params for the agents named by ids, in
// engine order. A nil ids slice draws fresh ids. scalars may be nil.
func NewSession(cfg config.Config, params *critic.Params, ids []uuid.UUID, log logrus.FieldLogger, scalars critic.ScalarLogger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := critic.New(cfg.CriticConfig(), params)
	if err != nil {
		return nil, err
	}
	roles, err := cfg.Roles()
	if err != nil {
		return nil, err
	}

	n := c.NumAgents()
	if ids == nil {
		ids = make([]uuid.UUID, n)
		for i := range ids {
			ids[i] = uuid.New()
		}
	}
	if len(ids) != n {
		return nil, engine.ConfigErrorf("%d agent ids for %d agents in sa_sizes", len(ids), n)
	}
	s := &Session{
		ID:            uuid.New(),
		AgentToEngine: make(map[uuid.UUID]engine.AgentID, n),
		EngineToAgent: make([]uuid.UUID, n),
		cfg:           cfg,
		roles:         roles,
		params:        params,
		critic:        c,
		scalars:       scalars,
	}
	for i, id := range ids {
		if _, dup := s.AgentToEngine[id]; dup {
			return nil, engine.ConfigErrorf("agent id %s listed twice", id)
		}
		s.AgentToEngine[id] = engine.AgentID(i)
		s.EngineToAgent[i] = id
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s.log = log.WithField("session", s.ID)
	return s, nil
}

// Reset starts a new episode: agents are clustered from the first rollout
// of states.
func (s *Session) Reset(states []*mat.Dense) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	tr, err := s.buildTranslator(states)
	if err != nil {
		return fmt.Errorf("session %s reset: %w", s.ID, err)
	}
	s.commitTranslator(tr)
	return nil
}

// buildTranslator clusters agents from rollout 0 of states.
func (s *Session) buildTranslator(states []*mat.Dense) (*cluster.Translator, error) {
	agents, err := s.cfg.Layout().Snapshot(states, s.roles, 0)
	if err != nil {
		return nil, err
	}
	assign, err := cluster.ByRole(agents, s.cfg.GroupSizes(), s.cfg.ClusterOptions()...)
	if err != nil {
		return nil, err
	}
	return cluster.NewTranslator(assign, len(s.EngineToAgent))
}

func (s *Session) commitTranslator(tr *cluster.Translator) {
	s.translator = tr
	s.sinceRecluster = 0
	s.log.WithFields(logrus.Fields{
		"step":     s.step,
		"clusters": tr.NumClusters(),
	}).Debug("agents clustered")
}

// Step evaluates the critic on one batch, re-clustering first when the
// configured interval has elapsed. Reset must have been called. A failed
// step leaves the clustering and counters untouched.
func (s *Session) Step(in StepInput) ([]Result, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.translator == nil {
		return nil, engine.ConsistencyErrorf("session %s stepped before reset", s.ID)
	}
	tr, reclustered := s.translator, false
	if every := s.cfg.Clustering.ReclusterEvery; every > 0 && s.sinceRecluster >= every {
		var err error
		if tr, err = s.buildTranslator(in.States); err != nil {
			return nil, fmt.Errorf("session %s step %d: %w", s.ID, s.step, err)
		}
		reclustered = true
	}
	train := in.Train && s.cfg.Critic.NormIn

	var agents []engine.AgentID
	if in.Agents != nil {
		agents = make([]engine.AgentID, len(in.Agents))
		for i, id := range in.Agents {
			a, ok := s.AgentToEngine[id]
			if !ok {
				return nil, engine.ConsistencyErrorf("agent %s is not part of session %s", id, s.ID)
			}
			agents[i] = a
		}
	}

	out, err := s.critic.Forward(critic.Inputs{
		States:     in.States,
		Actions:    in.Actions,
		Agents:     agents,
		Translator: tr,
	}, critic.ForwardOptions{
		Ratio:        s.cfg.Critic.Ratio,
		ReturnAllQ:   in.ReturnAllQ,
		Regularize:   in.Regularize,
		ReturnAttend: in.ReturnAttend,
		Logger:       s.scalars,
		Step:         s.step,
		BatchStats:   train,
	})
	if err != nil {
		s.log.WithError(err).WithField("step", s.step).Warn("critic forward failed")
		return nil, err
	}
	if train {
		if err := s.params.ObserveNorm(in.States, in.Actions, nn.DefaultMomentum); err != nil {
			return nil, fmt.Errorf("session %s step %d: %w", s.ID, s.step, err)
		}
	}
	if reclustered {
		s.commitTranslator(tr)
	}
	s.step++
	s.sinceRecluster++

	results := make([]Result, len(out))
	for i, r := range out {
		results[i] = Result{ID: s.EngineToAgent[r.Agent], AgentResult: r}
	}
	return results, nil
}

// UpdateParams runs fn on a copy of the critic's parameters with forward
// passes excluded, and installs the copy only if fn succeeds and the
// parameters keep their shape.
func (s *Session) UpdateParams(fn func(*critic.Params) error) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	next := s.params.Clone()
	if err := fn(next); err != nil {
		return err
	}
	c, err := critic.New(s.critic.Config(), next)
	if err != nil {
		return fmt.Errorf("session %s params update: %w", s.ID, err)
	}
	*s.params = *next
	s.critic = c
	return nil
}

// SetScalarLogger replaces the sink for per-step attention entropies.
func (s *Session) SetScalarLogger(l critic.ScalarLogger) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.scalars = l
}

// Assignment returns the current clustering, or false before Reset.
func (s *Session) Assignment() (cluster.Assignment, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.translator == nil {
		return cluster.Assignment{}, false
	}
	return s.translator.Assignment(), true
}

// ClusterOf returns the cluster of an external agent id.
func (s *Session) ClusterOf(id uuid.UUID) (engine.ClusterID, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	a, ok := s.AgentToEngine[id]
	if !ok {
		return 0, engine.ConsistencyErrorf("agent %s is not part of session %s", id, s.ID)
	}
	if s.translator == nil {
		return 0, engine.ConsistencyErrorf("session %s has not been reset", s.ID)
	}
	return s.translator.ClusterOf(a)
}

// Steps returns the number of successful forward passes so far.
func (s *Session) Steps() int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.step
}

// Package agent turns environment observations into the per-agent inputs the
// clustering engine consumes: positions at a configured offset and roles.
package agent

import (
	"gonum.org/v1/gonum/mat"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
)

// DefaultPositionOffset is where the particle environments put the agent's
// own absolute position: [vel_x, vel_y, pos_x, pos_y, ...].
const DefaultPositionOffset = 2

// Layout describes where to read agent features in an observation row.
type Layout struct {
	PositionOffset int // column of x; y follows at PositionOffset+1
}

// DefaultLayout returns the particle-environment layout.
func DefaultLayout() Layout {
	return Layout{PositionOffset: DefaultPositionOffset}
}

// Position reads the (x, y) pair from row of obs.
func (l Layout) Position(obs mat.Matrix, row int) (engine.Position, error) {
	r, c := obs.Dims()
	if row < 0 || row >= r {
		return engine.Position{}, engine.ConfigErrorf("rollout %d outside batch of %d", row, r)
	}
	if l.PositionOffset < 0 || l.PositionOffset+1 >= c {
		return engine.Position{}, engine.ConfigErrorf("position offset %d does not fit observation width %d", l.PositionOffset, c)
	}
	return engine.Position{X: obs.At(row, l.PositionOffset), Y: obs.At(row, l.PositionOffset+1)}, nil
}

// Snapshot builds the agent list of one rollout: agent i takes roles[i] and
// the position read from states[i] at row rollout.
func (l Layout) Snapshot(states []*mat.Dense, roles []engine.Role, rollout int) ([]engine.Agent, error) {
	if len(roles) != len(states) {
		return nil, engine.ConfigErrorf("%d roles for %d agents", len(roles), len(states))
	}
	agents := make([]engine.Agent, len(states))
	for i, obs := range states {
		if obs == nil {
			return nil, engine.ConfigErrorf("agent %d has no observation batch", i)
		}
		p, err := l.Position(obs, rollout)
		if err != nil {
			return nil, err
		}
		agents[i] = engine.Agent{ID: engine.AgentID(i), Role: roles[i], Position: p}
	}
	return agents, nil
}

// Roles returns the role table for n agents. With adversaries == 0 every
// agent is homogeneous; otherwise the first adversaries agents are
// adversaries and the rest are good, the particle-environment convention.
func Roles(n, adversaries int) ([]engine.Role, error) {
	if adversaries < 0 || adversaries > n {
		return nil, engine.ConfigErrorf("%d adversaries among %d agents", adversaries, n)
	}
	roles := make([]engine.Role, n)
	if adversaries == 0 {
		return roles, nil
	}
	for i := range roles {
		if i < adversaries {
			roles[i] = engine.RoleAdversary
		} else {
			roles[i] = engine.RoleGood
		}
	}
	return roles, nil
}

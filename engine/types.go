// Package engine holds the value types shared by the clustering and critic
// packages: agent ids, roles, positions and per-agent space sizes.
package engine

import "fmt"

// AgentID is a stable agent index in [0, N).
type AgentID int

// ClusterID is a cluster index in [0, K).
type ClusterID int

// Role is the closed set of agent roles that drive clustering.
type Role uint8

const (
	RoleHomogeneous Role = iota // 0: collaborative-only settings, single role group
	RoleAdversary               // 1: adversarial agents
	RoleGood                    // 2: cooperative agents facing adversaries
)

// String returns the role's config name.
func (r Role) String() string {
	switch r {
	case RoleHomogeneous:
		return "homogeneous"
	case RoleAdversary:
		return "adversary"
	case RoleGood:
		return "good"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole maps a config name to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "homogeneous", "collaborative":
		return RoleHomogeneous, nil
	case "adversary", "adversarial":
		return RoleAdversary, nil
	case "good", "cooperative", "agent":
		return RoleGood, nil
	}
	return 0, ConfigErrorf("unknown role %q", s)
}

// Position is an agent's 2-D position at one timestep.
type Position struct {
	X, Y float64
}

// Agent is one entity of a rollout snapshot.
type Agent struct {
	ID       AgentID
	Role     Role
	Position Position
}

// SASize is the (state, action) dimension pair for one agent.
type SASize struct {
	State  int `yaml:"state" json:"state"`
	Action int `yaml:"action" json:"action"`
}

// Input returns the width of the concatenated state-action vector.
func (s SASize) Input() int { return s.State + s.Action }

// ClusterCount derives K for a role group: agentCount/groupSize, at least 1.
// A role with no agents contributes no clusters.
func ClusterCount(agentCount, groupSize int) int {
	if agentCount <= 0 {
		return 0
	}
	if groupSize <= 0 {
		return 1
	}
	k := agentCount / groupSize
	if k < 1 {
		return 1
	}
	return k
}

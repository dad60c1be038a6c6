package cluster

import (
	"github.com/phillipinseoul/Cluster-MAAC/engine"
)

// GroupSizes sets how many agents of each role make up one cluster. K for a
// role is engine.ClusterCount(agentsOfRole, size).
type GroupSizes struct {
	Adversary   int
	Good        int
	Homogeneous int
}

// ByRole clusters a rollout snapshot.
//
// Homogeneous agent sets are clustered once. Mixed adversary/good sets are
// clustered per role: adversary clusters take ids [0, nAdv) and good
// clusters [nAdv, nAdv+nGood). A role with no agents contributes no clusters.
func ByRole(agents []engine.Agent, sizes GroupSizes, opts ...Option) (Assignment, error) {
	var homo, adv, good []engine.AgentID
	positions := make(map[engine.AgentID]engine.Position, len(agents))
	for _, a := range agents {
		if _, dup := positions[a.ID]; dup {
			return Assignment{}, engine.ConsistencyErrorf("agent %d appears twice in snapshot", a.ID)
		}
		positions[a.ID] = a.Position
		switch a.Role {
		case engine.RoleHomogeneous:
			homo = append(homo, a.ID)
		case engine.RoleAdversary:
			adv = append(adv, a.ID)
		case engine.RoleGood:
			good = append(good, a.ID)
		default:
			return Assignment{}, engine.ConfigErrorf("agent %d has unknown role %s", a.ID, a.Role)
		}
	}

	if len(homo) > 0 {
		if len(adv)+len(good) > 0 {
			return Assignment{}, engine.ConfigErrorf("homogeneous agents mixed with %d adversary and %d good agents", len(adv), len(good))
		}
		return clusterRole(homo, positions, sizes.Homogeneous, opts)
	}

	advAssign, err := clusterRole(adv, positions, sizes.Adversary, opts)
	if err != nil {
		return Assignment{}, err
	}
	goodAssign, err := clusterRole(good, positions, sizes.Good, opts)
	if err != nil {
		return Assignment{}, err
	}
	return Merge(advAssign, goodAssign), nil
}

func clusterRole(ids []engine.AgentID, positions map[engine.AgentID]engine.Position, groupSize int, opts []Option) (Assignment, error) {
	k := engine.ClusterCount(len(ids), groupSize)
	if k == 0 {
		return Empty(0), nil
	}
	return Cluster(ids, positions, k, opts...)
}

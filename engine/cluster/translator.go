package cluster

import (
	"slices"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
)

// SkipSelf returns the index of other inside self's attention vector, which
// omits self: indices above self shift down by one.
func SkipSelf(self, other int) (int, error) {
	switch {
	case other == self:
		return 0, engine.ConsistencyErrorf("index %d addresses itself in a skip-self vector", self)
	case other > self:
		return other - 1, nil
	}
	return other, nil
}

// Unshift reverses SkipSelf: it recovers the absolute index of entry idx in
// self's attention vector.
func Unshift(self, idx int) int {
	if idx >= self {
		return idx + 1
	}
	return idx
}

// Link describes one other agent as seen from a querying agent.
type Link struct {
	Other        engine.AgentID
	OtherIndex   int // position in the querying agent's attention vector
	OtherCluster engine.ClusterID
	ClusterIndex int // position in the querying cluster's logit vector; -1 for same-cluster pairs
	SameCluster  bool
}

// Translator precomputes the skip-self index map for one Assignment. Build it
// once per clustering and hand it to the attention components.
type Translator struct {
	assign     Assignment
	nAgents    int
	clusterOf  []engine.ClusterID
	links      [][]Link // [agent][OtherIndex]
	clusterIdx [][]int  // [c1][c2], -1 on the diagonal
}

// NewTranslator validates that a partitions agents [0, nAgents) and builds the
// index map.
func NewTranslator(a Assignment, nAgents int) (*Translator, error) {
	if nAgents < 0 {
		return nil, engine.ConfigErrorf("negative agent count %d", nAgents)
	}
	all := make([]engine.AgentID, nAgents)
	for i := range all {
		all[i] = engine.AgentID(i)
	}
	if err := a.Validate(all); err != nil {
		return nil, err
	}

	k := a.NumClusters()
	t := &Translator{
		assign:     a,
		nAgents:    nAgents,
		clusterOf:  make([]engine.ClusterID, nAgents),
		links:      make([][]Link, nAgents),
		clusterIdx: make([][]int, k),
	}
	for c, members := range a.lists {
		for _, id := range members {
			t.clusterOf[id] = engine.ClusterID(c)
		}
	}
	for i := range t.links {
		if nAgents > 1 {
			t.links[i] = make([]Link, nAgents-1)
		}
	}

	for c1 := 0; c1 < k; c1++ {
		t.clusterIdx[c1] = make([]int, k)
		for c2 := 0; c2 < k; c2++ {
			ci := -1
			if c1 != c2 {
				var err error
				if ci, err = SkipSelf(c1, c2); err != nil {
					return nil, err
				}
				if ci < 0 || ci >= k-1 {
					return nil, engine.ConsistencyErrorf("cluster %d -> %d shifted to %d, outside [0,%d)", c1, c2, ci, k-1)
				}
			}
			t.clusterIdx[c1][c2] = ci

			for _, self := range a.lists[c1] {
				for _, other := range a.lists[c2] {
					if self == other {
						continue
					}
					if c1 != c2 && t.clusterOf[other] == engine.ClusterID(c1) {
						return nil, engine.ConsistencyErrorf("agent %d of cluster %d also listed in cluster %d", other, c2, c1)
					}
					oi, err := SkipSelf(int(self), int(other))
					if err != nil {
						return nil, err
					}
					if oi < 0 || oi >= nAgents-1 {
						return nil, engine.ConsistencyErrorf("agent %d -> %d shifted to %d, outside [0,%d)", self, other, oi, nAgents-1)
					}
					t.links[self][oi] = Link{
						Other:        other,
						OtherIndex:   oi,
						OtherCluster: engine.ClusterID(c2),
						ClusterIndex: ci,
						SameCluster:  c1 == c2,
					}
				}
			}
		}
	}
	return t, nil
}

// Assignment returns the clustering the translator was built from.
func (t *Translator) Assignment() Assignment { return t.assign }

// NumAgents returns N.
func (t *Translator) NumAgents() int { return t.nAgents }

// NumClusters returns K.
func (t *Translator) NumClusters() int { return len(t.clusterIdx) }

// ClusterOf returns the cluster of agent id.
func (t *Translator) ClusterOf(id engine.AgentID) (engine.ClusterID, error) {
	if int(id) < 0 || int(id) >= t.nAgents {
		return 0, engine.ConsistencyErrorf("agent %d is not in the cluster partition of %d agents", id, t.nAgents)
	}
	return t.clusterOf[id], nil
}

// Links returns every other agent as seen from id, ordered by OtherIndex.
func (t *Translator) Links(id engine.AgentID) ([]Link, error) {
	if int(id) < 0 || int(id) >= t.nAgents {
		return nil, engine.ConsistencyErrorf("agent %d is not in the cluster partition of %d agents", id, t.nAgents)
	}
	return slices.Clone(t.links[id]), nil
}

// ClusterIndex returns the index of c2 inside c1's cluster logit vector, or
// -1 when c1 == c2.
func (t *Translator) ClusterIndex(c1, c2 engine.ClusterID) (int, error) {
	k := len(t.clusterIdx)
	if int(c1) < 0 || int(c1) >= k || int(c2) < 0 || int(c2) >= k {
		return 0, engine.ConsistencyErrorf("cluster pair (%d, %d) outside [0,%d)", c1, c2, k)
	}
	return t.clusterIdx[c1][c2], nil
}

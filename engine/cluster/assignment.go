// Package cluster partitions agents into spatial groups and translates
// between agent-level and cluster-level attention indices.
package cluster

import (
	"slices"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
)

// Assignment maps every cluster id in [0, K) to a sorted, duplicate-free list
// of agent ids. Empty clusters are kept as empty lists. An Assignment is
// immutable once built; accessors return copies.
type Assignment struct {
	lists [][]engine.AgentID
}

// NewAssignment builds an Assignment from per-cluster member lists. Lists are
// copied and sorted; duplicates inside a list are a consistency error.
func NewAssignment(lists [][]engine.AgentID) (Assignment, error) {
	out := make([][]engine.AgentID, len(lists))
	for c, l := range lists {
		sorted := append([]engine.AgentID(nil), l...)
		slices.Sort(sorted)
		for i := 1; i < len(sorted); i++ {
			if sorted[i] == sorted[i-1] {
				return Assignment{}, engine.ConsistencyErrorf("cluster %d lists agent %d twice", c, sorted[i])
			}
		}
		out[c] = sorted
	}
	return Assignment{lists: out}, nil
}

// Empty returns an Assignment of k empty clusters.
func Empty(k int) Assignment {
	return Assignment{lists: make([][]engine.AgentID, k)}
}

// NumClusters returns K.
func (a Assignment) NumClusters() int { return len(a.lists) }

// Agents returns a copy of cluster c's sorted member list.
func (a Assignment) Agents(c engine.ClusterID) []engine.AgentID {
	if int(c) < 0 || int(c) >= len(a.lists) {
		return nil
	}
	return slices.Clone(a.lists[c])
}

// Len returns the number of agents in cluster c.
func (a Assignment) Len(c engine.ClusterID) int {
	if int(c) < 0 || int(c) >= len(a.lists) {
		return 0
	}
	return len(a.lists[c])
}

// NumAgents returns the total number of agents across all clusters.
func (a Assignment) NumAgents() int {
	n := 0
	for _, l := range a.lists {
		n += len(l)
	}
	return n
}

// Map returns the assignment as cluster id -> agent list. Every id in [0, K)
// is present.
func (a Assignment) Map() map[engine.ClusterID][]engine.AgentID {
	m := make(map[engine.ClusterID][]engine.AgentID, len(a.lists))
	for c, l := range a.lists {
		m[engine.ClusterID(c)] = slices.Clone(l)
	}
	return m
}

// ClusterOf returns the cluster containing agent id, or false if no cluster
// lists it.
func (a Assignment) ClusterOf(id engine.AgentID) (engine.ClusterID, bool) {
	for c, l := range a.lists {
		if _, ok := slices.BinarySearch(l, id); ok {
			return engine.ClusterID(c), true
		}
	}
	return 0, false
}

// Validate checks that the assignment partitions exactly the agents in all:
// every agent listed once, no unknown agents, lists sorted ascending.
func (a Assignment) Validate(all []engine.AgentID) error {
	want := make(map[engine.AgentID]bool, len(all))
	for _, id := range all {
		want[id] = true
	}
	seen := make(map[engine.AgentID]engine.ClusterID, len(all))
	for c, l := range a.lists {
		if !slices.IsSorted(l) {
			return engine.ConsistencyErrorf("cluster %d member list is not sorted: %v", c, l)
		}
		for _, id := range l {
			if prev, dup := seen[id]; dup {
				return engine.ConsistencyErrorf("agent %d found in clusters %d and %d", id, prev, c)
			}
			if !want[id] {
				return engine.ConsistencyErrorf("cluster %d lists unknown agent %d", c, id)
			}
			seen[id] = engine.ClusterID(c)
		}
	}
	for _, id := range all {
		if _, ok := seen[id]; !ok {
			return engine.ConsistencyErrorf("agent %d missing from cluster partition", id)
		}
	}
	return nil
}

// Merge concatenates assignments, renumbering each one's cluster ids after
// the clusters of the ones before it.
func Merge(parts ...Assignment) Assignment {
	var lists [][]engine.AgentID
	for _, p := range parts {
		for _, l := range p.lists {
			lists = append(lists, slices.Clone(l))
		}
	}
	return Assignment{lists: lists}
}

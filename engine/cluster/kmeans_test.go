package cluster

import (
	"errors"
	"slices"
	"testing"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
)

func ids(n int) []engine.AgentID {
	out := make([]engine.AgentID, n)
	for i := range out {
		out[i] = engine.AgentID(i)
	}
	return out
}

// checkPartition verifies every agent appears exactly once and lists are sorted.
func checkPartition(t *testing.T, a Assignment, all []engine.AgentID) {
	t.Helper()
	if err := a.Validate(all); err != nil {
		t.Fatalf("partition invalid: %v", err)
	}
	total := 0
	for c := 0; c < a.NumClusters(); c++ {
		l := a.Agents(engine.ClusterID(c))
		if !slices.IsSorted(l) {
			t.Errorf("cluster %d not sorted: %v", c, l)
		}
		total += len(l)
	}
	if total != len(all) {
		t.Errorf("clusters hold %d agents, want %d", total, len(all))
	}
}

// TestClusterSeparatesPairs covers the 4-agent two-blob scenario.
func TestClusterSeparatesPairs(t *testing.T) {
	pos := map[engine.AgentID]engine.Position{
		0: {X: 0, Y: 0}, 1: {X: 0, Y: 1}, 2: {X: 10, Y: 10}, 3: {X: 10, Y: 11},
	}
	a, err := Cluster(ids(4), pos, 2)
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	checkPartition(t, a, ids(4))
	if got := a.Agents(0); !slices.Equal(got, []engine.AgentID{0, 1}) {
		t.Errorf("cluster 0 = %v, want [0 1]", got)
	}
	if got := a.Agents(1); !slices.Equal(got, []engine.AgentID{2, 3}) {
		t.Errorf("cluster 1 = %v, want [2 3]", got)
	}
}

// TestClusterDeterministic verifies identical input and seed give identical output.
func TestClusterDeterministic(t *testing.T) {
	pos := make(map[engine.AgentID]engine.Position)
	for i := 0; i < 12; i++ {
		pos[engine.AgentID(i)] = engine.Position{X: float64((i * 7) % 5), Y: float64((i * 3) % 4)}
	}
	for seed := uint64(0); seed < 5; seed++ {
		a, err := Cluster(ids(12), pos, 3, WithSeed(seed))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		b, err := Cluster(ids(12), pos, 3, WithSeed(seed))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		for c := 0; c < 3; c++ {
			if !slices.Equal(a.Agents(engine.ClusterID(c)), b.Agents(engine.ClusterID(c))) {
				t.Errorf("seed %d cluster %d differs: %v vs %v", seed, c, a.Agents(engine.ClusterID(c)), b.Agents(engine.ClusterID(c)))
			}
		}
		checkPartition(t, a, ids(12))
	}
}

// TestClusterPartitionGrid runs several shapes and checks the partition invariants.
func TestClusterPartitionGrid(t *testing.T) {
	tests := []struct {
		n, k int
	}{
		{1, 1}, {2, 1}, {5, 2}, {9, 3}, {16, 4}, {7, 6},
	}
	for _, tt := range tests {
		pos := make(map[engine.AgentID]engine.Position)
		for i := 0; i < tt.n; i++ {
			pos[engine.AgentID(i)] = engine.Position{X: float64(i % 3), Y: float64(i / 3)}
		}
		a, err := Cluster(ids(tt.n), pos, tt.k, WithNInit(3))
		if err != nil {
			t.Fatalf("n=%d k=%d: %v", tt.n, tt.k, err)
		}
		if a.NumClusters() != tt.k {
			t.Errorf("n=%d k=%d: got %d clusters", tt.n, tt.k, a.NumClusters())
		}
		checkPartition(t, a, ids(tt.n))
	}
}

// TestClusterDuplicatePositions verifies coincident points do not break seeding.
func TestClusterDuplicatePositions(t *testing.T) {
	pos := map[engine.AgentID]engine.Position{0: {X: 1, Y: 1}, 1: {X: 1, Y: 1}, 2: {X: 1, Y: 1}, 3: {X: 1, Y: 1}}
	a, err := Cluster(ids(4), pos, 2)
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	checkPartition(t, a, ids(4))
}

// TestClusterKExceedsAgents verifies extra clusters stay empty without error.
func TestClusterKExceedsAgents(t *testing.T) {
	pos := map[engine.AgentID]engine.Position{3: {X: 0, Y: 0}, 1: {X: 5, Y: 5}}
	a, err := Cluster([]engine.AgentID{3, 1}, pos, 4)
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if a.NumClusters() != 4 {
		t.Fatalf("got %d clusters, want 4", a.NumClusters())
	}
	want := [][]engine.AgentID{{1}, {3}, nil, nil}
	for c, w := range want {
		if got := a.Agents(engine.ClusterID(c)); !slices.Equal(got, w) {
			t.Errorf("cluster %d = %v, want %v", c, got, w)
		}
	}
}

// TestClusterNoAgents verifies the empty input gives k empty clusters.
func TestClusterNoAgents(t *testing.T) {
	a, err := Cluster(nil, nil, 3)
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	m := a.Map()
	if len(m) != 3 {
		t.Fatalf("got %d clusters, want 3", len(m))
	}
	for c, l := range m {
		if len(l) != 0 {
			t.Errorf("cluster %d = %v, want empty", c, l)
		}
	}
}

func TestClusterErrors(t *testing.T) {
	if _, err := Cluster(ids(2), nil, 0); !errors.Is(err, engine.ErrConfig) {
		t.Errorf("k=0: got %v, want ErrConfig", err)
	}
	if _, err := Cluster(ids(2), map[engine.AgentID]engine.Position{0: {}}, 1); !errors.Is(err, engine.ErrConsistency) {
		t.Errorf("missing position: got %v, want ErrConsistency", err)
	}
	dup := []engine.AgentID{0, 0}
	if _, err := Cluster(dup, map[engine.AgentID]engine.Position{0: {}}, 1); !errors.Is(err, engine.ErrConsistency) {
		t.Errorf("duplicate id: got %v, want ErrConsistency", err)
	}
}

// TestNewAssignmentSortsCopies verifies input lists are sorted without aliasing.
func TestNewAssignmentSortsCopies(t *testing.T) {
	in := []engine.AgentID{4, 2, 3}
	a, err := NewAssignment([][]engine.AgentID{in, {0, 1}})
	if err != nil {
		t.Fatalf("NewAssignment: %v", err)
	}
	if got := a.Agents(0); !slices.Equal(got, []engine.AgentID{2, 3, 4}) {
		t.Errorf("cluster 0 = %v, want [2 3 4]", got)
	}
	if in[0] != 4 {
		t.Errorf("input slice was mutated: %v", in)
	}
	got := a.Agents(0)
	got[0] = 99
	if a.Agents(0)[0] != 2 {
		t.Error("Agents returned an aliased slice")
	}
	if _, err := NewAssignment([][]engine.AgentID{{1, 1}}); !errors.Is(err, engine.ErrConsistency) {
		t.Errorf("duplicate in list: got %v, want ErrConsistency", err)
	}
}

func TestValidate(t *testing.T) {
	a, _ := NewAssignment([][]engine.AgentID{{0, 1}, {1, 2}})
	if err := a.Validate(ids(3)); !errors.Is(err, engine.ErrConsistency) {
		t.Errorf("agent in two clusters: got %v", err)
	}
	b, _ := NewAssignment([][]engine.AgentID{{0}, {2}})
	if err := b.Validate(ids(3)); !errors.Is(err, engine.ErrConsistency) {
		t.Errorf("missing agent: got %v", err)
	}
	c, _ := NewAssignment([][]engine.AgentID{{0, 1}, {2, 5}})
	if err := c.Validate(ids(3)); !errors.Is(err, engine.ErrConsistency) {
		t.Errorf("unknown agent: got %v", err)
	}
}

func TestClusterOf(t *testing.T) {
	a, _ := NewAssignment([][]engine.AgentID{{0, 3}, {}, {1, 2}})
	tests := []struct {
		id   engine.AgentID
		want engine.ClusterID
		ok   bool
	}{
		{0, 0, true}, {3, 0, true}, {1, 2, true}, {2, 2, true}, {7, 0, false},
	}
	for _, tt := range tests {
		got, ok := a.ClusterOf(tt.id)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ClusterOf(%d) = %d,%v want %d,%v", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}

package cluster

import (
	"errors"
	"testing"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
)

// TestSkipSelfRoundTrip checks Unshift(i, SkipSelf(i, j)) == j for all i != j.
func TestSkipSelfRoundTrip(t *testing.T) {
	const n = 9
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				if _, err := SkipSelf(i, j); !errors.Is(err, engine.ErrConsistency) {
					t.Errorf("SkipSelf(%d,%d): got %v, want ErrConsistency", i, j, err)
				}
				continue
			}
			idx, err := SkipSelf(i, j)
			if err != nil {
				t.Fatalf("SkipSelf(%d,%d): %v", i, j, err)
			}
			if idx < 0 || idx >= n-1 {
				t.Errorf("SkipSelf(%d,%d) = %d outside [0,%d)", i, j, idx, n-1)
			}
			if back := Unshift(i, idx); back != j {
				t.Errorf("Unshift(%d, SkipSelf(%d,%d)=%d) = %d", i, i, j, idx, back)
			}
		}
	}
}

func TestTranslatorLinks(t *testing.T) {
	// cluster 0 = {1, 3}, cluster 1 = {0}, cluster 2 = {2, 4}
	a, err := NewAssignment([][]engine.AgentID{{1, 3}, {0}, {2, 4}})
	if err != nil {
		t.Fatalf("NewAssignment: %v", err)
	}
	tr, err := NewTranslator(a, 5)
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}
	if tr.NumAgents() != 5 || tr.NumClusters() != 3 {
		t.Fatalf("dims = %d agents %d clusters", tr.NumAgents(), tr.NumClusters())
	}

	links, err := tr.Links(3)
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	want := []Link{
		{Other: 0, OtherIndex: 0, OtherCluster: 1, ClusterIndex: 0},
		{Other: 1, OtherIndex: 1, OtherCluster: 0, ClusterIndex: -1, SameCluster: true},
		{Other: 2, OtherIndex: 2, OtherCluster: 2, ClusterIndex: 1},
		{Other: 4, OtherIndex: 3, OtherCluster: 2, ClusterIndex: 1},
	}
	if len(links) != len(want) {
		t.Fatalf("got %d links, want %d", len(links), len(want))
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("link %d = %+v, want %+v", i, links[i], want[i])
		}
	}

	// From cluster 2, cluster 0 keeps index 0 and cluster 1 keeps index 1.
	idxTests := []struct {
		c1, c2 engine.ClusterID
		want   int
	}{
		{2, 0, 0},
		{1, 2, 1},
		{1, 1, -1},
	}
	for _, tt := range idxTests {
		got, err := tr.ClusterIndex(tt.c1, tt.c2)
		if err != nil || got != tt.want {
			t.Errorf("ClusterIndex(%d,%d) = %d, %v; want %d", tt.c1, tt.c2, got, err, tt.want)
		}
	}
}

func TestTranslatorClusterIndexOutOfRange(t *testing.T) {
	a, _ := NewAssignment([][]engine.AgentID{{0, 2}, {1}})
	tr, err := NewTranslator(a, 3)
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}
	for _, pair := range [][2]engine.ClusterID{{2, 0}, {0, 2}, {-1, 1}, {1, -1}} {
		if _, err := tr.ClusterIndex(pair[0], pair[1]); !errors.Is(err, engine.ErrConsistency) {
			t.Errorf("ClusterIndex(%d,%d): got %v, want ErrConsistency", pair[0], pair[1], err)
		}
	}
}

// TestTranslatorLinksCoverOthers verifies each agent's links address every
// other agent exactly once, in shifted-index order.
func TestTranslatorLinksCoverOthers(t *testing.T) {
	a, _ := NewAssignment([][]engine.AgentID{{0, 5}, {1, 2, 6}, {3}, {4}})
	tr, err := NewTranslator(a, 7)
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}
	for self := 0; self < 7; self++ {
		links, _ := tr.Links(engine.AgentID(self))
		if len(links) != 6 {
			t.Fatalf("agent %d has %d links", self, len(links))
		}
		for idx, l := range links {
			if l.OtherIndex != idx {
				t.Errorf("agent %d link %d has OtherIndex %d", self, idx, l.OtherIndex)
			}
			if int(l.Other) != Unshift(self, idx) {
				t.Errorf("agent %d link %d addresses %d, want %d", self, idx, l.Other, Unshift(self, idx))
			}
			sc, _ := tr.ClusterOf(engine.AgentID(self))
			oc, _ := tr.ClusterOf(l.Other)
			if l.SameCluster != (sc == oc) {
				t.Errorf("agent %d -> %d SameCluster=%v", self, l.Other, l.SameCluster)
			}
			if ci, _ := tr.ClusterIndex(sc, oc); !l.SameCluster && l.ClusterIndex != ci {
				t.Errorf("agent %d -> %d ClusterIndex=%d", self, l.Other, l.ClusterIndex)
			}
		}
	}
}

func TestTranslatorSingleAgent(t *testing.T) {
	a, _ := NewAssignment([][]engine.AgentID{{0}})
	tr, err := NewTranslator(a, 1)
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}
	links, _ := tr.Links(0)
	if len(links) != 0 {
		t.Errorf("got %d links, want 0", len(links))
	}
}

func TestTranslatorErrors(t *testing.T) {
	overlap, _ := NewAssignment([][]engine.AgentID{{0, 1}, {1, 2}})
	if _, err := NewTranslator(overlap, 3); !errors.Is(err, engine.ErrConsistency) {
		t.Errorf("overlap: got %v, want ErrConsistency", err)
	}
	missing, _ := NewAssignment([][]engine.AgentID{{0}, {2}})
	if _, err := NewTranslator(missing, 3); !errors.Is(err, engine.ErrConsistency) {
		t.Errorf("missing agent: got %v, want ErrConsistency", err)
	}
	ok, _ := NewAssignment([][]engine.AgentID{{0, 1}})
	tr, err := NewTranslator(ok, 2)
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}
	if _, err := tr.Links(5); !errors.Is(err, engine.ErrConsistency) {
		t.Errorf("unknown agent: got %v, want ErrConsistency", err)
	}
}

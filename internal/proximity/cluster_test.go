package proximity

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/dkeye/proximity/internal/domain"
)

func at(id string, x, y float64) domain.Participant {
	return domain.Participant{ID: domain.ParticipantID(id), Name: id, X: x, Y: y}
}

func sortedMembers(c Cluster) []domain.ParticipantID {
	m := slices.Clone(c.Members)
	slices.Sort(m)
	return m
}

func TestComputeEmptyAndSingle(t *testing.T) {
	e := DefaultEngine()
	if got := e.Compute(nil); len(got) != 0 {
		t.Fatalf("no participants: got %d clusters", len(got))
	}
	if got := e.Compute([]domain.Participant{at("a", 0, 0)}); len(got) != 0 {
		t.Fatalf("one participant: got %d clusters", len(got))
	}
}

func TestComputeTwoInRange(t *testing.T) {
	e := DefaultEngine()
	clusters := e.Compute([]domain.Participant{at("a1", 0, 0), at("a2", 50, 0)})
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	c := clusters[0]
	if !slices.Equal(sortedMembers(c), []domain.ParticipantID{"a1", "a2"}) {
		t.Fatalf("members = %v", c.Members)
	}
	if c.Centroid != (domain.Position{X: 25, Y: 0}) {
		t.Fatalf("centroid = %+v, want (25,0)", c.Centroid)
	}
	if c.Radius < e.MinRadius {
		t.Fatalf("radius = %v, want >= %v", c.Radius, e.MinRadius)
	}
	// 25 + 25 + 40 = 90 beats the 80 minimum
	if c.Radius != 90 {
		t.Fatalf("radius = %v, want 90", c.Radius)
	}

	moved := e.Compute([]domain.Participant{at("a1", 0, 0), at("a2", 500, 0)})
	if len(moved) != 0 {
		t.Fatalf("after move got %d clusters, want 0", len(moved))
	}
}

func TestComputeMinimumRadius(t *testing.T) {
	e := DefaultEngine()
	clusters := e.Compute([]domain.Participant{at("a", 10, 10), at("b", 10, 10)})
	if len(clusters) != 1 || clusters[0].Radius != e.MinRadius {
		t.Fatalf("clusters = %+v, want one with radius %v", clusters, e.MinRadius)
	}
}

func TestComputeThresholdIsStrict(t *testing.T) {
	e := DefaultEngine()
	clusters := e.Compute([]domain.Participant{at("a", 0, 0), at("b", e.Threshold, 0)})
	if SameCluster("a", "b", clusters) {
		t.Fatalf("participants exactly at threshold must not be clustered")
	}
	clusters = e.Compute([]domain.Participant{at("a", 0, 0), at("b", e.Threshold-0.001, 0)})
	if !SameCluster("a", "b", clusters) {
		t.Fatalf("participants just inside threshold must be clustered")
	}
}

func TestComputeThreeThenSplit(t *testing.T) {
	e := DefaultEngine()
	clusters := e.Compute([]domain.Participant{at("a", 0, 0), at("b", 60, 0), at("c", 30, 50)})
	if len(clusters) != 1 || len(clusters[0].Members) != 3 {
		t.Fatalf("clusters = %+v, want one of size 3", clusters)
	}

	clusters = e.Compute([]domain.Participant{at("a", 0, 0), at("b", 60, 0), at("c", 30, 300)})
	if len(clusters) != 1 || len(clusters[0].Members) != 2 {
		t.Fatalf("clusters = %+v, want one of size 2", clusters)
	}
	if _, ok := ClusterOf("c", clusters); ok {
		t.Fatalf("c should be in no cluster")
	}
	if !SameCluster("a", "b", clusters) {
		t.Fatalf("a and b should still share a cluster")
	}
}

func TestComputeChainIsTransitive(t *testing.T) {
	e := DefaultEngine()
	// a-b and b-c in range, a-c not: still one component.
	clusters := e.Compute([]domain.Participant{at("a", 0, 0), at("b", 100, 0), at("c", 200, 0)})
	if len(clusters) != 1 || len(clusters[0].Members) != 3 {
		t.Fatalf("clusters = %+v, want one chain of 3", clusters)
	}
}

func TestComputeDisjointClusters(t *testing.T) {
	e := DefaultEngine()
	clusters := e.Compute([]domain.Participant{
		at("a", 0, 0), at("b", 10, 0),
		at("c", 1000, 0), at("d", 1010, 0),
		at("loner", 500, 500),
	})
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	seen := map[domain.ParticipantID]int{}
	for _, c := range clusters {
		for _, m := range c.Members {
			seen[m]++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("%s appears in %d clusters", id, n)
		}
	}
	if _, ok := seen["loner"]; ok {
		t.Fatalf("loner must not be clustered")
	}
}

func TestComputeDuplicateIDLastWins(t *testing.T) {
	e := DefaultEngine()
	clusters := e.Compute([]domain.Participant{at("a", 0, 0), at("b", 10, 0), at("b", 900, 0)})
	if len(clusters) != 0 {
		t.Fatalf("clusters = %+v, want none", clusters)
	}
}

func TestComputeSymmetricAndOrderIndependent(t *testing.T) {
	e := DefaultEngine()
	r := rand.New(rand.NewPCG(1, 2))
	ps := make([]domain.Participant, 30)
	for i := range ps {
		ps[i] = at(fmt.Sprintf("p%02d", i), r.Float64()*600, r.Float64()*600)
	}
	first := e.Compute(ps)

	shuffled := slices.Clone(ps)
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	second := e.Compute(shuffled)

	for _, a := range ps {
		for _, b := range ps {
			ab := SameCluster(a.ID, b.ID, first)
			if ab != SameCluster(b.ID, a.ID, first) {
				t.Fatalf("SameCluster not symmetric for %s,%s", a.ID, b.ID)
			}
			if a.ID != b.ID && ab != SameCluster(a.ID, b.ID, second) {
				t.Fatalf("input order changed membership of %s,%s", a.ID, b.ID)
			}
		}
	}
	if len(first) != len(second) {
		t.Fatalf("cluster count %d vs %d after shuffle", len(first), len(second))
	}
}

func TestComputeEveryMemberHasNeighbour(t *testing.T) {
	e := DefaultEngine()
	r := rand.New(rand.NewPCG(7, 7))
	ps := make([]domain.Participant, 40)
	for i := range ps {
		ps[i] = at(fmt.Sprintf("p%02d", i), r.Float64()*800, r.Float64()*800)
	}
	byID := map[domain.ParticipantID]domain.Participant{}
	for _, p := range ps {
		byID[p.ID] = p
	}
	for _, c := range e.Compute(ps) {
		if len(c.Members) < 2 {
			t.Fatalf("cluster smaller than 2: %+v", c)
		}
		for _, m := range c.Members {
			near := false
			for _, o := range c.Members {
				if o != m && Distance(byID[m].Position(), byID[o].Position()) < e.Threshold {
					near = true
					break
				}
			}
			if !near {
				t.Fatalf("%s has no in-range neighbour in its cluster", m)
			}
			if d := Distance(c.Centroid, byID[m].Position()); d+e.AvatarRadius+e.Padding > c.Radius+1e-9 {
				t.Fatalf("radius %v does not cover %s at %v", c.Radius, m, d)
			}
		}
	}
}

package proximity

import (
	"testing"

	"github.com/dkeye/proximity/internal/domain"
)

func TestUsersInProximityOf(t *testing.T) {
	clusters := []Cluster{
		{Members: []domain.ParticipantID{"a", "b", "c"}},
		{Members: []domain.ParticipantID{"d", "e"}},
	}
	got := UsersInProximityOf("b", clusters)
	if len(got) != 2 {
		t.Fatalf("got %v, want a and c", got)
	}
	for _, id := range []domain.ParticipantID{"a", "c"} {
		if _, ok := got[id]; !ok {
			t.Fatalf("missing %s in %v", id, got)
		}
	}
	if _, ok := got["b"]; ok {
		t.Fatalf("self must not be in proximity set")
	}
	if n := len(UsersInProximityOf("z", clusters)); n != 0 {
		t.Fatalf("unclustered id: got %d neighbours", n)
	}
}

func TestSameCluster(t *testing.T) {
	clusters := []Cluster{{Members: []domain.ParticipantID{"a", "b"}}, {Members: []domain.ParticipantID{"c", "d"}}}
	if !SameCluster("a", "b", clusters) || !SameCluster("b", "a", clusters) {
		t.Fatalf("a,b should share a cluster both ways")
	}
	if SameCluster("a", "c", clusters) || SameCluster("c", "a", clusters) {
		t.Fatalf("a,c should not share a cluster")
	}
}

func TestInitiatorTieBreak(t *testing.T) {
	pairs := [][2]domain.ParticipantID{
		{"a1", "a2"},
		{"zz", "a"},
		{"0f3c", "0f3b"},
		{"B", "a"},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		if Initiator(a, b) != Initiator(b, a) {
			t.Fatalf("Initiator(%s,%s) not commutative", a, b)
		}
		if (Initiator(a, b) == a) != (a > b) {
			t.Fatalf("Initiator(%s,%s) = %s, want the greater id", a, b, Initiator(a, b))
		}
		if ShouldInitiate(a, b) == ShouldInitiate(b, a) {
			t.Fatalf("exactly one of %s,%s must initiate", a, b)
		}
	}
	if ShouldInitiate("a", "a") {
		t.Fatalf("a participant never initiates with itself")
	}
}

package proximity

import "github.com/dkeye/proximity/internal/domain"

// ClusterOf returns the cluster containing id, if any.
func ClusterOf(id domain.ParticipantID, clusters []Cluster) (Cluster, bool) {
	for _, c := range clusters {
		if c.Has(id) {
			return c, true
		}
	}
	return Cluster{}, false
}

// UsersInProximityOf returns every other member of every cluster containing id.
func UsersInProximityOf(id domain.ParticipantID, clusters []Cluster) map[domain.ParticipantID]struct{} {
	out := make(map[domain.ParticipantID]struct{})
	for _, c := range clusters {
		if !c.Has(id) {
			continue
		}
		for _, m := range c.Members {
			if m != id {
				out[m] = struct{}{}
			}
		}
	}
	return out
}

func SameCluster(a, b domain.ParticipantID, clusters []Cluster) bool {
	for _, c := range clusters {
		if c.Has(a) && c.Has(b) {
			return true
		}
	}
	return false
}

// Initiator picks which side of a pair starts the handshake: the greater id.
// Both sides compute the same answer without talking to each other.
func Initiator(a, b domain.ParticipantID) domain.ParticipantID {
	if a > b {
		return a
	}
	return b
}

func ShouldInitiate(self, other domain.ParticipantID) bool {
	return self != other && Initiator(self, other) == self
}

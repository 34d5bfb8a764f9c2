// Package proximity partitions participants into conversation clusters.
//
// A cluster is a connected component of size two or more in the graph where an
// edge joins every pair of participants strictly closer than the threshold.
// Clusters are value data: recomputed from a snapshot on every call and never
// mutated afterwards, so they can be shared between readers without locking.
package proximity

import (
	"math"
	"slices"

	"github.com/dkeye/proximity/internal/domain"
)

const (
	DefaultThreshold    = 120.0
	DefaultAvatarRadius = 25.0
	DefaultPadding      = 40.0
	DefaultMinRadius    = 80.0
)

type Cluster struct {
	Members  []domain.ParticipantID `json:"members"`
	Centroid domain.Position        `json:"centroid"`
	Radius   float64                `json:"radius"`
}

// Has reports whether id is a member. Members is unordered.
func (c Cluster) Has(id domain.ParticipantID) bool {
	return slices.Contains(c.Members, id)
}

// Engine holds the distance threshold and the bubble geometry shared with the renderer.
type Engine struct {
	Threshold    float64
	AvatarRadius float64
	Padding      float64
	MinRadius    float64
}

func DefaultEngine() Engine {
	return Engine{
		Threshold:    DefaultThreshold,
		AvatarRadius: DefaultAvatarRadius,
		Padding:      DefaultPadding,
		MinRadius:    DefaultMinRadius,
	}
}

func Distance(a, b domain.Position) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Compute returns the clusters for one snapshot of participants.
// When an id occurs more than once the last occurrence wins.
func (e Engine) Compute(participants []domain.Participant) []Cluster {
	nodes := dedupe(participants)
	if len(nodes) < 2 {
		return nil
	}

	adj := e.graph(nodes)

	var clusters []Cluster
	visited := make([]bool, len(nodes))
	stack := make([]int, 0, len(nodes))
	for seed := range nodes {
		if visited[seed] || len(adj[seed]) == 0 {
			visited[seed] = true
			continue
		}
		component := []int{}
		visited[seed] = true
		stack = append(stack[:0], seed)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, n)
			for _, next := range adj[n] {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		clusters = append(clusters, e.shape(nodes, component))
	}
	return clusters
}

// graph is the pairwise scan; fine for tens of participants. A spatial grid
// would have to keep the same strict-threshold edges.
func (e Engine) graph(nodes []domain.Participant) [][]int {
	adj := make([][]int, len(nodes))
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			if Distance(nodes[i].Position(), nodes[j].Position()) < e.Threshold {
				adj[i] = append(adj[i], j)
				adj[j] = append(adj[j], i)
			}
		}
	}
	return adj
}

func (e Engine) shape(nodes []domain.Participant, component []int) Cluster {
	c := Cluster{Members: make([]domain.ParticipantID, 0, len(component))}
	var sx, sy float64
	for _, n := range component {
		c.Members = append(c.Members, nodes[n].ID)
		sx += nodes[n].X
		sy += nodes[n].Y
	}
	k := float64(len(component))
	c.Centroid = domain.Position{X: sx / k, Y: sy / k}

	var farthest float64
	for _, n := range component {
		farthest = max(farthest, Distance(c.Centroid, nodes[n].Position()))
	}
	c.Radius = max(farthest+e.AvatarRadius+e.Padding, e.MinRadius)
	return c
}

func dedupe(participants []domain.Participant) []domain.Participant {
	index := make(map[domain.ParticipantID]int, len(participants))
	out := make([]domain.Participant, 0, len(participants))
	for _, p := range participants {
		if i, ok := index[p.ID]; ok {
			out[i] = p
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

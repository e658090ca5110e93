package reservoir

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// weightScale is the standard deviation of the initial weight draw.
const weightScale = 0.2

// Topology is the spatial layout of the reservoir.
type Topology struct {
	Positions [][]float64
	// Adjacency[i][j] is the strength of the link i -> j, zero when unconnected.
	Adjacency [][]float64
}

func randomPositions(rng *rand.Rand, n, dim int) [][]float64 {
	positions := make([][]float64, n)
	for i := range positions {
		p := make([]float64, dim)
		for k := range p {
			p[k] = rng.Float64()
		}
		positions[i] = p
	}
	return positions
}

// BuildTopology connects every pair closer than radius with strength exp(-d/(radius/2)).
func BuildTopology(positions [][]float64, radius float64) *Topology {
	n := len(positions)
	adj := make([][]float64, n)
	for i := range adj {
		adj[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d := floats.Distance(positions[i], positions[j], 2)
			if d < radius {
				adj[i][j] = math.Exp(-d / (radius / 2))
			}
		}
	}
	return &Topology{Positions: positions, Adjacency: adj}
}

// Incoming lists the sources that feed node i, ascending.
func (t *Topology) Incoming(i int) []int {
	var ids []int
	for j := range t.Adjacency {
		if t.Adjacency[j][i] > 0 {
			ids = append(ids, j)
		}
	}
	return ids
}

// Outgoing lists the nodes i feeds, ascending.
func (t *Topology) Outgoing(i int) []int {
	var ids []int
	for j, s := range t.Adjacency[i] {
		if s > 0 {
			ids = append(ids, j)
		}
	}
	return ids
}

// initWeights draws N(0, 0.2) scaled by link strength for every incoming then every
// outgoing link of each node in id order.
func (t *Topology) initWeights(rng *rand.Rand, nodes []*Node) {
	for i, node := range nodes {
		in := t.Incoming(i)
		node.In = Links{IDs: in, Weights: make([]float64, len(in))}
		for k, j := range in {
			node.In.Weights[k] = rng.NormFloat64() * weightScale * t.Adjacency[j][i]
		}

		out := t.Outgoing(i)
		node.Out = Links{IDs: out, Weights: make([]float64, len(out))}
		for k, j := range out {
			node.Out.Weights[k] = rng.NormFloat64() * weightScale * t.Adjacency[i][j]
		}
	}
}

// Density is the mean number of incoming links per node.
func Density(nodes []*Node) float64 {
	if len(nodes) == 0 {
		return 0
	}
	total := 0
	for _, n := range nodes {
		total += n.In.Len()
	}
	return float64(total) / float64(len(nodes))
}

package reservoir

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"BasalGCT/pkg/ring"
)

// Links is a sparse weight row: IDs is sorted ascending and Weights is parallel to it.
type Links struct {
	IDs     []int
	Weights []float64
}

// Weight returns the weight towards id, or 0 when there is no link.
func (l Links) Weight(id int) (float64, bool) {
	i := sort.SearchInts(l.IDs, id)
	if i < len(l.IDs) && l.IDs[i] == id {
		return l.Weights[i], true
	}
	return 0, false
}

func (l Links) Len() int { return len(l.IDs) }

// Node is one reservoir unit.
type Node struct {
	ID         int
	Position   []float64
	Energy     float64
	Target     float64
	Activation float64

	In  Links
	Out Links

	activations *ring.Buffer[float64]
	energies    *ring.Buffer[float64]
}

func newNode(id int, position []float64, energy, target float64, historySize int) *Node {
	return &Node{
		ID:          id,
		Position:    position,
		Energy:      energy,
		Target:      target,
		activations: ring.New[float64](historySize),
		energies:    ring.New[float64](historySize),
	}
}

// Update recomputes activation and energy from the external inputs and the previous
// step's activations. A node only sees inputs arriving through its incoming links.
func (n *Node) Update(ext map[int]float64, prev []float64, d Dynamics, decay float64) float64 {
	var input, neighbor float64
	for k, src := range n.In.IDs {
		w := n.In.Weights[k]
		if sig, ok := ext[src]; ok && finite(sig) {
			input += w * sig
		}
		neighbor += w * prev[src]
	}

	n.Activation = math.Tanh(input + d.NeighborGain*neighbor)

	errE := n.Energy - n.Target
	n.Energy = clamp(n.Energy*decay+d.ActivationGain*n.Activation-d.Homeostasis*errE, 0, 1)

	n.activations.Push(n.Activation)
	n.energies.Push(n.Energy)
	return n.Activation
}

// Learn applies the homeodynamic rule
//
//	w(t+1) = w(t) - rate * (energy - target) * x_src * w(t) / sum_k(x_k * w_k)
func (n *Node) Learn(prev []float64, rate float64, d Dynamics) {
	if n.In.Len() == 0 {
		return
	}

	var total float64
	for k, src := range n.In.IDs {
		total += prev[src] * n.In.Weights[k]
	}
	if math.Abs(total) < d.LearnThreshold {
		return
	}

	errE := n.Energy - n.Target
	for k, src := range n.In.IDs {
		w := n.In.Weights[k]
		w -= rate * errE * prev[src] * w / total
		n.In.Weights[k] = clamp(w, -d.WeightBound, d.WeightBound)
	}
}

// AdaptTarget lowers the target of quiet nodes and raises it for noisy ones.
func (n *Node) AdaptTarget(rate float64, d Dynamics) {
	if n.energies.Len() < d.AdaptWindow {
		return
	}
	v := stat.PopVariance(n.energies.Tail(d.AdaptWindow), nil)
	switch {
	case v < d.StableVariance:
		n.Target = math.Max(d.TargetFloor, n.Target-rate)
	case v > d.VolatileVariance:
		n.Target = math.Min(d.TargetCeiling, n.Target+rate)
	}
}

// EnergyDelta returns |e[t] - e[t-1]| and false when fewer than two samples exist.
func (n *Node) EnergyDelta() (float64, bool) {
	if n.energies.Len() < 2 {
		return 0, false
	}
	return math.Abs(n.energies.At(-1) - n.energies.At(-2)), true
}

// ActivationDelta returns a[t] - a[t-1] and false when fewer than two samples exist.
func (n *Node) ActivationDelta() (float64, bool) {
	if n.activations.Len() < 2 {
		return 0, false
	}
	return n.activations.At(-1) - n.activations.At(-2), true
}

func (n *Node) EnergyHistory() []float64 { return n.energies.Slice() }

func (n *Node) ActivationHistory() []float64 { return n.activations.Slice() }

// clamp maps NaN to lo.
func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
